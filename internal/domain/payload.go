package domain

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

var validate = validator.New()

// Report formats the report generator accepts.
var ReportFormats = []string{"pdf", "docx", "xlsx", "csv", "markdown"}

// Attachment references a file already uploaded to the file service.
type Attachment struct {
	FileID      string `json:"file_id" validate:"required"`
	Filename    string `json:"filename,omitempty" validate:"omitempty,max=255"`
	ContentType string `json:"content_type,omitempty"`
}

// EvidenceCollectionPayload asks the evidence service to gather existing
// artifacts for a project, optionally narrowed to specific controls.
type EvidenceCollectionPayload struct {
	ProjectID   int64    `json:"project_id" validate:"required,gt=0"`
	ControlIDs  []int64  `json:"control_ids,omitempty" validate:"omitempty,dive,gt=0"`
	Keywords    []string `json:"keywords,omitempty"`
	RequestedBy int64    `json:"requested_by" validate:"required,gt=0"`
}

// EvidenceUploadPayload ingests an uploaded file as evidence.
type EvidenceUploadPayload struct {
	ProjectID   int64      `json:"project_id" validate:"required,gt=0"`
	ControlIDs  []int64    `json:"control_ids,omitempty" validate:"omitempty,dive,gt=0"`
	Attachment  Attachment `json:"attachment"`
	Description string     `json:"description,omitempty" validate:"max=2000"`
	RequestedBy int64      `json:"requested_by" validate:"required,gt=0"`
}

// ComplianceAnalysisPayload runs a gap analysis of a project against a framework.
type ComplianceAnalysisPayload struct {
	ProjectID    int64   `json:"project_id" validate:"required,gt=0"`
	Framework    string  `json:"framework" validate:"required"`
	ControlIDs   []int64 `json:"control_ids,omitempty" validate:"omitempty,dive,gt=0"`
	AssessmentID int64   `json:"assessment_id,omitempty" validate:"omitempty,gt=0"`
	RequestedBy  int64   `json:"requested_by" validate:"required,gt=0"`
}

// ReportGenerationPayload renders a compliance report.
type ReportGenerationPayload struct {
	ProjectID    int64  `json:"project_id" validate:"required,gt=0"`
	Framework    string `json:"framework" validate:"required"`
	ReportFormat string `json:"report_format" validate:"required,oneof=pdf docx xlsx csv markdown"`
	RequestedBy  int64  `json:"requested_by" validate:"required,gt=0"`
}

// ToMap converts a payload struct into the JSON object form stored on the
// task row.
func ToMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return out, nil
}

// FromMap decodes a stored payload into out, accepting the loose typing
// JSON round-trips produce (numbers as float64, numeric strings).
func FromMap(m map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to build payload decoder: %w", err)
	}
	if err := decoder.Decode(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return nil
}

// Validate checks v against its validate tags, returning a *ValidationError
// naming every rejected field.
func Validate(subject string, v any) error {
	if err := validate.Struct(v); err != nil {
		return newValidationError(subject, err)
	}
	return nil
}

// DecodePayload decodes and validates a stored payload in one step.
func DecodePayload[T any](subject string, m map[string]any) (T, error) {
	var out T
	if err := FromMap(m, &out); err != nil {
		return out, err
	}
	if err := Validate(subject, &out); err != nil {
		return out, err
	}
	return out, nil
}
