package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/compliance-tasks/internal/domain"
	"github.com/phrazzld/compliance-tasks/internal/task"
	"github.com/phrazzld/compliance-tasks/internal/toolclient"
)

// Tools called by the handlers.
const (
	ToolFetchEvidence     = "fetch_evidence"
	ToolIngestEvidence    = "ingest_evidence"
	ToolAnalyzeCompliance = "analyze_compliance"
	ToolGenerateReport    = "generate_report"
)

// Progress checkpoints reported while a handler runs.
const (
	progressValidated = 10
	progressCalling   = 25
	progressReturned  = 90
)

var (
	ErrNilToolCaller = errors.New("tool caller cannot be nil")
	ErrNilRegistry   = errors.New("registry cannot be nil")
)

// ToolCaller invokes a named tool. *toolclient.Client satisfies it.
type ToolCaller interface {
	Call(ctx context.Context, name string, params map[string]any) (map[string]any, error)
}

// Handlers executes the compliance task types by delegating to tools.
type Handlers struct {
	tools  ToolCaller
	logger *slog.Logger
}

// New creates Handlers backed by tools.
func New(tools ToolCaller, logger *slog.Logger) (*Handlers, error) {
	if tools == nil {
		return nil, ErrNilToolCaller
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		tools:  tools,
		logger: logger.With(slog.String("component", "task_handlers")),
	}, nil
}

// Register adds a handler for every known task type to reg.
func (h *Handlers) Register(reg *task.Registry) error {
	if reg == nil {
		return ErrNilRegistry
	}
	reg.Register(task.TypeEvidenceCollection, h.EvidenceCollection)
	reg.Register(task.TypeEvidenceUpload, h.EvidenceUpload)
	reg.Register(task.TypeComplianceAnalysis, h.ComplianceAnalysis)
	reg.Register(task.TypeReportGeneration, h.ReportGeneration)
	return nil
}

// EvidenceCollection gathers existing evidence for a project.
func (h *Handlers) EvidenceCollection(ctx context.Context, taskID int64, payload map[string]any, store task.Store) (map[string]any, error) {
	p, err := domain.DecodePayload[domain.EvidenceCollectionPayload]("evidence collection payload", payload)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if len(p.ControlIDs) == 0 {
		warnings = append(warnings, "no controls specified; evidence was collected for the whole project")
	}

	params := map[string]any{
		"project_id":   p.ProjectID,
		"control_ids":  nonNil(p.ControlIDs),
		"keywords":     nonNil(p.Keywords),
		"requested_by": p.RequestedBy,
	}
	return h.run(ctx, taskID, store, ToolFetchEvidence, params, warnings)
}

// EvidenceUpload ingests an uploaded file as evidence.
func (h *Handlers) EvidenceUpload(ctx context.Context, taskID int64, payload map[string]any, store task.Store) (map[string]any, error) {
	p, err := domain.DecodePayload[domain.EvidenceUploadPayload]("evidence upload payload", payload)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if len(p.ControlIDs) == 0 {
		warnings = append(warnings, "evidence is not linked to any control")
	}

	params := map[string]any{
		"project_id":  p.ProjectID,
		"control_ids": nonNil(p.ControlIDs),
		"attachment": map[string]any{
			"file_id":      p.Attachment.FileID,
			"filename":     p.Attachment.Filename,
			"content_type": p.Attachment.ContentType,
		},
		"description":  p.Description,
		"requested_by": p.RequestedBy,
	}
	return h.run(ctx, taskID, store, ToolIngestEvidence, params, warnings)
}

// ComplianceAnalysis runs a gap analysis against a framework.
func (h *Handlers) ComplianceAnalysis(ctx context.Context, taskID int64, payload map[string]any, store task.Store) (map[string]any, error) {
	p, err := domain.DecodePayload[domain.ComplianceAnalysisPayload]("compliance analysis payload", payload)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"project_id":   p.ProjectID,
		"framework":    p.Framework,
		"control_ids":  nonNil(p.ControlIDs),
		"requested_by": p.RequestedBy,
	}
	if p.AssessmentID > 0 {
		params["assessment_id"] = p.AssessmentID
	}
	return h.run(ctx, taskID, store, ToolAnalyzeCompliance, params, nil)
}

// ReportGeneration renders a compliance report.
func (h *Handlers) ReportGeneration(ctx context.Context, taskID int64, payload map[string]any, store task.Store) (map[string]any, error) {
	p, err := domain.DecodePayload[domain.ReportGenerationPayload]("report generation payload", payload)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"project_id":    p.ProjectID,
		"framework":     p.Framework,
		"report_format": p.ReportFormat,
		"requested_by":  p.RequestedBy,
	}
	return h.run(ctx, taskID, store, ToolGenerateReport, params, nil)
}

// run reports progress around a single tool call and shapes its result.
func (h *Handlers) run(
	ctx context.Context,
	taskID int64,
	store task.Store,
	tool string,
	params map[string]any,
	warnings []string,
) (map[string]any, error) {
	log := h.logger.With(slog.Int64("task_id", taskID), slog.String("tool", tool))

	h.progress(ctx, store, taskID, progressValidated)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.progress(ctx, store, taskID, progressCalling)
	result, err := h.tools.Call(ctx, tool, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("tool call failed", slog.String("error", err.Error()))
		return nil, toolFailure(tool, err)
	}
	h.progress(ctx, store, taskID, progressReturned)

	if result == nil {
		result = map[string]any{}
	}
	if len(warnings) > 0 {
		merged := existingWarnings(result)
		for _, w := range warnings {
			merged = append(merged, w)
		}
		result["warnings"] = merged
	}
	log.Debug("tool call succeeded")
	return result, nil
}

// progress records a checkpoint. A failure to record progress never fails
// the task.
func (h *Handlers) progress(ctx context.Context, store task.Store, taskID int64, value int) {
	if store == nil {
		return
	}
	if err := store.UpdateProgress(ctx, taskID, value); err != nil {
		h.logger.Debug("failed to record progress",
			slog.Int64("task_id", taskID),
			slog.Int("progress", value),
			slog.String("error", err.Error()))
	}
}

// ToolFailure is returned when a handler's tool call fails. Its message is
// what gets stored on the failed task; the tool error stays reachable via
// errors.As.
type ToolFailure struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolFailure) Error() string { return e.Message }

func (e *ToolFailure) Unwrap() error { return e.Err }

func toolFailure(tool string, err error) error {
	var te *toolclient.Error
	if !errors.As(err, &te) {
		return &ToolFailure{Tool: tool, Message: fmt.Sprintf("%s failed: %v", tool, err), Err: err}
	}
	var msg string
	switch te.Kind {
	case toolclient.KindNotFound:
		msg = fmt.Sprintf("tool %s is not available", tool)
	case toolclient.KindHandlerReported:
		msg = fmt.Sprintf("%s reported an error: %s", tool, te.Detail)
	default:
		msg = fmt.Sprintf("%s unavailable after %d attempts: %s", tool, te.Attempts, te.Detail)
	}
	return &ToolFailure{Tool: tool, Message: msg, Err: err}
}

func existingWarnings(result map[string]any) []any {
	switch w := result["warnings"].(type) {
	case []any:
		return w
	case []string:
		out := make([]any, 0, len(w))
		for _, s := range w {
			out = append(out, s)
		}
		return out
	case string:
		return []any{w}
	default:
		return nil
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
