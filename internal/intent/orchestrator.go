package intent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/phrazzld/compliance-tasks/internal/domain"
	"github.com/phrazzld/compliance-tasks/internal/task"
)

// ErrValidation is returned when a request references entities that do not
// exist or produces a payload that fails validation. No task is created.
var ErrValidation = domain.ErrValidation

const (
	maxTitleLength       = 255
	maxDescriptionLength = 2000
)

// Catalog is the read-only view of business entities the orchestrator
// validates references against.
type Catalog interface {
	ProjectExists(ctx context.Context, id int64) (bool, error)
	ControlExists(ctx context.Context, id int64) (bool, error)
	FindControlsByCode(ctx context.Context, code string) ([]domain.Control, error)
	SearchControls(ctx context.Context, keywords []string) ([]domain.Control, error)
}

// TaskCreator persists new tasks. task.Store satisfies it.
type TaskCreator interface {
	Create(ctx context.Context, t task.NewTask) (*task.AgentTask, error)
}

// Config holds the defaults used when a request leaves a field unstated.
type Config struct {
	DefaultProjectID    int64
	DefaultFramework    string
	DefaultReportFormat string
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		DefaultProjectID:    1,
		DefaultFramework:    "NIST-800-53",
		DefaultReportFormat: "pdf",
	}
}

// Request is a free-form task request from an identified principal.
type Request struct {
	Text       string
	Attachment *domain.Attachment
	Principal  int64
}

// HasAttachment reports whether the request carries a file.
func (r Request) HasAttachment() bool {
	return r.Attachment != nil
}

// Orchestrator turns free-form requests into validated pending tasks.
type Orchestrator struct {
	catalog Catalog
	tasks   TaskCreator
	config  Config
	logger  *slog.Logger
	notify  func()
}

// New creates an Orchestrator. Empty config fields take the stock defaults.
func New(catalog Catalog, tasks TaskCreator, cfg Config, logger *slog.Logger) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.DefaultProjectID <= 0 {
		cfg.DefaultProjectID = defaults.DefaultProjectID
	}
	if cfg.DefaultFramework == "" {
		cfg.DefaultFramework = defaults.DefaultFramework
	}
	if cfg.DefaultReportFormat == "" {
		cfg.DefaultReportFormat = defaults.DefaultReportFormat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		catalog: catalog,
		tasks:   tasks,
		config:  cfg,
		logger:  logger.With(slog.String("component", "intent_orchestrator")),
	}
}

// SetNotify installs a callback run after each task is persisted, used to
// wake the worker without waiting for its next poll.
func (o *Orchestrator) SetNotify(fn func()) {
	o.notify = fn
}

// DetectIntent is the package-level DetectIntent.
func (o *Orchestrator) DetectIntent(text string, hasAttachment bool) (task.Type, bool) {
	return DetectIntent(text, hasAttachment)
}

// ExtractEntities extracts entities from text, resolves control codes and
// keywords through the catalog, and fills unstated fields from the
// configured defaults for taskType.
func (o *Orchestrator) ExtractEntities(ctx context.Context, text string, taskType task.Type) (Entities, error) {
	e := Extract(text)

	for _, code := range e.ControlCodes {
		controls, err := o.catalog.FindControlsByCode(ctx, baseCode(code))
		if err != nil {
			return e, fmt.Errorf("failed to resolve control code %s: %w", code, err)
		}
		ids := matchingControlIDs(controls, baseCode(code))
		if len(ids) == 0 {
			e.UnknownCodes = append(e.UnknownCodes, code)
			continue
		}
		e.ControlIDs = appendUnique(e.ControlIDs, ids...)
	}

	// keywords only widen the selection when nothing more specific was named
	if len(e.ControlIDs) == 0 && len(e.ControlCodes) == 0 && len(e.ControlKeywords) > 0 {
		controls, err := o.catalog.SearchControls(ctx, e.ControlKeywords)
		if err != nil {
			return e, fmt.Errorf("failed to search controls: %w", err)
		}
		for _, c := range controls {
			e.ControlIDs = appendUnique(e.ControlIDs, c.ID)
		}
	}

	if e.ProjectID == 0 {
		e.ProjectID = o.config.DefaultProjectID
		e.Defaulted = append(e.Defaulted, FieldProjectID)
	}
	if e.Framework == "" && needsFramework(taskType) {
		e.Framework = o.config.DefaultFramework
		e.Defaulted = append(e.Defaulted, FieldFramework)
	}
	if e.ReportFormat == "" && taskType == task.TypeReportGeneration {
		e.ReportFormat = o.config.DefaultReportFormat
		e.Defaulted = append(e.Defaulted, FieldReportFormat)
	}
	return e, nil
}

// BuildPayload shapes the payload the handler for taskType expects and
// validates it. requested_by is always set to principal.
func (o *Orchestrator) BuildPayload(taskType task.Type, e Entities, attachment *domain.Attachment, principal int64) (map[string]any, error) {
	return BuildPayload(taskType, e, attachment, "", principal)
}

// BuildPayload is the store-free form of Orchestrator.BuildPayload.
// description is only used by evidence uploads.
func BuildPayload(taskType task.Type, e Entities, attachment *domain.Attachment, description string, principal int64) (map[string]any, error) {
	var payload any
	switch taskType {
	case task.TypeEvidenceCollection:
		payload = &domain.EvidenceCollectionPayload{
			ProjectID:   e.ProjectID,
			ControlIDs:  e.ControlIDs,
			Keywords:    e.ControlKeywords,
			RequestedBy: principal,
		}
	case task.TypeEvidenceUpload:
		p := &domain.EvidenceUploadPayload{
			ProjectID:   e.ProjectID,
			ControlIDs:  e.ControlIDs,
			Description: truncate(description, maxDescriptionLength),
			RequestedBy: principal,
		}
		if attachment != nil {
			p.Attachment = *attachment
		}
		payload = p
	case task.TypeComplianceAnalysis:
		payload = &domain.ComplianceAnalysisPayload{
			ProjectID:    e.ProjectID,
			Framework:    e.Framework,
			ControlIDs:   e.ControlIDs,
			AssessmentID: e.AssessmentID,
			RequestedBy:  principal,
		}
	case task.TypeReportGeneration:
		payload = &domain.ReportGenerationPayload{
			ProjectID:    e.ProjectID,
			Framework:    e.Framework,
			ReportFormat: e.ReportFormat,
			RequestedBy:  principal,
		}
	default:
		return nil, fmt.Errorf("%w: unsupported task type %q", ErrValidation, taskType)
	}

	if err := domain.Validate(string(taskType)+" payload", payload); err != nil {
		return nil, err
	}
	return domain.ToMap(payload)
}

// CreateTask detects the intent of req, builds and validates its payload,
// checks that referenced entities exist and persists a pending task. When
// no intent is detected it returns (nil, false, nil) and creates nothing.
func (o *Orchestrator) CreateTask(ctx context.Context, req Request) (*task.AgentTask, bool, error) {
	if req.Principal <= 0 {
		return nil, false, &domain.ValidationError{
			Subject: "task request",
			Fields:  []domain.FieldError{{Field: "requested_by", Rule: "required"}},
		}
	}

	taskType, ok := DetectIntent(req.Text, req.HasAttachment())
	if !ok {
		o.logger.Debug("no intent detected",
			slog.Int64("principal", req.Principal),
			slog.Bool("has_attachment", req.HasAttachment()))
		return nil, false, nil
	}

	entities, err := o.ExtractEntities(ctx, req.Text, taskType)
	if err != nil {
		return nil, false, err
	}
	if err := o.checkReferences(ctx, entities); err != nil {
		return nil, false, err
	}

	payload, err := BuildPayload(taskType, entities, req.Attachment, req.Text, req.Principal)
	if err != nil {
		return nil, false, err
	}

	created, err := o.tasks.Create(ctx, task.NewTask{
		Type:        taskType,
		Title:       truncate(titleFor(taskType, entities, req.Attachment), maxTitleLength),
		Description: truncate(strings.TrimSpace(req.Text), maxDescriptionLength),
		Payload:     payload,
		CreatedBy:   req.Principal,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create task: %w", err)
	}

	o.logger.Info("task created from request",
		slog.Int64("task_id", created.ID),
		slog.String("task_type", string(taskType)),
		slog.Int64("project_id", entities.ProjectID),
		slog.Any("defaulted", entities.Defaulted),
		slog.Any("unknown_codes", entities.UnknownCodes))

	if o.notify != nil {
		o.notify()
	}
	return created, true, nil
}

// checkReferences rejects requests naming a project or control that does
// not exist.
func (o *Orchestrator) checkReferences(ctx context.Context, e Entities) error {
	var fields []domain.FieldError

	ok, err := o.catalog.ProjectExists(ctx, e.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to check project %d: %w", e.ProjectID, err)
	}
	if !ok {
		fields = append(fields, domain.FieldError{Field: FieldProjectID, Rule: "exists"})
	}

	for _, id := range e.ControlIDs {
		ok, err := o.catalog.ControlExists(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to check control %d: %w", id, err)
		}
		if !ok {
			fields = append(fields, domain.FieldError{Field: fmt.Sprintf("control_ids[%d]", id), Rule: "exists"})
		}
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Subject: "task request", Fields: fields}
	}
	return nil
}

func needsFramework(t task.Type) bool {
	return t == task.TypeComplianceAnalysis || t == task.TypeReportGeneration
}

func titleFor(t task.Type, e Entities, attachment *domain.Attachment) string {
	switch t {
	case task.TypeEvidenceCollection:
		return fmt.Sprintf("Collect evidence for project %d", e.ProjectID)
	case task.TypeEvidenceUpload:
		if attachment != nil && attachment.Filename != "" {
			return fmt.Sprintf("Ingest evidence %s for project %d", attachment.Filename, e.ProjectID)
		}
		return fmt.Sprintf("Ingest evidence for project %d", e.ProjectID)
	case task.TypeComplianceAnalysis:
		return fmt.Sprintf("Analyze %s compliance for project %d", e.Framework, e.ProjectID)
	case task.TypeReportGeneration:
		return fmt.Sprintf("Generate %s %s report for project %d", e.Framework, e.ReportFormat, e.ProjectID)
	default:
		return string(t)
	}
}

// matchingControlIDs prefers exact code matches and falls back to the
// first name or description hit.
func matchingControlIDs(controls []domain.Control, code string) []int64 {
	var exact []int64
	for _, c := range controls {
		if strings.EqualFold(c.Code, code) {
			exact = append(exact, c.ID)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	if len(controls) > 0 {
		return []int64{controls[0].ID}
	}
	return nil
}

func appendUnique(ids []int64, more ...int64) []int64 {
	for _, id := range more {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
