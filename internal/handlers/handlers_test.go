package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/phrazzld/compliance-tasks/internal/domain"
	"github.com/phrazzld/compliance-tasks/internal/task"
	"github.com/phrazzld/compliance-tasks/internal/toolclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toolCall struct {
	name   string
	params map[string]any
}

// fakeTools records calls and answers from a fixed table.
type fakeTools struct {
	mu      sync.Mutex
	calls   []toolCall
	results map[string]map[string]any
	errs    map[string]error
}

func newFakeTools() *fakeTools {
	return &fakeTools{
		results: make(map[string]map[string]any),
		errs:    make(map[string]error),
	}
}

func (f *fakeTools) Call(_ context.Context, name string, params map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, toolCall{name: name, params: params})
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.results[name], nil
}

func (f *fakeTools) lastCall(t *testing.T) toolCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newTestHandlers(t *testing.T) (*Handlers, *fakeTools) {
	t.Helper()
	tools := newFakeTools()
	h, err := New(tools, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return h, tools
}

// runningTask seeds a running task so progress updates apply.
func runningTask(store *task.MockStore, id int64) {
	store.Put(&task.AgentTask{ID: id, Type: task.TypeReportGeneration, Status: task.StatusRunning, CreatedBy: 1})
}

func TestNew_RequiresToolCaller(t *testing.T) {
	t.Parallel()
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNilToolCaller)
}

func TestRegister(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandlers(t)
	reg := task.NewRegistry()

	require.NoError(t, h.Register(reg))
	assert.Equal(t, len(task.KnownTypes()), reg.Len())
	for _, typ := range task.KnownTypes() {
		_, err := reg.Resolve(typ)
		assert.NoError(t, err, typ)
	}
	assert.ErrorIs(t, h.Register(nil), ErrNilRegistry)
}

func TestReportGeneration(t *testing.T) {
	t.Parallel()
	h, tools := newTestHandlers(t)
	tools.results[ToolGenerateReport] = map[string]any{"report_url": "s3://reports/r.pdf"}
	store := task.NewMockStore()
	runningTask(store, 1)

	result, err := h.ReportGeneration(context.Background(), 1, map[string]any{
		"project_id":    float64(3),
		"framework":     "SOC2",
		"report_format": "pdf",
		"requested_by":  float64(42),
	}, store)
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/r.pdf", result["report_url"])
	assert.NotContains(t, result, "warnings")

	call := tools.lastCall(t)
	assert.Equal(t, ToolGenerateReport, call.name)
	assert.Equal(t, int64(3), call.params["project_id"])
	assert.Equal(t, "SOC2", call.params["framework"])
	assert.Equal(t, "pdf", call.params["report_format"])
	assert.Equal(t, int64(42), call.params["requested_by"])

	current, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, progressReturned, current.Progress)
}

func TestEvidenceCollection_AddsWarningWithoutControls(t *testing.T) {
	t.Parallel()
	h, tools := newTestHandlers(t)
	tools.results[ToolFetchEvidence] = map[string]any{
		"evidence_count": 2,
		"warnings":       []any{"one artifact expired"},
	}

	result, err := h.EvidenceCollection(context.Background(), 1, map[string]any{
		"project_id":   1,
		"keywords":     []any{"encryption"},
		"requested_by": 7,
	}, nil)
	require.NoError(t, err)

	warnings, ok := result["warnings"].([]any)
	require.True(t, ok)
	assert.Len(t, warnings, 2)
	assert.Equal(t, "one artifact expired", warnings[0])

	call := tools.lastCall(t)
	assert.Equal(t, []int64{}, call.params["control_ids"])
	assert.Equal(t, []string{"encryption"}, call.params["keywords"])
}

func TestEvidenceUpload(t *testing.T) {
	t.Parallel()
	h, tools := newTestHandlers(t)

	result, err := h.EvidenceUpload(context.Background(), 1, map[string]any{
		"project_id":   1,
		"control_ids":  []any{float64(11)},
		"attachment":   map[string]any{"file_id": "f-9", "filename": "fw.png"},
		"requested_by": 7,
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, result, "a nil tool result becomes an empty map")

	call := tools.lastCall(t)
	assert.Equal(t, ToolIngestEvidence, call.name)
	attachment, ok := call.params["attachment"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "f-9", attachment["file_id"])
	assert.Equal(t, []int64{11}, call.params["control_ids"])
}

func TestComplianceAnalysis_PassesAssessment(t *testing.T) {
	t.Parallel()
	h, tools := newTestHandlers(t)

	_, err := h.ComplianceAnalysis(context.Background(), 1, map[string]any{
		"project_id":    2,
		"framework":     "NIST-800-53",
		"assessment_id": 5,
		"requested_by":  7,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), tools.lastCall(t).params["assessment_id"])
}

func TestHandlers_InvalidPayload(t *testing.T) {
	t.Parallel()
	h, tools := newTestHandlers(t)

	_, err := h.ReportGeneration(context.Background(), 1, map[string]any{
		"project_id":    1,
		"framework":     "SOC2",
		"report_format": "pptx",
		"requested_by":  1,
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.EvidenceUpload(context.Background(), 1, map[string]any{}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Empty(t, tools.calls, "no tool is called for an invalid payload")
}

func TestHandlers_ToolFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "not found",
			err:     &toolclient.Error{Kind: toolclient.KindNotFound, Tool: ToolGenerateReport, Detail: "tool not found"},
			message: "tool generate_report is not available",
		},
		{
			name:    "handler reported",
			err:     &toolclient.Error{Kind: toolclient.KindHandlerReported, Tool: ToolGenerateReport, Detail: "no evidence for project"},
			message: "generate_report reported an error: no evidence for project",
		},
		{
			name:    "transient",
			err:     &toolclient.Error{Kind: toolclient.KindTransient, Tool: ToolGenerateReport, Detail: "server error: 503", Attempts: 3},
			message: "generate_report unavailable after 3 attempts: server error: 503",
		},
		{
			name:    "other",
			err:     errors.New("boom"),
			message: "generate_report failed: boom",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, tools := newTestHandlers(t)
			tools.errs[ToolGenerateReport] = tc.err

			_, err := h.ReportGeneration(context.Background(), 1, map[string]any{
				"project_id":    1,
				"framework":     "SOC2",
				"report_format": "csv",
				"requested_by":  1,
			}, nil)
			require.Error(t, err)
			assert.Equal(t, tc.message, err.Error())
			assert.ErrorIs(t, err, tc.err)

			var failure *ToolFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, ToolGenerateReport, failure.Tool)
		})
	}
}

func TestHandlers_CancelledContext(t *testing.T) {
	t.Parallel()
	h, tools := newTestHandlers(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.ComplianceAnalysis(ctx, 1, map[string]any{
		"project_id":   1,
		"framework":    "SOC2",
		"requested_by": 1,
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tools.calls)
}
