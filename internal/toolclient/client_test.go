package toolclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	return newTestClientWithTimeout(t, handler, 2*time.Second)
}

func newTestClientWithTimeout(t *testing.T, handler http.Handler, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.BackoffBase = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.Timeout = timeout
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestCallTool_Success(t *testing.T) {
	t.Parallel()

	var got callRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tools/call", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"result":  map[string]any{"evidence_count": 4},
		})
	}))

	result, err := client.Call(context.Background(), "fetch_evidence", map[string]any{"project_id": 1})
	require.NoError(t, err)
	assert.Equal(t, float64(4), result["evidence_count"])
	assert.Equal(t, "fetch_evidence", got.Tool)
	assert.Equal(t, float64(1), got.Parameters["project_id"])
}

func TestCallTool_NilResultBecomesEmptyMap(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))

	result, err := client.Call(context.Background(), "noop", nil)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Empty(t, result)
}

func TestCallTool_TransientExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "boom"})
	}))

	_, err := client.CallTool(context.Background(), "analyze_compliance", nil, 3)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "exactly retryCount attempts")
	assert.True(t, IsTransient(err))

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Equal(t, "analyze_compliance", te.Tool)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestCallTool_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusBadGateway, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": map[string]any{"ok": true}})
	}))

	result, err := client.CallTool(context.Background(), "generate_report", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallTool_NotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown tool"})
	}))

	_, err := client.CallTool(context.Background(), "missing_tool", nil, 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, IsNotFound(err))
	assert.False(t, IsTransient(err))
}

func TestCallTool_HandlerReportedIsNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   map[string]any
		detail string
	}{
		{
			name:   "success false",
			status: http.StatusOK,
			body:   map[string]any{"success": false, "error": "project has no evidence"},
			detail: "project has no evidence",
		},
		{
			name:   "success false without message",
			status: http.StatusOK,
			body:   map[string]any{"success": false},
			detail: "tool reported failure",
		},
		{
			name:   "unprocessable parameters",
			status: http.StatusUnprocessableEntity,
			body:   map[string]any{"error": "invalid parameters"},
			detail: "invalid parameters",
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   map[string]any{},
			detail: "request rejected: 400",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, tc.status, tc.body)
			}))

			_, err := client.CallTool(context.Background(), "ingest_evidence", nil, 3)
			require.Error(t, err)
			assert.Equal(t, int32(1), calls.Load())
			assert.True(t, IsHandlerReported(err))

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.detail, te.Detail)
			assert.Equal(t, 1, te.Attempts)
		})
	}
}

func TestCallTool_RetryableClientErrors(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, status, map[string]any{"error": "slow down"})
			}))

			_, err := client.CallTool(context.Background(), "fetch_evidence", nil, 3)
			require.Error(t, err)
			assert.Equal(t, int32(3), calls.Load())
			assert.True(t, IsTransient(err))

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, status, te.StatusCode)
			assert.Equal(t, 3, te.Attempts)
		})
	}
}

func TestCallTool_TooManyRequestsThenSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": map[string]any{"ok": true}})
	}))

	result, err := client.CallTool(context.Background(), "generate_report", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallTool_TimeoutIsTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClientWithTimeout(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}), 50*time.Millisecond)

	_, err := client.CallTool(context.Background(), "analyze_compliance", nil, 3)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
	assert.Zero(t, te.StatusCode)
}

func TestCallTool_MalformedBodyIsTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>gateway</html>"))
	}))

	_, err := client.CallTool(context.Background(), "fetch_evidence", nil, 2)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallTool_MissingSuccessFlagIsTransient(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{}})
	}))

	_, err := client.CallTool(context.Background(), "fetch_evidence", nil, 1)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestCallTool_ConnectionRefusedIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultConfig(url)
	cfg.BackoffBase = time.Millisecond
	client := New(cfg, nil)

	_, err := client.CallTool(context.Background(), "fetch_evidence", nil, 2)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.Attempts)
	assert.NotNil(t, te.Unwrap())
}

func TestListTools(t *testing.T) {
	t.Parallel()

	tools := []map[string]any{
		{"name": "fetch_evidence", "description": "Collects evidence"},
		{"name": "generate_report"},
	}

	t.Run("wrapped", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/tools", r.URL.Path)
			writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
		}))

		got, err := client.ListTools(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "fetch_evidence", got[0].Name)
		assert.Equal(t, "Collects evidence", got[0].Description)
	})

	t.Run("bare array", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, tools)
		}))

		got, err := client.ListTools(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "generate_report", got[1].Name)
	})

	t.Run("server error", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))

		_, err := client.ListTools(context.Background())
		assert.True(t, IsTransient(err))
	})
}

func TestGetToolInfo(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tools": []map[string]any{
			{"name": "analyze_compliance", "parameters": map[string]any{"framework": "string"}},
		}})
	}))

	info, err := client.GetToolInfo(context.Background(), "analyze_compliance")
	require.NoError(t, err)
	assert.Equal(t, "string", info.Parameters["framework"])

	_, err = client.GetToolInfo(context.Background(), "unknown")
	assert.True(t, IsNotFound(err))
}

func TestHealth(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	}))

	h, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Healthy())

	down := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{})
	}))
	h, err = down.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Healthy())
}

func TestKind(t *testing.T) {
	t.Parallel()

	assert.True(t, KindTransient.Retryable())
	assert.False(t, KindNotFound.Retryable())
	assert.False(t, KindHandlerReported.Retryable())
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, Kind(0), KindOf(io.EOF))
}
