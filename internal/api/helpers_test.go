package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrazzld/compliance-tasks/internal/api/shared"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRequest builds a request carrying principal; zero means anonymous.
func newRequest(t *testing.T, method, target, body string, principal int64) *http.Request {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	ctx := shared.WithTraceID(req.Context(), "test-trace")
	if principal != 0 {
		ctx = shared.WithPrincipalID(ctx, principal)
	}
	return req.WithContext(ctx)
}
