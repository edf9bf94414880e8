package postgres

import (
	"context"
	"log/slog"
	"strings"

	"github.com/phrazzld/compliance-tasks/internal/domain"
	"github.com/phrazzld/compliance-tasks/internal/store"
)

const catalogMatchLimit = 10

// CatalogStore answers read-only questions about projects and controls.
type CatalogStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewCatalogStore creates a new CatalogStore
func NewCatalogStore(db store.DBTX, logger *slog.Logger) *CatalogStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogStore{
		db:     db,
		logger: logger.With(slog.String("component", "catalog_store")),
	}
}

// ProjectExists reports whether a project with id exists.
func (s *CatalogStore) ProjectExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, id)
}

// ControlExists reports whether a control with id exists.
func (s *CatalogStore) ControlExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM controls WHERE id = $1)`, id)
}

// FindControlsByCode resolves a short code such as "AC-2" to controls. An
// exact code match ranks first; controls whose name or description
// mention the code follow.
func (s *CatalogStore) FindControlsByCode(ctx context.Context, code string) ([]domain.Control, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	query := `
		SELECT id, framework, code, name, description
		FROM controls
		WHERE upper(code) = upper($1)
			OR name ILIKE $2
			OR description ILIKE $2
		ORDER BY (upper(code) = upper($1)) DESC, id ASC
		LIMIT $3`
	return s.queryControls(ctx, "find_by_code", query, code, likePattern(code), catalogMatchLimit)
}

// SearchControls returns controls whose name or description contains any
// of the keywords.
func (s *CatalogStore) SearchControls(ctx context.Context, keywords []string) ([]domain.Control, error) {
	patterns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			patterns = append(patterns, likePattern(kw))
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, framework, code, name, description
		FROM controls
		WHERE name ILIKE ANY($1) OR description ILIKE ANY($1)
		ORDER BY id ASC
		LIMIT $2`
	return s.queryControls(ctx, "search", query, patterns, catalogMatchLimit)
}

func (s *CatalogStore) exists(ctx context.Context, query string, id int64) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, store.NewStoreError("catalog", "exists", "query failed", MapError(err, nil))
	}
	return ok, nil
}

func (s *CatalogStore) queryControls(ctx context.Context, op, query string, args ...any) ([]domain.Control, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("control query failed",
			slog.String("operation", op),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("control", op, "query failed", MapError(err, nil))
	}
	defer func() { _ = rows.Close() }()

	var controls []domain.Control
	for rows.Next() {
		var c domain.Control
		if err := rows.Scan(&c.ID, &c.Framework, &c.Code, &c.Name, &c.Description); err != nil {
			return nil, store.NewStoreError("control", op, "scan failed", err)
		}
		controls = append(controls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("control", op, "iteration failed", err)
	}
	return controls, nil
}

// likePattern wraps s in % wildcards after escaping LIKE metacharacters.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
