package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/bizsuite/be-approvals/internal/apperrors"
)

// TemplateRepository reads per-category default approval line templates.
// Template authoring is an admin concern outside this service; submission
// only ever reads the default.
type TemplateRepository struct {
	q Querier
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *DB) *TemplateRepository {
	return &TemplateRepository{q: db.Pool}
}

// GetDefaultByCategory returns the default template for a category, or nil
// when the category has none.
func (r *TemplateRepository) GetDefaultByCategory(ctx context.Context, categoryID string) (*ApprovalTemplate, error) {
	query := `
		SELECT id, category_id, name, is_default, lines, created_at, updated_at
		FROM approval_templates
		WHERE category_id = $1
		  AND is_default = TRUE
		ORDER BY updated_at DESC
		LIMIT 1
	`

	tpl, err := r.scanTemplate(r.q.QueryRow(ctx, query, categoryID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return tpl, err
}

// List returns all templates for a category.
func (r *TemplateRepository) List(ctx context.Context, categoryID string) ([]*ApprovalTemplate, error) {
	query := `
		SELECT id, category_id, name, is_default, lines, created_at, updated_at
		FROM approval_templates
		WHERE category_id = $1
		ORDER BY is_default DESC, name ASC
	`

	rows, err := r.q.Query(ctx, query, categoryID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list approval templates")
	}
	defer rows.Close()

	var templates []*ApprovalTemplate
	for rows.Next() {
		tpl, err := r.scanTemplate(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval template")
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

type templateScanner interface {
	Scan(dest ...any) error
}

func (r *TemplateRepository) scanTemplate(row templateScanner) (*ApprovalTemplate, error) {
	tpl := &ApprovalTemplate{}
	var linesJSON []byte

	err := row.Scan(
		&tpl.ID,
		&tpl.CategoryID,
		&tpl.Name,
		&tpl.IsDefault,
		&linesJSON,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if linesJSON != nil {
		if err := json.Unmarshal(linesJSON, &tpl.Lines); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal template lines")
		}
	}
	return tpl, nil
}
