package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bizsuite/be-approvals/internal/apperrors"
)

// DocumentRepository handles approval document persistence.
// Line creation is handled together with the document by Create
// (transactionally); line updates live in LineRepository.
type DocumentRepository struct {
	q  Querier
	db *DB
}

// NewDocumentRepository creates a new DocumentRepository bound to the pool.
func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{q: db.Pool, db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *DocumentRepository) WithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{q: tx, db: r.db}
}

const documentColumns = `
	id, document_number, category_id, title, content, requester_id,
	status, current_line_order,
	created_at, updated_at, submitted_at, decided_at
`

// Create inserts a document and its initial lines in one transaction,
// assigning the next document number (e.g. 2026APR00000001).
func (r *DocumentRepository) Create(ctx context.Context, doc *ApprovalDocument, lines []*ApprovalLine) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var seq int64
		if err := tx.QueryRow(ctx, `SELECT nextval('approval_document_number_seq')`).Scan(&seq); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to allocate document number")
		}
		doc.DocumentNumber = fmt.Sprintf("%dAPR%08d", time.Now().Year(), seq)

		query := `
			INSERT INTO approval_documents
			    (document_number, category_id, title, content, requester_id,
			     status, current_line_order, submitted_at, decided_at)
			VALUES ($1, $2, $3, $4, $5,
			        $6::approval_document_status, $7, $8, $9)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			doc.DocumentNumber,
			doc.CategoryID,
			doc.Title,
			doc.Content,
			doc.RequesterID,
			doc.Status,
			doc.CurrentLineOrder,
			doc.SubmittedAt,
			doc.DecidedAt,
		).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval document")
		}

		return insertLines(ctx, tx, doc.ID, lines)
	})
}

// GetByID retrieves a document by primary key.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*ApprovalDocument, error) {
	query := `SELECT` + documentColumns + `FROM approval_documents WHERE id = $1`

	doc, err := scanDocument(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_document", id)
	}
	return doc, err
}

// GetByIDForUpdate retrieves a document with a row lock, serializing
// concurrent transitions on the same document. Must run inside a transaction.
func (r *DocumentRepository) GetByIDForUpdate(ctx context.Context, id string) (*ApprovalDocument, error) {
	query := `SELECT` + documentColumns + `FROM approval_documents WHERE id = $1 FOR UPDATE`

	doc, err := scanDocument(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_document", id)
	}
	return doc, err
}

// SaveWorkflowState persists the mutable workflow fields after a transition.
func (r *DocumentRepository) SaveWorkflowState(ctx context.Context, doc *ApprovalDocument) error {
	query := `
		UPDATE approval_documents
		SET status             = $2::approval_document_status,
		    current_line_order = $3,
		    submitted_at       = $4,
		    decided_at         = $5,
		    updated_at         = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.q.QueryRow(ctx, query,
		doc.ID, doc.Status, doc.CurrentLineOrder, doc.SubmittedAt, doc.DecidedAt,
	).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_document", doc.ID)
	}
	return err
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status      *DocumentStatus
	CategoryID  *string
	RequesterID *string
	Page        int
	PageSize    int
}

// List returns documents newest-first with a total count for pagination.
func (r *DocumentRepository) List(ctx context.Context, filter ListFilter) ([]*ApprovalDocument, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	n := 0
	if filter.Status != nil {
		n++
		where += fmt.Sprintf(" AND status = $%d::approval_document_status", n)
		args = append(args, *filter.Status)
	}
	if filter.CategoryID != nil {
		n++
		where += fmt.Sprintf(" AND category_id = $%d", n)
		args = append(args, *filter.CategoryID)
	}
	if filter.RequesterID != nil {
		n++
		where += fmt.Sprintf(" AND requester_id = $%d", n)
		args = append(args, *filter.RequesterID)
	}

	var total int
	if err := r.q.QueryRow(ctx, "SELECT COUNT(*) FROM approval_documents"+where, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count approval documents")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	query := "SELECT" + documentColumns + "FROM approval_documents" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list approval documents")
	}
	defer rows.Close()

	docs, err := scanDocumentRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// ListStatisticsWindow returns every document created at or after since,
// optionally restricted to one requester. The scan is batched by the pool
// and holds no long-lived transaction.
func (r *DocumentRepository) ListStatisticsWindow(ctx context.Context, since time.Time, requesterID *string) ([]*ApprovalDocument, error) {
	query := `SELECT` + documentColumns + `FROM approval_documents WHERE created_at >= $1`
	args := []any{since}
	if requesterID != nil {
		query += " AND requester_id = $2"
		args = append(args, *requesterID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to load statistics window")
	}
	defer rows.Close()

	return scanDocumentRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type documentScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row documentScanner) (*ApprovalDocument, error) {
	doc := &ApprovalDocument{}
	err := row.Scan(
		&doc.ID,
		&doc.DocumentNumber,
		&doc.CategoryID,
		&doc.Title,
		&doc.Content,
		&doc.RequesterID,
		&doc.Status,
		&doc.CurrentLineOrder,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&doc.SubmittedAt,
		&doc.DecidedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func scanDocumentRows(rows pgx.Rows) ([]*ApprovalDocument, error) {
	var docs []*ApprovalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval document")
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
