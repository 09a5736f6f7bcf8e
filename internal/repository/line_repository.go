package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/bizsuite/be-approvals/internal/apperrors"
)

// LineRepository handles reads and updates on individual approval lines.
// Line creation happens alongside its document (DocumentRepository.Create)
// or at submission time (CreateForDocument).
type LineRepository struct {
	q  Querier
	db *DB
}

// NewLineRepository creates a new LineRepository bound to the pool.
func NewLineRepository(db *DB) *LineRepository {
	return &LineRepository{q: db.Pool, db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *LineRepository) WithTx(tx pgx.Tx) *LineRepository {
	return &LineRepository{q: tx, db: r.db}
}

const lineColumns = `
	id, document_id, line_order, line_type, approver_id,
	status, acted_at, comment, delegated_to, delegated_reason,
	created_at, updated_at`

// ListByDocumentID returns all lines for a document ordered by line_order,
// ties broken by creation order.
func (r *LineRepository) ListByDocumentID(ctx context.Context, documentID string) ([]*ApprovalLine, error) {
	query := `SELECT` + lineColumns + `
		FROM approval_lines
		WHERE document_id = $1
		ORDER BY line_order ASC, created_at ASC`

	rows, err := r.q.Query(ctx, query, documentID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to load approval lines")
	}
	defer rows.Close()

	return scanLineRows(rows)
}

// CreateForDocument inserts the materialized lines for a document being
// submitted. Must run inside the submission transaction.
func (r *LineRepository) CreateForDocument(ctx context.Context, documentID string, lines []*ApprovalLine) error {
	return insertLines(ctx, r.q, documentID, lines)
}

// Save persists a line's mutable fields after a transition.
func (r *LineRepository) Save(ctx context.Context, line *ApprovalLine) error {
	query := `
		UPDATE approval_lines
		SET status           = $2::approval_line_status,
		    acted_at         = $3,
		    comment          = $4,
		    delegated_to     = $5,
		    delegated_reason = $6,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.q.QueryRow(ctx, query,
		line.ID, line.Status, line.ActedAt, line.Comment, line.DelegatedToID, line.DelegatedReason,
	).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_line", line.ID)
	}
	return err
}

// ListAwaitingApprover returns the lines where it is currently userID's turn
// to act: current gating lines on pending documents assigned or delegated to
// the user, plus unacknowledged reference lines addressed to the user.
func (r *LineRepository) ListAwaitingApprover(ctx context.Context, userID string) ([]*ApprovalLine, error) {
	query := `
		SELECT l.id, l.document_id, l.line_order, l.line_type, l.approver_id,
		       l.status, l.acted_at, l.comment, l.delegated_to, l.delegated_reason,
		       l.created_at, l.updated_at
		FROM approval_lines l
		JOIN approval_documents d ON d.id = l.document_id
		WHERE (
		        d.status = 'pending'
		    AND l.line_order = d.current_line_order
		    AND l.line_type <> 'reference'
		    AND (
		            (l.status = 'pending' AND l.approver_id = $1)
		         OR (l.status = 'delegated' AND l.acted_at IS NULL AND l.delegated_to = $1)
		        )
		      )
		   OR (
		        l.line_type = 'reference'
		    AND l.status = 'pending'
		    AND l.approver_id = $1
		      )
		ORDER BY l.created_at ASC
	`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to load pending approvals")
	}
	defer rows.Close()

	return scanLineRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func insertLines(ctx context.Context, q Querier, documentID string, lines []*ApprovalLine) error {
	query := `
		INSERT INTO approval_lines
		    (document_id, line_order, line_type, approver_id,
		     status, delegated_to, delegated_reason)
		VALUES ($1, $2, $3::approval_line_type, $4,
		        $5::approval_line_status, $6, $7)
		RETURNING id, created_at, updated_at
	`

	for _, line := range lines {
		line.DocumentID = documentID
		err := q.QueryRow(ctx, query,
			line.DocumentID,
			line.LineOrder,
			line.LineType,
			line.ApproverID,
			line.Status,
			line.DelegatedToID,
			line.DelegatedReason,
		).Scan(&line.ID, &line.CreatedAt, &line.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval line")
		}
	}
	return nil
}

type lineScanner interface {
	Scan(dest ...any) error
}

func scanLine(row lineScanner) (*ApprovalLine, error) {
	l := &ApprovalLine{}
	err := row.Scan(
		&l.ID,
		&l.DocumentID,
		&l.LineOrder,
		&l.LineType,
		&l.ApproverID,
		&l.Status,
		&l.ActedAt,
		&l.Comment,
		&l.DelegatedToID,
		&l.DelegatedReason,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func scanLineRows(rows pgx.Rows) ([]*ApprovalLine, error) {
	var lines []*ApprovalLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval line")
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
