package repository

import (
	"context"
	"encoding/json"

	"github.com/bizsuite/be-approvals/internal/apperrors"
)

// HistoryRepository appends and reads immutable approval history entries.
type HistoryRepository struct {
	q Querier
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{q: db.Pool}
}

// Append inserts one history entry. The table has a delete-prevention
// trigger so this is the only mutation operation exposed.
func (r *HistoryRepository) Append(ctx context.Context, entry *HistoryEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal history metadata")
		}
	}

	query := `
		INSERT INTO approval_history
		    (document_id, line_id, actor_id, action, detail, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	return r.q.QueryRow(ctx, query,
		entry.DocumentID,
		entry.LineID,
		entry.ActorID,
		entry.Action,
		entry.Detail,
		metadataJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ListByDocumentID returns the full history for a document oldest-first.
func (r *HistoryRepository) ListByDocumentID(ctx context.Context, documentID string) ([]*HistoryEntry, error) {
	query := `
		SELECT id, document_id, line_id, actor_id, action, detail, metadata, created_at
		FROM approval_history
		WHERE document_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(ctx, query, documentID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to load approval history")
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type historyScanner interface {
	Scan(dest ...any) error
}

func (r *HistoryRepository) scanEntry(sc historyScanner) (*HistoryEntry, error) {
	entry := &HistoryEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.DocumentID,
		&entry.LineID,
		&entry.ActorID,
		&entry.Action,
		&entry.Detail,
		&metadataJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan history entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal history metadata")
		}
	}
	return entry, nil
}
