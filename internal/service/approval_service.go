// Package service orchestrates approval workflow use cases: it loads state,
// applies the workflow engine inside a store transaction and fans out history
// and notifications after commit.
package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/bizsuite/be-approvals/internal/apperrors"
	"github.com/bizsuite/be-approvals/internal/notify"
	"github.com/bizsuite/be-approvals/internal/repository"
	"github.com/bizsuite/be-approvals/internal/stats"
	"github.com/bizsuite/be-approvals/internal/timeline"
	"github.com/bizsuite/be-approvals/internal/workflow"
)

// ApprovalService implements the approval document use cases.
type ApprovalService struct {
	db        *repository.DB
	docs      *repository.DocumentRepository
	lines     *repository.LineRepository
	templates *repository.TemplateRepository
	history   *repository.HistoryRepository
	engine    *workflow.Engine
	publisher *notify.Publisher
	log       zerolog.Logger
}

// NewApprovalService wires the service dependencies.
func NewApprovalService(
	db *repository.DB,
	docs *repository.DocumentRepository,
	lines *repository.LineRepository,
	templates *repository.TemplateRepository,
	history *repository.HistoryRepository,
	engine *workflow.Engine,
	publisher *notify.Publisher,
	log zerolog.Logger,
) *ApprovalService {
	return &ApprovalService{
		db:        db,
		docs:      docs,
		lines:     lines,
		templates: templates,
		history:   history,
		engine:    engine,
		publisher: publisher,
		log:       log,
	}
}

// LineInput describes one approval line supplied at creation or submission.
type LineInput struct {
	ApproverID string              `json:"approver_id"`
	LineType   repository.LineType `json:"line_type"`
	LineOrder  int                 `json:"line_order"`
}

// CreateDocumentInput is the payload for CreateDocument.
type CreateDocumentInput struct {
	CategoryID  string      `json:"category_id"`
	Title       string      `json:"title"`
	Content     *string     `json:"content,omitempty"`
	RequesterID string      `json:"requester_id"`
	Lines       []LineInput `json:"lines,omitempty"`
	Submit      bool        `json:"submit"`
}

// TransitionResult reports a successful workflow transition to the caller.
type TransitionResult struct {
	Document  *repository.ApprovalDocument `json:"document"`
	Line      *repository.ApprovalLine     `json:"line,omitempty"`
	NextLine  *repository.ApprovalLine     `json:"next_line,omitempty"`
	Completed bool                         `json:"completed"`
}

// DocumentDetail bundles a document with its lines and timeline projection.
type DocumentDetail struct {
	Document *repository.ApprovalDocument `json:"document"`
	Lines    []*repository.ApprovalLine   `json:"lines"`
	Timeline timeline.View                `json:"timeline"`
}

// PendingItem is one entry in a user's pending-approvals inbox.
type PendingItem struct {
	Line     *repository.ApprovalLine     `json:"line"`
	Document *repository.ApprovalDocument `json:"document"`
}

// CreateDocument creates an approval document, optionally submitting it into
// the workflow in the same call.
func (s *ApprovalService) CreateDocument(ctx context.Context, input CreateDocumentInput) (*repository.ApprovalDocument, error) {
	if input.CategoryID == "" {
		return nil, apperrors.InvalidInput("category_id", "category is required")
	}
	if input.Title == "" {
		return nil, apperrors.InvalidInput("title", "title is required")
	}
	if input.RequesterID == "" {
		return nil, apperrors.InvalidInput("requester_id", "requester is required")
	}

	doc := &repository.ApprovalDocument{
		CategoryID:  input.CategoryID,
		Title:       input.Title,
		Content:     input.Content,
		RequesterID: input.RequesterID,
		Status:      repository.DocumentDraft,
	}
	lines := buildLines(input.Lines)

	if err := s.docs.Create(ctx, doc, lines); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("document_id", doc.ID).
		Str("document_number", doc.DocumentNumber).
		Str("requester_id", doc.RequesterID).
		Msg("approval document created")

	if !input.Submit {
		return doc, nil
	}

	result, err := s.Submit(ctx, doc.ID, input.RequesterID, nil)
	if err != nil {
		return nil, err
	}
	return result.Document, nil
}

// Submit moves a draft into the workflow. Lines resolve in priority order:
// lines already attached to the draft, then explicit lines passed here, then
// the category's default template.
func (s *ApprovalService) Submit(ctx context.Context, documentID, actorID string, explicit []LineInput) (*TransitionResult, error) {
	var outcome *workflow.Outcome

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		docs := s.docs.WithTx(tx)
		lineRepo := s.lines.WithTx(tx)

		doc, err := docs.GetByIDForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.RequesterID != actorID {
			return apperrors.Forbidden("only the requester can submit the document")
		}

		lines, err := lineRepo.ListByDocumentID(ctx, documentID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			lines, err = s.resolveLines(ctx, doc, explicit)
			if err != nil {
				return err
			}
			if err := lineRepo.CreateForDocument(ctx, documentID, lines); err != nil {
				return err
			}
		}

		outcome, err = s.engine.Submit(doc, lines)
		if err != nil {
			return err
		}
		return s.persistOutcome(ctx, tx, outcome)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, actorID, outcome)
	return resultOf(outcome), nil
}

// Approve records an approval on the current line and advances the chain.
func (s *ApprovalService) Approve(ctx context.Context, documentID, lineID, actorID string, comment *string) (*TransitionResult, error) {
	return s.transition(ctx, documentID, actorID, func(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine) (*workflow.Outcome, error) {
		return s.engine.Approve(doc, lines, lineID, actorID, comment)
	})
}

// Reject records a rejection, terminating the document.
func (s *ApprovalService) Reject(ctx context.Context, documentID, lineID, actorID, comment string) (*TransitionResult, error) {
	return s.transition(ctx, documentID, actorID, func(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine) (*workflow.Outcome, error) {
		return s.engine.Reject(doc, lines, lineID, actorID, comment)
	})
}

// Delegate transfers the current line's acting authority to another user.
func (s *ApprovalService) Delegate(ctx context.Context, documentID, lineID, actorID, delegateToID string, reason *string) (*TransitionResult, error) {
	return s.transition(ctx, documentID, actorID, func(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine) (*workflow.Outcome, error) {
		return s.engine.Delegate(doc, lines, lineID, actorID, delegateToID, reason)
	})
}

// Skip bypasses the current line administratively.
func (s *ApprovalService) Skip(ctx context.Context, documentID, lineID, actorID string, reason *string) (*TransitionResult, error) {
	return s.transition(ctx, documentID, actorID, func(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine) (*workflow.Outcome, error) {
		return s.engine.Skip(doc, lines, lineID, actorID, reason)
	})
}

// Acknowledge marks a reference line as seen by its recipient.
func (s *ApprovalService) Acknowledge(ctx context.Context, documentID, lineID, actorID string) (*TransitionResult, error) {
	return s.transition(ctx, documentID, actorID, func(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine) (*workflow.Outcome, error) {
		return s.engine.Acknowledge(doc, lines, lineID, actorID)
	})
}

// Withdraw cancels a pending document on the requester's behalf.
func (s *ApprovalService) Withdraw(ctx context.Context, documentID, actorID string) (*TransitionResult, error) {
	return s.transition(ctx, documentID, actorID, func(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine) (*workflow.Outcome, error) {
		return s.engine.Withdraw(doc, lines, actorID)
	})
}

// GetDocument returns a document with its lines and timeline projection.
func (s *ApprovalService) GetDocument(ctx context.Context, documentID string) (*DocumentDetail, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	lines, err := s.lines.ListByDocumentID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &DocumentDetail{
		Document: doc,
		Lines:    lines,
		Timeline: timeline.Project(lines, doc.CurrentLineOrder),
	}, nil
}

// List returns documents matching the filter, newest first.
func (s *ApprovalService) List(ctx context.Context, filter repository.ListFilter) ([]*repository.ApprovalDocument, int, error) {
	return s.docs.List(ctx, filter)
}

// ListPendingForApprover returns the lines currently awaiting a user,
// paired with their documents.
func (s *ApprovalService) ListPendingForApprover(ctx context.Context, userID string) ([]*PendingItem, error) {
	lines, err := s.lines.ListAwaitingApprover(ctx, userID)
	if err != nil {
		return nil, err
	}

	items := make([]*PendingItem, 0, len(lines))
	docCache := make(map[string]*repository.ApprovalDocument)
	for _, line := range lines {
		doc := docCache[line.DocumentID]
		if doc == nil {
			doc, err = s.docs.GetByID(ctx, line.DocumentID)
			if err != nil {
				return nil, err
			}
			docCache[line.DocumentID] = doc
		}
		items = append(items, &PendingItem{Line: line, Document: doc})
	}
	return items, nil
}

// GetHistory returns a document's history log oldest-first.
func (s *ApprovalService) GetHistory(ctx context.Context, documentID string) ([]*repository.HistoryEntry, error) {
	if _, err := s.docs.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	return s.history.ListByDocumentID(ctx, documentID)
}

// GetStatistics computes the aggregate report over a trailing monthly window.
// Scope "mine" restricts the window to the user's own documents.
func (s *ApprovalService) GetStatistics(ctx context.Context, scope stats.Scope, userID string, months int) (*stats.Report, error) {
	if months < 1 {
		months = stats.DefaultWindowMonths
	}
	var requesterID *string
	if scope == stats.ScopeMine {
		if userID == "" {
			return nil, apperrors.InvalidInput("user_id", "user is required for scope=mine")
		}
		requesterID = &userID
	}

	now := time.Now()
	docs, err := s.docs.ListStatisticsWindow(ctx, stats.WindowStart(now, months), requesterID)
	if err != nil {
		return nil, err
	}
	return stats.Compute(docs, now, months, 0), nil
}

// ── internals ─────────────────────────────────────────────────────────────────

// transition runs one engine transition inside a transaction. The row lock
// taken by GetByIDForUpdate serializes concurrent actions per document, so
// the engine always validates against committed state.
func (s *ApprovalService) transition(
	ctx context.Context,
	documentID, actorID string,
	fn func(*repository.ApprovalDocument, []*repository.ApprovalLine) (*workflow.Outcome, error),
) (*TransitionResult, error) {
	var outcome *workflow.Outcome

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		doc, err := s.docs.WithTx(tx).GetByIDForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		lines, err := s.lines.WithTx(tx).ListByDocumentID(ctx, documentID)
		if err != nil {
			return err
		}

		outcome, err = fn(doc, lines)
		if err != nil {
			return err
		}
		return s.persistOutcome(ctx, tx, outcome)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, actorID, outcome)
	return resultOf(outcome), nil
}

func (s *ApprovalService) persistOutcome(ctx context.Context, tx pgx.Tx, outcome *workflow.Outcome) error {
	lineRepo := s.lines.WithTx(tx)
	for _, line := range outcome.ChangedLines {
		if err := lineRepo.Save(ctx, line); err != nil {
			return err
		}
	}
	return s.docs.WithTx(tx).SaveWorkflowState(ctx, outcome.Document)
}

// afterCommit records history and publishes notifications. Both are
// best-effort: the transition is already committed.
func (s *ApprovalService) afterCommit(ctx context.Context, actorID string, outcome *workflow.Outcome) {
	for _, event := range outcome.Events {
		entry := &repository.HistoryEntry{
			DocumentID: event.DocumentID,
			ActorID:    actorID,
			Action:     historyAction(event.Type),
			Metadata: map[string]interface{}{
				"from_status": event.FromStatus,
				"to_status":   event.ToStatus,
			},
		}
		if event.LineID != "" {
			lineID := event.LineID
			entry.LineID = &lineID
		}
		if outcome.Line != nil && outcome.Line.Comment != nil {
			entry.Detail = outcome.Line.Comment
		}
		if err := s.history.Append(ctx, entry); err != nil {
			s.log.Warn().Err(err).
				Str("document_id", event.DocumentID).
				Str("action", entry.Action).
				Msg("failed to append approval history (non-fatal)")
		}

		s.publisher.Publish(ctx, event, s.recipients(event, outcome))
	}
}

// recipients picks who a committed event concerns. The requester follows
// every document-level outcome; line-level events go to whoever must act or
// was delegated to.
func (s *ApprovalService) recipients(event workflow.Event, outcome *workflow.Outcome) []string {
	doc := outcome.Document
	switch event.Type {
	case workflow.EventDocumentSubmitted:
		if outcome.NextLine != nil {
			return []string{lineAuthority(outcome.NextLine)}
		}
	case workflow.EventLineApproved, workflow.EventLineSkipped:
		recipients := []string{doc.RequesterID}
		if outcome.NextLine != nil {
			recipients = append(recipients, lineAuthority(outcome.NextLine))
		}
		return recipients
	case workflow.EventLineDelegated:
		if outcome.Line != nil && outcome.Line.DelegatedToID != nil {
			return []string{doc.RequesterID, *outcome.Line.DelegatedToID}
		}
	case workflow.EventDocumentApproved, workflow.EventDocumentRejected,
		workflow.EventLineRejected, workflow.EventDocumentWithdrawn:
		return []string{doc.RequesterID}
	case workflow.EventLineAcknowledged:
		return []string{doc.RequesterID}
	}
	return nil
}

// resolveLines builds the line set for a submission without attached lines.
func (s *ApprovalService) resolveLines(ctx context.Context, doc *repository.ApprovalDocument, explicit []LineInput) ([]*repository.ApprovalLine, error) {
	if len(explicit) > 0 {
		return buildLines(explicit), nil
	}

	tpl, err := s.templates.GetDefaultByCategory(ctx, doc.CategoryID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, apperrors.InvalidInput("lines",
			"no approval lines supplied and the category has no default template")
	}

	inputs := make([]LineInput, 0, len(tpl.Lines))
	for _, tl := range tpl.Lines {
		inputs = append(inputs, LineInput{
			ApproverID: tl.ApproverID,
			LineType:   tl.LineType,
			LineOrder:  tl.LineOrder,
		})
	}
	return buildLines(inputs), nil
}

func buildLines(inputs []LineInput) []*repository.ApprovalLine {
	lines := make([]*repository.ApprovalLine, 0, len(inputs))
	for _, in := range inputs {
		lines = append(lines, &repository.ApprovalLine{
			LineOrder:  in.LineOrder,
			LineType:   in.LineType,
			ApproverID: in.ApproverID,
			Status:     repository.LinePending,
		})
	}
	return lines
}

func lineAuthority(l *repository.ApprovalLine) string {
	if l.DelegatedToID != nil {
		return *l.DelegatedToID
	}
	return l.ApproverID
}

func historyAction(t workflow.EventType) string {
	switch t {
	case workflow.EventDocumentSubmitted:
		return "submitted"
	case workflow.EventLineApproved, workflow.EventDocumentApproved:
		return "approved"
	case workflow.EventLineRejected, workflow.EventDocumentRejected:
		return "rejected"
	case workflow.EventLineDelegated:
		return "delegated"
	case workflow.EventLineSkipped:
		return "skipped"
	case workflow.EventLineAcknowledged:
		return "acknowledged"
	case workflow.EventDocumentWithdrawn:
		return "withdrawn"
	}
	return string(t)
}

func resultOf(outcome *workflow.Outcome) *TransitionResult {
	return &TransitionResult{
		Document:  outcome.Document,
		Line:      outcome.Line,
		NextLine:  outcome.NextLine,
		Completed: outcome.Completed,
	}
}
