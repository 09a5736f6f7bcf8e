// Package workflow implements the approval state machine: current-line
// derivation, line transitions and the document status roll-up.
//
// The engine is pure. It validates and mutates documents and lines it is
// handed, records which rows changed and which events to announce, and
// leaves persistence to the caller, which runs each transition inside a
// single store transaction (re-read, validate, write).
package workflow

import (
	"time"

	"github.com/bizsuite/be-approvals/internal/apperrors"
	"github.com/bizsuite/be-approvals/internal/repository"
)

// Outcome reports the effect of a successful transition. Document and the
// entries of ChangedLines point into the caller's data and carry the new
// state to persist.
type Outcome struct {
	Document     *repository.ApprovalDocument
	Line         *repository.ApprovalLine   // the acted-on line, nil for withdraw
	ChangedLines []*repository.ApprovalLine // lines requiring persistence
	NextLine     *repository.ApprovalLine   // new current line, nil when none remains
	Completed    bool                       // document reached a terminal status
	Events       []Event
}

// Engine applies legal transitions. It holds no state between calls and is
// safe for concurrent use across documents; per-document exclusion is the
// caller's store transaction.
type Engine struct {
	now func() time.Time
}

// NewEngine creates an engine using the wall clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock creates an engine with a fixed clock source.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// CurrentLine returns the single line awaiting action: the lowest-order
// gating line that is pending, or delegated and not yet acted on. Returns
// nil when every gating line is consumed.
func (e *Engine) CurrentLine(lines []*repository.ApprovalLine) *repository.ApprovalLine {
	var current *repository.ApprovalLine
	for _, l := range lines {
		if !awaiting(l) {
			continue
		}
		if current == nil || l.LineOrder < current.LineOrder {
			current = l
		}
	}
	return current
}

// Submit validates a draft's line set and moves the document to pending.
// Gating line orders must be positive and unique; at least one gating line
// is required. Reference lines never gate and may share orders.
func (e *Engine) Submit(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine) (*Outcome, error) {
	switch doc.Status {
	case repository.DocumentDraft:
	case repository.DocumentPending:
		return nil, apperrors.New(apperrors.ErrCodeInvalidTransition, "document is already submitted")
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeAlreadyDecided, "document is already %s", doc.Status)
	}

	if len(lines) == 0 {
		return nil, apperrors.InvalidInput("lines", "at least one approval line is required")
	}
	seenOrders := make(map[int]bool)
	hasGating := false
	for _, l := range lines {
		if !l.LineType.Valid() {
			return nil, apperrors.InvalidInput("line_type", "unknown line type: "+string(l.LineType))
		}
		if l.ApproverID == "" {
			return nil, apperrors.InvalidInput("approver_id", "approver is required on every line")
		}
		if !l.LineType.Gating() {
			l.Status = repository.LinePending
			continue
		}
		if l.LineOrder < 1 {
			return nil, apperrors.InvalidInput("line_order", "line order must be positive")
		}
		if seenOrders[l.LineOrder] {
			return nil, apperrors.InvalidInput("line_order", "duplicate line order among gating lines")
		}
		seenOrders[l.LineOrder] = true
		hasGating = true
		l.Status = repository.LinePending
	}
	if !hasGating {
		return nil, apperrors.InvalidInput("lines", "at least one non-reference line is required")
	}

	now := e.now()
	doc.Status = repository.DocumentPending
	doc.SubmittedAt = &now
	doc.DecidedAt = nil

	current := e.CurrentLine(lines)
	doc.CurrentLineOrder = current.LineOrder

	return &Outcome{
		Document:     doc,
		ChangedLines: lines,
		NextLine:     current,
		Events: []Event{{
			Type:       EventDocumentSubmitted,
			DocumentID: doc.ID,
			FromStatus: string(repository.DocumentDraft),
			ToStatus:   string(repository.DocumentPending),
			ActorID:    doc.RequesterID,
			Timestamp:  now,
		}},
	}, nil
}

// Approve consumes the current line for the acting authority and advances
// the chain, finalizing the document when no gating line remains.
//
// A line approved by its delegate keeps status delegated; ActedAt marks the
// slot consumed so the delegation stays visible in the history.
func (e *Engine) Approve(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine, lineID, actorID string, comment *string) (*Outcome, error) {
	line, err := e.actionableLine(doc, lines, lineID, actorID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	from := string(line.Status)
	if line.Status == repository.LineDelegated {
		line.ActedAt = &now
		line.Comment = comment
	} else {
		line.Status = repository.LineApproved
		line.ActedAt = &now
		line.Comment = comment
	}

	out := &Outcome{
		Document:     doc,
		Line:         line,
		ChangedLines: []*repository.ApprovalLine{line},
		Events: []Event{{
			Type:       EventLineApproved,
			DocumentID: doc.ID,
			LineID:     line.ID,
			FromStatus: from,
			ToStatus:   string(line.Status),
			ActorID:    actorID,
			Timestamp:  now,
		}},
	}
	e.advance(doc, lines, actorID, now, out)
	return out, nil
}

// Reject marks the current line rejected and terminates the document
// immediately. Remaining pending lines are left pending as the historical
// record of "never reached"; they are not auto-skipped.
func (e *Engine) Reject(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine, lineID, actorID, comment string) (*Outcome, error) {
	if comment == "" {
		return nil, apperrors.InvalidInput("comment", "a rejection reason is required")
	}
	line, err := e.actionableLine(doc, lines, lineID, actorID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	from := string(line.Status)
	line.Status = repository.LineRejected
	line.ActedAt = &now
	line.Comment = &comment

	doc.Status = repository.DocumentRejected
	doc.DecidedAt = &now

	return &Outcome{
		Document:     doc,
		Line:         line,
		ChangedLines: []*repository.ApprovalLine{line},
		Completed:    true,
		Events: []Event{
			{
				Type:       EventLineRejected,
				DocumentID: doc.ID,
				LineID:     line.ID,
				FromStatus: from,
				ToStatus:   string(repository.LineRejected),
				ActorID:    actorID,
				Timestamp:  now,
			},
			{
				Type:       EventDocumentRejected,
				DocumentID: doc.ID,
				FromStatus: string(repository.DocumentPending),
				ToStatus:   string(repository.DocumentRejected),
				ActorID:    actorID,
				Timestamp:  now,
			},
		},
	}, nil
}

// Delegate transfers acting authority for the current line to delegateToID.
// The slot stays current; subsequent actions on it must come from the
// delegate. Re-delegation is permitted and overwrites the previous delegate.
func (e *Engine) Delegate(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine, lineID, actorID, delegateToID string, reason *string) (*Outcome, error) {
	if delegateToID == "" {
		return nil, apperrors.InvalidInput("delegated_to", "a delegate is required")
	}
	if delegateToID == actorID {
		return nil, apperrors.InvalidInput("delegated_to", "cannot delegate to yourself")
	}
	line, err := e.actionableLine(doc, lines, lineID, actorID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	from := string(line.Status)
	line.Status = repository.LineDelegated
	line.DelegatedToID = &delegateToID
	line.DelegatedReason = reason

	return &Outcome{
		Document:     doc,
		Line:         line,
		ChangedLines: []*repository.ApprovalLine{line},
		NextLine:     line,
		Events: []Event{{
			Type:       EventLineDelegated,
			DocumentID: doc.ID,
			LineID:     line.ID,
			FromStatus: from,
			ToStatus:   string(repository.LineDelegated),
			ActorID:    actorID,
			Timestamp:  now,
		}},
	}, nil
}

// Skip is the administrative bypass of the current line. It advances exactly
// like Approve but the line is recorded skipped and never counts toward
// approval totals. Permission to skip is an external policy; the engine only
// validates state.
func (e *Engine) Skip(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine, lineID, actorID string, reason *string) (*Outcome, error) {
	if err := checkDocumentActionable(doc); err != nil {
		return nil, err
	}
	line := findLine(lines, lineID)
	if line == nil {
		return nil, apperrors.NotFound("approval_line", lineID)
	}
	if !line.LineType.Gating() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidTransition, "reference lines cannot be skipped")
	}
	if cur := e.CurrentLine(lines); cur == nil || cur.ID != line.ID {
		return nil, apperrors.New(apperrors.ErrCodeNotCurrentLine, "line is not the current approval line")
	}

	now := e.now()
	from := string(line.Status)
	line.Status = repository.LineSkipped
	line.ActedAt = &now
	line.Comment = reason

	out := &Outcome{
		Document:     doc,
		Line:         line,
		ChangedLines: []*repository.ApprovalLine{line},
		Events: []Event{{
			Type:       EventLineSkipped,
			DocumentID: doc.ID,
			LineID:     line.ID,
			FromStatus: from,
			ToStatus:   string(repository.LineSkipped),
			ActorID:    actorID,
			Timestamp:  now,
		}},
	}
	e.advance(doc, lines, actorID, now, out)
	return out, nil
}

// Acknowledge marks a reference line as seen. Reference lines never gate, so
// this is allowed regardless of document status and never moves the chain.
func (e *Engine) Acknowledge(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine, lineID, actorID string) (*Outcome, error) {
	line := findLine(lines, lineID)
	if line == nil {
		return nil, apperrors.NotFound("approval_line", lineID)
	}
	if line.LineType.Gating() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidTransition, "only reference lines can be acknowledged")
	}
	if line.Status != repository.LinePending {
		return nil, apperrors.New(apperrors.ErrCodeInvalidTransition, "reference line is already acknowledged")
	}
	if line.ApproverID != actorID {
		return nil, apperrors.Forbidden("user is not the recipient of this reference line")
	}

	now := e.now()
	line.Status = repository.LineApproved
	line.ActedAt = &now

	return &Outcome{
		Document:     doc,
		Line:         line,
		ChangedLines: []*repository.ApprovalLine{line},
		NextLine:     e.CurrentLine(lines),
		Events: []Event{{
			Type:       EventLineAcknowledged,
			DocumentID: doc.ID,
			LineID:     line.ID,
			FromStatus: string(repository.LinePending),
			ToStatus:   string(repository.LineApproved),
			ActorID:    actorID,
			Timestamp:  now,
		}},
	}, nil
}

// Withdraw lets the requester cancel a pending document. Lines still pending
// are marked skipped, distinguishing a withdrawn chain from a rejected one,
// whose untouched lines stay pending.
func (e *Engine) Withdraw(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine, actorID string) (*Outcome, error) {
	if err := checkDocumentActionable(doc); err != nil {
		return nil, err
	}
	if doc.RequesterID != actorID {
		return nil, apperrors.Forbidden("only the requester can withdraw the document")
	}

	now := e.now()
	doc.Status = repository.DocumentWithdrawn
	doc.DecidedAt = &now

	var changed []*repository.ApprovalLine
	for _, l := range lines {
		if l.Status == repository.LinePending {
			l.Status = repository.LineSkipped
			changed = append(changed, l)
		}
	}

	return &Outcome{
		Document:     doc,
		ChangedLines: changed,
		Completed:    true,
		Events: []Event{{
			Type:       EventDocumentWithdrawn,
			DocumentID: doc.ID,
			FromStatus: string(repository.DocumentPending),
			ToStatus:   string(repository.DocumentWithdrawn),
			ActorID:    actorID,
			Timestamp:  now,
		}},
	}, nil
}

// ── internals ─────────────────────────────────────────────────────────────────

// advance moves the document to the next awaiting gating line, or finalizes
// it as approved when none remains. Called after the current line has been
// consumed by Approve or Skip.
func (e *Engine) advance(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine, actorID string, now time.Time, out *Outcome) {
	next := e.CurrentLine(lines)
	if next != nil {
		doc.CurrentLineOrder = next.LineOrder
		out.NextLine = next
		return
	}

	doc.Status = repository.DocumentApproved
	doc.DecidedAt = &now
	out.Completed = true
	out.Events = append(out.Events, Event{
		Type:       EventDocumentApproved,
		DocumentID: doc.ID,
		FromStatus: string(repository.DocumentPending),
		ToStatus:   string(repository.DocumentApproved),
		ActorID:    actorID,
		Timestamp:  now,
	})
}

// actionableLine runs the shared preconditions for approve, reject and
// delegate: document pending, line exists and is not a reference line, line
// is the current line, actor holds its acting authority.
func (e *Engine) actionableLine(doc *repository.ApprovalDocument, lines []*repository.ApprovalLine, lineID, actorID string) (*repository.ApprovalLine, error) {
	if err := checkDocumentActionable(doc); err != nil {
		return nil, err
	}
	line := findLine(lines, lineID)
	if line == nil {
		return nil, apperrors.NotFound("approval_line", lineID)
	}
	if !line.LineType.Gating() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidTransition, "reference lines only support acknowledge")
	}
	if cur := e.CurrentLine(lines); cur == nil || cur.ID != line.ID {
		return nil, apperrors.New(apperrors.ErrCodeNotCurrentLine, "line is not the current approval line")
	}
	if authority(line) != actorID {
		return nil, apperrors.Forbidden("user is not authorized to act on this approval line")
	}
	return line, nil
}

func checkDocumentActionable(doc *repository.ApprovalDocument) error {
	switch doc.Status {
	case repository.DocumentPending:
		return nil
	case repository.DocumentDraft:
		return apperrors.New(apperrors.ErrCodeInvalidTransition, "document has not been submitted")
	default:
		return apperrors.Newf(apperrors.ErrCodeAlreadyDecided, "document is already %s", doc.Status)
	}
}

// awaiting reports whether a line is the kind CurrentLine may return:
// a gating line still pending, or delegated and not yet acted on.
func awaiting(l *repository.ApprovalLine) bool {
	if !l.LineType.Gating() {
		return false
	}
	if l.Status == repository.LinePending {
		return true
	}
	return l.Status == repository.LineDelegated && l.ActedAt == nil
}

// authority returns the identity currently allowed to act on a line.
// Delegation transfers authority away from the original approver entirely.
func authority(l *repository.ApprovalLine) string {
	if l.DelegatedToID != nil {
		return *l.DelegatedToID
	}
	return l.ApproverID
}

func findLine(lines []*repository.ApprovalLine, id string) *repository.ApprovalLine {
	for _, l := range lines {
		if l.ID == id {
			return l
		}
	}
	return nil
}
