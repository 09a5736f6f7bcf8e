package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizsuite/be-approvals/internal/apperrors"
	"github.com/bizsuite/be-approvals/internal/repository"
)

var testNow = time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngineWithClock(func() time.Time { return testNow })
}

func pendingDoc(id string) *repository.ApprovalDocument {
	return &repository.ApprovalDocument{
		ID:               id,
		DocumentNumber:   "2026APR00000001",
		CategoryID:       "cat-expense",
		Title:            "Expense report",
		RequesterID:      "user-requester",
		Status:           repository.DocumentPending,
		CurrentLineOrder: 1,
	}
}

func line(id string, order int, lineType repository.LineType, approver string) *repository.ApprovalLine {
	return &repository.ApprovalLine{
		ID:         id,
		DocumentID: "doc-1",
		LineOrder:  order,
		LineType:   lineType,
		ApproverID: approver,
		Status:     repository.LinePending,
	}
}

func TestCurrentLine(t *testing.T) {
	e := newTestEngine()

	t.Run("returns lowest pending gating line", func(t *testing.T) {
		lines := []*repository.ApprovalLine{
			line("l3", 3, repository.LineTypeApproval, "c"),
			line("l1", 1, repository.LineTypeApproval, "a"),
			line("l2", 2, repository.LineTypeReview, "b"),
		}
		cur := e.CurrentLine(lines)
		require.NotNil(t, cur)
		assert.Equal(t, "l1", cur.ID)
	})

	t.Run("skips consumed lines", func(t *testing.T) {
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		l1.Status = repository.LineApproved
		l2 := line("l2", 2, repository.LineTypeApproval, "b")
		cur := e.CurrentLine([]*repository.ApprovalLine{l1, l2})
		require.NotNil(t, cur)
		assert.Equal(t, "l2", cur.ID)
	})

	t.Run("ignores reference lines", func(t *testing.T) {
		ref := line("ref", 1, repository.LineTypeReference, "r")
		l2 := line("l2", 2, repository.LineTypeApproval, "b")
		cur := e.CurrentLine([]*repository.ApprovalLine{ref, l2})
		require.NotNil(t, cur)
		assert.Equal(t, "l2", cur.ID)
	})

	t.Run("delegated line without action is still current", func(t *testing.T) {
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		l1.Status = repository.LineDelegated
		delegate := "c"
		l1.DelegatedToID = &delegate
		l2 := line("l2", 2, repository.LineTypeApproval, "b")
		cur := e.CurrentLine([]*repository.ApprovalLine{l1, l2})
		require.NotNil(t, cur)
		assert.Equal(t, "l1", cur.ID)
	})

	t.Run("nil when all gating lines consumed", func(t *testing.T) {
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		l1.Status = repository.LineApproved
		ref := line("ref", 1, repository.LineTypeReference, "r")
		assert.Nil(t, e.CurrentLine([]*repository.ApprovalLine{l1, ref}))
	})
}

func TestSubmit(t *testing.T) {
	e := newTestEngine()

	t.Run("moves draft to pending at the first gating order", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		doc.Status = repository.DocumentDraft
		lines := []*repository.ApprovalLine{
			line("l2", 5, repository.LineTypeApproval, "b"),
			line("l1", 2, repository.LineTypeApproval, "a"),
			line("ref", 1, repository.LineTypeReference, "r"),
		}

		out, err := e.Submit(doc, lines)
		require.NoError(t, err)
		assert.Equal(t, repository.DocumentPending, doc.Status)
		assert.Equal(t, 2, doc.CurrentLineOrder)
		require.NotNil(t, doc.SubmittedAt)
		assert.Equal(t, testNow, *doc.SubmittedAt)
		require.NotNil(t, out.NextLine)
		assert.Equal(t, "l1", out.NextLine.ID)
		require.Len(t, out.Events, 1)
		assert.Equal(t, EventDocumentSubmitted, out.Events[0].Type)
	})

	t.Run("rejects duplicate gating orders", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		doc.Status = repository.DocumentDraft
		_, err := e.Submit(doc, []*repository.ApprovalLine{
			line("l1", 1, repository.LineTypeApproval, "a"),
			line("l2", 1, repository.LineTypeReview, "b"),
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
	})

	t.Run("requires at least one gating line", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		doc.Status = repository.DocumentDraft
		_, err := e.Submit(doc, []*repository.ApprovalLine{
			line("ref", 1, repository.LineTypeReference, "r"),
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
	})

	t.Run("rejects resubmission of a pending document", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		_, err := e.Submit(doc, []*repository.ApprovalLine{
			line("l1", 1, repository.LineTypeApproval, "a"),
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, apperrors.CodeOf(err))
	})

	t.Run("rejects submission of a decided document", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		doc.Status = repository.DocumentApproved
		_, err := e.Submit(doc, []*repository.ApprovalLine{
			line("l1", 1, repository.LineTypeApproval, "a"),
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeAlreadyDecided, apperrors.CodeOf(err))
	})
}

func TestApprove(t *testing.T) {
	e := newTestEngine()
	comment := "looks good"

	t.Run("advances to the next gating line", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		l2 := line("l2", 2, repository.LineTypeApproval, "b")

		out, err := e.Approve(doc, []*repository.ApprovalLine{l1, l2}, "l1", "a", &comment)
		require.NoError(t, err)
		assert.Equal(t, repository.LineApproved, l1.Status)
		require.NotNil(t, l1.ActedAt)
		assert.Equal(t, &comment, l1.Comment)
		assert.Equal(t, repository.DocumentPending, doc.Status)
		assert.Equal(t, 2, doc.CurrentLineOrder)
		assert.False(t, out.Completed)
		require.NotNil(t, out.NextLine)
		assert.Equal(t, "l2", out.NextLine.ID)
		assert.Nil(t, doc.DecidedAt)
	})

	t.Run("final approval decides the document exactly once", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")

		out, err := e.Approve(doc, []*repository.ApprovalLine{l1}, "l1", "a", nil)
		require.NoError(t, err)
		assert.True(t, out.Completed)
		assert.Nil(t, out.NextLine)
		assert.Equal(t, repository.DocumentApproved, doc.Status)
		require.NotNil(t, doc.DecidedAt)
		assert.Equal(t, testNow, *doc.DecidedAt)
		require.Len(t, out.Events, 2)
		assert.Equal(t, EventLineApproved, out.Events[0].Type)
		assert.Equal(t, EventDocumentApproved, out.Events[1].Type)

		_, err = e.Approve(doc, []*repository.ApprovalLine{l1}, "l1", "a", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeAlreadyDecided, apperrors.CodeOf(err))
	})

	t.Run("rejects actor who is not the approver", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		_, err := e.Approve(doc, []*repository.ApprovalLine{l1}, "l1", "intruder", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.CodeOf(err))
		assert.Equal(t, repository.LinePending, l1.Status)
	})

	t.Run("rejects a line that is not current", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		l2 := line("l2", 2, repository.LineTypeApproval, "b")
		_, err := e.Approve(doc, []*repository.ApprovalLine{l1, l2}, "l2", "b", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotCurrentLine, apperrors.CodeOf(err))
	})

	t.Run("rejects approve on a reference line", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		ref := line("ref", 1, repository.LineTypeReference, "r")
		_, err := e.Approve(doc, []*repository.ApprovalLine{l1, ref}, "ref", "r", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, apperrors.CodeOf(err))
	})

	t.Run("rejects unknown line", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		_, err := e.Approve(doc, []*repository.ApprovalLine{l1}, "ghost", "a", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
	})

	t.Run("draft documents cannot be acted on", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		doc.Status = repository.DocumentDraft
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		_, err := e.Approve(doc, []*repository.ApprovalLine{l1}, "l1", "a", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, apperrors.CodeOf(err))
	})
}

func TestReject(t *testing.T) {
	e := newTestEngine()

	t.Run("terminates immediately and leaves downstream lines pending", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		l2 := line("l2", 2, repository.LineTypeApproval, "b")
		l3 := line("l3", 3, repository.LineTypeAgreement, "c")

		out, err := e.Reject(doc, []*repository.ApprovalLine{l1, l2, l3}, "l1", "a", "missing receipts")
		require.NoError(t, err)
		assert.True(t, out.Completed)
		assert.Equal(t, repository.DocumentRejected, doc.Status)
		require.NotNil(t, doc.DecidedAt)
		assert.Equal(t, repository.LineRejected, l1.Status)

		// Never-reached lines stay pending: this is the documented policy,
		// distinguishing them from explicitly skipped lines.
		assert.Equal(t, repository.LinePending, l2.Status)
		assert.Equal(t, repository.LinePending, l3.Status)

		require.Len(t, out.Events, 2)
		assert.Equal(t, EventLineRejected, out.Events[0].Type)
		assert.Equal(t, EventDocumentRejected, out.Events[1].Type)
	})

	t.Run("requires a reason", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		_, err := e.Reject(doc, []*repository.ApprovalLine{l1}, "l1", "a", "")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
	})

	t.Run("rejecting a decided document fails", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		doc.Status = repository.DocumentRejected
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		_, err := e.Reject(doc, []*repository.ApprovalLine{l1}, "l1", "a", "again")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeAlreadyDecided, apperrors.CodeOf(err))
	})
}

func TestDelegate(t *testing.T) {
	e := newTestEngine()
	reason := "on vacation"

	t.Run("transfers authority to the delegate", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		l2 := line("l2", 2, repository.LineTypeApproval, "b")
		lines := []*repository.ApprovalLine{l1, l2}

		out, err := e.Delegate(doc, lines, "l1", "a", "c", &reason)
		require.NoError(t, err)
		assert.Equal(t, repository.LineDelegated, l1.Status)
		require.NotNil(t, l1.DelegatedToID)
		assert.Equal(t, "c", *l1.DelegatedToID)
		assert.Equal(t, 1, doc.CurrentLineOrder)
		require.NotNil(t, out.NextLine)
		assert.Equal(t, "l1", out.NextLine.ID, "delegated slot stays current")

		// Original approver has lost authority.
		_, err = e.Approve(doc, lines, "l1", "a", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.CodeOf(err))

		// Delegate approves; line keeps its delegated status for the record.
		out, err = e.Approve(doc, lines, "l1", "c", nil)
		require.NoError(t, err)
		assert.Equal(t, repository.LineDelegated, l1.Status)
		require.NotNil(t, l1.ActedAt)
		assert.Equal(t, 2, doc.CurrentLineOrder)
		require.NotNil(t, out.NextLine)
		assert.Equal(t, "l2", out.NextLine.ID)
	})

	t.Run("delegate may reject and the document terminates", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		lines := []*repository.ApprovalLine{l1}

		_, err := e.Delegate(doc, lines, "l1", "a", "c", nil)
		require.NoError(t, err)

		_, err = e.Reject(doc, lines, "l1", "c", "not my call to approve")
		require.NoError(t, err)
		assert.Equal(t, repository.LineRejected, l1.Status)
		assert.Equal(t, repository.DocumentRejected, doc.Status)
	})

	t.Run("re-delegation overwrites the delegate", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		lines := []*repository.ApprovalLine{l1}

		_, err := e.Delegate(doc, lines, "l1", "a", "c", nil)
		require.NoError(t, err)
		_, err = e.Delegate(doc, lines, "l1", "c", "d", nil)
		require.NoError(t, err)
		assert.Equal(t, "d", *l1.DelegatedToID)

		// The previous delegate has lost authority.
		_, err = e.Approve(doc, lines, "l1", "c", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.CodeOf(err))

		_, err = e.Approve(doc, lines, "l1", "d", nil)
		require.NoError(t, err)
	})

	t.Run("cannot delegate to yourself", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		_, err := e.Delegate(doc, []*repository.ApprovalLine{l1}, "l1", "a", "a", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
	})
}

func TestSkip(t *testing.T) {
	e := newTestEngine()
	reason := "approver left the company"

	t.Run("advances like approve", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		l2 := line("l2", 2, repository.LineTypeApproval, "b")

		out, err := e.Skip(doc, []*repository.ApprovalLine{l1, l2}, "l1", "admin", &reason)
		require.NoError(t, err)
		assert.Equal(t, repository.LineSkipped, l1.Status)
		assert.Equal(t, 2, doc.CurrentLineOrder)
		assert.False(t, out.Completed)
	})

	t.Run("skipping the last line finalizes the document", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")

		out, err := e.Skip(doc, []*repository.ApprovalLine{l1}, "l1", "admin", nil)
		require.NoError(t, err)
		assert.True(t, out.Completed)
		assert.Equal(t, repository.DocumentApproved, doc.Status)
		require.NotNil(t, doc.DecidedAt)
	})

	t.Run("only the current line can be skipped", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		l2 := line("l2", 2, repository.LineTypeApproval, "b")
		_, err := e.Skip(doc, []*repository.ApprovalLine{l1, l2}, "l2", "admin", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotCurrentLine, apperrors.CodeOf(err))
	})
}

func TestAcknowledge(t *testing.T) {
	e := newTestEngine()

	t.Run("marks a reference line seen without moving the chain", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		ref := line("ref", 1, repository.LineTypeReference, "r")

		out, err := e.Acknowledge(doc, []*repository.ApprovalLine{l1, ref}, "ref", "r")
		require.NoError(t, err)
		assert.Equal(t, repository.LineApproved, ref.Status)
		require.NotNil(t, ref.ActedAt)
		assert.Equal(t, repository.DocumentPending, doc.Status)
		assert.Equal(t, 1, doc.CurrentLineOrder)
		require.NotNil(t, out.NextLine)
		assert.Equal(t, "l1", out.NextLine.ID)
	})

	t.Run("allowed on a decided document", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		doc.Status = repository.DocumentRejected
		ref := line("ref", 1, repository.LineTypeReference, "r")
		_, err := e.Acknowledge(doc, []*repository.ApprovalLine{ref}, "ref", "r")
		require.NoError(t, err)
		assert.Equal(t, repository.LineApproved, ref.Status)
	})

	t.Run("only the recipient may acknowledge", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		ref := line("ref", 1, repository.LineTypeReference, "r")
		_, err := e.Acknowledge(doc, []*repository.ApprovalLine{ref}, "ref", "intruder")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.CodeOf(err))
	})

	t.Run("gating lines cannot be acknowledged", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		_, err := e.Acknowledge(doc, []*repository.ApprovalLine{l1}, "l1", "a")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, apperrors.CodeOf(err))
	})
}

func TestWithdraw(t *testing.T) {
	e := newTestEngine()

	t.Run("requester withdraws and pending lines are skipped", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		l1.Status = repository.LineApproved
		l2 := line("l2", 2, repository.LineTypeApproval, "b")
		ref := line("ref", 1, repository.LineTypeReference, "r")

		out, err := e.Withdraw(doc, []*repository.ApprovalLine{l1, l2, ref}, "user-requester")
		require.NoError(t, err)
		assert.True(t, out.Completed)
		assert.Equal(t, repository.DocumentWithdrawn, doc.Status)
		require.NotNil(t, doc.DecidedAt)
		assert.Equal(t, repository.LineApproved, l1.Status, "already decided lines are untouched")
		assert.Equal(t, repository.LineSkipped, l2.Status)
		assert.Equal(t, repository.LineSkipped, ref.Status)
		assert.Len(t, out.ChangedLines, 2)
	})

	t.Run("only the requester may withdraw", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		l1 := line("l1", 1, repository.LineTypeApproval, "a")
		_, err := e.Withdraw(doc, []*repository.ApprovalLine{l1}, "a")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.CodeOf(err))
	})

	t.Run("decided documents cannot be withdrawn", func(t *testing.T) {
		doc := pendingDoc("doc-1")
		doc.Status = repository.DocumentApproved
		_, err := e.Withdraw(doc, nil, "user-requester")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeAlreadyDecided, apperrors.CodeOf(err))
	})
}

// Three approval lines plus one reference: A and B approve, C rejects.
// The reference line never gates and earlier approvals are preserved.
func TestScenarioChainWithRejectionAtEnd(t *testing.T) {
	e := newTestEngine()
	doc := pendingDoc("doc-1")
	l1 := line("l1", 1, repository.LineTypeApproval, "user-a")
	l2 := line("l2", 2, repository.LineTypeApproval, "user-b")
	l3 := line("l3", 3, repository.LineTypeApproval, "user-c")
	ref := line("ref", 1, repository.LineTypeReference, "user-r")
	lines := []*repository.ApprovalLine{l1, l2, l3, ref}

	_, err := e.Approve(doc, lines, "l1", "user-a", nil)
	require.NoError(t, err)
	_, err = e.Approve(doc, lines, "l2", "user-b", nil)
	require.NoError(t, err)

	cur := e.CurrentLine(lines)
	require.NotNil(t, cur)
	assert.Equal(t, "l3", cur.ID)

	_, err = e.Reject(doc, lines, "l3", "user-c", "budget exceeded")
	require.NoError(t, err)

	assert.Equal(t, repository.DocumentRejected, doc.Status)
	assert.Equal(t, repository.LineApproved, l2.Status, "earlier decisions are immutable")
	assert.Equal(t, repository.LinePending, ref.Status, "reference line unaffected")
	assert.Nil(t, e.CurrentLine(lines))
}

// Two approval lines; line 1 delegated from A to C, C approves, B approves.
// The document completes and line 1 remains delegated, not approved.
func TestScenarioDelegatedChainCompletes(t *testing.T) {
	e := newTestEngine()
	doc := pendingDoc("doc-1")
	l1 := line("l1", 1, repository.LineTypeApproval, "user-a")
	l2 := line("l2", 2, repository.LineTypeApproval, "user-b")
	lines := []*repository.ApprovalLine{l1, l2}

	_, err := e.Delegate(doc, lines, "l1", "user-a", "user-c", nil)
	require.NoError(t, err)
	_, err = e.Approve(doc, lines, "l1", "user-c", nil)
	require.NoError(t, err)
	out, err := e.Approve(doc, lines, "l2", "user-b", nil)
	require.NoError(t, err)

	assert.True(t, out.Completed)
	assert.Equal(t, repository.DocumentApproved, doc.Status)
	require.NotNil(t, doc.DecidedAt)
	assert.Equal(t, repository.LineDelegated, l1.Status)
	assert.Equal(t, repository.LineApproved, l2.Status)
}
