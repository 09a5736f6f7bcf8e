// Package timeline builds the read-only view of a document's approval chain.
// Project is a pure function over a line list; it performs no I/O and never
// mutates its input, so it is safe to call on every read.
package timeline

import (
	"sort"
	"time"

	"github.com/bizsuite/be-approvals/internal/repository"
)

// DisplayState annotates a main-chain line for rendering.
type DisplayState string

const (
	StateCompletedApproved DisplayState = "completed-approved"
	StateCompletedRejected DisplayState = "completed-rejected"
	StateDelegated         DisplayState = "delegated"
	StateSkipped           DisplayState = "skipped"
	StateCurrent           DisplayState = "current"
	StateUpcoming          DisplayState = "upcoming"
)

// Entry is one main-chain slot (approval, review or agreement).
type Entry struct {
	LineID        string              `json:"line_id"`
	LineOrder     int                 `json:"line_order"`
	LineType      repository.LineType `json:"line_type"`
	ApproverID    string              `json:"approver_id"`
	DelegatedToID *string             `json:"delegated_to_id,omitempty"`
	State         DisplayState        `json:"state"`
	ActedAt       *time.Time          `json:"acted_at,omitempty"`
	Comment       *string             `json:"comment,omitempty"`
}

// ReferenceEntry is one cc-style recipient, outside the ordered chain.
type ReferenceEntry struct {
	LineID       string     `json:"line_id"`
	ApproverID   string     `json:"approver_id"`
	Acknowledged bool       `json:"acknowledged"`
	ActedAt      *time.Time `json:"acted_at,omitempty"`
}

// Progress summarizes chain completion for progress bars.
type Progress struct {
	Completed    int  `json:"completed"`
	Total        int  `json:"total"`
	HasRejection bool `json:"has_rejection"`
}

// View is the full timeline projection.
type View struct {
	Chain      []Entry          `json:"chain"`
	References []ReferenceEntry `json:"references"`
	Progress   Progress         `json:"progress"`
}

// Project partitions lines into the ordered main chain and the reference set
// and computes a display state for each chain slot.
func Project(lines []*repository.ApprovalLine, currentLineOrder int) View {
	sorted := make([]*repository.ApprovalLine, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LineOrder < sorted[j].LineOrder
	})

	view := View{Chain: []Entry{}, References: []ReferenceEntry{}}
	for _, l := range sorted {
		if !l.LineType.Gating() {
			view.References = append(view.References, ReferenceEntry{
				LineID:       l.ID,
				ApproverID:   l.ApproverID,
				Acknowledged: l.Status == repository.LineApproved,
				ActedAt:      l.ActedAt,
			})
			continue
		}

		view.Chain = append(view.Chain, Entry{
			LineID:        l.ID,
			LineOrder:     l.LineOrder,
			LineType:      l.LineType,
			ApproverID:    l.ApproverID,
			DelegatedToID: l.DelegatedToID,
			State:         displayState(l, currentLineOrder),
			ActedAt:       l.ActedAt,
			Comment:       l.Comment,
		})

		view.Progress.Total++
		if consumed(l) {
			view.Progress.Completed++
		}
		if l.Status == repository.LineRejected {
			view.Progress.HasRejection = true
		}
	}
	return view
}

func displayState(l *repository.ApprovalLine, currentLineOrder int) DisplayState {
	switch l.Status {
	case repository.LineApproved:
		return StateCompletedApproved
	case repository.LineRejected:
		return StateCompletedRejected
	case repository.LineSkipped:
		return StateSkipped
	case repository.LineDelegated:
		// A delegated slot not yet acted on is the one awaiting action.
		if l.ActedAt == nil && l.LineOrder == currentLineOrder {
			return StateCurrent
		}
		return StateDelegated
	default: // pending
		if l.LineOrder == currentLineOrder {
			return StateCurrent
		}
		return StateUpcoming
	}
}

// consumed reports whether the slot no longer awaits action.
func consumed(l *repository.ApprovalLine) bool {
	switch l.Status {
	case repository.LineApproved, repository.LineRejected, repository.LineSkipped:
		return true
	case repository.LineDelegated:
		return l.ActedAt != nil
	}
	return false
}
