package repository

import "time"

// ── Domain types for the approval workflow ───────────────────────────────────

// DocumentStatus is the lifecycle status of an approval document.
type DocumentStatus string

const (
	DocumentDraft     DocumentStatus = "draft"
	DocumentPending   DocumentStatus = "pending"
	DocumentApproved  DocumentStatus = "approved"
	DocumentRejected  DocumentStatus = "rejected"
	DocumentWithdrawn DocumentStatus = "withdrawn"
)

// Terminal reports whether no further workflow transition is possible.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentApproved || s == DocumentRejected || s == DocumentWithdrawn
}

// LineType classifies a line's role in the chain.
//   - approval:  decision authority, gates progression
//   - review:    opinion step, gates progression
//   - agreement: consent step, gates progression, reported separately
//   - reference: informational (cc), never gates
type LineType string

const (
	LineTypeApproval  LineType = "approval"
	LineTypeReview    LineType = "review"
	LineTypeAgreement LineType = "agreement"
	LineTypeReference LineType = "reference"
)

// Gating reports whether the line type participates in ordered progression.
func (t LineType) Gating() bool { return t != LineTypeReference }

// Valid reports whether t is a known line type.
func (t LineType) Valid() bool {
	switch t {
	case LineTypeApproval, LineTypeReview, LineTypeAgreement, LineTypeReference:
		return true
	}
	return false
}

// LineStatus is the status of a single approval line.
type LineStatus string

const (
	LinePending   LineStatus = "pending"
	LineApproved  LineStatus = "approved"
	LineRejected  LineStatus = "rejected"
	LineDelegated LineStatus = "delegated"
	LineSkipped   LineStatus = "skipped"
)

// ApprovalDocument is a document moving through an approval chain.
// Status is always derived from the lines by the workflow engine and is
// never set independently.
type ApprovalDocument struct {
	ID               string
	DocumentNumber   string // e.g. 2026APR00000001
	CategoryID       string
	Title            string
	Content          *string // opaque form payload, not interpreted here
	RequesterID      string
	Status           DocumentStatus
	CurrentLineOrder int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SubmittedAt      *time.Time
	DecidedAt        *time.Time
}

// ApprovalLine is one approver's slot within a document's chain.
//
// A delegated line keeps status "delegated" for its lifetime: the delegation
// fact is the audit record. ActedAt marks when the current authority holder
// consumed the slot.
type ApprovalLine struct {
	ID              string
	DocumentID      string
	LineOrder       int
	LineType        LineType
	ApproverID      string
	Status          LineStatus
	ActedAt         *time.Time
	Comment         *string
	DelegatedToID   *string
	DelegatedReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ApprovalTemplate is a per-category default line set used when a document
// is submitted without an explicit chain. Template authoring is external;
// the engine only reads.
type ApprovalTemplate struct {
	ID         string
	CategoryID string
	Name       string
	IsDefault  bool
	Lines      []TemplateLine
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TemplateLine is one entry in a template's lines JSONB array.
type TemplateLine struct {
	ApproverID string   `json:"approver_id"`
	LineType   LineType `json:"line_type"`
	LineOrder  int      `json:"line_order"`
}

// HistoryEntry is one immutable record in the approval history log.
type HistoryEntry struct {
	ID         string
	DocumentID string
	LineID     *string
	ActorID    string
	Action     string // submitted | approved | rejected | delegated | skipped | acknowledged | withdrawn
	Detail     *string
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}
