// Package stats derives aggregate approval metrics from a historical window
// of documents. Compute is a pure function: re-running it on the same input
// produces identical output, and it never touches shared state.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/bizsuite/be-approvals/internal/repository"
)

// Scope selects whose documents a report covers.
type Scope string

const (
	ScopeAll  Scope = "all"
	ScopeMine Scope = "mine"
)

// DefaultWindowMonths matches the dashboard's six-month view.
const DefaultWindowMonths = 6

// MonthlyBucket is one calendar month of document outcomes.
type MonthlyBucket struct {
	Month    string `json:"month"` // YYYY-MM
	Approved int    `json:"approved"`
	Rejected int    `json:"rejected"`
	Pending  int    `json:"pending"`
}

// CategoryBucket is the per-category breakdown, largest categories first.
type CategoryBucket struct {
	CategoryID   string `json:"category_id"`
	Count        int    `json:"count"`
	Approved     int    `json:"approved"`
	Rejected     int    `json:"rejected"`
	Pending      int    `json:"pending"`
	ApprovalRate int    `json:"approval_rate"` // whole percent
}

// ProcessingTime summarizes decided_at - submitted_at over terminal documents.
type ProcessingTime struct {
	AvgHours       float64 `json:"avg_hours"`
	MinHours       float64 `json:"min_hours"`
	MaxHours       float64 `json:"max_hours"`
	TotalCompleted int     `json:"total_completed"`
}

// Summary holds the window totals. ApprovalRate is approved/(approved+rejected)
// as a whole percent, defined as 0 when nothing has been decided.
type Summary struct {
	Total        int `json:"total"`
	Approved     int `json:"approved"`
	Rejected     int `json:"rejected"`
	Pending      int `json:"pending"`
	Draft        int `json:"draft"`
	Withdrawn    int `json:"withdrawn"`
	ApprovalRate int `json:"approval_rate"`
}

// Report is the full statistics payload.
type Report struct {
	Monthly        []MonthlyBucket  `json:"monthly"`
	Categories     []CategoryBucket `json:"categories"`
	ProcessingTime ProcessingTime   `json:"processing_time"`
	Summary        Summary          `json:"summary"`
}

// WindowStart returns the first day of the month, months-1 months before now.
// A six-month window ending in August starts on March 1st.
func WindowStart(now time.Time, months int) time.Time {
	if months < 1 {
		months = 1
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).
		AddDate(0, -(months - 1), 0)
}

// Compute aggregates documents created inside the window. Months with no
// documents still appear with zero counts. topN caps the category breakdown;
// topN <= 0 keeps every category.
func Compute(docs []*repository.ApprovalDocument, now time.Time, months, topN int) *Report {
	if months < 1 {
		months = DefaultWindowMonths
	}
	start := WindowStart(now, months)

	report := &Report{}

	// Zero-fill the monthly buckets so the trend always spans the window.
	buckets := make(map[string]*MonthlyBucket, months)
	for i := 0; i < months; i++ {
		key := start.AddDate(0, i, 0).Format("2006-01")
		buckets[key] = &MonthlyBucket{Month: key}
	}

	categories := make(map[string]*CategoryBucket)
	var totalHours, minHours, maxHours float64
	completed := 0

	for _, d := range docs {
		if d.CreatedAt.Before(start) {
			continue
		}

		report.Summary.Total++
		switch d.Status {
		case repository.DocumentApproved:
			report.Summary.Approved++
		case repository.DocumentRejected:
			report.Summary.Rejected++
		case repository.DocumentPending:
			report.Summary.Pending++
		case repository.DocumentDraft:
			report.Summary.Draft++
		case repository.DocumentWithdrawn:
			report.Summary.Withdrawn++
		}

		if b, ok := buckets[d.CreatedAt.Format("2006-01")]; ok {
			switch d.Status {
			case repository.DocumentApproved:
				b.Approved++
			case repository.DocumentRejected:
				b.Rejected++
			case repository.DocumentPending:
				b.Pending++
			}
		}

		c := categories[d.CategoryID]
		if c == nil {
			c = &CategoryBucket{CategoryID: d.CategoryID}
			categories[d.CategoryID] = c
		}
		c.Count++
		switch d.Status {
		case repository.DocumentApproved:
			c.Approved++
		case repository.DocumentRejected:
			c.Rejected++
		case repository.DocumentPending:
			c.Pending++
		}

		if d.Status.Terminal() && d.Status != repository.DocumentWithdrawn &&
			d.DecidedAt != nil && d.SubmittedAt != nil {
			hours := d.DecidedAt.Sub(*d.SubmittedAt).Hours()
			if completed == 0 || hours < minHours {
				minHours = hours
			}
			if hours > maxHours {
				maxHours = hours
			}
			totalHours += hours
			completed++
		}
	}

	// Materialize monthly buckets in chronological order.
	for i := 0; i < months; i++ {
		key := start.AddDate(0, i, 0).Format("2006-01")
		report.Monthly = append(report.Monthly, *buckets[key])
	}

	// Categories sorted by count descending; ties broken by id for
	// deterministic output.
	for _, c := range categories {
		c.ApprovalRate = ratePercent(c.Approved, c.Rejected)
		report.Categories = append(report.Categories, *c)
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		if report.Categories[i].Count != report.Categories[j].Count {
			return report.Categories[i].Count > report.Categories[j].Count
		}
		return report.Categories[i].CategoryID < report.Categories[j].CategoryID
	})
	if topN > 0 && len(report.Categories) > topN {
		report.Categories = report.Categories[:topN]
	}

	if completed > 0 {
		report.ProcessingTime = ProcessingTime{
			AvgHours:       roundTenth(totalHours / float64(completed)),
			MinHours:       roundTenth(minHours),
			MaxHours:       roundTenth(maxHours),
			TotalCompleted: completed,
		}
	}

	report.Summary.ApprovalRate = ratePercent(report.Summary.Approved, report.Summary.Rejected)
	return report
}

// ratePercent is approved/(approved+rejected) rounded to a whole percent,
// 0 when nothing has been decided yet.
func ratePercent(approved, rejected int) int {
	decided := approved + rejected
	if decided == 0 {
		return 0
	}
	return int(math.Round(float64(approved) / float64(decided) * 100))
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
