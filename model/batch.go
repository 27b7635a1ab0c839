package model

import "time"

// BatchStatus is monotone: pending -> completed.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchCompleted BatchStatus = "completed"
)

// Decision is a reviewer's verdict on one batch member.
type Decision string

const (
	// DecisionClear resolves the flag with a negating label.
	DecisionClear Decision = "clear"
	// DecisionDefer leaves the flag active for a later review.
	DecisionDefer Decision = "defer"
	// DecisionConfirm is informational; enforcement happens elsewhere.
	DecisionConfirm Decision = "confirm"
)

// ParseDecision reports whether s names a known decision.
func ParseDecision(s string) (Decision, bool) {
	switch d := Decision(s); d {
	case DecisionClear, DecisionDefer, DecisionConfirm:
		return d, true
	default:
		return "", false
	}
}

// Batch is a reviewable grouping of targets captured at creation time.
type Batch struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	Status    BatchStatus `json:"status"`
	CreatedBy *string     `json:"created_by,omitempty"`
}

// Member tracks one target's review state inside a batch.
type Member struct {
	URI        string     `json:"uri"`
	Reviewed   bool       `json:"reviewed"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	Decision   *Decision  `json:"decision,omitempty"`
}

// Flag is an asserting label as presented to reviewers.
type Flag struct {
	Seq       int64    `json:"seq"`
	URI       string   `json:"uri"`
	Val       string   `json:"val"`
	CreatedAt string   `json:"created_at"`
	Resolved  bool     `json:"resolved"`
	Context   *Context `json:"context,omitempty"`
}

// FlagTimeLayout is the display format of Flag.CreatedAt.
const FlagTimeLayout = "2006-01-02 15:04:05"
