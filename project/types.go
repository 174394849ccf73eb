package project

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the project-level lifecycle state.
type Status string

const (
	// StatusPending marks freshly created projects awaiting the freelancer's
	// acceptance.
	StatusPending Status = "pending"
	// StatusAccepted marks projects the freelancer has agreed to work on.
	StatusAccepted Status = "accepted"
	// StatusCompleted marks projects whose milestones have all been released.
	StatusCompleted Status = "completed"
)

// MilestoneState is the per-milestone workflow state.
type MilestoneState string

const (
	// MilestonePending awaits a work submission from the freelancer.
	MilestonePending MilestoneState = "pending"
	// MilestoneSubmitted awaits the client's review.
	MilestoneSubmitted MilestoneState = "submitted"
	// MilestoneApproved awaits the freelancer's release against the ledger.
	MilestoneApproved MilestoneState = "approved"
	// MilestoneReleased is terminal: funds have moved to the freelancer.
	MilestoneReleased MilestoneState = "released"
	// MilestoneCancelled is terminal: the backing payment left the ledger
	// without a release, established during reconciliation.
	MilestoneCancelled MilestoneState = "cancelled"
)

// ErrInvalidMilestone describes malformed milestone definitions.
var ErrInvalidMilestone = errors.New("project: invalid milestone")

// EscrowRef points at the conditional payment backing a milestone. It is
// assigned when the payment is created and never changes afterwards.
type EscrowRef struct {
	// OwnerSequence is the creating account's sequence number consumed by the
	// creation transaction; together with the client address it is the
	// ledger-side lookup key.
	OwnerSequence uint32 `json:"ownerSequence"`
	CreateTxHash  string `json:"createTxHash"`
}

// Submission is the freelancer's delivered work for one milestone, set once.
type Submission struct {
	Description   string    `json:"description"`
	AttachmentRef string    `json:"attachmentRef,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Milestone is one unit of deliverable work tied to exactly one conditional
// payment and one deadline.
type Milestone struct {
	Name string `json:"name"`
	// Amount is denominated in the contract currency with two fractional
	// digits, immutable once the backing payment exists.
	Amount      string         `json:"amount"`
	Deadline    time.Time      `json:"deadline"`
	Status      MilestoneState `json:"status"`
	Escrow      EscrowRef      `json:"escrow"`
	Submission  *Submission    `json:"submission,omitempty"`
	ApprovedAt  *time.Time     `json:"approvedAt,omitempty"`
	ReleasedAt  *time.Time     `json:"releasedAt,omitempty"`
	ReleaseHash string         `json:"releaseHash,omitempty"`
}

// Clone returns a deep copy of the milestone.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Submission != nil {
		sub := *m.Submission
		clone.Submission = &sub
	}
	clone.ApprovedAt = cloneTime(m.ApprovedAt)
	clone.ReleasedAt = cloneTime(m.ReleasedAt)
	return &clone
}

// Terminal reports whether the milestone can no longer transition.
func (m *Milestone) Terminal() bool {
	return m != nil && (m.Status == MilestoneReleased || m.Status == MilestoneCancelled)
}

// Project aggregates milestones between one client and one freelancer. The
// milestone order is the contract sequence; the slice index is the external
// milestone key.
type Project struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	ClientAddress     string       `json:"clientAddress"`
	FreelancerAddress string       `json:"freelancerAddress"`
	Status            Status       `json:"status"`
	Milestones        []*Milestone `json:"milestones"`
	CreatedAt         time.Time    `json:"createdAt"`
	AcceptedAt        *time.Time   `json:"acceptedAt,omitempty"`
	CompletedAt       *time.Time   `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of the project.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	clone := *p
	if len(p.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(p.Milestones))
		for i, m := range p.Milestones {
			clone.Milestones[i] = m.Clone()
		}
	}
	clone.AcceptedAt = cloneTime(p.AcceptedAt)
	clone.CompletedAt = cloneTime(p.CompletedAt)
	return &clone
}

// Milestone returns the milestone at the external index.
func (p *Project) Milestone(index int) (*Milestone, error) {
	if p == nil || index < 0 || index >= len(p.Milestones) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrInvalidMilestone, index)
	}
	return p.Milestones[index], nil
}

// AllReleased reports whether every milestone has reached the released state.
func (p *Project) AllReleased() bool {
	if p == nil || len(p.Milestones) == 0 {
		return false
	}
	for _, m := range p.Milestones {
		if m == nil || m.Status != MilestoneReleased {
			return false
		}
	}
	return true
}

// ValidateDefinition checks a milestone definition prior to escrow creation.
func (m *Milestone) ValidateDefinition(now time.Time) error {
	if m == nil {
		return fmt.Errorf("%w: milestone must not be nil", ErrInvalidMilestone)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidMilestone)
	}
	if strings.TrimSpace(m.Amount) == "" {
		return fmt.Errorf("%w: amount required", ErrInvalidMilestone)
	}
	if !m.Deadline.After(now) {
		return fmt.Errorf("%w: deadline must be in the future", ErrInvalidMilestone)
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
