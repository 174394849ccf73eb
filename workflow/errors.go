package workflow

import (
	"errors"
	"fmt"
	"strings"

	"milevault/escrow"
)

// The workflow error taxonomy. All four are detected purely from stored state
// and input, and are returned before any ledger call is attempted. Ledger
// failures surface as the escrow package's normalized errors.
var (
	// ErrNotFound marks unknown projects or milestone indexes.
	ErrNotFound = errors.New("workflow: not found")
	// ErrForbidden marks transition attempts by the wrong actor.
	ErrForbidden = errors.New("workflow: actor not permitted")
	// ErrValidation marks malformed input that never reaches the ledger.
	ErrValidation = errors.New("workflow: invalid request")
	// ErrStateConflict marks transitions attempted from the wrong state.
	ErrStateConflict = errors.New("workflow: conflicting state")
)

// CreatedEscrow names one successfully created conditional payment inside a
// partially failed project creation.
type CreatedEscrow struct {
	MilestoneIndex int            `json:"milestoneIndex"`
	MilestoneName  string         `json:"milestoneName"`
	Receipt        escrow.Receipt `json:"receipt"`
}

// PartialCreateError reports a project creation that failed after some of the
// milestone escrows were already created on the ledger. Finalized ledger
// transactions are irreversible without a matching cancel, so the error names
// every created escrow to let the caller reconcile or cancel manually.
type PartialCreateError struct {
	FailedIndex int
	FailedName  string
	Created     []CreatedEscrow
	Err         error
}

func (e *PartialCreateError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "workflow: escrow creation failed for milestone %d (%s)", e.FailedIndex, e.FailedName)
	if len(e.Created) > 0 {
		refs := make([]string, 0, len(e.Created))
		for _, c := range e.Created {
			refs = append(refs, fmt.Sprintf("%d:%d", c.MilestoneIndex, c.Receipt.SequenceID))
		}
		fmt.Fprintf(&sb, "; %d escrows already on ledger (%s)", len(e.Created), strings.Join(refs, ", "))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *PartialCreateError) Unwrap() error { return e.Err }
