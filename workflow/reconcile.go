package workflow

import (
	"context"
	"errors"
	"time"

	"milevault/escrow"
	"milevault/ledger"
	"milevault/project"
)

// historyLookback bounds how much account history reconciliation consults when
// explaining an absent escrow.
const historyLookback = 200

// reconcile checks every non-terminal milestone against ledger truth and
// corrects stored state when the ledger disagrees. The ledger is authoritative
// but append-only from our perspective: an escrow that has vanished was either
// finished or cancelled. Mere absence cannot distinguish the two, so the
// milestone is only moved once the account history names the transaction that
// removed it; an absence the history cannot explain is left untouched and
// retried on the next read. Best effort throughout: any ledger failure leaves
// prior state as it was.
func (e *Engine) reconcile(ctx context.Context, p *project.Project) *project.Project {
	type correction struct {
		index  int
		status project.MilestoneState
		hash   string
		at     time.Time
	}
	var corrections []correction
	var history []ledger.Transaction
	historyLoaded := false

	for i, m := range p.Milestones {
		if m == nil || m.Terminal() {
			continue
		}
		_, err := e.ledger.GetEscrow(ctx, p.ClientAddress, m.Escrow.OwnerSequence)
		if err == nil {
			continue
		}
		if !errors.Is(err, escrow.ErrNotFound) {
			e.log.Warn("reconcile: escrow lookup failed", "project", p.ID, "milestone", i, "err", err)
			continue
		}
		if !historyLoaded {
			history, err = e.ledger.History(ctx, p.ClientAddress, historyLookback)
			if err != nil {
				e.log.Warn("reconcile: history fetch failed", "project", p.ID, "err", err)
				return p
			}
			historyLoaded = true
		}
		if tx := findEscrowRemoval(history, p.ClientAddress, m.Escrow.OwnerSequence); tx != nil {
			status := project.MilestoneReleased
			if tx.Type == ledger.TxTypeEscrowCancel {
				status = project.MilestoneCancelled
			}
			at := tx.Timestamp
			if at.IsZero() {
				at = e.now()
			}
			corrections = append(corrections, correction{index: i, status: status, hash: tx.Hash, at: at})
		}
	}

	if len(corrections) == 0 {
		return p
	}
	updated, err := e.store.Update(ctx, p.ID, func(p *project.Project) error {
		for _, c := range corrections {
			m, err := p.Milestone(c.index)
			if err != nil || m.Terminal() {
				continue
			}
			switch c.status {
			case project.MilestoneReleased:
				markReleased(p, m, c.hash, c.at)
			case project.MilestoneCancelled:
				m.Status = project.MilestoneCancelled
			}
		}
		return nil
	})
	if err != nil {
		e.log.Warn("reconcile: persist failed", "project", p.ID, "err", err)
		return p
	}
	for _, c := range corrections {
		e.log.Info("reconcile: milestone corrected from ledger state",
			"project", p.ID, "milestone", c.index, "status", c.status, "tx", c.hash)
	}
	return updated
}

// findEscrowRemoval locates the validated, successful finish or cancel
// transaction that removed the identified escrow from the ledger.
func findEscrowRemoval(history []ledger.Transaction, owner string, sequenceID uint32) *ledger.Transaction {
	for i := range history {
		tx := &history[i]
		if !tx.Validated || tx.ResultCode != ledger.ResultSuccess {
			continue
		}
		if tx.Type != ledger.TxTypeEscrowFinish && tx.Type != ledger.TxTypeEscrowCancel {
			continue
		}
		if tx.Owner == owner && tx.SequenceID == sequenceID {
			return tx
		}
	}
	return nil
}
