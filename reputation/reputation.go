// Package reputation derives an advisory freelancer score from ledger
// history. It is read-only and deliberately forgiving: reputation informs a
// hiring decision, it never gates a transition, so a history fetch failure
// yields a zero profile instead of an error.
package reputation

import (
	"context"
	"log/slog"

	"milevault/ledger"
)

// historyLimit bounds how many transactions one score considers.
const historyLimit = 400

// HistorySource is the slice of the ledger client the aggregator reads.
type HistorySource interface {
	AccountTransactions(ctx context.Context, address string, limit int) ([]ledger.Transaction, error)
}

// Profile is the computed reputation of one address.
type Profile struct {
	Address        string  `json:"address"`
	CompletedCount int     `json:"completedCount"`
	TotalTxCount   int     `json:"totalTxCount"`
	Score          float64 `json:"score"`
}

// Aggregator computes reputation profiles from account history.
type Aggregator struct {
	history HistorySource
	log     *slog.Logger
}

// NewAggregator wires a reputation aggregator.
func NewAggregator(history HistorySource, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{history: history, log: log}
}

// Compute counts the validated, successful conditional-payment releases paid
// to the address and maps the count onto a saturating 1..5 scale. A history
// fetch failure returns a zero-count profile.
func (a *Aggregator) Compute(ctx context.Context, address string) Profile {
	if err := ledger.ValidateAddress(address); err != nil {
		return Profile{Address: address}
	}
	txs, err := a.history.AccountTransactions(ctx, address, historyLimit)
	if err != nil {
		a.log.Warn("reputation: history fetch failed", "address", address, "err", err)
		return Profile{Address: address}
	}

	completed := 0
	for _, tx := range txs {
		if !tx.Validated || tx.ResultCode != ledger.ResultSuccess {
			continue
		}
		if tx.Type != ledger.TxTypeEscrowFinish {
			continue
		}
		// A finish carries the submitting account; the escrow's destination
		// only appears when the node decorates the record. Either one proves
		// the address collected the payment.
		if tx.Account == address || tx.Beneficiary == address {
			completed++
		}
	}
	return Profile{
		Address:        address,
		CompletedCount: completed,
		TotalTxCount:   len(txs),
		Score:          score(completed),
	}
}

// score maps a completed-escrow count onto 1..5, linear up to ten
// completions, capped after.
func score(completed int) float64 {
	s := 1 + float64(completed)/10*4
	if s > 5 {
		return 5
	}
	return s
}
