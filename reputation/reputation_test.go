package reputation

import (
	"context"
	"errors"
	"math"
	"testing"

	"milevault/ledger"
)

const benefAddr = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"

type stubHistory struct {
	txs []ledger.Transaction
	err error
}

func (s *stubHistory) AccountTransactions(ctx context.Context, address string, limit int) ([]ledger.Transaction, error) {
	return s.txs, s.err
}

func finishTx(account string) ledger.Transaction {
	return ledger.Transaction{
		Type:       ledger.TxTypeEscrowFinish,
		ResultCode: ledger.ResultSuccess,
		Account:    account,
		Validated:  true,
	}
}

func TestComputeCountsBeneficiaryReleases(t *testing.T) {
	failed := finishTx(benefAddr)
	failed.ResultCode = "tecNO_PERMISSION"
	unvalidated := finishTx(benefAddr)
	unvalidated.Validated = false

	hist := &stubHistory{txs: []ledger.Transaction{
		finishTx(benefAddr),
		finishTx(benefAddr),
		finishTx("rrrrrrrrrrrrrrrrrrrrBZbvji"), // someone else's release
		failed,
		unvalidated,
		{Type: ledger.TxTypeEscrowCreate, ResultCode: ledger.ResultSuccess, Validated: true},
	}}
	agg := NewAggregator(hist, nil)

	p := agg.Compute(context.Background(), benefAddr)
	if p.CompletedCount != 2 {
		t.Fatalf("expected 2 completed, got %d", p.CompletedCount)
	}
	if p.TotalTxCount != 6 {
		t.Fatalf("expected 6 total, got %d", p.TotalTxCount)
	}
	if math.Abs(p.Score-1.8) > 1e-9 {
		t.Fatalf("expected score 1.8, got %v", p.Score)
	}
}

func TestComputeScoreSaturates(t *testing.T) {
	var txs []ledger.Transaction
	for i := 0; i < 25; i++ {
		txs = append(txs, finishTx(benefAddr))
	}
	agg := NewAggregator(&stubHistory{txs: txs}, nil)

	p := agg.Compute(context.Background(), benefAddr)
	if p.Score != 5 {
		t.Fatalf("expected saturated score 5, got %v", p.Score)
	}
}

func TestComputeZeroProfileOnHistoryFailure(t *testing.T) {
	agg := NewAggregator(&stubHistory{err: errors.New("boom")}, nil)

	p := agg.Compute(context.Background(), benefAddr)
	if p.CompletedCount != 0 || p.TotalTxCount != 0 || p.Score != 0 {
		t.Fatalf("expected zero profile on failure, got %+v", p)
	}
}

func TestComputeRejectsBadAddress(t *testing.T) {
	hist := &stubHistory{txs: []ledger.Transaction{finishTx(benefAddr)}}
	agg := NewAggregator(hist, nil)

	p := agg.Compute(context.Background(), "not-an-address")
	if p.CompletedCount != 0 || p.Score != 0 {
		t.Fatalf("expected zero profile for invalid address, got %+v", p)
	}
}
