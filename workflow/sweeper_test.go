package workflow

import (
	"context"
	"testing"
	"time"

	"milevault/ledger"
	"milevault/project"
)

func TestSweepCorrectsProjectsNobodyReads(t *testing.T) {
	l := newMockLedger()
	engine, store := newTestEngine(t, l)
	p := createTestProject(t, engine)

	seq := p.Milestones[0].Escrow.OwnerSequence
	delete(l.escrows, seq)
	l.history = []ledger.Transaction{{
		Hash:       "SWEPT",
		Type:       ledger.TxTypeEscrowFinish,
		ResultCode: ledger.ResultSuccess,
		Owner:      clientAddr,
		SequenceID: seq,
		Validated:  true,
	}}

	sweeper := NewSweeper(engine, store, time.Minute, nil)
	sweeps := 0
	sweeper.OnSweep(func() { sweeps++ })
	sweeper.sweep(context.Background())

	if sweeps != 1 {
		t.Fatalf("expected 1 completed sweep, got %d", sweeps)
	}
	stored, err := store.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Milestones[0].Status != project.MilestoneReleased || stored.Milestones[0].ReleaseHash != "SWEPT" {
		t.Fatalf("sweep missed out-of-band release: %+v", stored.Milestones[0])
	}
}

func TestSweepSkipsCompletedProjects(t *testing.T) {
	l := newMockLedger()
	engine, store := newTestEngine(t, l)
	p := createTestProject(t, engine)
	ctx := context.Background()

	for i := range p.Milestones {
		approveMilestone(t, engine, p.ID, i)
		if _, err := engine.ReleasePayment(ctx, p.ID, i, freelancerSeed); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	l.getCalls = 0
	sweeper := NewSweeper(engine, store, time.Minute, nil)
	sweeper.sweep(ctx)

	if l.getCalls != 0 {
		t.Fatalf("completed project must not be reconciled, got %d lookups", l.getCalls)
	}
	stored, err := store.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != project.StatusCompleted {
		t.Fatalf("project regressed from completed: %s", stored.Status)
	}
}
