package workflow

import (
	"context"
	"log/slog"
	"time"

	"milevault/project"
)

// Sweeper periodically reconciles every stored project against ledger truth,
// complementing the reconcile-on-read path for projects nobody is fetching.
type Sweeper struct {
	engine   *Engine
	store    project.Store
	interval time.Duration
	log      *slog.Logger
	onSweep  func()
}

// OnSweep registers a hook invoked after every completed sweep.
func (s *Sweeper) OnSweep(fn func()) {
	s.onSweep = fn
}

// NewSweeper builds a sweeper with a sane default cadence.
func NewSweeper(engine *Engine, store project.Store, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{engine: engine, store: store, interval: interval, log: log}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	projects, err := s.store.List(ctx)
	if err != nil {
		s.log.Warn("sweep: list projects failed", "err", err)
		return
	}
	for _, p := range projects {
		if p.Status == project.StatusCompleted {
			continue
		}
		s.engine.reconcile(ctx, p)
		if ctx.Err() != nil {
			return
		}
	}
	if s.onSweep != nil {
		s.onSweep()
	}
}
