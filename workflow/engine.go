package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"milevault/escrow"
	"milevault/ledger"
	"milevault/project"
)

// Ledger is the slice of the escrow adapter the engine drives. *escrow.Adapter
// satisfies it.
type Ledger interface {
	CreateEscrow(ctx context.Context, in escrow.CreateInput) (*escrow.Receipt, error)
	FinishEscrow(ctx context.Context, actorSeed, owner string, sequenceID uint32) (string, error)
	GetEscrow(ctx context.Context, owner string, sequenceID uint32) (*ledger.TimeLockedPayment, error)
	History(ctx context.Context, address string, limit int) ([]ledger.Transaction, error)
	WalletAddress(ctx context.Context, seed string) (string, error)
}

// Observer receives the outcome of every attempted transition.
type Observer interface {
	ObserveTransition(transition, outcome string)
}

// Engine validates every transition request against stored state and actor
// identity, drives the ledger adapter for the two ledger-backed transitions,
// and reconciles stored state against ledger truth on the read path.
type Engine struct {
	store    project.Store
	ledger   Ledger
	log      *slog.Logger
	observer Observer
	now      func() time.Time
	newID    func() string
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides project id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithObserver attaches a transition observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine wires the workflow engine.
func NewEngine(store project.Store, l Ledger, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store:  store,
		ledger: l,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) observe(transition string, err error) {
	if e.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrForbidden):
		outcome = "forbidden"
	case errors.Is(err, ErrValidation):
		outcome = "validation"
	case errors.Is(err, ErrStateConflict):
		outcome = "state_conflict"
	default:
		outcome = "ledger_error"
	}
	e.observer.ObserveTransition(transition, outcome)
}

// MilestoneInput defines one milestone of a new project.
type MilestoneInput struct {
	Name     string
	Amount   string
	Deadline time.Time
}

// CreateProjectInput carries everything needed to create a project and its
// backing escrows.
type CreateProjectInput struct {
	ClientSeed        string
	FreelancerAddress string
	Title             string
	Description       string
	Milestones        []MilestoneInput
}

func (in *CreateProjectInput) validate(now time.Time) error {
	if strings.TrimSpace(in.ClientSeed) == "" {
		return fmt.Errorf("%w: client seed required", ErrValidation)
	}
	if err := ledger.ValidateAddress(in.FreelancerAddress); err != nil {
		return fmt.Errorf("%w: freelancer address: %v", ErrValidation, err)
	}
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title required", ErrValidation)
	}
	if len(in.Milestones) == 0 {
		return fmt.Errorf("%w: at least one milestone required", ErrValidation)
	}
	for i, m := range in.Milestones {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("%w: milestone %d name required", ErrValidation, i)
		}
		amount, ok := new(big.Rat).SetString(strings.TrimSpace(m.Amount))
		if !ok {
			return fmt.Errorf("%w: milestone %d amount %q not numeric", ErrValidation, i, m.Amount)
		}
		if amount.Sign() <= 0 {
			return fmt.Errorf("%w: milestone %d amount must be positive", ErrValidation, i)
		}
		if !m.Deadline.After(now) {
			return fmt.Errorf("%w: milestone %d deadline must be in the future", ErrValidation, i)
		}
	}
	return nil
}

// CreateProject validates the definition, creates one conditional payment per
// milestone and persists the project with every milestone pending. Creation is
// sequential; a mid-sequence ledger failure aborts with a PartialCreateError
// naming the escrows already on the ledger, and nothing is persisted.
func (e *Engine) CreateProject(ctx context.Context, in CreateProjectInput) (p *project.Project, err error) {
	defer func() { e.observe("create_project", err) }()

	now := e.now()
	if err = in.validate(now); err != nil {
		return nil, err
	}
	clientAddress, err := e.ledger.WalletAddress(ctx, in.ClientSeed)
	if err != nil {
		return nil, err
	}
	if clientAddress == in.FreelancerAddress {
		return nil, fmt.Errorf("%w: client and freelancer must differ", ErrValidation)
	}

	projectID := e.newID()
	milestones := make([]*project.Milestone, 0, len(in.Milestones))
	created := make([]CreatedEscrow, 0, len(in.Milestones))
	for i, def := range in.Milestones {
		receipt, createErr := e.ledger.CreateEscrow(ctx, escrow.CreateInput{
			OwnerSeed:   in.ClientSeed,
			Beneficiary: in.FreelancerAddress,
			Amount:      def.Amount,
			Deadline:    def.Deadline,
			Memo: ledger.Memo{
				ProjectID:      projectID,
				Title:          in.Title,
				Description:    in.Description,
				MilestoneName:  def.Name,
				MilestoneIndex: i,
			},
		})
		if createErr != nil {
			err = &PartialCreateError{
				FailedIndex: i,
				FailedName:  def.Name,
				Created:     created,
				Err:         createErr,
			}
			return nil, err
		}
		created = append(created, CreatedEscrow{MilestoneIndex: i, MilestoneName: def.Name, Receipt: *receipt})
		milestones = append(milestones, &project.Milestone{
			Name:     def.Name,
			Amount:   def.Amount,
			Deadline: def.Deadline,
			Status:   project.MilestonePending,
			Escrow: project.EscrowRef{
				OwnerSequence: receipt.SequenceID,
				CreateTxHash:  receipt.TxHash,
			},
		})
	}

	p = &project.Project{
		ID:                projectID,
		Title:             in.Title,
		Description:       in.Description,
		ClientAddress:     clientAddress,
		FreelancerAddress: in.FreelancerAddress,
		Status:            project.StatusPending,
		Milestones:        milestones,
		CreatedAt:         now,
	}
	if err = e.store.Create(ctx, p); err != nil {
		return nil, err
	}
	e.log.Info("project created", "project", projectID, "milestones", len(milestones), "client", clientAddress)
	return p.Clone(), nil
}

// GetProject loads a project and reconciles every unfinished milestone against
// ledger truth before returning it.
func (e *Engine) GetProject(ctx context.Context, id string) (*project.Project, error) {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, id)
		}
		return nil, err
	}
	return e.reconcile(ctx, p), nil
}

// ListProjects returns every stored project. The listing is served from the
// store as-is; reconciliation stays on the single-project read path and the
// background sweep.
func (e *Engine) ListProjects(ctx context.Context) ([]*project.Project, error) {
	return e.store.List(ctx)
}

// AcceptProject records the freelancer's agreement to the contract.
func (e *Engine) AcceptProject(ctx context.Context, id, freelancerAddress string) (p *project.Project, err error) {
	defer func() { e.observe("accept_project", err) }()

	p, err = e.update(ctx, id, func(p *project.Project) error {
		if p.FreelancerAddress != freelancerAddress {
			return fmt.Errorf("%w: only the named freelancer may accept", ErrForbidden)
		}
		if p.Status != project.StatusPending {
			return fmt.Errorf("%w: project already accepted", ErrStateConflict)
		}
		now := e.now()
		p.Status = project.StatusAccepted
		p.AcceptedAt = &now
		return nil
	})
	return p, err
}

// SubmitInput is the freelancer's work submission for one milestone.
type SubmitInput struct {
	Description   string
	AttachmentRef string
}

// SubmitWork records delivered work against a pending milestone.
func (e *Engine) SubmitWork(ctx context.Context, id string, index int, in SubmitInput) (m *project.Milestone, err error) {
	defer func() { e.observe("submit_work", err) }()

	if strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: submission description required", ErrValidation)
	}
	p, err := e.update(ctx, id, func(p *project.Project) error {
		milestone, found := milestoneAt(p, index)
		if found != nil {
			return found
		}
		if milestone.Status != project.MilestonePending {
			return fmt.Errorf("%w: milestone %d is %s, not pending", ErrStateConflict, index, milestone.Status)
		}
		milestone.Status = project.MilestoneSubmitted
		milestone.Submission = &project.Submission{
			Description:   strings.TrimSpace(in.Description),
			AttachmentRef: strings.TrimSpace(in.AttachmentRef),
			SubmittedAt:   e.now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.Milestones[index].Clone(), nil
}

// ApproveWork records the client's acceptance of submitted work. Approving a
// milestone twice conflicts; approvedAt is written exactly once.
func (e *Engine) ApproveWork(ctx context.Context, id string, index int, clientAddress string) (m *project.Milestone, err error) {
	defer func() { e.observe("approve_work", err) }()

	p, err := e.update(ctx, id, func(p *project.Project) error {
		if p.ClientAddress != clientAddress {
			return fmt.Errorf("%w: only the project client may approve", ErrForbidden)
		}
		milestone, found := milestoneAt(p, index)
		if found != nil {
			return found
		}
		if milestone.Status != project.MilestoneSubmitted {
			return fmt.Errorf("%w: milestone %d is %s, not submitted", ErrStateConflict, index, milestone.Status)
		}
		now := e.now()
		milestone.Status = project.MilestoneApproved
		milestone.ApprovedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.Milestones[index].Clone(), nil
}

// ReleasePayment finishes the milestone's conditional payment on the ledger.
// Local gates (state, actor) are checked before any ledger call; a ledger
// failure leaves the stored state untouched so the call is retryable.
func (e *Engine) ReleasePayment(ctx context.Context, id string, index int, freelancerSeed string) (m *project.Milestone, err error) {
	defer func() { e.observe("release_payment", err) }()

	p, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, id)
		}
		return nil, err
	}
	milestone, found := milestoneAt(p, index)
	if found != nil {
		return nil, found
	}
	if milestone.Status != project.MilestoneApproved {
		return nil, fmt.Errorf("%w: milestone %d is %s, not approved", ErrStateConflict, index, milestone.Status)
	}
	wallet, err := e.ledger.WalletAddress(ctx, freelancerSeed)
	if err != nil {
		return nil, err
	}
	if wallet != p.FreelancerAddress {
		return nil, fmt.Errorf("%w: only the project freelancer may release", ErrForbidden)
	}

	releaseHash, err := e.ledger.FinishEscrow(ctx, freelancerSeed, p.ClientAddress, milestone.Escrow.OwnerSequence)
	if err != nil {
		return nil, err
	}

	updated, err := e.update(ctx, id, func(p *project.Project) error {
		milestone, found := milestoneAt(p, index)
		if found != nil {
			return found
		}
		markReleased(p, milestone, releaseHash, e.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("milestone released", "project", id, "milestone", index, "tx", releaseHash)
	return updated.Milestones[index].Clone(), nil
}

// update wraps store.Update and maps the store's not-found error.
func (e *Engine) update(ctx context.Context, id string, fn func(*project.Project) error) (*project.Project, error) {
	p, err := e.store.Update(ctx, id, fn)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

func milestoneAt(p *project.Project, index int) (*project.Milestone, error) {
	m, err := p.Milestone(index)
	if err != nil {
		return nil, fmt.Errorf("%w: milestone %d", ErrNotFound, index)
	}
	return m, nil
}

// markReleased applies the released state with write-once semantics: an
// already released milestone keeps its original hash and timestamp.
func markReleased(p *project.Project, m *project.Milestone, hash string, now time.Time) {
	if m.Status == project.MilestoneReleased {
		return
	}
	m.Status = project.MilestoneReleased
	if m.ReleasedAt == nil {
		m.ReleasedAt = &now
	}
	if m.ReleaseHash == "" {
		m.ReleaseHash = hash
	}
	if p.AllReleased() && p.Status != project.StatusCompleted {
		p.Status = project.StatusCompleted
		if p.CompletedAt == nil {
			completed := now
			p.CompletedAt = &completed
		}
	}
}
