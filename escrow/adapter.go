package escrow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"milevault/currency"
	"milevault/ledger"
)

const (
	defaultRetryAttempts = 4
	defaultRetryBase     = 250 * time.Millisecond
	maxRetryDelay        = 5 * time.Second
)

// Observer receives the outcome of every ledger operation the adapter
// performs. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveLedgerOp(op, outcome string, elapsed time.Duration)
}

// CreateInput describes a conditional payment to lock on the ledger.
type CreateInput struct {
	OwnerSeed   string
	Beneficiary string
	// Amount is denominated in the contract currency; the adapter converts
	// it to settlement micro-units before submission.
	Amount   string
	Deadline time.Time
	Memo     ledger.Memo
}

// Receipt identifies a successfully created conditional payment.
type Receipt struct {
	SequenceID  uint32 `json:"sequenceId"`
	TxHash      string `json:"txHash"`
	AmountDrops string `json:"amountDrops"`
}

// Adapter translates workflow intents into ledger operations and normalizes
// every failure into the package error taxonomy. Read operations are retried
// on transport failures with capped exponential backoff; state-changing
// submissions are never retried automatically because a lost response does
// not imply a lost transaction.
type Adapter struct {
	client        ledger.Client
	convert       *currency.Converter
	log           *slog.Logger
	observer      Observer
	retryAttempts int
	retryBase     time.Duration
}

// AdapterOption customises an Adapter.
type AdapterOption func(*Adapter)

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) AdapterOption {
	return func(a *Adapter) { a.observer = o }
}

// WithRetryPolicy overrides the read retry ceiling and base delay.
func WithRetryPolicy(attempts int, base time.Duration) AdapterOption {
	return func(a *Adapter) {
		if attempts > 0 {
			a.retryAttempts = attempts
		}
		if base > 0 {
			a.retryBase = base
		}
	}
}

// NewAdapter wires the adapter against a ledger client and converter.
func NewAdapter(client ledger.Client, convert *currency.Converter, log *slog.Logger, opts ...AdapterOption) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		client:        client,
		convert:       convert,
		log:           log,
		retryAttempts: defaultRetryAttempts,
		retryBase:     defaultRetryBase,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) observe(op string, start time.Time, err error) {
	if a.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(ReasonOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	a.observer.ObserveLedgerOp(op, outcome, time.Since(start))
}

// CreateEscrow locks the converted amount under the beneficiary. Any outcome
// other than unambiguous ledger success is an error; the submission is never
// retried.
func (a *Adapter) CreateEscrow(ctx context.Context, in CreateInput) (*Receipt, error) {
	const op = "create"
	start := time.Now()
	receipt, err := a.createEscrow(ctx, in)
	a.observe(op, start, err)
	return receipt, err
}

func (a *Adapter) createEscrow(ctx context.Context, in CreateInput) (*Receipt, error) {
	const op = "create"
	if err := ledger.ValidateAddress(in.Beneficiary); err != nil {
		return nil, err
	}
	drops, err := a.convert.ToDrops(in.Amount)
	if err != nil {
		return nil, err
	}
	memoHex, err := ledger.EncodeMemo(in.Memo)
	if err != nil {
		return nil, err
	}
	result, err := a.client.CreateTimeLockedPayment(ctx, in.OwnerSeed, in.Beneficiary, drops, in.Deadline, memoHex)
	if err != nil {
		return nil, a.normalize(op, err)
	}
	if result.ResultCode != ledger.ResultSuccess {
		return nil, newError(op, ReasonCreateFailed, result.ResultCode, nil)
	}
	a.log.Info("escrow created",
		"beneficiary", in.Beneficiary,
		"drops", drops,
		"sequence", result.SequenceID,
		"tx", result.TxHash)
	return &Receipt{SequenceID: result.SequenceID, TxHash: result.TxHash, AmountDrops: drops}, nil
}

// FinishEscrow releases the payment to its beneficiary. The ledger's time
// gate and entry lookup failures are translated into distinct reasons.
func (a *Adapter) FinishEscrow(ctx context.Context, actorSeed, owner string, sequenceID uint32) (string, error) {
	const op = "finish"
	start := time.Now()
	hash, err := a.submitMutation(op, owner, func() (*ledger.SubmitResult, error) {
		return a.client.FinishTimeLockedPayment(ctx, actorSeed, owner, sequenceID)
	})
	a.observe(op, start, err)
	return hash, err
}

// CancelEscrow returns the locked funds to the owner.
func (a *Adapter) CancelEscrow(ctx context.Context, actorSeed, owner string, sequenceID uint32) (string, error) {
	const op = "cancel"
	start := time.Now()
	hash, err := a.submitMutation(op, owner, func() (*ledger.SubmitResult, error) {
		return a.client.CancelTimeLockedPayment(ctx, actorSeed, owner, sequenceID)
	})
	a.observe(op, start, err)
	return hash, err
}

func (a *Adapter) submitMutation(op, owner string, submit func() (*ledger.SubmitResult, error)) (string, error) {
	if err := ledger.ValidateAddress(strings.TrimSpace(owner)); err != nil {
		return "", err
	}
	result, err := submit()
	if err != nil {
		return "", a.normalize(op, err)
	}
	switch result.ResultCode {
	case ledger.ResultSuccess:
		return result.TxHash, nil
	case ledger.ResultNoPermission:
		return "", newError(op, ReasonDeadlineNotReached, result.ResultCode, nil)
	case ledger.ResultNoTarget, ledger.ResultNoEntry:
		return "", newError(op, ReasonNotFound, result.ResultCode, nil)
	default:
		return "", newError(op, ReasonRejected, result.ResultCode, nil)
	}
}

// GetEscrow looks up a single conditional payment by owner and sequence.
// Absence is reported as ErrNotFound.
func (a *Adapter) GetEscrow(ctx context.Context, owner string, sequenceID uint32) (*ledger.TimeLockedPayment, error) {
	payments, err := a.ListEscrows(ctx, owner)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		if payments[i].SequenceID == sequenceID {
			return &payments[i], nil
		}
	}
	return nil, newError("get", ReasonNotFound, "", nil)
}

// ListEscrows returns every live conditional payment created by owner.
func (a *Adapter) ListEscrows(ctx context.Context, owner string) ([]ledger.TimeLockedPayment, error) {
	const op = "list"
	if err := ledger.ValidateAddress(owner); err != nil {
		return nil, err
	}
	start := time.Now()
	var payments []ledger.TimeLockedPayment
	err := a.retryRead(ctx, op, func() error {
		var err error
		payments, err = a.client.AccountTimeLockedPayments(ctx, owner)
		return err
	})
	a.observe(op, start, err)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// Balance fetches the account's spendable balance in drops.
func (a *Adapter) Balance(ctx context.Context, address string) (string, error) {
	const op = "balance"
	if err := ledger.ValidateAddress(address); err != nil {
		return "", err
	}
	start := time.Now()
	var balance string
	err := a.retryRead(ctx, op, func() error {
		var err error
		balance, err = a.client.AccountBalance(ctx, address)
		return err
	})
	a.observe(op, start, err)
	if err != nil {
		return "", err
	}
	return balance, nil
}

// History fetches up to limit historical transactions for the address.
func (a *Adapter) History(ctx context.Context, address string, limit int) ([]ledger.Transaction, error) {
	const op = "history"
	if err := ledger.ValidateAddress(address); err != nil {
		return nil, err
	}
	start := time.Now()
	var txs []ledger.Transaction
	err := a.retryRead(ctx, op, func() error {
		var err error
		txs, err = a.client.AccountTransactions(ctx, address, limit)
		return err
	})
	a.observe(op, start, err)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// WalletAddress resolves the account controlled by a seed.
func (a *Adapter) WalletAddress(ctx context.Context, seed string) (string, error) {
	addr, err := a.client.WalletAddress(ctx, seed)
	if err != nil {
		return "", a.normalize("wallet", err)
	}
	return addr, nil
}

// NewFundedWallet provisions a funded test-network wallet.
func (a *Adapter) NewFundedWallet(ctx context.Context) (string, string, error) {
	addr, seed, err := a.client.NewFundedWallet(ctx)
	if err != nil {
		return "", "", a.normalize("wallet", err)
	}
	return addr, seed, nil
}

func (a *Adapter) retryRead(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= a.retryAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledger.ErrUnavailable) {
			return a.normalize(op, err)
		}
		lastErr = err
		if attempt == a.retryAttempts {
			break
		}
		delay := a.retryBase * time.Duration(1<<uint(attempt-1))
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
		a.log.Warn("ledger read failed, retrying", "op", op, "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return a.normalize(op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return newError(op, ReasonUnavailable, "", lastErr)
}

func (a *Adapter) normalize(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return newError(op, ReasonTimeout, "", err)
	case errors.Is(err, context.Canceled):
		return newError(op, ReasonTimeout, "", err)
	case errors.Is(err, ledger.ErrUnavailable):
		return newError(op, ReasonUnavailable, "", err)
	}
	var rpcErr *ledger.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == "actNotFound" || rpcErr.Code == "entryNotFound" {
			return newError(op, ReasonNotFound, rpcErr.Code, err)
		}
		return newError(op, ReasonRejected, rpcErr.Code, err)
	}
	return newError(op, ReasonRejected, "", err)
}
