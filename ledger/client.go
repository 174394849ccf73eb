package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Result codes reported by the ledger for submitted transactions. Only the
// codes the adapter distinguishes are named; everything else is passed through
// verbatim.
const (
	ResultSuccess         = "tesSUCCESS"
	ResultNoPermission    = "tecNO_PERMISSION"
	ResultNoTarget        = "tecNO_TARGET"
	ResultNoEntry         = "tecNO_ENTRY"
	ResultCryptoCondition = "tecCRYPTOCONDITION_ERROR"
)

// ErrUnavailable wraps transport-level failures (connection refused, reset,
// timeout while dialing). Callers may retry such failures; node-reported
// errors are never wrapped with it.
var ErrUnavailable = errors.New("ledger: node unavailable")

// RPCError is a failure reported by the node itself, as opposed to a failure
// to reach the node.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger rpc error: %s", e.Code)
	}
	return fmt.Sprintf("ledger rpc error: %s (%s)", e.Code, e.Message)
}

// SubmitResult captures the outcome of a signed submission after the node has
// accepted it.
type SubmitResult struct {
	TxHash     string
	ResultCode string
	// SequenceID is the owner account sequence consumed by the transaction.
	// For time-locked payment creation it is the key later used to finish or
	// cancel the payment.
	SequenceID uint32
}

// TimeLockedPayment mirrors a conditional payment object held on the ledger.
type TimeLockedPayment struct {
	Owner            string
	SequenceID       uint32
	Beneficiary      string
	AmountDrops      string
	ReleaseNotBefore time.Time
	CancelNotBefore  time.Time
	MemoHex          string
}

// Transaction is a normalized historical transaction record.
type Transaction struct {
	Hash        string
	Type        string
	ResultCode  string
	Account     string
	Owner       string
	Beneficiary string
	SequenceID  uint32
	Validated   bool
	Timestamp   time.Time
}

// Transaction types surfaced in account history.
const (
	TxTypeEscrowCreate = "EscrowCreate"
	TxTypeEscrowFinish = "EscrowFinish"
	TxTypeEscrowCancel = "EscrowCancel"
)

// Client is the external ledger collaborator. Connection management, signing
// and finality tracking live behind this interface; the rest of the system
// never talks to the network directly.
type Client interface {
	// WalletAddress deterministically derives the account address controlled
	// by the supplied seed.
	WalletAddress(ctx context.Context, seed string) (string, error)
	// NewFundedWallet creates and funds a throwaway test-network wallet.
	NewFundedWallet(ctx context.Context) (address, seed string, err error)
	// CreateTimeLockedPayment locks amountDrops under beneficiary, releasable
	// no earlier than releaseNotBefore, and attaches the supplied memo.
	CreateTimeLockedPayment(ctx context.Context, ownerSeed, beneficiary, amountDrops string, releaseNotBefore time.Time, memoHex string) (*SubmitResult, error)
	// FinishTimeLockedPayment releases the payment identified by owner and
	// sequence to its beneficiary.
	FinishTimeLockedPayment(ctx context.Context, actorSeed, owner string, sequenceID uint32) (*SubmitResult, error)
	// CancelTimeLockedPayment returns the locked funds to the owner.
	CancelTimeLockedPayment(ctx context.Context, actorSeed, owner string, sequenceID uint32) (*SubmitResult, error)
	// AccountTimeLockedPayments lists the conditional payments created by the
	// owner account that still exist on the ledger.
	AccountTimeLockedPayments(ctx context.Context, owner string) ([]TimeLockedPayment, error)
	// AccountBalance returns the spendable balance of the address in drops.
	AccountBalance(ctx context.Context, address string) (string, error)
	// AccountTransactions returns up to limit historical transactions
	// touching the address, most recent first.
	AccountTransactions(ctx context.Context, address string, limit int) ([]Transaction, error)
}
