package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout  = 15 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	defaultSubmitRate   = 5 // submissions per second
)

// The ledger counts seconds from its own epoch rather than the Unix one.
const epochOffset int64 = 946684800

func toLedgerTime(t time.Time) int64   { return t.Unix() - epochOffset }
func fromLedgerTime(v int64) time.Time { return time.Unix(v+epochOffset, 0).UTC() }

// RPCClient implements Client against the ledger node's JSON-RPC endpoint.
// Transaction signing is delegated to the node's sign-and-submit method, so
// the client never handles key material beyond forwarding the seed.
type RPCClient struct {
	baseURL      string
	authToken    string
	http         *http.Client
	submitLimit  *rate.Limiter
	pollInterval time.Duration
}

// RPCOption customises an RPCClient.
type RPCOption func(*RPCClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) RPCOption {
	return func(c *RPCClient) { c.http = h }
}

// WithSubmitRate bounds signed submissions per second.
func WithSubmitRate(perSecond int) RPCOption {
	return func(c *RPCClient) {
		if perSecond > 0 {
			c.submitLimit = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

// WithPollInterval sets the validation polling cadence.
func WithPollInterval(d time.Duration) RPCOption {
	return func(c *RPCClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewRPCClient builds a client for the given JSON-RPC base URL.
func NewRPCClient(baseURL, authToken string, opts ...RPCOption) *RPCClient {
	c := &RPCClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		authToken:    authToken,
		http:         &http.Client{Timeout: defaultHTTPTimeout},
		submitLimit:  rate.NewLimiter(rate.Limit(defaultSubmitRate), defaultSubmitRate),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: []interface{}{params}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: node returned status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ledger rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(payload))
	}
	var envelope rpcEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if len(envelope.Result) == 0 {
		return fmt.Errorf("%w: empty result", ErrUnavailable)
	}
	var status rpcStatus
	if err := json.Unmarshal(envelope.Result, &status); err == nil && status.Status == "error" {
		return &RPCError{Code: status.Error, Message: status.ErrorMessage}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

type walletProposeResult struct {
	AccountID  string `json:"account_id"`
	MasterSeed string `json:"master_seed"`
}

// WalletAddress derives the account controlled by the seed via the node's
// deterministic wallet derivation method.
func (c *RPCClient) WalletAddress(ctx context.Context, seed string) (string, error) {
	var result walletProposeResult
	if err := c.call(ctx, "wallet_propose", map[string]string{"seed": seed}, &result); err != nil {
		return "", err
	}
	if result.AccountID == "" {
		return "", fmt.Errorf("%w: empty account in wallet_propose result", ErrUnavailable)
	}
	return result.AccountID, nil
}

// NewFundedWallet proposes a fresh wallet and asks the test-network faucet to
// fund it.
func (c *RPCClient) NewFundedWallet(ctx context.Context) (string, string, error) {
	var proposed walletProposeResult
	if err := c.call(ctx, "wallet_propose", map[string]string{}, &proposed); err != nil {
		return "", "", err
	}
	if err := c.call(ctx, "faucet_fund", map[string]string{"destination": proposed.AccountID}, nil); err != nil {
		return "", "", err
	}
	return proposed.AccountID, proposed.MasterSeed, nil
}

type submitTxJSON struct {
	Hash     string `json:"hash"`
	Sequence uint32 `json:"Sequence"`
}

type submitResult struct {
	EngineResult string       `json:"engine_result"`
	TxJSON       submitTxJSON `json:"tx_json"`
}

type txResult struct {
	Validated bool `json:"validated"`
	Meta      struct {
		TransactionResult string `json:"TransactionResult"`
	} `json:"meta"`
}

func (c *RPCClient) submitAndWait(ctx context.Context, seed string, txJSON map[string]interface{}) (*SubmitResult, error) {
	if c.submitLimit != nil {
		if err := c.submitLimit.Wait(ctx); err != nil {
			return nil, err
		}
	}
	params := map[string]interface{}{
		"secret":    seed,
		"tx_json":   txJSON,
		"fail_hard": true,
	}
	var result submitResult
	if err := c.call(ctx, "submit", params, &result); err != nil {
		return nil, err
	}
	out := &SubmitResult{
		TxHash:     result.TxJSON.Hash,
		ResultCode: result.EngineResult,
		SequenceID: result.TxJSON.Sequence,
	}
	if result.EngineResult != ResultSuccess {
		return out, nil
	}
	// Preliminary success still has to be confirmed by a validated ledger.
	final, err := c.waitValidated(ctx, out.TxHash)
	if err != nil {
		return nil, err
	}
	if final != "" {
		out.ResultCode = final
	}
	return out, nil
}

func (c *RPCClient) waitValidated(ctx context.Context, hash string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var result txResult
		err := c.call(ctx, "tx", map[string]string{"transaction": hash}, &result)
		if err == nil && result.Validated {
			return result.Meta.TransactionResult, nil
		}
		var rpcErr *RPCError
		if err != nil && !errors.Is(err, ErrUnavailable) && !errors.As(err, &rpcErr) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// CreateTimeLockedPayment submits a conditional payment creation and waits for
// it to validate.
func (c *RPCClient) CreateTimeLockedPayment(ctx context.Context, ownerSeed, beneficiary, amountDrops string, releaseNotBefore time.Time, memoHex string) (*SubmitResult, error) {
	owner, err := c.WalletAddress(ctx, ownerSeed)
	if err != nil {
		return nil, err
	}
	txJSON := map[string]interface{}{
		"TransactionType": "EscrowCreate",
		"Account":         owner,
		"Destination":     beneficiary,
		"Amount":          amountDrops,
		"FinishAfter":     toLedgerTime(releaseNotBefore),
	}
	if memoHex != "" {
		txJSON["Memos"] = []map[string]interface{}{
			{"Memo": map[string]string{"MemoData": memoHex}},
		}
	}
	return c.submitAndWait(ctx, ownerSeed, txJSON)
}

// FinishTimeLockedPayment releases the identified payment to its beneficiary.
func (c *RPCClient) FinishTimeLockedPayment(ctx context.Context, actorSeed, owner string, sequenceID uint32) (*SubmitResult, error) {
	actor, err := c.WalletAddress(ctx, actorSeed)
	if err != nil {
		return nil, err
	}
	txJSON := map[string]interface{}{
		"TransactionType": "EscrowFinish",
		"Account":         actor,
		"Owner":           owner,
		"OfferSequence":   sequenceID,
	}
	return c.submitAndWait(ctx, actorSeed, txJSON)
}

// CancelTimeLockedPayment returns the locked funds to the owner.
func (c *RPCClient) CancelTimeLockedPayment(ctx context.Context, actorSeed, owner string, sequenceID uint32) (*SubmitResult, error) {
	actor, err := c.WalletAddress(ctx, actorSeed)
	if err != nil {
		return nil, err
	}
	txJSON := map[string]interface{}{
		"TransactionType": "EscrowCancel",
		"Account":         actor,
		"Owner":           owner,
		"OfferSequence":   sequenceID,
	}
	return c.submitAndWait(ctx, actorSeed, txJSON)
}

type accountObjectsResult struct {
	Objects []struct {
		Account     string `json:"Account"`
		Destination string `json:"Destination"`
		Amount      string `json:"Amount"`
		FinishAfter int64  `json:"FinishAfter"`
		CancelAfter int64  `json:"CancelAfter"`
		Sequence    uint32 `json:"Sequence"`
		MemoData    string `json:"MemoData"`
	} `json:"account_objects"`
}

// AccountTimeLockedPayments lists live conditional payments created by owner.
func (c *RPCClient) AccountTimeLockedPayments(ctx context.Context, owner string) ([]TimeLockedPayment, error) {
	params := map[string]string{"account": owner, "type": "escrow"}
	var result accountObjectsResult
	if err := c.call(ctx, "account_objects", params, &result); err != nil {
		return nil, err
	}
	payments := make([]TimeLockedPayment, 0, len(result.Objects))
	for _, obj := range result.Objects {
		p := TimeLockedPayment{
			Owner:       obj.Account,
			SequenceID:  obj.Sequence,
			Beneficiary: obj.Destination,
			AmountDrops: obj.Amount,
			MemoHex:     obj.MemoData,
		}
		if obj.FinishAfter > 0 {
			p.ReleaseNotBefore = fromLedgerTime(obj.FinishAfter)
		}
		if obj.CancelAfter > 0 {
			p.CancelNotBefore = fromLedgerTime(obj.CancelAfter)
		}
		payments = append(payments, p)
	}
	return payments, nil
}

type accountInfoResult struct {
	AccountData struct {
		Balance string `json:"Balance"`
	} `json:"account_data"`
}

// AccountBalance returns the spendable balance in drops.
func (c *RPCClient) AccountBalance(ctx context.Context, address string) (string, error) {
	var result accountInfoResult
	if err := c.call(ctx, "account_info", map[string]string{"account": address}, &result); err != nil {
		return "", err
	}
	return result.AccountData.Balance, nil
}

type accountTxResult struct {
	Transactions []struct {
		Validated bool `json:"validated"`
		Tx        struct {
			Hash            string `json:"hash"`
			TransactionType string `json:"TransactionType"`
			Account         string `json:"Account"`
			Owner           string `json:"Owner"`
			Destination     string `json:"Destination"`
			OfferSequence   uint32 `json:"OfferSequence"`
			Date            int64  `json:"date"`
		} `json:"tx"`
		Meta struct {
			TransactionResult string `json:"TransactionResult"`
		} `json:"meta"`
	} `json:"transactions"`
}

// AccountTransactions returns historical transactions for the address.
func (c *RPCClient) AccountTransactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	params := map[string]interface{}{"account": address}
	if limit > 0 {
		params["limit"] = limit
	}
	var result accountTxResult
	if err := c.call(ctx, "account_tx", params, &result); err != nil {
		return nil, err
	}
	txs := make([]Transaction, 0, len(result.Transactions))
	for _, entry := range result.Transactions {
		tx := Transaction{
			Hash:        entry.Tx.Hash,
			Type:        entry.Tx.TransactionType,
			ResultCode:  entry.Meta.TransactionResult,
			Account:     entry.Tx.Account,
			Owner:       entry.Tx.Owner,
			Beneficiary: entry.Tx.Destination,
			SequenceID:  entry.Tx.OfferSequence,
			Validated:   entry.Validated,
		}
		if entry.Tx.Date > 0 {
			tx.Timestamp = fromLedgerTime(entry.Tx.Date)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

var _ Client = (*RPCClient)(nil)
