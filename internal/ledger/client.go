// Package ledger talks to the Starknet node: view calls through JSON-RPC,
// state-changing calls through an Executor, and a bounded wait for each
// transaction's receipt.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sethvargo/go-retry"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

// Starknet JSON-RPC error codes this client distinguishes.
const (
	codeTxHashNotFound = 29
	codeContractError  = 40
)

// Config holds configuration for the ledger client.
type Config struct {
	// RPCURL is the node's JSON-RPC endpoint. Defaults to http://localhost:5050.
	RPCURL string

	// Actions is the address of the game's actions contract. Required.
	Actions *felt.Felt

	// Executor submits invoke transactions. Required for Submit.
	Executor Executor

	// ConfirmRetries bounds the receipt polls after submission.
	// Defaults to 60 if zero.
	ConfirmRetries int

	// ConfirmInterval is the spacing between receipt polls.
	// Defaults to 5 seconds if zero.
	ConfirmInterval time.Duration

	// HTTPClient allows injecting a custom HTTP client (useful for testing).
	HTTPClient *http.Client

	Logger *log.Logger
}

// Client is a Starknet ledger client bound to one actions contract.
type Client struct {
	cfg Config
	rpc *rpc.Client
}

// Dial connects to the node.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Actions == nil || cfg.Actions.IsZero() {
		return nil, fmt.Errorf("ledger: actions contract address is required")
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = "http://localhost:5050"
	}
	if cfg.ConfirmRetries == 0 {
		cfg.ConfirmRetries = 60
	}
	if cfg.ConfirmInterval == 0 {
		cfg.ConfirmInterval = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	c, err := rpc.DialOptions(ctx, cfg.RPCURL, rpc.WithHTTPClient(cfg.HTTPClient))
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", cfg.RPCURL, err)
	}
	return &Client{cfg: cfg, rpc: c}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// Actions returns the actions contract address.
func (c *Client) Actions() *felt.Felt {
	return c.cfg.Actions
}

// --- Reads ---

type functionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

// Call runs a view call against the latest block.
func (c *Client) Call(ctx context.Context, call Call) ([]*felt.Felt, error) {
	req := functionCall{
		ContractAddress:    call.To.String(),
		EntryPointSelector: Selector(call.Entrypoint).String(),
		Calldata:           make([]string, 0, len(call.Calldata)),
	}
	for _, f := range call.Calldata {
		req.Calldata = append(req.Calldata, f.String())
	}

	var raw []string
	if err := c.rpc.CallContext(ctx, &raw, "starknet_call", req, "latest"); err != nil {
		return nil, rpcError(call.Entrypoint, "", err)
	}
	out := make([]*felt.Felt, 0, len(raw))
	for i, s := range raw {
		f, err := wire.ParseFelt(s)
		if err != nil {
			return nil, fmt.Errorf("ledger: %s result[%d]: %w", call.Entrypoint, i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// GetGame reads the authoritative game record.
func (c *Client) GetGame(ctx context.Context, id uint64) (*game.Game, error) {
	out, err := c.Call(ctx, GetGame(c.cfg.Actions, id))
	if err != nil {
		return nil, err
	}
	g, err := decodeGame(out)
	if err != nil {
		if errors.Is(err, game.ErrGameNotFound) {
			return nil, fmt.Errorf("ledger: game %d: %w", id, err)
		}
		return nil, err
	}
	return g, nil
}

// --- Transactions ---

// Receipt is the subset of a transaction receipt the protocol needs.
type Receipt struct {
	TransactionHash string `json:"transaction_hash"`
	ExecutionStatus string `json:"execution_status"`
	FinalityStatus  string `json:"finality_status"`
	RevertReason    string `json:"revert_reason,omitempty"`
	BlockNumber     uint64 `json:"block_number,omitempty"`
}

// Accepted reports whether the transaction is final and succeeded.
func (r *Receipt) Accepted() bool {
	final := r.FinalityStatus == "ACCEPTED_ON_L2" || r.FinalityStatus == "ACCEPTED_ON_L1"
	return final && r.ExecutionStatus == "SUCCEEDED"
}

// Reverted reports whether execution failed.
func (r *Receipt) Reverted() bool {
	return r.ExecutionStatus == "REVERTED"
}

// Receipt fetches the receipt for hash. An unknown hash returns errPending.
func (c *Client) Receipt(ctx context.Context, hash *felt.Felt) (*Receipt, error) {
	var r Receipt
	if err := c.rpc.CallContext(ctx, &r, "starknet_getTransactionReceipt", hash.String()); err != nil {
		return nil, rpcError("receipt", hash.String(), err)
	}
	return &r, nil
}

// WaitForTransaction polls the receipt every ConfirmInterval, at most
// ConfirmRetries times. A reverted transaction returns a *RevertError;
// running out of attempts returns game.ErrConfirmationTimeout, since the
// transaction may still land.
func (c *Client) WaitForTransaction(ctx context.Context, hash *felt.Felt) (*Receipt, error) {
	b := retry.WithMaxRetries(uint64(c.cfg.ConfirmRetries), retry.NewConstant(c.cfg.ConfirmInterval))

	var (
		receipt *Receipt
		waiting bool
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		r, err := c.Receipt(ctx, hash)
		switch {
		case err != nil && isRetryableRPC(err):
			waiting = true
			return retry.RetryableError(err)
		case err != nil:
			waiting = false
			return err
		case r.Reverted():
			waiting = false
			return &RevertError{TxHash: hash.String(), Reason: r.RevertReason}
		case !r.Accepted():
			waiting = true
			return retry.RetryableError(errPending)
		}
		receipt = r
		return nil
	})
	if err == nil {
		return receipt, nil
	}
	if waiting || ctx.Err() != nil {
		c.cfg.Logger.Printf("transaction %s unconfirmed after %d polls: %v", hash.String(), c.cfg.ConfirmRetries, err)
		return nil, fmt.Errorf("ledger: transaction %s: %w", hash.String(), game.ErrConfirmationTimeout)
	}
	return nil, err
}

// Submit executes call and waits for it to be accepted.
func (c *Client) Submit(ctx context.Context, call Call) (*Receipt, error) {
	if c.cfg.Executor == nil {
		return nil, fmt.Errorf("ledger: no executor configured for %s", call.Entrypoint)
	}
	hash, err := c.cfg.Executor.Execute(ctx, []Call{call})
	if err != nil {
		return nil, err
	}
	c.cfg.Logger.Printf("%s sent: tx %s", call.Entrypoint, hash.String())
	r, err := c.WaitForTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.cfg.Logger.Printf("%s accepted: tx %s block %d", call.Entrypoint, hash.String(), r.BlockNumber)
	return r, nil
}

// --- Error mapping ---

func rpcError(op, txHash string, err error) error {
	var rerr rpc.Error
	if !errors.As(err, &rerr) {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	switch rerr.ErrorCode() {
	case codeTxHashNotFound:
		return fmt.Errorf("ledger: %s: %w", op, errPending)
	case codeContractError:
		reason := rerr.Error()
		var derr rpc.DataError
		if errors.As(err, &derr) {
			reason = revertReason(derr.ErrorData())
		}
		return &RevertError{TxHash: txHash, Reason: reason}
	}
	return fmt.Errorf("ledger: %s: %w", op, err)
}

// revertReason extracts the message from CONTRACT_ERROR data, which is either
// a string or {"revert_error": ...}.
func revertReason(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["revert_error"].(string); ok {
			return s
		}
	}
	raw, _ := json.Marshal(data)
	return string(raw)
}

func isRetryableRPC(err error) bool {
	if errors.Is(err, errPending) {
		return true
	}
	var revert *RevertError
	if errors.As(err, &revert) {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var rerr rpc.Error
	if errors.As(err, &rerr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
