package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/MJE43/starkguessr-go/internal/wire"
)

// Executor signs and broadcasts invoke transactions for the local account and
// returns the transaction hash. Account signing lives behind this interface.
type Executor interface {
	Execute(ctx context.Context, calls []Call) (*felt.Felt, error)
}

// RelayExecutor forwards calls to a signing relay over HTTP. The relay holds
// the account key. Every attempt of one Execute carries the same idempotency
// key, so a retried POST cannot submit twice.
type RelayExecutor struct {
	url       string
	account   string
	http      *http.Client
	retries   uint64
	retryBase time.Duration
}

// NewRelayExecutor returns an executor posting to url on behalf of account.
func NewRelayExecutor(url, account string, client *http.Client) *RelayExecutor {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &RelayExecutor{
		url:       strings.TrimRight(url, "/"),
		account:   account,
		http:      client,
		retries:   3,
		retryBase: 500 * time.Millisecond,
	}
}

type relayCall struct {
	ContractAddress string   `json:"contract_address"`
	Entrypoint      string   `json:"entrypoint"`
	Selector        string   `json:"entry_point_selector"`
	Calldata        []string `json:"calldata"`
}

type relayRequest struct {
	Account        string      `json:"account"`
	IdempotencyKey string      `json:"idempotency_key"`
	Calls          []relayCall `json:"calls"`
}

type relayResponse struct {
	TransactionHash string `json:"transaction_hash"`
	Error           string `json:"error,omitempty"`
}

// Execute posts calls to the relay. The request is retried on network
// errors and 5xx responses, always with the same idempotency key.
func (r *RelayExecutor) Execute(ctx context.Context, calls []Call) (*felt.Felt, error) {
	req := relayRequest{
		Account:        r.account,
		IdempotencyKey: uuid.NewString(),
	}
	for _, c := range calls {
		rc := relayCall{
			ContractAddress: c.To.String(),
			Entrypoint:      c.Entrypoint,
			Selector:        Selector(c.Entrypoint).String(),
		}
		for _, f := range c.Calldata {
			rc.Calldata = append(rc.Calldata, f.String())
		}
		req.Calls = append(req.Calls, rc)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal relay request: %w", err)
	}

	var hash *felt.Felt
	b := retry.WithMaxRetries(r.retries, retry.NewExponential(r.retryBase))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		h, err := r.post(ctx, req.IdempotencyKey, body)
		if err != nil {
			return err
		}
		hash = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hash, nil
}

func (r *RelayExecutor) post(ctx context.Context, key string, body []byte) (*felt.Felt, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ledger: create relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", key)

	resp, err := r.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ledger: relay request: %w", err)
		}
		return nil, retry.RetryableError(fmt.Errorf("ledger: relay request: %w", err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("ledger: read relay response: %w", err))
	}

	var out relayResponse
	_ = json.Unmarshal(raw, &out)
	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity || (resp.StatusCode == http.StatusBadRequest && out.Error != ""):
		// The relay simulates before sending; a failed simulation is a revert.
		return nil, &RevertError{Reason: out.Error}
	case resp.StatusCode >= 500:
		return nil, retry.RetryableError(fmt.Errorf("ledger: relay HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("ledger: relay HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	hash, err := wire.ParseFelt(out.TransactionHash)
	if err != nil {
		return nil, fmt.Errorf("ledger: relay returned bad transaction hash %q: %w", out.TransactionHash, err)
	}
	return hash, nil
}
