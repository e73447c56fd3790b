package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

var (
	actions = wire.FeltFromUint64(0xac7)
	paris   = geo.Coordinate{Lat: 48.8566, Lng: 2.3522}
	london  = geo.Coordinate{Lat: 51.5074, Lng: -0.1278}
)

func TestSelectorKnownValue(t *testing.T) {
	want, err := wire.ParseFelt("0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e")
	require.NoError(t, err)
	assert.True(t, Selector("transfer").Equal(want))
	assert.True(t, Selector("transfer").Equal(Selector("transfer")))
	assert.False(t, Selector("reveal_guess").Equal(Selector("reveal_location")))
}

func TestRevealCalldataLayout(t *testing.T) {
	f, err := geo.Encode(paris)
	require.NoError(t, err)
	salt := wire.FeltFromUint64(5)

	call := RevealGuess(actions, 7, f, salt)
	require.Len(t, call.Calldata, 7)
	want := []uint64{7, 0, f.Lat, 0, f.Lng, 0, 5}
	for i, w := range want {
		assert.True(t, call.Calldata[i].Equal(wire.FeltFromUint64(w)), "calldata[%d]", i)
	}
	assert.Equal(t, game.ActionRevealGuess, call.Action())

	sub := SubmitGuess(actions, 7, wire.FeltFromUint64(9))
	require.Len(t, sub.Calldata, 3)
	assert.Len(t, JoinGame(actions, 7).Calldata, 2)
	assert.Len(t, CreateGame(actions, wire.FeltFromUint64(1)).Calldata, 1)
}

// gameFeltsFor lays out a record the way get_game returns it.
func gameFeltsFor(t *testing.T, id uint64, state game.State, revealed bool) []*felt.Felt {
	t.Helper()
	u := func(v uint64) *felt.Felt { return wire.FeltFromUint64(v) }
	b := func(v bool) *felt.Felt {
		if v {
			return u(1)
		}
		return u(0)
	}
	pf, err := geo.Encode(paris)
	require.NoError(t, err)
	lf, err := geo.Encode(london)
	require.NoError(t, err)

	prize := new(uint256.Int).Mul(uint256.NewInt(15), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(17)))
	pp := wire.U256Felts(prize)

	out := []*felt.Felt{
		u(id), u(0), u(0xa11ce), u(0xb0b), pp[0], pp[1],
		u(uint64(state)), u(1_700_000_090), u(0x1234),
		u(pf.Lat), u(0), u(pf.Lng), u(0), b(revealed),
		// player1 guess: Paris, score 0
		u(0x98), u(pf.Lat), u(0), u(pf.Lng), u(0), u(1), b(revealed), u(0), u(0),
		// player2 guess: London, score 343530
		u(0x99), u(lf.Lat), u(0), u(lf.Lng), u(0), u(1), b(revealed), u(343_530), u(0),
		u(0xa11ce),
	}
	require.Len(t, out, gameFelts)
	return out
}

func TestDecodeGame(t *testing.T) {
	g, err := decodeGame(gameFeltsFor(t, 7, game.Finished, true))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), g.ID)
	assert.Equal(t, game.Address("0xa11ce"), g.Player1)
	assert.Equal(t, game.Address("0xb0b"), g.Player2)
	assert.Equal(t, game.Finished, g.State)
	assert.Equal(t, "1.5", g.PrizePool.String())
	assert.Equal(t, time.Unix(1_700_000_090, 0).UTC(), g.EndTime)
	require.NotNil(t, g.ActualLocation)
	assert.InDelta(t, paris.Lat, g.ActualLocation.Lat, 1e-6)
	require.Len(t, g.Guesses, 2)
	assert.Equal(t, g.Player2, g.Guesses[1].Player)
	require.NotNil(t, g.Guesses[1].Score)
	assert.Equal(t, uint64(343_530), *g.Guesses[1].Score)
	assert.InDelta(t, london.Lng, g.Guesses[1].RevealedGuess.Lng, 1e-6)
	assert.Equal(t, g.Player1, g.Winner)

	out, err := game.Outcome(g)
	require.NoError(t, err)
	assert.Equal(t, "0xa11ce", out.Winner)
}

func TestDecodeGameHidesUnrevealedValues(t *testing.T) {
	g, err := decodeGame(gameFeltsFor(t, 7, game.Active, false))
	require.NoError(t, err)
	assert.Nil(t, g.ActualLocation)
	assert.Nil(t, g.Guesses[0].RevealedGuess)
	assert.Nil(t, g.Guesses[0].Score)
	assert.True(t, g.BothSubmitted())
}

func TestDecodeGameRejectsBadShape(t *testing.T) {
	_, err := decodeGame(make([]*felt.Felt, 10))
	assert.ErrorIs(t, err, wire.ErrMalformed)

	empty := make([]*felt.Felt, gameFelts)
	for i := range empty {
		empty[i] = new(felt.Felt)
	}
	_, err = decodeGame(empty)
	assert.ErrorIs(t, err, game.ErrGameNotFound)
}

func TestRevertClassification(t *testing.T) {
	tests := map[string]error{
		"Invalid commitment":        game.ErrCommitmentMismatch,
		"Guess already submitted":   game.ErrDuplicate,
		"Location already revealed": game.ErrConflict,
		"Not a player in this game": game.ErrNotParticipant,
		"u256_sub Overflow":         game.ErrRejected,
		"Game does not exist":       game.ErrGameNotFound,
	}
	for reason, want := range tests {
		err := error(&RevertError{TxHash: "0x1", Reason: reason})
		assert.ErrorIs(t, err, want, reason)
	}
}

// --- JSON-RPC fake ---

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type fakeNode struct {
	mu       sync.Mutex
	calls    []rpcRequest
	handlers map[string]func(params []json.RawMessage) (any, *rpcErr)
}

type rpcErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.calls = append(n.calls, req)
	h := n.handlers[req.Method]
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if h == nil {
		resp["error"] = rpcErr{Code: -32601, Message: "method not found"}
	} else if result, e := h(req.Params); e != nil {
		resp["error"] = e
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func newClient(t *testing.T, node *fakeNode, exec Executor) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	c, err := Dial(context.Background(), Config{
		RPCURL:          srv.URL,
		Actions:         actions,
		Executor:        exec,
		ConfirmRetries:  3,
		ConfirmInterval: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func hexes(fs []*felt.Felt) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.String()
	}
	return out
}

func TestClientGetGame(t *testing.T) {
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcErr){
		"starknet_call": func(params []json.RawMessage) (any, *rpcErr) {
			var fc functionCall
			if err := json.Unmarshal(params[0], &fc); err != nil {
				return nil, &rpcErr{Code: -32602, Message: err.Error()}
			}
			if fc.EntryPointSelector != Selector(EntryGetGame).String() {
				return nil, &rpcErr{Code: 21, Message: "invalid selector"}
			}
			return hexes(gameFeltsFor(t, 7, game.Active, false)), nil
		},
	}}
	c := newClient(t, node, nil)

	g, err := c.GetGame(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, game.Active, g.State)

	require.Len(t, node.calls, 1)
	var block string
	require.NoError(t, json.Unmarshal(node.calls[0].Params[1], &block))
	assert.Equal(t, "latest", block)
}

func TestClientCallContractError(t *testing.T) {
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcErr){
		"starknet_call": func([]json.RawMessage) (any, *rpcErr) {
			return nil, &rpcErr{Code: codeContractError, Message: "Contract error", Data: map[string]any{"revert_error": "Game does not exist"}}
		},
	}}
	_, err := newClient(t, node, nil).GetGame(context.Background(), 99)
	var revert *RevertError
	require.ErrorAs(t, err, &revert)
	assert.ErrorIs(t, err, game.ErrGameNotFound)
}

type fakeExecutor struct {
	calls [][]Call
	hash  *felt.Felt
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, calls []Call) (*felt.Felt, error) {
	f.calls = append(f.calls, calls)
	return f.hash, f.err
}

func receiptNode(statuses ...map[string]any) *fakeNode {
	var n atomic.Int64
	return &fakeNode{handlers: map[string]func([]json.RawMessage) (any, *rpcErr){
		"starknet_getTransactionReceipt": func([]json.RawMessage) (any, *rpcErr) {
			i := int(n.Add(1)) - 1
			if i >= len(statuses) {
				i = len(statuses) - 1
			}
			if statuses[i] == nil {
				return nil, &rpcErr{Code: codeTxHashNotFound, Message: "Transaction hash not found"}
			}
			return statuses[i], nil
		},
	}}
}

func TestSubmitWaitsForAcceptance(t *testing.T) {
	exec := &fakeExecutor{hash: wire.FeltFromUint64(0xfeed)}
	node := receiptNode(
		nil,
		map[string]any{"transaction_hash": "0xfeed", "execution_status": "SUCCEEDED", "finality_status": "RECEIVED"},
		map[string]any{"transaction_hash": "0xfeed", "execution_status": "SUCCEEDED", "finality_status": "ACCEPTED_ON_L2", "block_number": 12},
	)
	c := newClient(t, node, exec)

	r, err := c.Submit(context.Background(), JoinGame(actions, 7))
	require.NoError(t, err)
	assert.Equal(t, uint64(12), r.BlockNumber)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, EntryJoinGame, exec.calls[0][0].Entrypoint)
}

func TestWaitReportsRevert(t *testing.T) {
	node := receiptNode(map[string]any{
		"transaction_hash": "0xfeed", "execution_status": "REVERTED",
		"finality_status": "ACCEPTED_ON_L2", "revert_reason": "Error in the called contract: Invalid commitment",
	})
	_, err := newClient(t, node, nil).WaitForTransaction(context.Background(), wire.FeltFromUint64(0xfeed))
	assert.ErrorIs(t, err, game.ErrCommitmentMismatch)
	assert.False(t, errors.Is(err, game.ErrConfirmationTimeout))
}

func TestWaitTimesOut(t *testing.T) {
	node := receiptNode(nil)
	c := newClient(t, node, nil)
	_, err := c.WaitForTransaction(context.Background(), wire.FeltFromUint64(0xfeed))
	assert.ErrorIs(t, err, game.ErrConfirmationTimeout)
	// One initial attempt plus ConfirmRetries retries.
	assert.Len(t, node.calls, 4)
}

func TestRelayExecutor(t *testing.T) {
	var got relayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.Calls[0].Entrypoint == EntryRevealGuess {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"Location already revealed"}`))
			return
		}
		w.Write([]byte(`{"transaction_hash":"0xabc"}`))
	}))
	defer srv.Close()

	r := NewRelayExecutor(srv.URL, "0xa11ce", nil)
	hash, err := r.Execute(context.Background(), []Call{SubmitGuess(actions, 7, wire.FeltFromUint64(9))})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", hash.String())
	assert.Equal(t, "0xa11ce", got.Account)
	assert.Equal(t, []string{"0x7", "0x0", "0x9"}, got.Calls[0].Calldata)
	assert.Equal(t, Selector(EntrySubmitGuess).String(), got.Calls[0].Selector)

	f, err := geo.Encode(paris)
	require.NoError(t, err)
	_, err = r.Execute(context.Background(), []Call{RevealGuess(actions, 7, f, wire.FeltFromUint64(1))})
	assert.ErrorIs(t, err, game.ErrConflict)
}

func TestRelayExecutorRetriesWithSameKey(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		if len(keys) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"transaction_hash":"0xabc"}`))
	}))
	defer srv.Close()

	r := NewRelayExecutor(srv.URL, "0xa11ce", nil)
	r.retryBase = time.Millisecond
	hash, err := r.Execute(context.Background(), []Call{SubmitGuess(actions, 7, wire.FeltFromUint64(9))})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", hash.String())
	require.Len(t, keys, 3)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[0], keys[2])

	first := keys[0]
	keys = nil
	_, err = r.Execute(context.Background(), []Call{SubmitGuess(actions, 7, wire.FeltFromUint64(9))})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotEqual(t, first, keys[0], "each Execute is a new submission")
}

func TestRelayExecutorGivesUpAfterRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRelayExecutor(srv.URL, "0xa11ce", nil)
	r.retryBase = time.Millisecond
	_, err := r.Execute(context.Background(), []Call{SubmitGuess(actions, 7, wire.FeltFromUint64(9))})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay HTTP 503")
	assert.Equal(t, 4, calls)
}
