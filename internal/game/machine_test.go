package game

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice Address = "0xa11ce"
	bob   Address = "0xb0b"
	carol Address = "0xc4401"
)

var t0 = time.Unix(1_700_000_000, 0)

func fixedNow() time.Time { return t0 }

func u64(v uint64) *uint64 { return &v }

func activeGame() *Game {
	return &Game{
		ID:      7,
		Player1: alice,
		Player2: bob,
		State:   Active,
		EndTime: t0.Add(90 * time.Second),
		Guesses: []PlayerGuess{{Player: alice}, {Player: bob}},
	}
}

func bothSubmitted() *Game {
	g := activeGame()
	g.Guesses[0].HasSubmitted = true
	g.Guesses[1].HasSubmitted = true
	return g
}

func TestAwaitingPlayer(t *testing.T) {
	g := &Game{ID: 7, Player1: alice, State: AwaitingPlayer}

	d, err := NewMachine(7, Options{Player: alice, Now: fixedNow}).Observe(g)
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)

	d, err = NewMachine(7, Options{Player: bob, Now: fixedNow}).Observe(g)
	require.NoError(t, err)
	assert.Equal(t, ActionJoin, d.Action)
}

func TestActiveAsksForGuessUntilSubmitted(t *testing.T) {
	m := NewMachine(7, Options{Player: bob, Now: fixedNow})
	g := activeGame()

	d, err := m.Observe(g)
	require.NoError(t, err)
	assert.Equal(t, ActionSubmitGuess, d.Action)
	assert.False(t, d.Auto)
	assert.Equal(t, 90*time.Second, d.Remaining)
	assert.False(t, d.Expired)

	g = activeGame()
	g.Guesses[1].HasSubmitted = true
	d, err = m.Observe(g)
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)
}

func TestSubmissionPastDeadlineStillAttempted(t *testing.T) {
	m := NewMachine(7, Options{Player: bob, Now: func() time.Time { return t0.Add(5 * time.Minute) }})
	d, err := m.Observe(activeGame())
	require.NoError(t, err)
	assert.Equal(t, ActionSubmitGuess, d.Action)
	assert.True(t, d.Expired)
	assert.Zero(t, d.Remaining)
}

func TestRevealLocationRequestedExactlyOnce(t *testing.T) {
	m := NewMachine(7, Options{Player: alice, Now: fixedNow})

	var reveals int
	for i := 0; i < 5; i++ {
		d, err := m.Observe(bothSubmitted())
		require.NoError(t, err)
		assert.Equal(t, Active, d.Observed)
		assert.Equal(t, Revealing, d.Phase)
		if d.Action == ActionRevealLocation {
			reveals++
			assert.True(t, d.Auto)
		}
	}
	assert.Equal(t, 1, reveals)

	m.Rearm(ActionRevealLocation)
	d, err := m.Observe(bothSubmitted())
	require.NoError(t, err)
	assert.Equal(t, ActionRevealLocation, d.Action)
}

func TestRevealLocationOnlyByCreatorByDefault(t *testing.T) {
	d, err := NewMachine(7, Options{Player: bob, Now: fixedNow}).Observe(bothSubmitted())
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)

	d, err = NewMachine(7, Options{Player: bob, Now: fixedNow, AnyParticipantRevealsLocation: true}).Observe(bothSubmitted())
	require.NoError(t, err)
	assert.Equal(t, ActionRevealLocation, d.Action)
}

func TestRevealGuessAfterLocation(t *testing.T) {
	m := NewMachine(7, Options{Player: bob, Now: fixedNow})
	g := bothSubmitted()
	g.State = Revealing
	g.LocationRevealed = true

	d, err := m.Observe(g)
	require.NoError(t, err)
	assert.Equal(t, ActionRevealGuess, d.Action)

	d, err = m.Observe(g)
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)

	g2 := bothSubmitted()
	g2.State = Revealing
	g2.LocationRevealed = true
	g2.Guesses[1].HasRevealed = true
	d, err = m.Observe(g2)
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)
	assert.Equal(t, "waiting for the other reveal", d.Reason)
}

func TestSpectatorNeverActs(t *testing.T) {
	m := NewMachine(7, Options{Player: carol, Now: fixedNow})
	for _, g := range []*Game{activeGame(), bothSubmitted()} {
		d, err := m.Observe(g)
		require.NoError(t, err)
		assert.Equal(t, ActionNone, d.Action)
	}
}

func TestStateMonotonicity(t *testing.T) {
	m := NewMachine(7, Options{Player: alice, Now: fixedNow})

	revealing := bothSubmitted()
	revealing.State = Revealing
	revealing.LocationRevealed = true

	finished := bothSubmitted()
	finished.State = Finished
	finished.LocationRevealed = true
	finished.Guesses[0].HasRevealed, finished.Guesses[0].Score = true, u64(343_530)
	finished.Guesses[1].HasRevealed, finished.Guesses[1].Score = true, u64(5_570_242)

	// Polls arrive out of order: an indexer lagging behind a ledger read.
	seq := []*Game{
		{ID: 7, Player1: alice, State: AwaitingPlayer},
		activeGame(),
		revealing,
		activeGame(),
		bothSubmitted(),
		finished,
		revealing,
	}
	var phases []State
	stale := 0
	for _, g := range seq {
		d, err := m.Observe(g)
		require.NoError(t, err)
		phases = append(phases, d.Phase)
		if d.Stale {
			stale++
		}
	}
	for i := 1; i < len(phases); i++ {
		assert.LessOrEqual(t, phases[i-1], phases[i], "phase regressed at %d: %v", i, phases)
	}
	assert.Equal(t, 3, stale)

	last, phase, ok := m.Projection()
	require.True(t, ok)
	assert.Equal(t, Finished, phase)
	assert.Same(t, finished, last)
}

func TestFinishedOutcome(t *testing.T) {
	g := bothSubmitted()
	g.State = Finished
	g.Guesses[0].Score = u64(343_530)
	g.Guesses[1].Score = u64(5_570_242)
	g.Winner = alice

	d, err := NewMachine(7, Options{Player: bob, Now: fixedNow}).Observe(g)
	require.NoError(t, err)
	assert.Equal(t, ActionShowResults, d.Action)
	require.NotNil(t, d.Outcome)
	assert.Equal(t, string(alice), d.Outcome.Winner)

	out, err := Outcome(g)
	require.NoError(t, err)
	assert.Equal(t, string(alice), out.Winner)

	_, err = Outcome(activeGame())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestObserveRejectsOtherGame(t *testing.T) {
	_, err := NewMachine(8, Options{Player: alice}).Observe(activeGame())
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	err := Wrap(7, ActionRevealGuess, fmt.Errorf("secrets: load: %w", ErrSecretNotFound))
	var ae *ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, uint64(7), ae.GameID)
	assert.Equal(t, ActionRevealGuess, ae.Action)
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "game 7: reveal_guess")

	assert.True(t, IsTransient(errors.New("connection refused")))
	assert.False(t, IsTransient(Wrap(7, ActionRevealLocation, ErrConflict)))
	assert.Nil(t, Wrap(7, ActionJoin, nil))
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "1:30", FormatRemaining(90*time.Second))
	assert.Equal(t, "0:05", FormatRemaining(5*time.Second))
}
