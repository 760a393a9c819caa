package duel

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playquickdraw/backend/internal/config"
	"github.com/playquickdraw/backend/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		ReadyWindowSeconds:  30,
		CountdownMs:         3000,
		MinRandomDelayMs:    900,
		MaxRandomDelayMs:    2200,
		MinReactionMs:       120,
		FinalizeWindowMs:    5000,
		ClientSkewClampMs:   1500,
		CASMaxRetries:       8,
		SettleLockSeconds:   60,
		HistoryLimit:        50,
		RecentLimit:         100,
		OpenListDefaultSize: 20,
		MinStakeAmount:      1,
		MaxFeeBps:           10000,
	}
}

// testCoordinator wires a coordinator over miniredis with a controllable
// clock and a pinned 1500ms random delay. Mutate *now to move time.
func testCoordinator(t *testing.T, cfg *config.Config) (*Coordinator, *Store, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewStore(client, cfg.HistoryLimit, cfg.RecentLimit)
	rules := RulesFromConfig(cfg)
	rules.RandomDelay = func() time.Duration { return 1500 * time.Millisecond }

	coord := NewCoordinator(store, rules, nil, cfg)
	now := time.UnixMilli(1_000_000_000)
	coord.SetClock(func() time.Time { return now })
	return coord, store, &now
}

func TestCreateValidation(t *testing.T) {
	coord, _, _ := testCoordinator(t, testConfig())
	ctx := context.Background()

	cases := []struct {
		name    string
		id      string
		account string
		stake   int64
		feeBps  int
		ref     string
		wantErr error
	}{
		{"short id", "AB", "alice", 1000, 300, "tx", ErrBadInput},
		{"bad id chars", "MATCH-0001", "alice", 1000, 300, "tx", ErrBadInput},
		{"missing account", "MATCH01", "", 1000, 300, "tx", ErrBadInput},
		{"missing payment ref", "MATCH01", "alice", 1000, 300, "", ErrBadInput},
		{"zero stake", "MATCH01", "alice", 0, 300, "tx", ErrBadStake},
		{"negative stake", "MATCH01", "alice", -5, 300, "tx", ErrBadStake},
		{"fee over 10000", "MATCH01", "alice", 1000, 10001, "tx", ErrBadStake},
		{"negative fee", "MATCH01", "alice", 1000, -1, "tx", ErrBadStake},
	}
	for _, tc := range cases {
		_, err := coord.Create(ctx, tc.id, tc.account, tc.stake, tc.feeBps, tc.ref)
		assert.ErrorIs(t, err, tc.wantErr, tc.name)
	}
}

func TestCreateNormalizesAndIndexes(t *testing.T) {
	coord, store, _ := testCoordinator(t, testConfig())
	ctx := context.Background()

	m, err := coord.Create(ctx, " match01 ", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)
	assert.Equal(t, "MATCH01", m.ID)
	assert.Equal(t, models.PhaseLobby, m.Phase)
	assert.True(t, m.PaidA)
	assert.False(t, m.Joined())

	_, err = coord.Create(ctx, "MATCH01", "carol", 2000, 0, "tx-c")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	ids, err := store.OpenIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"MATCH01"}, ids)
}

func TestJoinChecks(t *testing.T) {
	coord, _, _ := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Join(ctx, "NOSUCH1", "bob", "tx-b")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)

	_, err = coord.Join(ctx, "MATCH01", "alice", "tx-b")
	assert.ErrorIs(t, err, ErrCannotJoinOwn)

	m, err := coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)
	assert.True(t, m.Joined())
	assert.True(t, m.PaidB)
	assert.NotZero(t, m.ReadyDeadlineAt, "join arms the ready deadline")

	_, err = coord.Join(ctx, "MATCH01", "carol", "tx-c")
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestJoinRetiresMatchFromOpenIndex(t *testing.T) {
	coord, store, _ := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)

	ids, err := store.OpenIDs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSetReadyChecks(t *testing.T) {
	coord, _, _ := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)

	_, err = coord.SetReady(ctx, "MATCH01", "alice")
	assert.ErrorIs(t, err, ErrNotJoined)

	_, err = coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)

	_, err = coord.SetReady(ctx, "MATCH01", "mallory")
	assert.ErrorIs(t, err, ErrNotAPlayer)

	m, err := coord.SetReady(ctx, "MATCH01", "alice")
	require.NoError(t, err)
	assert.True(t, m.ReadyA)
	assert.Equal(t, models.PhaseLobby, m.Phase)

	// Second ready starts the round in the same write.
	m, err = coord.SetReady(ctx, "MATCH01", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCountdown, m.Phase)
	assert.NotZero(t, m.GoAt)
}

func TestClickChecks(t *testing.T) {
	coord, _, _ := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)

	_, err = coord.Click(ctx, "MATCH01", "alice", 0)
	assert.ErrorIs(t, err, ErrNotJoined)

	_, err = coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)

	_, err = coord.Click(ctx, "MATCH01", "mallory", 0)
	assert.ErrorIs(t, err, ErrNotAPlayer)

	// Round not started yet (ready room still open).
	_, err = coord.Click(ctx, "MATCH01", "alice", 0)
	assert.ErrorIs(t, err, ErrNotStarted)
}

// Scenario: create -> join -> both ready -> wait past goAt -> A clicks at
// goAt+50, B at goAt+80. Winner A with reactions 50/80. The plausibility
// threshold is dialed to zero here; it is policy, not an invariant.
func TestFullDuelLowestReactionWins(t *testing.T) {
	cfg := testConfig()
	cfg.MinReactionMs = 0
	coord, _, now := testCoordinator(t, cfg)
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 100000000, 300, "tx-a")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)

	_, err = coord.SetReady(ctx, "MATCH01", "alice")
	require.NoError(t, err)
	m, err := coord.SetReady(ctx, "MATCH01", "bob")
	require.NoError(t, err)
	require.Equal(t, models.PhaseCountdown, m.Phase)
	goAt := m.GoAt

	*now = time.UnixMilli(goAt + 50)
	m, err = coord.Click(ctx, "MATCH01", "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseGo, m.Phase)
	require.NotNil(t, m.ReactionA)
	assert.EqualValues(t, 50, *m.ReactionA)

	*now = time.UnixMilli(goAt + 80)
	m, err = coord.Click(ctx, "MATCH01", "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinished, m.Phase)
	assert.Equal(t, models.PartyA, m.Winner)
	require.NotNil(t, m.ReactionB)
	assert.EqualValues(t, 80, *m.ReactionB)
}

// Scenario: A clicks 10ms before goAt. A false-starts, B wins.
func TestFullDuelFalseStart(t *testing.T) {
	coord, _, now := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)
	_, err = coord.SetReady(ctx, "MATCH01", "alice")
	require.NoError(t, err)
	m, err := coord.SetReady(ctx, "MATCH01", "bob")
	require.NoError(t, err)

	*now = time.UnixMilli(m.GoAt - 10)
	m, err = coord.Click(ctx, "MATCH01", "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinished, m.Phase)
	assert.True(t, m.FalseA)
	assert.Nil(t, m.ReactionA)
	assert.Equal(t, models.PartyB, m.Winner)
}

// Scenario: neither party readies; the round auto-starts when the 30s
// ready-room deadline lapses, surfaced by a plain Fetch.
func TestReadyRoomAutoStartOnPoll(t *testing.T) {
	coord, store, now := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)
	m, err := coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)
	deadline := m.ReadyDeadlineAt

	*now = time.UnixMilli(deadline - 1000)
	m, err = coord.Fetch(ctx, "MATCH01")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseLobby, m.Phase)

	*now = time.UnixMilli(deadline + 1)
	m, err = coord.Fetch(ctx, "MATCH01")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCountdown, m.Phase)

	// The advance was persisted, not just reported: a raw store read agrees.
	raw, err := store.Get(ctx, "MATCH01")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCountdown, raw.Phase)
}

func TestFetchAppliesTimedTransitions(t *testing.T) {
	coord, _, now := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)
	_, err = coord.SetReady(ctx, "MATCH01", "alice")
	require.NoError(t, err)
	m, err := coord.SetReady(ctx, "MATCH01", "bob")
	require.NoError(t, err)

	*now = time.UnixMilli(m.RevealAt + 1)
	m, err = coord.Fetch(ctx, "MATCH01")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseWaitingRandom, m.Phase)

	*now = time.UnixMilli(m.GoAt + 1)
	m, err = coord.Fetch(ctx, "MATCH01")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseGo, m.Phase)
}

func TestForfeitWhenOnlyOneClicks(t *testing.T) {
	coord, _, now := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)
	_, err = coord.SetReady(ctx, "MATCH01", "alice")
	require.NoError(t, err)
	m, err := coord.SetReady(ctx, "MATCH01", "bob")
	require.NoError(t, err)

	*now = time.UnixMilli(m.GoAt + 300)
	m, err = coord.Click(ctx, "MATCH01", "bob", 0)
	require.NoError(t, err)
	require.NotNil(t, m.ReactionB)

	*now = time.UnixMilli(m.FinalizeAt + 1)
	m, err = coord.Fetch(ctx, "MATCH01")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinished, m.Phase)
	assert.Equal(t, models.PartyB, m.Winner)
}

func TestClickOnFinishedMatchIsIdempotent(t *testing.T) {
	coord, _, now := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)
	_, err = coord.SetReady(ctx, "MATCH01", "alice")
	require.NoError(t, err)
	m, err := coord.SetReady(ctx, "MATCH01", "bob")
	require.NoError(t, err)

	*now = time.UnixMilli(m.GoAt - 5)
	m, err = coord.Click(ctx, "MATCH01", "alice", 0)
	require.NoError(t, err)
	require.Equal(t, models.PhaseFinished, m.Phase)
	winner := m.Winner

	// The loser's click arrives late; it observes the result unchanged.
	*now = time.UnixMilli(m.GoAt + 200)
	m, err = coord.Click(ctx, "MATCH01", "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, winner, m.Winner)
	assert.Nil(t, m.ReactionB)
}

func TestListOpenSelfHeals(t *testing.T) {
	coord, store, _ := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)
	m2, err := coord.Create(ctx, "MATCH02", "carol", 1000, 300, "tx-c")
	require.NoError(t, err)

	_, err = coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)

	// Simulate the join racing the deindex: the joined match lingers in the
	// index. Readers must skip it and prune.
	store.addOpen(ctx, &models.Match{ID: "MATCH01", UpdatedAt: m2.UpdatedAt + 1})

	open, err := coord.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "MATCH02", open[0].ID)

	ids, err := store.OpenIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"MATCH02"}, ids, "stale entry pruned")
}

func TestHistoryNewestFirst(t *testing.T) {
	coord, _, now := testCoordinator(t, testConfig())
	ctx := context.Background()

	_, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-1")
	require.NoError(t, err)
	*now = now.Add(time.Second)
	_, err = coord.Create(ctx, "MATCH02", "alice", 1000, 300, "tx-2")
	require.NoError(t, err)

	matches, err := coord.History(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "MATCH02", matches[0].ID)
	assert.Equal(t, "MATCH01", matches[1].ID)

	_, err = coord.History(ctx, "", 10)
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestVersionStampStrictlyIncreases(t *testing.T) {
	coord, store, _ := testCoordinator(t, testConfig())
	ctx := context.Background()

	// The clock is frozen, so consecutive writes collide on wall time and
	// must fall back to +1 increments.
	m, err := coord.Create(ctx, "MATCH01", "alice", 1000, 300, "tx-a")
	require.NoError(t, err)
	v0 := m.UpdatedAt

	m, err = coord.Join(ctx, "MATCH01", "bob", "tx-b")
	require.NoError(t, err)
	assert.Greater(t, m.UpdatedAt, v0)

	m2, err := coord.SetReady(ctx, "MATCH01", "alice")
	require.NoError(t, err)
	assert.Greater(t, m2.UpdatedAt, m.UpdatedAt)

	raw, err := store.Get(ctx, "MATCH01")
	require.NoError(t, err)
	assert.Equal(t, m2.UpdatedAt, raw.UpdatedAt)
}

type rejectingVerifier struct{}

func (rejectingVerifier) VerifyDeposit(ctx context.Context, txRef, account string, amount int64) error {
	return context.DeadlineExceeded
}

func TestUnverifiedDepositRejected(t *testing.T) {
	cfg := testConfig()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewStore(client, cfg.HistoryLimit, cfg.RecentLimit)
	coord := NewCoordinator(store, RulesFromConfig(cfg), rejectingVerifier{}, cfg)

	_, err := coord.Create(context.Background(), "MATCH01", "alice", 1000, 300, "tx-a")
	assert.ErrorIs(t, err, ErrPaymentUnverified)
}
