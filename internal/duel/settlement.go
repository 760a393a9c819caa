package duel

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/playquickdraw/backend/internal/config"
	"github.com/playquickdraw/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

// PayoutExecutor transfers the pot to the winner and returns a receipt
// reference. Implementations MUST be idempotent per match id: if a crash
// lands between the transfer and the receipt persist, the retried settlement
// must not move money twice. The matchID parameter is the idempotency key.
type PayoutExecutor interface {
	SendPayout(ctx context.Context, matchID, account string, amount int64) (string, error)
}

// SettlementSink records an executed payout outside the hot path (ledger
// row, leaderboard ping). Both are best-effort: a sink failure is logged and
// never unwinds or blocks the settlement.
type SettlementSink interface {
	RecordSettlement(ctx context.Context, m *models.Match)
}

// leaderboardNotifyTTL bounds the dedup marker so a match is announced at
// most once even across retried settlements.
const leaderboardNotifyTTL = 7 * 24 * time.Hour

// SettleResult is the outcome of one settlement attempt.
type SettleResult struct {
	Match *models.Match
	// Locked means another attempt holds the settlement lock; try later.
	Locked bool
	// AlreadySettled means the receipt existed before this attempt.
	AlreadySettled bool
}

// Settler drives exactly-once settlement. Many concurrent triggers (multiple
// tabs polling a finished match, retries after errors) must collapse into a
// single payout: the distributed lock serializes attempts, the post-lock
// re-read decides, and the persisted receipt is the durable sentinel that
// makes every later attempt a no-op.
type Settler struct {
	store    *Store
	rdb      *redis.Client
	executor PayoutExecutor
	sinks    []SettlementSink
	cfg      *config.Config
	now      func() time.Time
}

// NewSettler wires the settlement coordinator.
func NewSettler(store *Store, rdb *redis.Client, executor PayoutExecutor, cfg *config.Config, sinks ...SettlementSink) *Settler {
	return &Settler{
		store:    store,
		rdb:      rdb,
		executor: executor,
		sinks:    sinks,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the settler clock (tests).
func (s *Settler) SetClock(now func() time.Time) { s.now = now }

// Settle attempts to pay out the given match.
func (s *Settler) Settle(ctx context.Context, id string) (*SettleResult, error) {
	id = NormalizeMatchID(id)
	if id == "" {
		return nil, ErrBadInput
	}

	lockTTL := time.Duration(s.cfg.SettleLockSeconds) * time.Second
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	lock, err := AcquireSettleLock(ctx, s.rdb, id, lockTTL)
	if err == ErrLockBusy {
		// Expected contention. Report the current record and "try later".
		m, gerr := s.store.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return &SettleResult{Match: m, Locked: true}, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := lock.Release(ctx); rerr != nil {
			// TTL expiry reclaims it.
			log.Printf("[SETTLE] Match %s: lock release failed: %v", id, rerr)
		}
	}()

	// Never trust a pre-lock read: re-read now that we are the only settler.
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.PayoutRef != "" {
		return &SettleResult{Match: m, AlreadySettled: true}, nil
	}
	if !m.Finished() {
		return nil, ErrNotFinished
	}
	if m.Winner == "" {
		return nil, ErrNoWinner
	}
	winnerAcct := m.AccountOf(m.Winner)
	if winnerAcct == "" {
		return nil, ErrWinnerAccountMissing
	}

	net := m.NetPot()
	receipt, err := s.executor.SendPayout(ctx, m.ID, winnerAcct, net)
	if err != nil {
		// Nothing moved (executor contract); the match stays unpaid and a
		// later Settle retries cleanly.
		return nil, fmt.Errorf("payout match %s: %w", m.ID, err)
	}

	// Durability boundary: the receipt must land immediately after the
	// transfer. Outcome fields are frozen once finished, so the only
	// concurrent writers are time-advance no-ops; retry the CAS until the
	// receipt sticks.
	if err := s.persistReceipt(ctx, m.ID, receipt); err != nil {
		// The transfer happened but the sentinel didn't persist. Surface
		// loudly; the executor's per-match idempotency is the backstop for
		// the retry that follows.
		log.Printf("[SETTLE] Match %s: payout %s executed but receipt persist failed: %v", m.ID, receipt, err)
		return nil, err
	}

	settled, err := s.store.Get(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	log.Printf("[SETTLE] Match %s settled: %d to %s (receipt %s)", m.ID, net, winnerAcct, receipt)

	for _, sink := range s.sinks {
		sink.RecordSettlement(ctx, settled)
	}
	s.notifyLeaderboard(ctx, settled)

	return &SettleResult{Match: settled}, nil
}

// persistReceipt CAS-writes the receipt onto the finished record.
func (s *Settler) persistReceipt(ctx context.Context, id, receipt string) error {
	retries := s.cfg.CASMaxRetries
	if retries <= 0 {
		retries = 8
	}
	for attempt := 0; attempt < retries; attempt++ {
		m, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if m.PayoutRef != "" {
			// A previous attempt's write landed after all.
			return nil
		}
		prev := m.UpdatedAt
		m.PayoutRef = receipt
		m.PayoutAt = s.now().UnixMilli()
		v := s.now().UnixMilli()
		if v <= prev {
			v = prev + 1
		}
		m.UpdatedAt = v
		err = s.store.CompareAndSwap(ctx, m, prev)
		if err == nil {
			return nil
		}
		if err == ErrVersionConflict {
			continue
		}
		return err
	}
	return fmt.Errorf("persist receipt for %s: %w", id, ErrRetriesExhausted)
}

// notifyLeaderboard announces the result at most once per match. The SetNX
// marker dedupes across retries and processes. Every failure is logged and
// swallowed; the leaderboard is strictly best-effort.
func (s *Settler) notifyLeaderboard(ctx context.Context, m *models.Match) {
	notifier := LeaderboardNotifier
	if notifier == nil {
		return
	}
	ok, err := s.rdb.SetNX(ctx, notifyKeyPrefix+m.ID, "1", leaderboardNotifyTTL).Result()
	if err != nil {
		log.Printf("[LEADERBOARD] Match %s: dedup marker failed: %v", m.ID, err)
		return
	}
	if !ok {
		return
	}
	if err := notifier.NotifyResult(ctx, m); err != nil {
		log.Printf("[LEADERBOARD] Match %s: notify failed: %v", m.ID, err)
	}
}

// ResultNotifier is the external leaderboard collaborator.
type ResultNotifier interface {
	NotifyResult(ctx context.Context, m *models.Match) error
}

// LeaderboardNotifier is the package-level notifier, set at startup when a
// leaderboard service is configured.
var LeaderboardNotifier ResultNotifier

// SetLeaderboardNotifier installs the package-level notifier.
func SetLeaderboardNotifier(n ResultNotifier) {
	LeaderboardNotifier = n
}
