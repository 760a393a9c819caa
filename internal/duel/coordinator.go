package duel

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/playquickdraw/backend/internal/config"
	"github.com/playquickdraw/backend/internal/models"
)

// DepositVerifier confirms that a deposit transaction actually moved the
// stake to the escrow account. Implementations live outside this package;
// a nil verifier trusts the reference (development mode).
type DepositVerifier interface {
	VerifyDeposit(ctx context.Context, txRef, account string, amount int64) error
}

var matchIDPattern = regexp.MustCompile(`^[A-Z0-9]{4,32}$`)

// NormalizeMatchID case-normalizes a client-supplied match id.
func NormalizeMatchID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Coordinator orchestrates every public match operation against the store.
// It is stateless by construction: concurrent handlers in separate processes
// serialize purely through the store's CAS discipline. Each mutation is
// "read snapshot, advance for elapsed time, apply the mutation, CAS-write,
// re-read and retry on conflict" with a bounded retry budget.
type Coordinator struct {
	store    *Store
	rules    Rules
	verifier DepositVerifier
	cfg      *config.Config

	// now is the authoritative clock; client-supplied instants never drive
	// timing decisions. Swappable for tests.
	now func() time.Time

	// publish, when set, receives every snapshot that survived a write so the
	// live feed can push it. Best-effort by contract.
	publish func(*models.Match)
}

// NewCoordinator wires the coordinator. verifier may be nil (deposits are
// then trusted, which is logged loudly at startup by the caller).
func NewCoordinator(store *Store, rules Rules, verifier DepositVerifier, cfg *config.Config) *Coordinator {
	return &Coordinator{
		store:    store,
		rules:    rules,
		verifier: verifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the coordinator clock (tests).
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// SetPublisher installs the live-feed publisher.
func (c *Coordinator) SetPublisher(fn func(*models.Match)) { c.publish = fn }

// stamp gives m a strictly increasing version; wall-clock ties with the
// previous writer are broken by +1 so CAS versions never repeat.
func (c *Coordinator) stamp(m *models.Match, prev int64) {
	v := c.now().UnixMilli()
	if v <= prev {
		v = prev + 1
	}
	m.UpdatedAt = v
}

func (c *Coordinator) published(m *models.Match) *models.Match {
	if c.publish != nil {
		c.publish(m)
	}
	return m
}

// Create opens a new match in lobby with the creator's deposit attached.
func (c *Coordinator) Create(ctx context.Context, id, creator string, stake int64, feeBps int, paymentRef string) (*models.Match, error) {
	id = NormalizeMatchID(id)
	creator = strings.TrimSpace(creator)
	if !matchIDPattern.MatchString(id) || creator == "" || paymentRef == "" {
		return nil, ErrBadInput
	}
	if stake <= 0 || stake < c.cfg.MinStakeAmount || feeBps < 0 || feeBps > c.cfg.MaxFeeBps {
		return nil, ErrBadStake
	}
	if err := c.verifyDeposit(ctx, paymentRef, creator, stake); err != nil {
		return nil, err
	}

	now := c.now().UnixMilli()
	m := &models.Match{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Stake:     stake,
		FeeBps:    feeBps,
		PlayerA:   creator,
		PaidA:     true,
		TxA:       paymentRef,
		Phase:     models.PhaseLobby,
	}
	if err := c.store.Create(ctx, m); err != nil {
		return nil, err
	}
	log.Printf("[DUEL] Match %s created by %s (stake=%d feeBps=%d)", id, creator, stake, feeBps)
	return c.published(m), nil
}

// Join attaches the opponent and their deposit, arms the ready-room deadline
// and retires the match from the open index.
func (c *Coordinator) Join(ctx context.Context, id, opponent, paymentRef string) (*models.Match, error) {
	id = NormalizeMatchID(id)
	opponent = strings.TrimSpace(opponent)
	if id == "" || opponent == "" || paymentRef == "" {
		return nil, ErrBadInput
	}

	verified := false
	m, err := c.mutate(ctx, id, func(m *models.Match, now time.Time) (bool, error) {
		if m.Finished() || m.Phase != models.PhaseLobby {
			return false, ErrNotJoinable
		}
		if m.Joined() {
			return false, ErrAlreadyJoined
		}
		if m.PlayerA == opponent {
			return false, ErrCannotJoinOwn
		}
		if !m.PaidA {
			return false, ErrCreatorNotPaid
		}
		// Verify once even if the CAS loop replays the mutation.
		if !verified {
			if err := c.verifyDeposit(ctx, paymentRef, opponent, m.Stake); err != nil {
				return false, err
			}
			verified = true
		}
		m.PlayerB = opponent
		m.PaidB = true
		m.TxB = paymentRef
		m.ReadyA, m.ReadyB = false, false
		m.ReadyDeadlineAt = now.UnixMilli() + c.rules.ReadyWindow.Milliseconds()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	c.store.RecordJoin(ctx, m)
	log.Printf("[DUEL] Match %s joined by %s", id, opponent)
	return m, nil
}

// SetReady flips the caller's ready flag; when both flags land (or the
// deadline lapses on a later read) the round starts.
func (c *Coordinator) SetReady(ctx context.Context, id, account string) (*models.Match, error) {
	id = NormalizeMatchID(id)
	account = strings.TrimSpace(account)
	if id == "" || account == "" {
		return nil, ErrBadInput
	}
	return c.mutate(ctx, id, func(m *models.Match, now time.Time) (bool, error) {
		if !m.Joined() {
			return false, ErrNotJoined
		}
		party := m.PartyOf(account)
		if party == "" {
			return false, ErrNotAPlayer
		}
		// Past the lobby (or already finished) readiness is meaningless;
		// return the current record untouched.
		if m.Phase != models.PhaseLobby {
			return false, nil
		}
		switch party {
		case models.PartyA:
			if m.ReadyA {
				return false, nil
			}
			m.ReadyA = true
		case models.PartyB:
			if m.ReadyB {
				return false, nil
			}
			m.ReadyB = true
		}
		// A newly-complete ready pair starts the round within this same write.
		c.rules.Advance(m, now)
		return true, nil
	})
}

// Click arbitrates a click from the given account. clientInstant (unix ms,
// optional, 0 = absent) is a plausibility signal only: when it drifts outside
// the skew clamp around server receipt it is logged, but all timing decisions
// are taken on server time.
func (c *Coordinator) Click(ctx context.Context, id, account string, clientInstant int64) (*models.Match, error) {
	id = NormalizeMatchID(id)
	account = strings.TrimSpace(account)
	if id == "" || account == "" {
		return nil, ErrBadInput
	}
	return c.mutate(ctx, id, func(m *models.Match, now time.Time) (bool, error) {
		if !m.Joined() {
			return false, ErrNotJoined
		}
		party := m.PartyOf(account)
		if party == "" {
			return false, ErrNotAPlayer
		}
		if !m.PaidA || !m.PaidB {
			return false, ErrNotPaid
		}
		if m.Finished() {
			// Terminal state is idempotent: late clicks observe the result.
			return false, nil
		}
		if m.GoAt == 0 {
			return false, ErrNotStarted
		}
		if clientInstant != 0 {
			skew := clientInstant - now.UnixMilli()
			clamp := int64(c.cfg.ClientSkewClampMs)
			if skew > clamp || skew < -clamp {
				log.Printf("[DUEL] Match %s: client click instant off by %dms from server receipt (party %s)", m.ID, skew, party)
			}
		}
		return c.rules.Click(m, party, now), nil
	})
}

// Fetch returns the record with time-driven transitions applied. The
// advanced snapshot is persisted best-effort so that polling alone keeps a
// match moving; if the CAS loses to a concurrent writer the fresher record
// wins anyway.
func (c *Coordinator) Fetch(ctx context.Context, id string) (*models.Match, error) {
	id = NormalizeMatchID(id)
	if id == "" {
		return nil, ErrBadInput
	}
	m, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := c.now()
	if !c.rules.Advance(m, now) {
		return m, nil
	}
	prev := m.UpdatedAt
	c.stamp(m, prev)
	if err := c.store.CompareAndSwap(ctx, m, prev); err != nil {
		if err == ErrVersionConflict {
			// Someone else wrote meanwhile; hand back their record.
			return c.store.Get(ctx, id)
		}
		return nil, err
	}
	return c.published(m), nil
}

// ListOpen returns joinable matches, newest first. Entries whose live record
// disagrees with the index are skipped and pruned; the index is a hint, not
// a source of truth.
func (c *Coordinator) ListOpen(ctx context.Context, limit int) ([]*models.Match, error) {
	if limit <= 0 || limit > 100 {
		limit = c.cfg.OpenListDefaultSize
	}
	ids, err := c.store.OpenIDs(ctx, limit)
	if err != nil {
		return nil, err
	}
	matches, err := c.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	open := make([]*models.Match, 0, len(matches))
	for _, m := range matches {
		if m.Phase != models.PhaseLobby || m.Joined() || !m.PaidA {
			c.store.RemoveOpen(ctx, m.ID)
			continue
		}
		open = append(open, m)
	}
	return open, nil
}

// History returns the account's most recent matches, newest first.
func (c *Coordinator) History(ctx context.Context, account string, limit int) ([]*models.Match, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, ErrBadInput
	}
	ids, err := c.store.HistoryIDs(ctx, account, limit)
	if err != nil {
		return nil, err
	}
	return c.store.GetMany(ctx, ids)
}

// mutate runs one logical operation under the CAS retry discipline. fn sees
// a snapshot that already reflects elapsed time and reports whether it
// changed the record; state-conflict errors from fn abort immediately and
// are never retried. Only version conflicts re-enter the loop.
func (c *Coordinator) mutate(ctx context.Context, id string, fn func(*models.Match, time.Time) (bool, error)) (*models.Match, error) {
	retries := c.cfg.CASMaxRetries
	if retries <= 0 {
		retries = 8
	}
	for attempt := 0; attempt < retries; attempt++ {
		m, err := c.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		now := c.now()
		prev := m.UpdatedAt

		changed := c.rules.Advance(m, now)
		opChanged, err := fn(m, now)
		if err != nil {
			return nil, err
		}
		if !changed && !opChanged {
			return m, nil
		}

		c.stamp(m, prev)
		err = c.store.CompareAndSwap(ctx, m, prev)
		if err == nil {
			return c.published(m), nil
		}
		if err == ErrVersionConflict {
			log.Printf("[DUEL] CAS conflict on match %s (attempt %d), retrying", id, attempt+1)
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("match %s: %w", id, ErrRetriesExhausted)
}

func (c *Coordinator) verifyDeposit(ctx context.Context, txRef, account string, amount int64) error {
	if c.verifier == nil {
		return nil
	}
	if err := c.verifier.VerifyDeposit(ctx, txRef, account, amount); err != nil {
		return fmt.Errorf("%w: tx %s: %v", ErrPaymentUnverified, txRef, err)
	}
	return nil
}
