package duel

import (
	"math/rand"
	"time"

	"github.com/playquickdraw/backend/internal/config"
	"github.com/playquickdraw/backend/internal/models"
)

// Rules is the pure decision logic for a duel round. It operates on an
// in-memory Match snapshot and a caller-supplied instant, and does no I/O:
// the coordinator replays it freely inside CAS retry loops, so every
// function here must be deterministic for a given (record, now) pair except
// for the injected random delay draw.
type Rules struct {
	ReadyWindow    time.Duration // ready-room deadline after both deposits land
	Countdown      time.Duration // fixed reveal countdown
	MinRandomDelay time.Duration // random extra delay before "go", lower bound
	MaxRandomDelay time.Duration // random extra delay before "go", upper bound
	MinReaction    time.Duration // faster reactions are judged automation
	FinalizeWindow time.Duration // forfeit deadline armed by the first valid click

	// RandomDelay draws the per-round extra delay. Tests pin it; the default
	// draws uniformly from [MinRandomDelay, MaxRandomDelay].
	RandomDelay func() time.Duration
}

// RulesFromConfig builds the standard rule set from configuration.
func RulesFromConfig(cfg *config.Config) Rules {
	r := Rules{
		ReadyWindow:    time.Duration(cfg.ReadyWindowSeconds) * time.Second,
		Countdown:      time.Duration(cfg.CountdownMs) * time.Millisecond,
		MinRandomDelay: time.Duration(cfg.MinRandomDelayMs) * time.Millisecond,
		MaxRandomDelay: time.Duration(cfg.MaxRandomDelayMs) * time.Millisecond,
		MinReaction:    time.Duration(cfg.MinReactionMs) * time.Millisecond,
		FinalizeWindow: time.Duration(cfg.FinalizeWindowMs) * time.Millisecond,
	}
	return r
}

func (r Rules) randomDelay() time.Duration {
	if r.RandomDelay != nil {
		return r.RandomDelay()
	}
	span := r.MaxRandomDelay - r.MinRandomDelay
	if span <= 0 {
		return r.MinRandomDelay
	}
	return r.MinRandomDelay + time.Duration(rand.Int63n(int64(span)+1))
}

// Advance applies every time-driven transition due at now and reports whether
// the record changed. It is idempotent: once a target phase is reached,
// re-applying it is a no-op.
func (r Rules) Advance(m *models.Match, now time.Time) bool {
	if m.Finished() {
		return false
	}
	nowMs := now.UnixMilli()
	changed := false

	// Ready room: both parties paid inside lobby.
	if m.Phase == models.PhaseLobby && m.Joined() && m.PaidA && m.PaidB {
		if m.ReadyDeadlineAt == 0 {
			m.ReadyDeadlineAt = nowMs + r.ReadyWindow.Milliseconds()
			changed = true
		}
		if (m.ReadyA && m.ReadyB) || nowMs >= m.ReadyDeadlineAt {
			r.startRound(m, nowMs)
			changed = true
		}
	}

	if m.Phase == models.PhaseCountdown && m.RevealAt != 0 && nowMs >= m.RevealAt {
		m.Phase = models.PhaseWaitingRandom
		changed = true
	}
	if (m.Phase == models.PhaseWaitingRandom || m.Phase == models.PhaseCountdown) &&
		m.GoAt != 0 && nowMs >= m.GoAt {
		m.Phase = models.PhaseGo
		changed = true
	}

	// Forfeit: the finalize deadline passed and exactly one party clicked.
	// Neither-clicked and both-clicked need no action here (nothing happened,
	// or the dual-click branch already finished the match).
	if m.FinalizeAt != 0 && nowMs >= m.FinalizeAt && !m.Finished() {
		switch {
		case m.ReactionA != nil && m.ReactionB == nil:
			r.finish(m, models.PartyA, nowMs)
			changed = true
		case m.ReactionB != nil && m.ReactionA == nil:
			r.finish(m, models.PartyB, nowMs)
			changed = true
		}
	}

	return changed
}

// startRound begins a fresh round from the ready room: outcome state is
// cleared and the reveal/go instants are drawn anew.
func (r Rules) startRound(m *models.Match, nowMs int64) {
	m.ReactionA, m.ReactionB = nil, nil
	m.FalseA, m.FalseB = false, false
	m.Winner = ""
	m.FirstClickAt, m.FinalizeAt, m.FinishedAt = 0, 0, 0
	m.ReadyA, m.ReadyB = false, false

	m.RevealAt = nowMs + r.Countdown.Milliseconds()
	m.GoAt = m.RevealAt + r.randomDelay().Milliseconds()
	m.Phase = models.PhaseCountdown
}

// Click arbitrates a click by the given party at the server receipt instant.
// The caller must have applied Advance first so the phase reflects elapsed
// time. Returns whether the record changed; a repeat click from a party that
// already has an outcome is a no-op, not an error.
func (r Rules) Click(m *models.Match, party string, now time.Time) bool {
	if m.Finished() || m.GoAt == 0 {
		return false
	}
	switch m.Phase {
	case models.PhaseCountdown, models.PhaseWaitingRandom, models.PhaseGo:
	default:
		return false
	}
	if r.hasOutcome(m, party) {
		return false
	}

	nowMs := now.UnixMilli()

	// Before "go": immediate false start, opponent wins.
	if nowMs < m.GoAt {
		r.falseStart(m, party, nowMs)
		return true
	}

	reaction := nowMs - m.GoAt
	// Implausibly fast reactions are judged automation and resolved exactly
	// like a premature click.
	if reaction < r.MinReaction.Milliseconds() {
		r.falseStart(m, party, nowMs)
		return true
	}

	if party == models.PartyA {
		m.ReactionA = &reaction
	} else {
		m.ReactionB = &reaction
	}

	if m.FirstClickAt == 0 {
		m.FirstClickAt = nowMs
		m.FinalizeAt = nowMs + r.FinalizeWindow.Milliseconds()
	}

	if m.ReactionA != nil && m.ReactionB != nil {
		// Lower reaction wins; ties go to the creator.
		if *m.ReactionA <= *m.ReactionB {
			r.finish(m, models.PartyA, nowMs)
		} else {
			r.finish(m, models.PartyB, nowMs)
		}
	} else {
		m.Phase = models.PhaseGo
	}
	return true
}

func (r Rules) hasOutcome(m *models.Match, party string) bool {
	if party == models.PartyA {
		return m.ReactionA != nil || m.FalseA
	}
	return m.ReactionB != nil || m.FalseB
}

func (r Rules) falseStart(m *models.Match, party string, nowMs int64) {
	if party == models.PartyA {
		m.FalseA = true
		r.finish(m, models.PartyB, nowMs)
	} else {
		m.FalseB = true
		r.finish(m, models.PartyA, nowMs)
	}
}

func (r Rules) finish(m *models.Match, winner string, nowMs int64) {
	m.Winner = winner
	m.FinishedAt = nowMs
	m.Phase = models.PhaseFinished
}
