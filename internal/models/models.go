package models

import (
	"time"
)

// Match phases. A match moves strictly forward through these; finished is
// terminal and immutable except for the payout receipt.
const (
	PhaseLobby         = "lobby"
	PhaseCountdown     = "countdown"
	PhaseWaitingRandom = "waiting_random"
	PhaseGo            = "go"
	PhaseFinished      = "finished"
)

// Party tags used for winner / click attribution.
const (
	PartyA = "A"
	PartyB = "B"
)

// Match is the aggregate record for one duel. It is stored as a single JSON
// value in Redis and mutated only through compare-and-swap on UpdatedAt, so
// every field lives here rather than in relational columns.
//
// All timestamps are unix milliseconds. All money amounts are integers in the
// smallest currency unit; integer math avoids the float rounding issues that
// matter when real stakes move.
type Match struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	// UpdatedAt doubles as the CAS version stamp: every successful write
	// strictly increases it.
	UpdatedAt int64 `json:"updatedAt"`

	// Stake terms, immutable after creation.
	Stake  int64 `json:"stake"`
	FeeBps int   `json:"feeBps"`

	// Parties. PlayerA is the creator; PlayerB is set at most once, on join.
	PlayerA string `json:"playerA"`
	PlayerB string `json:"playerB,omitempty"`

	// Payment evidence: opaque deposit tx references, never cleared.
	PaidA bool   `json:"paidA"`
	PaidB bool   `json:"paidB"`
	TxA   string `json:"txA,omitempty"`
	TxB   string `json:"txB,omitempty"`

	Phase string `json:"phase"`

	// Round timing (unix ms). RevealAt/GoAt are set on round start and only
	// re-set if the round restarts from the ready room, which cannot happen
	// once a winner exists.
	ReadyDeadlineAt int64 `json:"readyDeadlineAt,omitempty"`
	RevealAt        int64 `json:"revealAt,omitempty"`
	GoAt            int64 `json:"goAt,omitempty"`
	FirstClickAt    int64 `json:"firstClickAt,omitempty"`
	FinalizeAt      int64 `json:"finalizeAt,omitempty"`
	FinishedAt      int64 `json:"finishedAt,omitempty"`

	// Ready flags, reset on join and on restart, frozen once a round starts.
	ReadyA bool `json:"readyA"`
	ReadyB bool `json:"readyB"`

	// Outcome. Reaction times are milliseconds past GoAt; nil means
	// no valid click recorded. A party has either a reaction time or a
	// false-start flag, never both.
	ReactionA *int64 `json:"reactionA,omitempty"`
	ReactionB *int64 `json:"reactionB,omitempty"`
	FalseA    bool   `json:"falseA"`
	FalseB    bool   `json:"falseB"`
	Winner    string `json:"winner,omitempty"` // "A" or "B", set iff finished

	// Settlement receipt, the idempotency sentinel: once set it is never
	// cleared or changed, and no further payout may execute.
	PayoutRef string `json:"payoutRef,omitempty"`
	PayoutAt  int64  `json:"payoutAt,omitempty"`
}

// Joined reports whether both parties are on the record.
func (m *Match) Joined() bool {
	return m.PlayerB != ""
}

// Finished reports whether the match reached its terminal phase.
func (m *Match) Finished() bool {
	return m.Phase == PhaseFinished
}

// PartyOf maps an account id to its party tag, or "" if the account is not a
// player of this match.
func (m *Match) PartyOf(account string) string {
	switch account {
	case "":
		return ""
	case m.PlayerA:
		return PartyA
	case m.PlayerB:
		return PartyB
	}
	return ""
}

// AccountOf is the inverse of PartyOf.
func (m *Match) AccountOf(party string) string {
	switch party {
	case PartyA:
		return m.PlayerA
	case PartyB:
		return m.PlayerB
	}
	return ""
}

// NetPot is the amount paid to the winner: both stakes minus the house fee on
// each, floored to integer units.
func (m *Match) NetPot() int64 {
	fee := m.Stake * int64(m.FeeBps) / 10000
	return 2 * (m.Stake - fee)
}

// SettlementRecord is one row of the Postgres payout ledger, written after a
// payout executes. The ledger is a reconciliation surface only; the Match
// record in Redis stays authoritative for outcome and receipt.
type SettlementRecord struct {
	ID          int       `db:"id" json:"id"`
	MatchID     string    `db:"match_id" json:"match_id"`
	Winner      string    `db:"winner" json:"winner"`
	WinnerAcct  string    `db:"winner_account" json:"winner_account"`
	GrossAmount int64     `db:"gross_amount" json:"gross_amount"`
	FeeAmount   int64     `db:"fee_amount" json:"fee_amount"`
	NetAmount   int64     `db:"net_amount" json:"net_amount"`
	PayoutRef   string    `db:"payout_ref" json:"payout_ref"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AdminAccount is an operator account for the admin API.
type AdminAccount struct {
	Username  string    `db:"username" json:"username"`
	TokenHash string    `db:"token_hash" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AdminAudit records one admin API action.
type AdminAudit struct {
	ID        int       `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	IP        string    `db:"ip" json:"ip"`
	Route     string    `db:"route" json:"route"`
	Action    string    `db:"action" json:"action"`
	Success   bool      `db:"success" json:"success"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
