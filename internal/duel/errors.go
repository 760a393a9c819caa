package duel

import "errors"

// Operation failures. Input and state-conflict errors are client-facing and
// never auto-retried; version conflicts are internal and absorbed by the
// coordinator's retry loop.
var (
	ErrBadInput      = errors.New("bad input")
	ErrBadStake      = errors.New("bad stake")
	ErrNotFound      = errors.New("match not found")
	ErrAlreadyExists = errors.New("match already exists")
	ErrAlreadyJoined = errors.New("match already joined")
	ErrCannotJoinOwn = errors.New("cannot join own match")
	ErrCreatorNotPaid = errors.New("creator deposit missing")
	ErrNotJoinable   = errors.New("match not joinable")
	ErrNotJoined     = errors.New("match not joined")
	ErrNotAPlayer    = errors.New("account is not a player of this match")
	ErrNotStarted    = errors.New("round not started")
	ErrNotPaid       = errors.New("deposit missing")

	// ErrPaymentUnverified means the treasury could not confirm a deposit
	// transaction; the caller may retry with a corrected reference.
	ErrPaymentUnverified = errors.New("deposit unverified")

	// Settlement guards.
	ErrNotFinished          = errors.New("match not finished")
	ErrNoWinner             = errors.New("match has no winner")
	ErrWinnerAccountMissing = errors.New("winner account missing")

	// ErrVersionConflict means another writer won the CAS race; the caller
	// must re-read and retry against the new version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrRetriesExhausted means the bounded CAS retry budget ran out under
	// sustained contention.
	ErrRetriesExhausted = errors.New("retries exhausted")
)
