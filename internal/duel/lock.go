package duel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy means another settlement attempt currently holds the lock.
// This is expected contention, not a failure: callers report "try later".
var ErrLockBusy = errors.New("settlement lock busy")

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock re-acquired by someone else is never released from under them.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// SettleLock is a short-lived distributed mutex keyed by match id. It exists
// only to serialize the payout step; match mutation itself relies on CAS, not
// on this lock. TTL expiry is the backstop if a holder dies before Release.
type SettleLock struct {
	rdb   *redis.Client
	key   string
	token string
}

// AcquireSettleLock tries a single set-if-absent acquisition. Returns
// ErrLockBusy when the lock is held.
func AcquireSettleLock(ctx context.Context, rdb *redis.Client, matchID string, ttl time.Duration) (*SettleLock, error) {
	key := lockKeyPrefix + matchID
	token := uuid.NewString()
	ok, err := rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire settle lock %s: %w", matchID, err)
	}
	if !ok {
		return nil, ErrLockBusy
	}
	return &SettleLock{rdb: rdb, key: key, token: token}, nil
}

// Release drops the lock if we still hold it. Failures are tolerable; the
// TTL reclaims the lock either way.
func (l *SettleLock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release settle lock: %w", err)
	}
	if res == 0 {
		return errors.New("settle lock no longer held")
	}
	return nil
}
