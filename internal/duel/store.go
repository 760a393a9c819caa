package duel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/playquickdraw/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis key layout. Everything is namespaced under "duel:" so the store can
// share a Redis with unrelated data.
const (
	matchKeyPrefix = "duel:match:"
	openIndexKey   = "duel:open"
	recentKey      = "duel:recent"
	histKeyPrefix  = "duel:hist:"
	lockKeyPrefix  = "duel:settle-lock:"
	notifyKeyPrefix = "duel:lb:"
)

func matchKey(id string) string   { return matchKeyPrefix + id }
func historyKey(acct string) string { return histKeyPrefix + acct }

// casScript swaps the stored match record only when its embedded updatedAt
// stamp still equals the version the caller observed at read time. Running
// the comparison inside Redis makes read-version/compare/write one atomic
// step, which is the whole concurrency discipline: two writers racing on the
// same version can never both succeed.
var casScript = redis.NewScript(`
	local cur = redis.call("GET", KEYS[1])
	if not cur then
		return -1
	end
	local obj = cjson.decode(cur)
	if tostring(obj.updatedAt) == ARGV[1] then
		redis.call("SET", KEYS[1], ARGV[2])
		return 1
	end
	return 0
`)

// Store is the keyed optimistic store for match records plus their secondary
// indices. The per-match JSON record is the single source of truth; the
// open-match ranking and the history lists are eventually consistent and are
// never consulted for outcome or money decisions.
type Store struct {
	rdb          *redis.Client
	historyLimit int64
	recentLimit  int64
}

// NewStore wraps a Redis client with the duel key layout.
func NewStore(rdb *redis.Client, historyLimit, recentLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	if recentLimit <= 0 {
		recentLimit = 100
	}
	return &Store{rdb: rdb, historyLimit: int64(historyLimit), recentLimit: int64(recentLimit)}
}

// Get loads one match record. Returns ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, id string) (*models.Match, error) {
	data, err := s.rdb.Get(ctx, matchKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match %s: %w", id, err)
	}
	var m models.Match
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode match %s: %w", id, err)
	}
	return &m, nil
}

// Create writes a brand-new record, failing if the id is taken. The open
// index and history lists are updated best-effort afterwards.
func (s *Store) Create(ctx context.Context, m *models.Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", m.ID, err)
	}
	ok, err := s.rdb.SetNX(ctx, matchKey(m.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create match %s: %w", m.ID, err)
	}
	if !ok {
		return ErrAlreadyExists
	}

	s.addOpen(ctx, m)
	s.pushHistory(ctx, m.PlayerA, m.ID)
	s.pushRecent(ctx, m.ID)
	return nil
}

// CompareAndSwap persists m, which must carry its new updatedAt stamp, iff
// the stored record still has prevVersion. Returns ErrVersionConflict when
// another writer got there first and ErrNotFound when the record vanished.
func (s *Store) CompareAndSwap(ctx context.Context, m *models.Match, prevVersion int64) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", m.ID, err)
	}
	res, err := casScript.Run(ctx, s.rdb,
		[]string{matchKey(m.ID)},
		strconv.FormatInt(prevVersion, 10), string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("cas match %s: %w", m.ID, err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return ErrNotFound
	default:
		return ErrVersionConflict
	}
}

// addOpen ranks the match in the open index by its update stamp (newest first
// on read).
func (s *Store) addOpen(ctx context.Context, m *models.Match) {
	err := s.rdb.ZAdd(ctx, openIndexKey, redis.Z{
		Score:  float64(m.UpdatedAt),
		Member: m.ID,
	}).Err()
	if err != nil {
		log.Printf("[DUEL] Failed to index open match %s: %v", m.ID, err)
	}
}

// RemoveOpen drops the match from the open index. Best-effort: a stale entry
// is skipped by readers, it never corrupts the match itself.
func (s *Store) RemoveOpen(ctx context.Context, id string) {
	if err := s.rdb.ZRem(ctx, openIndexKey, id).Err(); err != nil {
		log.Printf("[DUEL] Failed to deindex open match %s: %v", id, err)
	}
}

// OpenIDs returns up to limit ids from the open index, newest first.
func (s *Store) OpenIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.rdb.ZRevRange(ctx, openIndexKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return ids, nil
}

// pushHistory prepends the match to the account's bounded recency list.
func (s *Store) pushHistory(ctx context.Context, account, id string) {
	if account == "" {
		return
	}
	key := historyKey(account)
	pipe := s.rdb.Pipeline()
	pipe.LPush(ctx, key, id)
	pipe.LTrim(ctx, key, 0, s.historyLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[DUEL] Failed to push history for %s: %v", account, err)
	}
}

func (s *Store) pushRecent(ctx context.Context, id string) {
	pipe := s.rdb.Pipeline()
	pipe.LPush(ctx, recentKey, id)
	pipe.LTrim(ctx, recentKey, 0, s.recentLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[DUEL] Failed to push recent activity: %v", err)
	}
}

// RecordJoin moves a just-joined match out of the open index and into the
// opponent's history list.
func (s *Store) RecordJoin(ctx context.Context, m *models.Match) {
	s.RemoveOpen(ctx, m.ID)
	s.pushHistory(ctx, m.PlayerB, m.ID)
	s.pushRecent(ctx, m.ID)
}

// HistoryIDs returns the account's most recent match ids, newest first.
func (s *Store) HistoryIDs(ctx context.Context, account string, limit int) ([]string, error) {
	if limit <= 0 || int64(limit) > s.historyLimit {
		limit = int(s.historyLimit)
	}
	ids, err := s.rdb.LRange(ctx, historyKey(account), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", account, err)
	}
	return ids, nil
}

// GetMany loads the given ids, silently skipping records that no longer
// exist or fail to decode. Index readers use it to self-heal around stale
// entries.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*models.Match, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = matchKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget matches: %w", err)
	}
	out := make([]*models.Match, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var m models.Match
		if err := json.Unmarshal([]byte(str), &m); err != nil {
			log.Printf("[DUEL] Skipping undecodable match %s: %v", ids[i], err)
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}
