package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// RedisStore keeps sessions as JSON blobs with a retention TTL, plus
// owner and room index sets used to answer the "active session of a kind
// for an owner" lookups at creation time. Terminal sessions stay readable
// until the TTL purges them but are dropped from the active indexes.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to REDIS_URL-style addresses and pings once.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for session store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(rdb, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client (tests use miniredis).
func NewRedisStoreWithClient(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (st *RedisStore) Close() error {
	if st == nil || st.rdb == nil {
		return nil
	}
	return st.rdb.Close()
}

func sessKey(id string) string { return "sess:" + strings.TrimSpace(id) }

func idxOwnerKey(room, owner string, kind Kind) string {
	return "sess:index:owner:" + room + ":" + owner + ":" + string(kind)
}

func idxRoomKey(room string, kind Kind) string {
	return "sess:index:room:" + room + ":" + string(kind)
}

func (st *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := st.rdb.Get(ctx, sessKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (st *RedisStore) Put(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := st.rdb.Set(ctx, sessKey(s.ID), raw, st.ttl).Err(); err != nil {
		return err
	}
	ownerK := idxOwnerKey(s.Room, s.OwnerID, s.Kind)
	roomK := idxRoomKey(s.Room, s.Kind)
	if s.State.Terminal() {
		_ = st.rdb.SRem(ctx, ownerK, s.ID).Err()
		_ = st.rdb.SRem(ctx, roomK, s.ID).Err()
		return nil
	}
	if err := st.rdb.SAdd(ctx, ownerK, s.ID).Err(); err != nil {
		return err
	}
	_ = st.rdb.Expire(ctx, ownerK, st.ttl).Err()
	if err := st.rdb.SAdd(ctx, roomK, s.ID).Err(); err != nil {
		return err
	}
	_ = st.rdb.Expire(ctx, roomK, st.ttl).Err()
	return nil
}

func (st *RedisStore) FindActiveByOwner(ctx context.Context, room, ownerID string, kind Kind) (*Session, error) {
	list, err := st.loadActive(ctx, idxOwnerKey(room, ownerID, kind))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (st *RedisStore) FindActiveByRoom(ctx context.Context, room string, kind Kind) ([]*Session, error) {
	return st.loadActive(ctx, idxRoomKey(room, kind))
}

// loadActive resolves an index set to live sessions, pruning ids whose
// blobs expired or went terminal since they were indexed.
func (st *RedisStore) loadActive(ctx context.Context, indexKey string) ([]*Session, error) {
	ids, err := st.rdb.SMembers(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	var list []*Session
	for _, id := range ids {
		s, gerr := st.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if s == nil || s.State.Terminal() {
			_ = st.rdb.SRem(ctx, indexKey, id).Err()
			continue
		}
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
