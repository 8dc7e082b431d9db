package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache is the fast presence tier. Entries are scored by last-seen
// time; readers pass the cutoff so the caller owns the clock.
type PresenceCache interface {
	Touch(ctx context.Context, docID, userID, username string, seen time.Time, ttl time.Duration) error
	Members(ctx context.Context, docID string, cutoff time.Time) ([]PresenceMember, error)
	SetCursor(ctx context.Context, docID, userID string, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, docID, userID string) ([]byte, error)
}

type redisPresence struct {
	rdb redis.UniversalClient
}

type PresenceMember struct {
	UserID   string
	Username string
	LastSeen time.Time
}

var _ PresenceCache = (*redisPresence)(nil)

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// keyTTLFactor keeps the room keys alive a little longer than one member
// TTL so an idle document cleans itself up.
const keyTTLFactor = 3

func (p *redisPresence) Touch(ctx context.Context, docID, userID, username string, seen time.Time, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(seen.UnixMilli()), Member: userID})
	tx.HSet(ctx, namesKey(docID), userID, username)
	tx.Expire(ctx, roomKey(docID), keyTTLFactor*ttl)
	tx.Expire(ctx, namesKey(docID), keyTTLFactor*ttl)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) SetCursor(ctx context.Context, docID, userID string, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(docID, userID), jsonData, ttl).Err()
}

// GetCursor returns nil, nil when no cursor is stored.
func (p *redisPresence) GetCursor(ctx context.Context, docID, userID string) ([]byte, error) {
	b, err := p.rdb.Get(ctx, cursorKey(docID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

// KEYS[1] = roomKey, KEYS[2] = namesKey, ARGV[1] = cutoff (unix ms).
// Members last seen at or before the cutoff are removed from both keys.
var cleanupScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) Members(ctx context.Context, docID string, cutoff time.Time) ([]PresenceMember, error) {
	cut := cutoff.UnixMilli()
	keys := []string{roomKey(docID), namesKey(docID)}
	if err := cleanupScript.Run(ctx, p.rdb, keys, cut).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	alive, err := p.rdb.ZRangeByScoreWithScores(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(cut, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(alive) == 0 {
		return nil, nil
	}

	ids := make([]string, len(alive))
	for i, z := range alive {
		ids[i], _ = z.Member.(string)
	}
	names, err := p.rdb.HMGet(ctx, namesKey(docID), ids...).Result()
	if err != nil {
		return nil, err
	}

	members := make([]PresenceMember, 0, len(alive))
	for i, z := range alive {
		name, _ := names[i].(string)
		members = append(members, PresenceMember{
			UserID:   ids[i],
			Username: name,
			LastSeen: time.UnixMilli(int64(z.Score)),
		})
	}
	return members, nil
}
