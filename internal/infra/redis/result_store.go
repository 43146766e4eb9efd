package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-room-service/internal/domain"
)

const (
	dayLayout = "2006-01-02"

	standingsKey = "xp:standings"
	timeKey      = "xp:time_ms"
	firstSeenKey = "xp:first_seen"
	namesKey     = "xp:names"
)

// awardScript applies one award at most once per (session, user): the SADD on
// the session's award set guards the increments. The streak compares local
// calendar days passed in as ARGV[7] (award day) and ARGV[8] (the day before).
var awardScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('EXPIRE', KEYS[1], ARGV[6])
redis.call('ZINCRBY', KEYS[2], ARGV[2], ARGV[1])
redis.call('HINCRBY', KEYS[3], ARGV[1], ARGV[3])
redis.call('HSETNX', KEYS[4], ARGV[1], ARGV[4])
redis.call('HSET', KEYS[5], ARGV[1], ARGV[5])

local last = redis.call('HGET', KEYS[6], 'last_day')
local streak = 0
local raw = redis.call('HGET', KEYS[6], 'streak')
if raw then
	streak = tonumber(raw)
end
if last and last > ARGV[7] then
	return 1
end
if last == ARGV[7] then
	if streak < 1 then
		streak = 1
	end
elseif last == ARGV[8] then
	streak = streak + 1
else
	streak = 1
end
redis.call('HSET', KEYS[6], 'streak', streak, 'last_day', ARGV[7], 'last_active', ARGV[4])
return 1
`)

// ResultStore keeps global XP standings in a sorted set, with cumulative time,
// first-seen and display names in side hashes and a per-user streak hash.
// Finished rooms are kept as JSON.
type ResultStore struct {
	client    *redis.Client
	retention time.Duration
	loc       *time.Location
}

// NewResultStore keeps room results and award markers for retention. Streak
// days are counted in loc.
func NewResultStore(client *redis.Client, retention time.Duration, loc *time.Location) *ResultStore {
	if loc == nil {
		loc = time.UTC
	}
	return &ResultStore{client: client, retention: retention, loc: loc}
}

func (s *ResultStore) PersistSessionResult(ctx context.Context, result domain.SessionResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode session result: %w", err)
	}
	return s.client.SetNX(ctx, resultKey(result.SessionID), raw, s.retention).Err()
}

func (s *ResultStore) AwardXP(ctx context.Context, award domain.XPAward) error {
	keys := []string{awardedKey(award.SessionID), standingsKey, timeKey, firstSeenKey, namesKey, userKey(award.UserID)}
	y, m, d := award.AwardedAt.In(s.loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ttl := int64(s.retention / time.Second)
	if ttl <= 0 {
		ttl = int64((7 * 24 * time.Hour) / time.Second)
	}
	return awardScript.Run(ctx, s.client, keys,
		award.UserID,
		award.Amount,
		award.TimeTaken.Milliseconds(),
		award.AwardedAt.UnixMilli(),
		award.DisplayName,
		ttl,
		day.Format(dayLayout),
		day.AddDate(0, 0, -1).Format(dayLayout),
	).Err()
}

// User assembles a profile from the standings and the streak hash.
func (s *ResultStore) User(ctx context.Context, userID string) (domain.User, error) {
	pipe := s.client.Pipeline()
	xp := pipe.ZScore(ctx, standingsKey, userID)
	name := pipe.HGet(ctx, namesKey, userID)
	profile := pipe.HMGet(ctx, userKey(userID), "streak", "last_active")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.User{}, err
	}
	if errors.Is(xp.Err(), redis.Nil) {
		return domain.User{}, domain.ErrNotFound
	}
	u := domain.User{
		ID:          userID,
		DisplayName: name.Val(),
		XP:          int64(xp.Val()),
		Level:       domain.LevelForXP(int64(xp.Val())),
		Streak:      int(asInt(profile.Val()[0])),
	}
	if ms := asInt(profile.Val()[1]); ms > 0 {
		u.LastActive = time.UnixMilli(ms).UTC()
	}
	return u, nil
}

// TopStandings returns the k highest-XP identities plus anyone tied with the k-th.
func (s *ResultStore) TopStandings(ctx context.Context, k int) ([]domain.Standing, error) {
	top, err := s.client.ZRevRangeWithScores(ctx, standingsKey, 0, int64(k)-1).Result()
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(top))
	xp := make(map[string]int64, len(top))
	for _, z := range top {
		id := z.Member.(string)
		members = append(members, id)
		xp[id] = int64(z.Score)
	}
	if len(top) == k && k > 0 {
		boundary := strconv.FormatFloat(top[k-1].Score, 'f', -1, 64)
		tied, err := s.client.ZRangeByScore(ctx, standingsKey, &redis.ZRangeBy{Min: boundary, Max: boundary}).Result()
		if err != nil {
			return nil, err
		}
		for _, id := range tied {
			if _, seen := xp[id]; !seen {
				members = append(members, id)
				xp[id] = int64(top[k-1].Score)
			}
		}
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	times := pipe.HMGet(ctx, timeKey, members...)
	seen := pipe.HMGet(ctx, firstSeenKey, members...)
	names := pipe.HMGet(ctx, namesKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]domain.Standing, 0, len(members))
	for i, id := range members {
		out = append(out, domain.Standing{
			UserID:      id,
			DisplayName: asString(names.Val()[i]),
			XP:          xp[id],
			TimeTakenMs: asInt(times.Val()[i]),
			FirstSeen:   time.UnixMilli(asInt(seen.Val()[i])).UTC(),
		})
	}
	return out, nil
}

// RankOf counts identities with strictly more XP. Unknown users rank as 0 XP.
func (s *ResultStore) RankOf(ctx context.Context, userID string) (domain.RankResult, error) {
	score, err := s.client.ZScore(ctx, standingsKey, userID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.RankResult{}, err
	}
	pipe := s.client.Pipeline()
	above := pipe.ZCount(ctx, standingsKey, "("+strconv.FormatFloat(score, 'f', -1, 64), "+inf")
	total := pipe.ZCard(ctx, standingsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.RankResult{}, err
	}
	return domain.RankResult{
		UserID: userID,
		XP:     int64(score),
		Rank:   int(above.Val()) + 1,
		Total:  int(total.Val()),
	}, nil
}

// Result loads a persisted room result.
func (s *ResultStore) Result(ctx context.Context, sessionID string) (domain.SessionResult, error) {
	raw, err := s.client.Get(ctx, resultKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionResult{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.SessionResult{}, err
	}
	var res domain.SessionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.SessionResult{}, fmt.Errorf("decode session result: %w", err)
	}
	return res, nil
}

func resultKey(sessionID string) string {
	return "results:session:" + sessionID
}

func userKey(userID string) string {
	return "xp:user:" + userID
}

func awardedKey(sessionID string) string {
	return "xp:awarded:" + sessionID
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
