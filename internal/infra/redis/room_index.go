package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a reservation only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// refreshScript extends a reservation only when the caller still owns it.
var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// RoomIndex reserves room codes across instances with SET NX. The owner renews
// the TTL while the room is live, so it only bounds how long a crashed
// instance can hold a code.
type RoomIndex struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomIndex(client *redis.Client, ttl time.Duration) *RoomIndex {
	return &RoomIndex{client: client, ttl: ttl}
}

func (i *RoomIndex) Reserve(ctx context.Context, code, owner string) (bool, error) {
	return i.client.SetNX(ctx, roomKey(code), owner, i.ttl).Result()
}

func (i *RoomIndex) Refresh(ctx context.Context, code, owner string) (bool, error) {
	n, err := refreshScript.Run(ctx, i.client, []string{roomKey(code)}, owner, i.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (i *RoomIndex) Release(ctx context.Context, code, owner string) error {
	return releaseScript.Run(ctx, i.client, []string{roomKey(code)}, owner).Err()
}

func roomKey(code string) string {
	return "room:" + code
}
