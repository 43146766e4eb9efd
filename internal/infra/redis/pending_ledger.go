package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quiz-room-service/internal/domain"
)

const (
	pendingKey       = "results:pending"
	defaultTakeLimit = 100
)

// PendingLedger keeps unpersisted results as a JSON list.
type PendingLedger struct {
	client *redis.Client
}

func NewPendingLedger(client *redis.Client) *PendingLedger {
	return &PendingLedger{client: client}
}

func (l *PendingLedger) MarkPending(ctx context.Context, pending domain.PendingResult) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode pending result: %w", err)
	}
	return l.client.RPush(ctx, pendingKey, raw).Err()
}

// TakePending pops up to limit results atomically.
func (l *PendingLedger) TakePending(ctx context.Context, limit int) ([]domain.PendingResult, error) {
	if limit <= 0 {
		limit = defaultTakeLimit
	}
	stop := int64(limit) - 1
	var rng *redis.StringSliceCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rng = pipe.LRange(ctx, pendingKey, 0, stop)
		pipe.LTrim(ctx, pendingKey, stop+1, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.PendingResult, 0, len(rng.Val()))
	for _, raw := range rng.Val() {
		var p domain.PendingResult
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return out, fmt.Errorf("decode pending result: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
