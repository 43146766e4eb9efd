package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"quiz-room-service/internal/domain"
)

// ResultSink persists finished rooms and grants XP. Implementations must be
// idempotent per (room code, user id) since delivery is at-least-once.
type ResultSink interface {
	PersistSessionResult(ctx context.Context, result domain.SessionResult) error
	AwardXP(ctx context.Context, award domain.XPAward) error
}

// PendingLedger parks results whose delivery exhausted its retries.
type PendingLedger interface {
	MarkPending(ctx context.Context, pending domain.PendingResult) error
	TakePending(ctx context.Context, limit int) ([]domain.PendingResult, error)
}

// RetryPolicy bounds delivery attempts per sink call.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

// Publisher forwards a status event to a room's subscribers.
type Publisher func(eventType domain.EventType, payload any)

// Finalizer delivers each ended room to the result sink in the background.
type Finalizer struct {
	sink    ResultSink
	pending PendingLedger
	policy  RetryPolicy
	now     func() time.Time

	// inflight counts running deliveries; idle is closed whenever it is zero.
	mu       sync.Mutex
	inflight int
	idle     chan struct{}
}

func NewFinalizer(sink ResultSink, pending PendingLedger, policy RetryPolicy) *Finalizer {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Finalizer{sink: sink, pending: pending, policy: policy, now: time.Now, idle: idle}
}

// Finalize starts delivery of result and returns immediately. When delivery
// fails for good the result is parked and publish receives a degraded notice.
func (f *Finalizer) Finalize(result domain.SessionResult, publish Publisher) {
	f.begin()
	go func() {
		defer f.finish()
		ctx := context.Background()
		err := f.deliver(ctx, result)
		if err == nil {
			log.Printf("room %s: results persisted for %d participants", result.RoomCode, len(result.Participants))
			return
		}
		log.Printf("room %s: results pending persistence: %v", result.RoomCode, err)
		f.park(ctx, result, err)
		if publish != nil {
			publish(domain.EventFinalizationDegraded, domain.FinalizationDegraded{Reason: "results pending persistence"})
		}
	}()
}

// Wait blocks until no delivery is running or ctx is done. Deliveries started
// while Wait is blocked are waited for too.
func (f *Finalizer) Wait(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Finalizer) begin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight == 0 {
		f.idle = make(chan struct{})
	}
	f.inflight++
}

func (f *Finalizer) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	if f.inflight == 0 {
		close(f.idle)
	}
}

// Reconcile replays up to batch parked results. It returns how many were
// delivered; failures are parked again.
func (f *Finalizer) Reconcile(ctx context.Context, batch int) (int, error) {
	if f.pending == nil {
		return 0, nil
	}
	items, err := f.pending.TakePending(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("take pending results: %w", err)
	}
	delivered := 0
	for _, item := range items {
		if err := f.deliver(ctx, item.Result); err != nil {
			log.Printf("room %s: reconcile failed: %v", item.Result.RoomCode, err)
			f.park(ctx, item.Result, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (f *Finalizer) deliver(ctx context.Context, result domain.SessionResult) error {
	if err := f.retry(ctx, func() error { return f.sink.PersistSessionResult(ctx, result) }); err != nil {
		return fmt.Errorf("persist session result: %w", err)
	}
	for _, award := range domain.AwardsFor(result) {
		award := award
		if err := f.retry(ctx, func() error { return f.sink.AwardXP(ctx, award) }); err != nil {
			return fmt.Errorf("award xp to %s: %w", award.UserID, err)
		}
	}
	return nil
}

func (f *Finalizer) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.policy.InitialBackoff
	b.MaxInterval = f.policy.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.policy.Attempts-1)), ctx))
}

func (f *Finalizer) park(ctx context.Context, result domain.SessionResult, cause error) {
	if f.pending == nil {
		return
	}
	err := f.pending.MarkPending(ctx, domain.PendingResult{Result: result, Cause: cause.Error(), MarkedAt: f.now()})
	if err != nil {
		log.Printf("room %s: could not park pending results: %v", result.RoomCode, err)
	}
}
