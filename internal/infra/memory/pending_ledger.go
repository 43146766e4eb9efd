package memory

import (
	"context"
	"sync"

	"quiz-room-service/internal/domain"
)

// PendingLedger keeps unpersisted results in FIFO order.
type PendingLedger struct {
	mu    sync.Mutex
	items []domain.PendingResult
}

func NewPendingLedger() *PendingLedger {
	return &PendingLedger{}
}

func (l *PendingLedger) MarkPending(_ context.Context, pending domain.PendingResult) error {
	l.mu.Lock()
	l.items = append(l.items, pending)
	l.mu.Unlock()
	return nil
}

func (l *PendingLedger) TakePending(_ context.Context, limit int) ([]domain.PendingResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.items) {
		limit = len(l.items)
	}
	out := append([]domain.PendingResult(nil), l.items[:limit]...)
	l.items = l.items[limit:]
	return out, nil
}

func (l *PendingLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
