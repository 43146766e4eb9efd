package memory

import (
	"context"
	"sync"
)

// RoomIndex reserves room codes within a single process.
type RoomIndex struct {
	mu     sync.Mutex
	owners map[string]string
}

func NewRoomIndex() *RoomIndex {
	return &RoomIndex{owners: make(map[string]string)}
}

func (i *RoomIndex) Reserve(_ context.Context, code, owner string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, taken := i.owners[code]; taken {
		return false, nil
	}
	i.owners[code] = owner
	return true, nil
}

// Refresh reports whether owner still holds code; memory reservations never lapse.
func (i *RoomIndex) Refresh(_ context.Context, code, owner string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.owners[code] == owner, nil
}

func (i *RoomIndex) Release(_ context.Context, code, owner string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.owners[code] == owner {
		delete(i.owners, code)
	}
	return nil
}
