package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-room-service/internal/clock"
	"quiz-room-service/internal/domain"
)

const maxRoomCodeLen = 32

// RoomIndex reserves room codes across service instances. Release and Refresh
// only act on a reservation still held by owner.
type RoomIndex interface {
	Reserve(ctx context.Context, code, owner string) (bool, error)
	Refresh(ctx context.Context, code, owner string) (bool, error)
	Release(ctx context.Context, code, owner string) error
}

// DirectoryOptions wires the collaborators shared by every room.
type DirectoryOptions struct {
	Index     RoomIndex
	Finalizer *Finalizer
	Scorer    ScoreCalculator
	Clock     clock.Clock
	// Retention keeps ended rooms resolvable before Sweep evicts them.
	Retention time.Duration
	// LobbyTTL bounds how long a room may wait in the lobby. Zero disables it.
	LobbyTTL time.Duration
}

// Directory maps room codes to live sessions. Its lock only guards the map
// and is never held while a session method runs.
type Directory struct {
	index     RoomIndex
	finalizer *Finalizer
	scorer    ScoreCalculator
	clock     clock.Clock
	retention time.Duration
	lobbyTTL  time.Duration

	mu       sync.Mutex
	sessions map[string]*roomEntry
	creating map[string]struct{}
	rng      *rand.Rand
}

type roomEntry struct {
	session *Session
	owner   string
}

func NewDirectory(opts DirectoryOptions) *Directory {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Directory{
		index:     opts.Index,
		finalizer: opts.Finalizer,
		scorer:    opts.Scorer,
		clock:     clk,
		retention: opts.Retention,
		lobbyTTL:  opts.LobbyTTL,
		sessions:  make(map[string]*roomEntry),
		creating:  make(map[string]struct{}),
		rng:       rand.New(rand.NewSource(clk.Now().UnixNano())),
	}
}

// NormalizeCode trims and upper-cases a room code and checks its alphabet.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > maxRoomCodeLen {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidRoomCode, code)
	}
	for _, r := range code {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return "", fmt.Errorf("%w: %q", domain.ErrInvalidRoomCode, code)
		}
	}
	return code, nil
}

// GenerateCode returns a short random room code.
func GenerateCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

// Create opens a new room in the lobby. A code held by a room that has not
// ended is rejected; an ended room under the same code is replaced.
func (d *Directory) Create(ctx context.Context, code string, quiz domain.Quiz, creator domain.Identity, cfg domain.RoomConfig) (*Session, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	quiz = quiz.Normalized()
	if err := quiz.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	stale := d.sessions[code]
	if _, busy := d.creating[code]; busy || (stale != nil && !isEnded(stale.session)) {
		d.mu.Unlock()
		return nil, domain.ErrDuplicateRoomCode
	}
	d.creating[code] = struct{}{}
	seed := d.rng.Int63()
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.creating, code)
		d.mu.Unlock()
	}()

	if stale != nil {
		d.release(ctx, code, stale.owner)
	}
	owner := uuid.NewString()
	if d.index != nil {
		ok, err := d.index.Reserve(ctx, code, owner)
		if err != nil {
			return nil, fmt.Errorf("reserve room %s: %w", code, err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRoomCode
		}
	}

	var session *Session
	session = NewSession(SessionOptions{
		ID:      owner,
		Code:    code,
		Quiz:    quiz,
		Creator: creator,
		Config:  cfg,
		Scorer:  d.scorer,
		Clock:   d.clock,
		Seed:    seed,
		OnEnded: func(result domain.SessionResult) {
			if d.finalizer != nil {
				d.finalizer.Finalize(result, session.Publish)
			}
			go d.release(context.Background(), code, owner)
		},
	})

	d.mu.Lock()
	d.sessions[code] = &roomEntry{session: session, owner: owner}
	d.mu.Unlock()

	log.Printf("room %s: created by %s with quiz %s", code, creator.UserID, quiz.ID)
	return session, nil
}

// Lookup returns the session for code, ended sessions included until evicted.
func (d *Directory) Lookup(code string) (*Session, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	entry, ok := d.sessions[code]
	d.mu.Unlock()
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return entry.session, nil
}

// Evict drops an ended session. Live sessions are left in place.
func (d *Directory) Evict(code string) bool {
	code, err := NormalizeCode(code)
	if err != nil {
		return false
	}
	d.mu.Lock()
	entry, ok := d.sessions[code]
	d.mu.Unlock()
	if !ok || !isEnded(entry.session) {
		return false
	}
	return d.remove(code, entry)
}

// Sweep evicts ended sessions older than the retention window, discards
// lobbies older than the lobby TTL and returns how many were removed.
func (d *Directory) Sweep(now time.Time) int {
	removed := 0
	for code, entry := range d.entries() {
		if !isEnded(entry.session) {
			if d.expireLobby(code, entry, now) {
				removed++
			}
			continue
		}
		if now.Sub(entry.session.EndedAt()) < d.retention {
			continue
		}
		if d.remove(code, entry) {
			removed++
		}
	}
	return removed
}

func (d *Directory) expireLobby(code string, entry *roomEntry, now time.Time) bool {
	if d.lobbyTTL <= 0 || now.Sub(entry.session.CreatedAt()) < d.lobbyTTL {
		return false
	}
	if entry.session.Discard() != nil {
		return false
	}
	if !d.remove(code, entry) {
		return false
	}
	d.release(context.Background(), code, entry.owner)
	log.Printf("room %s: lobby expired after %s", code, now.Sub(entry.session.CreatedAt()).Round(time.Second))
	return true
}

// Renew extends the reservation of every room that has not ended. A lapsed
// reservation is taken again; it returns how many codes are now held by
// another owner.
func (d *Directory) Renew(ctx context.Context) int {
	if d.index == nil {
		return 0
	}
	lost := 0
	for code, entry := range d.entries() {
		if isEnded(entry.session) {
			continue
		}
		ok, err := d.index.Refresh(ctx, code, entry.owner)
		if err == nil && !ok {
			ok, err = d.index.Reserve(ctx, code, entry.owner)
		}
		if err != nil {
			log.Printf("room %s: renew reservation: %v", code, err)
			continue
		}
		if !ok {
			lost++
			log.Printf("room %s: reservation held by another instance", code)
		}
	}
	return lost
}

// Run sweeps and renews reservations on every interval until ctx is done.
func (d *Directory) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := d.Sweep(d.clock.Now()); n > 0 {
				log.Printf("directory: evicted %d rooms", n)
			}
			d.Renew(ctx)
		}
	}
}

// Drain force-ends every running room, discards lobbies and waits for the
// results to be handed to the sink.
func (d *Directory) Drain(ctx context.Context) error {
	ended, discarded := 0, 0
	for code, entry := range d.entries() {
		switch entry.session.State() {
		case domain.StateInProgress:
			if err := entry.session.End(domain.ReasonShutdown); err == nil {
				ended++
			}
		case domain.StateLobby:
			if entry.session.Discard() == nil && d.remove(code, entry) {
				d.release(ctx, code, entry.owner)
				discarded++
			}
		}
	}
	log.Printf("directory: drained %d running rooms, discarded %d lobbies", ended, discarded)
	if d.finalizer == nil {
		return nil
	}
	return d.finalizer.Wait(ctx)
}

// Sessions lists every tracked session.
func (d *Directory) Sessions() []*Session {
	entries := d.entries()
	out := make([]*Session, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.session)
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *Directory) entries() map[string]*roomEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]*roomEntry, len(d.sessions))
	for code, entry := range d.sessions {
		out[code] = entry
	}
	return out
}

func (d *Directory) remove(code string, entry *roomEntry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions[code] != entry {
		return false
	}
	delete(d.sessions, code)
	return true
}

func (d *Directory) release(ctx context.Context, code, owner string) {
	if d.index == nil {
		return
	}
	if err := d.index.Release(ctx, code, owner); err != nil {
		log.Printf("room %s: release reservation: %v", code, err)
	}
}

func isEnded(s *Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
