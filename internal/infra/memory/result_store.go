package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-room-service/internal/domain"
)

// ResultStore is an in-process result sink and global standings source.
// Awards are applied at most once per (session, user).
type ResultStore struct {
	loc *time.Location

	mu        sync.RWMutex
	results   map[string]domain.SessionResult
	awarded   map[string]struct{}
	standings map[string]*domain.Standing
	users     map[string]*domain.User
}

func NewResultStore(loc *time.Location) *ResultStore {
	if loc == nil {
		loc = time.UTC
	}
	return &ResultStore{
		loc:       loc,
		results:   make(map[string]domain.SessionResult),
		awarded:   make(map[string]struct{}),
		standings: make(map[string]*domain.Standing),
		users:     make(map[string]*domain.User),
	}
}

func (s *ResultStore) PersistSessionResult(_ context.Context, result domain.SessionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[result.SessionID]; !ok {
		s.results[result.SessionID] = result
	}
	return nil
}

func (s *ResultStore) AwardXP(_ context.Context, award domain.XPAward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := award.SessionID + "|" + award.UserID
	if _, ok := s.awarded[key]; ok {
		return nil
	}
	s.awarded[key] = struct{}{}

	st, ok := s.standings[award.UserID]
	if !ok {
		st = &domain.Standing{UserID: award.UserID, FirstSeen: award.AwardedAt}
		s.standings[award.UserID] = st
	}
	st.DisplayName = award.DisplayName
	st.XP += int64(award.Amount)
	st.TimeTakenMs += award.TimeTaken.Milliseconds()
	st.Level = domain.LevelForXP(st.XP)

	u, ok := s.users[award.UserID]
	if !ok {
		u = &domain.User{ID: award.UserID}
		s.users[award.UserID] = u
	}
	u.DisplayName = award.DisplayName
	u.XP = st.XP
	u.Level = st.Level
	u.Streak = domain.NextStreak(u.Streak, u.LastActive, award.AwardedAt, s.loc)
	u.LastActive = award.AwardedAt
	return nil
}

// TopStandings returns every identity whose XP reaches the k-th highest value.
func (s *ResultStore) TopStandings(_ context.Context, k int) ([]domain.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.Standing, 0, len(s.standings))
	for _, st := range s.standings {
		all = append(all, *st)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].XP > all[j].XP })
	if k <= 0 || len(all) <= k {
		return all, nil
	}
	cut := k
	for cut < len(all) && all[cut].XP == all[k-1].XP {
		cut++
	}
	return all[:cut], nil
}

// RankOf counts identities with strictly more XP. Unknown users rank as 0 XP.
func (s *ResultStore) RankOf(_ context.Context, userID string) (domain.RankResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var xp int64
	if st, ok := s.standings[userID]; ok {
		xp = st.XP
	}
	above := 0
	for _, st := range s.standings {
		if st.XP > xp {
			above++
		}
	}
	return domain.RankResult{UserID: userID, XP: xp, Rank: above + 1, Total: len(s.standings)}, nil
}

// Result returns a persisted room result.
func (s *ResultStore) Result(sessionID string) (domain.SessionResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[sessionID]
	return res, ok
}

// User returns the profile counters updated by awards.
func (s *ResultStore) User(userID string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, false
	}
	return *u, true
}
