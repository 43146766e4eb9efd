package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"quiz-room-service/internal/domain"
)

// StandingsStore serves the global XP leaderboard from persisted results.
type StandingsStore interface {
	// TopStandings returns at least the k highest-XP identities (more when the
	// k-th place is tied), in any order.
	TopStandings(ctx context.Context, k int) ([]domain.Standing, error)
	// RankOf returns 1 + count(identities with strictly greater XP) and the total
	// number of ranked identities.
	RankOf(ctx context.Context, userID string) (domain.RankResult, error)
}

// LeaderboardEngine derives ranked, read-only views.
type LeaderboardEngine struct {
	standings StandingsStore
}

func NewLeaderboardEngine(standings StandingsStore) *LeaderboardEngine {
	return &LeaderboardEngine{standings: standings}
}

// Room ranks the live participants of a session.
func (e *LeaderboardEngine) Room(session *Session) domain.Leaderboard {
	return session.Leaderboard()
}

// Global returns the top k identities by cumulative XP.
func (e *LeaderboardEngine) Global(ctx context.Context, k int) ([]domain.Standing, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: leaderboard size must be positive", domain.ErrValidation)
	}
	standings, err := e.standings.TopStandings(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("load standings: %w", err)
	}
	return RankStandings(standings, k), nil
}

// Rank returns the global position of one identity.
func (e *LeaderboardEngine) Rank(ctx context.Context, userID string) (domain.RankResult, error) {
	res, err := e.standings.RankOf(ctx, userID)
	if err != nil {
		return domain.RankResult{}, fmt.Errorf("rank %s: %w", userID, err)
	}
	return res, nil
}

// RankParticipants orders participants by score desc, cumulative time asc,
// then join order, and numbers them 1..n.
func RankParticipants(roomCode string, participants []domain.Participant, now time.Time) domain.Leaderboard {
	ps := append([]domain.Participant(nil), participants...)
	totals := make(map[string]time.Duration, len(ps))
	for _, p := range ps {
		totals[p.UserID] = p.TotalTime()
	}
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if totals[a.UserID] != totals[b.UserID] {
			return totals[a.UserID] < totals[b.UserID]
		}
		return a.JoinSeq < b.JoinSeq
	})

	entries := make([]domain.LeaderboardEntry, 0, len(ps))
	for i, p := range ps {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			TimeTakenMs: totals[p.UserID].Milliseconds(),
		})
	}
	return domain.Leaderboard{RoomCode: roomCode, Entries: entries, UpdatedAt: now}
}

// RankStandings orders standings by XP desc, cumulative time asc, first seen
// asc, user id asc, trims to k and assigns competition ranks, so equal XP
// shares a rank just like the single-identity rank query.
func RankStandings(standings []domain.Standing, k int) []domain.Standing {
	out := append([]domain.Standing(nil), standings...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.XP != b.XP {
			return a.XP > b.XP
		}
		if a.TimeTakenMs != b.TimeTakenMs {
			return a.TimeTakenMs < b.TimeTakenMs
		}
		if !a.FirstSeen.Equal(b.FirstSeen) {
			return a.FirstSeen.Before(b.FirstSeen)
		}
		return a.UserID < b.UserID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	for i := range out {
		if i > 0 && out[i].XP == out[i-1].XP {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
		out[i].Level = domain.LevelForXP(out[i].XP)
	}
	return out
}
