package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-room-service/internal/domain"
)

func TestRankParticipantsTieBreaks(t *testing.T) {
	rec := func(ms int) []domain.AnswerRecord {
		return []domain.AnswerRecord{{TimeTaken: time.Duration(ms) * time.Millisecond}}
	}
	ps := []domain.Participant{
		{UserID: "slow", JoinSeq: 1, Score: 20, Answers: rec(9000)},
		{UserID: "late-joiner", JoinSeq: 4, Score: 20, Answers: rec(4000)},
		{UserID: "fast", JoinSeq: 3, Score: 20, Answers: rec(4000)},
		{UserID: "top", JoinSeq: 2, Score: 30, Answers: rec(20000)},
	}
	lb := RankParticipants("R", ps, time.Unix(0, 0))

	want := []string{"top", "fast", "late-joiner", "slow"}
	for i, id := range want {
		e := lb.Entries[i]
		if e.UserID != id || e.Rank != i+1 {
			t.Fatalf("position %d: expected %s, got %+v", i, id, e)
		}
	}
	if lb.Entries[1].TimeTakenMs != 4000 {
		t.Fatalf("unexpected time %d", lb.Entries[1].TimeTakenMs)
	}
	if ps[0].UserID != "slow" {
		t.Fatalf("input slice must not be reordered")
	}
}

type stubStandings struct {
	standings []domain.Standing
	err       error
}

func (s stubStandings) TopStandings(context.Context, int) ([]domain.Standing, error) {
	return s.standings, s.err
}

func (s stubStandings) RankOf(_ context.Context, userID string) (domain.RankResult, error) {
	return domain.RankResult{UserID: userID, Rank: 1, Total: len(s.standings)}, s.err
}

func TestGlobalLeaderboardRanks(t *testing.T) {
	first := time.Unix(100, 0)
	engine := NewLeaderboardEngine(stubStandings{standings: []domain.Standing{
		{UserID: "c", XP: 150, TimeTakenMs: 900, FirstSeen: first},
		{UserID: "a", XP: 300, FirstSeen: first},
		{UserID: "b", XP: 150, TimeTakenMs: 500, FirstSeen: first},
		{UserID: "d", XP: 150, TimeTakenMs: 500, FirstSeen: first.Add(-time.Hour)},
	}})

	top, err := engine.Global(context.Background(), 3)
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("expected 3, got %d", len(top))
	}
	gotIDs := []string{top[0].UserID, top[1].UserID, top[2].UserID}
	if gotIDs[0] != "a" || gotIDs[1] != "d" || gotIDs[2] != "b" {
		t.Fatalf("unexpected order %v", gotIDs)
	}
	if top[0].Rank != 1 || top[1].Rank != 2 || top[2].Rank != 2 {
		t.Fatalf("equal xp should share a rank, got %d %d %d", top[0].Rank, top[1].Rank, top[2].Rank)
	}
	if top[0].Level != domain.LevelForXP(300) {
		t.Fatalf("level not derived")
	}

	if _, err := engine.Global(context.Background(), 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	broken := NewLeaderboardEngine(stubStandings{err: errors.New("down")})
	if _, err := broken.Global(context.Background(), 5); err == nil {
		t.Fatalf("expected store error")
	}
}
