package app

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quiz-room-service/internal/clock"
	"quiz-room-service/internal/domain"
)

func TestSessionConcurrentJoinsRespectCapacity(t *testing.T) {
	s := newTestSession(clock.NewFake(t0), 2, domain.RoomConfig{MaxParticipants: 5}, nil)

	var joined atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Join(ident(fmt.Sprintf("u%02d", i)))
			switch {
			case err == nil:
				joined.Add(1)
			case errors.Is(err, domain.ErrCapacityExceeded):
			default:
				t.Errorf("join u%02d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if joined.Load() != 5 || len(s.Participants()) != 5 {
		t.Fatalf("expected exactly 5 joins, got %d (%d registered)", joined.Load(), len(s.Participants()))
	}
}

func TestSessionConcurrentDuplicateAnswers(t *testing.T) {
	s := newTestSession(clock.NewFake(t0), 2, domain.RoomConfig{MaxParticipants: 5}, nil)
	for i := 0; i < 5; i++ {
		if _, err := s.Join(ident(fmt.Sprintf("u%d", i))); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	events, cancel := s.Subscribe()
	defer cancel()
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var mu sync.Mutex
	accepted := make(map[string]int)
	var wg sync.WaitGroup
	for _, p := range s.Participants() {
		for attempt := 0; attempt < 30; attempt++ {
			wg.Add(1)
			go func(userID string, option int) {
				defer wg.Done()
				_, err := s.SubmitAnswer(userID, domain.AnswerSubmission{QuestionIndex: 0, Option: option})
				switch {
				case err == nil:
					mu.Lock()
					accepted[userID]++
					mu.Unlock()
				case errors.Is(err, domain.ErrDuplicateAnswer), errors.Is(err, domain.ErrQuestionNotActive):
				default:
					t.Errorf("submit %s: unexpected error %v", userID, err)
				}
			}(p.UserID, attempt%4)
		}
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Leaderboard()
		}()
	}
	wg.Wait()

	for _, p := range s.Participants() {
		if accepted[p.UserID] != 1 {
			t.Fatalf("%s: expected one accepted answer, got %d", p.UserID, accepted[p.UserID])
		}
		if len(p.Answers) != 1 || p.Answers[0].QuestionIndex != 0 || p.Answers[0].Missed {
			t.Fatalf("%s: expected one answered record, got %+v", p.UserID, p.Answers)
		}
		if p.Score != p.Answers[0].PointsEarned {
			t.Fatalf("%s: score %d does not match records", p.UserID, p.Score)
		}
	}

	snap := s.Snapshot()
	if snap.State != domain.StateInProgress || snap.CurrentPosition != 1 {
		t.Fatalf("expected exactly one advance, got %+v", snap)
	}
	closed := 0
	for len(events) > 0 {
		if ev := <-events; ev.Type == domain.EventQuestionClosed {
			closed++
		}
	}
	if closed != 1 {
		t.Fatalf("expected one question_closed event, got %d", closed)
	}
}

func TestSessionAnswersRacingTheDeadline(t *testing.T) {
	quiz := testQuiz(1)
	quiz.Questions[0].TimeLimitSeconds = 1
	ended := make(chan domain.SessionResult, 2)
	s := NewSession(SessionOptions{
		Code:    "RACE",
		Quiz:    quiz,
		Creator: domain.Identity{UserID: "host", Role: domain.RoleInstructor},
		Config:  domain.RoomConfig{MaxParticipants: 8},
		Scorer:  NewScoreCalculator(DefaultDecayFloor),
		Clock:   clock.Real{},
		OnEnded: func(res domain.SessionResult) { ended <- res },
	})
	for i := 0; i < 8; i++ {
		if _, err := s.Join(ident(fmt.Sprintf("u%d", i))); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var mu sync.Mutex
	accepted := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(900*time.Millisecond + time.Duration(i)*25*time.Millisecond)
			userID := fmt.Sprintf("u%d", i)
			_, err := s.SubmitAnswer(userID, domain.AnswerSubmission{QuestionIndex: 0, Option: 1})
			switch {
			case err == nil:
				mu.Lock()
				accepted[userID] = true
				mu.Unlock()
			case errors.Is(err, domain.ErrDeadlineExpired), errors.Is(err, domain.ErrSessionClosed):
			default:
				t.Errorf("submit %s: unexpected error %v", userID, err)
			}
		}(i)
	}
	wg.Wait()

	var res domain.SessionResult
	select {
	case res = <-ended:
	case <-time.After(3 * time.Second):
		t.Fatalf("room did not end after the deadline")
	}
	select {
	case extra := <-ended:
		t.Fatalf("room ended twice: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	for _, p := range res.Participants {
		if len(p.Answers) != 1 {
			t.Fatalf("%s: expected one record, got %+v", p.UserID, p.Answers)
		}
		rec := p.Answers[0]
		if rec.Missed == accepted[p.UserID] {
			t.Fatalf("%s: accepted=%v but record missed=%v", p.UserID, accepted[p.UserID], rec.Missed)
		}
		if p.Score != rec.PointsEarned {
			t.Fatalf("%s: score %d does not match records", p.UserID, p.Score)
		}
	}
}
