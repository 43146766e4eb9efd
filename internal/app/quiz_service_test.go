package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/clock"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
)

var (
	instructor = domain.Identity{UserID: "t1", DisplayName: "Ms. Lan", Role: domain.RoleInstructor}
	other      = domain.Identity{UserID: "t2", DisplayName: "Other", Role: domain.RoleInstructor}
	admin      = domain.Identity{UserID: "root", DisplayName: "Admin", Role: domain.RoleAdmin}
	alice      = domain.Identity{UserID: "u1", DisplayName: "Alice", Role: domain.RoleStudent}
	bob        = domain.Identity{UserID: "u2", DisplayName: "Bob", Role: domain.RoleStudent}
)

type testEnv struct {
	service *app.QuizService
	clock   *clock.Fake
	results *memory.ResultStore
	fin     *app.Finalizer
}

type tokenTable map[string]domain.Identity

func (t tokenTable) ResolveIdentity(_ context.Context, token string) (domain.Identity, error) {
	id, ok := t[token]
	if !ok {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	return id, nil
}

func newTestEnv() testEnv {
	clk := clock.NewFake(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
	results := memory.NewResultStore(time.UTC)
	fin := app.NewFinalizer(results, memory.NewPendingLedger(), app.RetryPolicy{Attempts: 1})
	dir := app.NewDirectory(app.DirectoryOptions{
		Index:     memory.NewRoomIndex(),
		Finalizer: fin,
		Scorer:    app.NewScoreCalculator(app.DefaultDecayFloor),
		Clock:     clk,
		Retention: time.Minute,
	})
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Questions: []domain.Question{
				{Text: "Select the right option", Options: []string{"Wrong", "Right"}, CorrectIndex: 1, Points: 10},
				{Text: "And again", Options: []string{"Right", "Wrong", "Wrong"}, CorrectIndex: 0, Points: 20},
			},
		},
		"quiz-2": {
			ID:        "quiz-2",
			Questions: []domain.Question{{Text: "Only one", Options: []string{"x", "y"}, CorrectIndex: 0}},
		},
	}), 5*time.Minute)
	tokens := tokenTable{"host-token": instructor, "alice-token": alice}
	service := app.NewQuizService(dir, quizzes, tokens, app.NewLeaderboardEngine(results))
	return testEnv{service: service, clock: clk, results: results, fin: fin}
}

func TestRoomScenarioAwardsGlobalXP(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	svc := env.service

	room, err := svc.CreateRoom(ctx, instructor, app.CreateRoomRequest{Code: "math1", QuizID: "quiz-1"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.RoomCode != "MATH1" || room.Config.MaxParticipants != domain.DefaultMaxParticipants {
		t.Fatalf("unexpected room %+v", room)
	}
	for _, id := range []domain.Identity{alice, bob} {
		if _, err := svc.Join(ctx, id, "MATH1"); err != nil {
			t.Fatalf("join %s: %v", id.UserID, err)
		}
	}
	if err := svc.Start(ctx, instructor, "MATH1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	env.clock.Advance(6 * time.Second)
	if rec, err := svc.SubmitAnswer(ctx, alice, "MATH1", domain.AnswerSubmission{QuestionIndex: 0, Option: 1}); err != nil || !rec.Correct {
		t.Fatalf("alice answer: %+v %v", rec, err)
	}
	if _, err := svc.SubmitAnswer(ctx, bob, "MATH1", domain.AnswerSubmission{QuestionIndex: 0, Option: 0}); err != nil {
		t.Fatalf("bob answer: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, alice, "MATH1", domain.AnswerSubmission{QuestionIndex: 1, Option: 0}); err != nil {
		t.Fatalf("alice second answer: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, bob, "MATH1", domain.AnswerSubmission{QuestionIndex: 1, Option: 0}); err != nil {
		t.Fatalf("bob second answer: %v", err)
	}

	snap, _ := svc.RoomSnapshot(ctx, "MATH1")
	if snap.State != domain.StateEnded || snap.EndReason != domain.ReasonCompleted {
		t.Fatalf("expected completed room, got %+v", snap)
	}
	lb, _ := svc.RoomLeaderboard(ctx, "MATH1")
	if lb.Entries[0].UserID != "u1" || lb.Entries[0].Score != 29 || lb.Entries[1].Score != 20 {
		t.Fatalf("unexpected room leaderboard %+v", lb.Entries)
	}

	if err := env.fin.Wait(ctx); err != nil {
		t.Fatalf("wait for finalization: %v", err)
	}
	top, err := svc.GlobalLeaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "u1" || top[0].XP != 29 {
		t.Fatalf("unexpected global standings %+v", top)
	}
	rank, _ := svc.GlobalRank(ctx, "u2")
	if rank.Rank != 2 || rank.Total != 2 {
		t.Fatalf("unexpected rank %+v", rank)
	}
}

func TestRoomAuthorization(t *testing.T) {
	ctx := context.Background()
	svc := newTestEnv().service

	if _, err := svc.CreateRoom(ctx, alice, app.CreateRoomRequest{QuizID: "quiz-1"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("students cannot host, got %v", err)
	}
	room, err := svc.CreateRoom(ctx, instructor, app.CreateRoomRequest{QuizID: "quiz-1"})
	if err != nil {
		t.Fatalf("create with generated code: %v", err)
	}
	if len(room.RoomCode) != 6 {
		t.Fatalf("expected generated 6 character code, got %q", room.RoomCode)
	}
	_, _ = svc.Join(ctx, alice, room.RoomCode)

	if err := svc.Start(ctx, other, room.RoomCode); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("another instructor cannot start, got %v", err)
	}
	if err := svc.Start(ctx, alice, room.RoomCode); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("student cannot start, got %v", err)
	}
	if err := svc.UpdateRoomQuiz(ctx, instructor, room.RoomCode, "quiz-2"); err != nil {
		t.Fatalf("swap quiz in lobby: %v", err)
	}
	if snap, _ := svc.RoomSnapshot(ctx, room.RoomCode); snap.QuizID != "quiz-2" || snap.TotalQuestions != 1 {
		t.Fatalf("quiz not swapped: %+v", snap)
	}
	if err := svc.Start(ctx, admin, room.RoomCode); err != nil {
		t.Fatalf("admin can start any room: %v", err)
	}
	if err := svc.End(ctx, instructor, room.RoomCode); err != nil {
		t.Fatalf("creator can end: %v", err)
	}
	if _, err := svc.CreateRoom(ctx, instructor, app.CreateRoomRequest{QuizID: "missing"}); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestEnterResumesStartedRoom(t *testing.T) {
	ctx := context.Background()
	svc := newTestEnv().service
	_, _ = svc.CreateRoom(ctx, instructor, app.CreateRoomRequest{Code: "R1", QuizID: "quiz-1"})
	_, _ = svc.Enter(ctx, alice, "R1")
	_ = svc.Start(ctx, instructor, "R1")

	svc.Disconnect(ctx, alice, "R1")
	p, err := svc.Enter(ctx, alice, "R1")
	if err != nil || !p.Active {
		t.Fatalf("returning participant should resume: %+v %v", p, err)
	}
	if _, err := svc.Enter(ctx, bob, "R1"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("newcomers cannot enter a started room, got %v", err)
	}
	if _, err := svc.Enter(ctx, bob, "NOPE"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	svc := newTestEnv().service
	_, _ = svc.CreateRoom(ctx, instructor, app.CreateRoomRequest{Code: "R2", QuizID: "quiz-1"})

	ch, cancel, err := svc.Subscribe(ctx, "R2")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()
	<-ch // initial snapshot

	_, _ = svc.Join(ctx, alice, "R2")
	update := <-ch
	change, ok := update.Payload.(domain.ParticipantChange)
	if update.Type != domain.EventParticipantJoined || !ok || change.UserID != "u1" {
		t.Fatalf("unexpected event %+v", update)
	}
}

func TestAuthenticate(t *testing.T) {
	svc := newTestEnv().service
	id, err := svc.Authenticate(context.Background(), "alice-token")
	if err != nil || id.UserID != "u1" {
		t.Fatalf("authenticate: %+v %v", id, err)
	}
	if _, err := svc.Authenticate(context.Background(), ""); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestCreateRoomUsesServiceDefaults(t *testing.T) {
	ctx := context.Background()
	svc := newTestEnv().service
	svc.SetRoomDefaults(domain.RoomConfig{MaxParticipants: 3, ShowLeaderboard: true})

	room, err := svc.CreateRoom(ctx, instructor, app.CreateRoomRequest{Code: "D1", QuizID: "quiz-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.Config.MaxParticipants != 3 || !room.Config.ShowLeaderboard {
		t.Fatalf("defaults not applied: %+v", room.Config)
	}

	room, err = svc.CreateRoom(ctx, instructor, app.CreateRoomRequest{Code: "D2", QuizID: "quiz-1", Config: &domain.RoomConfig{RandomizeQuestions: true}})
	if err != nil {
		t.Fatalf("create with config: %v", err)
	}
	if room.Config.MaxParticipants != 3 || room.Config.ShowLeaderboard || !room.Config.RandomizeQuestions {
		t.Fatalf("explicit config not honored: %+v", room.Config)
	}
}
