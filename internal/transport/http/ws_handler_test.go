package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/clock"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
)

var (
	host  = domain.Identity{UserID: "t1", DisplayName: "Ms. Lan", Role: domain.RoleInstructor}
	alice = domain.Identity{UserID: "u1", DisplayName: "Alice", Role: domain.RoleStudent}
	bob   = domain.Identity{UserID: "u2", DisplayName: "Bob", Role: domain.RoleStudent}
)

type tokenTable map[string]domain.Identity

func (t tokenTable) ResolveIdentity(_ context.Context, token string) (domain.Identity, error) {
	id, ok := t[token]
	if !ok {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	return id, nil
}

type testService struct {
	service   *app.QuizService
	finalizer *app.Finalizer
	clock     *clock.Fake
}

func newTestService() testService {
	clk := clock.NewFake(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	results := memory.NewResultStore(time.UTC)
	fin := app.NewFinalizer(results, memory.NewPendingLedger(), app.RetryPolicy{Attempts: 1})
	dir := app.NewDirectory(app.DirectoryOptions{
		Index:     memory.NewRoomIndex(),
		Finalizer: fin,
		Scorer:    app.NewScoreCalculator(app.DefaultDecayFloor),
		Clock:     clk,
		Retention: time.Minute,
	})
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	tokens := tokenTable{"host-token": host, "alice-token": alice, "bob-token": bob}
	service := app.NewQuizService(dir, quizzes, tokens, app.NewLeaderboardEngine(results))
	return testService{service: service, finalizer: fin, clock: clk}
}

func sampleQuiz() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Questions: []domain.Question{
				{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1, Points: 10},
			},
		},
	}
}

func dialRoom(t *testing.T, server *httptest.Server, room, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?room=" + room + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWebSocketAnswerFlow(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	if _, err := env.service.CreateRoom(ctx, host, app.CreateRoomRequest{Code: "MATH1", QuizID: "quiz-1"}); err != nil {
		t.Fatalf("create room: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(env.service).ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialRoom(t, server, "math1", "alice-token")
	defer conn.Close()

	_, payload := readNext(conn, t, "joined")
	if payload["userId"] != "u1" {
		t.Fatalf("expected joined payload for u1, got %v", payload)
	}
	_, payload = readNext(conn, t, "snapshot")
	if payload["state"] != string(domain.StateLobby) || payload["participants"] != float64(1) {
		t.Fatalf("unexpected snapshot %v", payload)
	}

	if err := env.service.Start(ctx, host, "MATH1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, payload = readNext(conn, t, "question_started")
	if _, leaked := payload["correctIndex"]; leaked {
		t.Fatalf("question_started must not reveal the answer: %v", payload)
	}

	answer := map[string]any{
		"type":    "answer",
		"payload": map[string]any{"questionIndex": 0, "option": 1},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	answerSeen := false
	endedSeen := false
	for i := 0; i < 4 && !(answerSeen && endedSeen); i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "answerResult":
			answerSeen = true
			if payload["correct"] != true || payload["pointsEarned"] != float64(10) {
				t.Fatalf("unexpected answer result %v", payload)
			}
		case "session_ended":
			endedSeen = true
		}
	}
	if !answerSeen || !endedSeen {
		t.Fatalf("expected answerResult and session_ended, got answerResult=%v session_ended=%v", answerSeen, endedSeen)
	}
}

func TestWebSocketErrors(t *testing.T) {
	env := newTestService()
	ctx := context.Background()
	if _, err := env.service.CreateRoom(ctx, host, app.CreateRoomRequest{Code: "MATH1", QuizID: "quiz-1"}); err != nil {
		t.Fatalf("create room: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(env.service).ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?room=MATH1&token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	missing := dialRoom(t, server, "NOPE", "alice-token")
	defer missing.Close()
	_, payload := readNext(missing, t, "error")
	if payload["code"] != "not_found" {
		t.Fatalf("expected not_found, got %v", payload)
	}

	conn := dialRoom(t, server, "MATH1", "bob-token")
	defer conn.Close()
	readNext(conn, t, "joined")
	readNext(conn, t, "snapshot")

	if err := conn.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	_, payload = readNext(conn, t, "error")
	if payload["code"] != "forbidden" {
		t.Fatalf("expected forbidden, got %v", payload)
	}

	if err := conn.WriteJSON(map[string]any{"type": "answer", "payload": map[string]any{"questionIndex": 0, "option": 0}}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	_, payload = readNext(conn, t, "error")
	if payload["code"] != "state_conflict" {
		t.Fatalf("expected state_conflict before start, got %v", payload)
	}

	if err := conn.WriteJSON(map[string]any{"type": "leave"}); err != nil {
		t.Fatalf("write leave: %v", err)
	}
	readNext(conn, t, "left")

	snap, err := env.service.RoomSnapshot(ctx, "MATH1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Participants != 0 {
		t.Fatalf("expected empty lobby after leave, got %d", snap.Participants)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}
