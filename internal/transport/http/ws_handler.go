package http

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex int `json:"questionIndex"`
	Option        int `json:"option"`
}

type answerResult struct {
	QuestionIndex int   `json:"questionIndex"`
	Option        int   `json:"option"`
	Correct       bool  `json:"correct"`
	PointsEarned  int   `json:"pointsEarned"`
	TimeTakenMs   int64 `json:"timeTakenMs"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS authenticates the caller, enters them into the requested room and
// relays room events until the socket closes. Dropping the socket counts as a
// disconnect, not a leave.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	if code == "" {
		writeJSONError(w, http.StatusBadRequest, errorPayload{Code: "validation", Message: "missing room"})
		return
	}
	caller, err := h.service.Authenticate(r.Context(), requestToken(r))
	if err != nil {
		writeJSONError(w, statusFor(err), toPayload("ws authenticate", err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	participant, err := h.service.Enter(ctx, caller, code)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: toPayload("ws enter", err)})
		return
	}
	defer h.service.Disconnect(ctx, caller, code)

	events, cancel, err := h.service.Subscribe(ctx, code)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: toPayload("ws subscribe", err)})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// single writer: gorilla connections allow one concurrent writer
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: participant}

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(ev.Type), Payload: ev.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}
	fail := func(op string, err error) {
		reply(outboundMessage[any]{Type: "error", Payload: toPayload(op, err)})
	}

read:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "validation", Message: "invalid answer payload"}})
				continue
			}
			rec, err := h.service.SubmitAnswer(ctx, caller, code, domain.AnswerSubmission{
				QuestionIndex: payload.QuestionIndex,
				Option:        payload.Option,
			})
			if err != nil {
				fail("ws answer", err)
				continue
			}
			reply(outboundMessage[any]{Type: "answerResult", Payload: answerResult{
				QuestionIndex: rec.QuestionIndex,
				Option:        rec.ChosenOption,
				Correct:       rec.Correct,
				PointsEarned:  rec.PointsEarned,
				TimeTakenMs:   rec.TimeTaken.Milliseconds(),
			}})
		case "start":
			if err := h.service.Start(ctx, caller, code); err != nil {
				fail("ws start", err)
			}
		case "end":
			if err := h.service.End(ctx, caller, code); err != nil {
				fail("ws end", err)
			}
		case "leave":
			if err := h.service.Leave(ctx, caller, code); err != nil {
				fail("ws leave", err)
				continue
			}
			reply(outboundMessage[any]{Type: "left", Payload: map[string]string{"roomCode": code}})
			break read
		default:
			reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "validation", Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

// requestToken reads the bearer token from the query string or the
// Authorization header. Browsers cannot set headers on socket upgrades.
func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSONError(w http.ResponseWriter, status int, payload errorPayload) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]errorPayload{"error": payload})
}
