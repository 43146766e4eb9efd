package app

import (
	"math/rand"
	"sync"
	"time"

	"quiz-room-service/internal/clock"
	"quiz-room-service/internal/domain"
)

// SessionOptions configures a new room session.
type SessionOptions struct {
	// ID identifies this room instance; codes are reused after a room ends.
	ID string

	Code    string
	Quiz    domain.Quiz
	Creator domain.Identity
	Config  domain.RoomConfig
	Scorer  ScoreCalculator
	Clock   clock.Clock

	// Seed fixes the question permutation when the room randomizes order.
	Seed int64

	// OnEnded receives the final result exactly once. It runs under the session
	// lock and must not block.
	OnEnded func(domain.SessionResult)
}

// Session is one room: lobby -> in progress -> ended. Every mutation runs
// under mu, which makes capacity, duplicate-answer and advance checks atomic
// with respect to each other.
type Session struct {
	id      string
	code    string
	creator domain.Identity
	cfg     domain.RoomConfig
	scorer  ScoreCalculator
	clock   clock.Clock
	seed    int64
	onEnded func(domain.SessionResult)

	mu          sync.Mutex
	quiz        domain.Quiz
	state       domain.SessionState
	createdAt   time.Time
	startedAt   time.Time
	endedAt     time.Time
	endReason   string
	discarded   bool
	order       []int
	position    int
	broadcastAt time.Time
	deadline    time.Time
	timer       clock.Timer
	registry    *ParticipantRegistry
	subscribers map[chan domain.Event]struct{}
	done        chan struct{}
}

func NewSession(opts SessionOptions) *Session {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Session{
		id:          opts.ID,
		code:        opts.Code,
		quiz:        opts.Quiz.Normalized(),
		creator:     opts.Creator,
		cfg:         opts.Config,
		scorer:      opts.Scorer,
		clock:       clk,
		seed:        opts.Seed,
		onEnded:     opts.OnEnded,
		state:       domain.StateLobby,
		createdAt:   clk.Now(),
		position:    -1,
		registry:    NewParticipantRegistry(opts.Config.MaxParticipants),
		subscribers: make(map[chan domain.Event]struct{}),
		done:        make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Code() string { return s.code }

func (s *Session) Creator() domain.Identity { return s.creator }

func (s *Session) Config() domain.RoomConfig { return s.cfg }

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// EndedAt is zero until the session ends.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Done is closed when the session reaches Ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Join registers an identity while the room is in the lobby.
func (s *Session) Join(id domain.Identity) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.registry.Register(id, s.clock.Now())
	if err != nil {
		return domain.Participant{}, err
	}
	s.broadcastLocked(domain.EventParticipantJoined, domain.ParticipantChange{
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		Participants: s.registry.Len(),
	})
	return p, nil
}

// Leave removes a participant from the lobby.
func (s *Session) Leave(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, _ := s.registry.Get(userID)
	if err := s.registry.Remove(userID); err != nil {
		return err
	}
	s.broadcastLocked(domain.EventParticipantLeft, domain.ParticipantChange{
		UserID:       userID,
		DisplayName:  p.DisplayName,
		Participants: s.registry.Len(),
	})
	return nil
}

// Resume reactivates a participant who reconnects to a started room.
func (s *Session) Resume(userID string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.StateEnded {
		return domain.Participant{}, domain.ErrSessionClosed
	}
	if err := s.registry.SetActive(userID, true); err != nil {
		return domain.Participant{}, err
	}
	p, _ := s.registry.Get(userID)
	return p, nil
}

// Disconnect handles a dropped connection: lobby members are removed, started
// participants are marked inactive and stop holding up the current question.
func (s *Session) Disconnect(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateLobby:
		p, ok := s.registry.Get(userID)
		if !ok || s.registry.Remove(userID) != nil {
			return
		}
		s.broadcastLocked(domain.EventParticipantLeft, domain.ParticipantChange{
			UserID:       userID,
			DisplayName:  p.DisplayName,
			Participants: s.registry.Len(),
		})
	case domain.StateInProgress:
		if s.registry.SetActive(userID, false) != nil {
			return
		}
		if s.registry.AllActiveAnswered(s.order[s.position]) {
			s.advanceLocked(s.position, domain.ReasonAllAnswered)
		}
	}
}

// ReplaceQuiz swaps quiz content before the room starts.
func (s *Session) ReplaceQuiz(quiz domain.Quiz) error {
	quiz = quiz.Normalized()
	if err := quiz.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == domain.StateInProgress:
		return domain.ErrSessionStarted
	case s.state == domain.StateEnded, s.discarded:
		return domain.ErrSessionClosed
	}
	s.quiz = quiz
	return nil
}

// Start fixes the question order and opens the first question.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateLobby {
		return domain.ErrInvalidTransition
	}
	if s.discarded {
		return domain.ErrSessionClosed
	}
	if s.registry.Len() == 0 {
		return domain.ErrEmptyRoom
	}

	n := len(s.quiz.Questions)
	if s.cfg.RandomizeQuestions {
		s.order = rand.New(rand.NewSource(s.seed)).Perm(n)
	} else {
		s.order = make([]int, n)
		for i := range s.order {
			s.order[i] = i
		}
	}
	s.state = domain.StateInProgress
	s.startedAt = s.clock.Now()
	s.registry.Seal()
	s.openQuestionLocked(0)
	return nil
}

// SubmitAnswer scores and records one answer to the active question. A zero
// SubmittedAt is stamped with the session clock.
func (s *Session) SubmitAnswer(userID string, sub domain.AnswerSubmission) (domain.AnswerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateLobby:
		return domain.AnswerRecord{}, domain.ErrQuestionNotActive
	case domain.StateEnded:
		return domain.AnswerRecord{}, domain.ErrSessionClosed
	}

	participant, ok := s.registry.Get(userID)
	if !ok {
		return domain.AnswerRecord{}, domain.ErrUnknownParticipant
	}
	questionIndex := s.order[s.position]
	if sub.QuestionIndex != questionIndex {
		return domain.AnswerRecord{}, domain.ErrQuestionNotActive
	}
	question := s.quiz.Questions[questionIndex]
	if sub.Option < 0 || sub.Option >= len(question.Options) {
		return domain.AnswerRecord{}, domain.ErrInvalidOption
	}
	if participant.Answered(questionIndex) {
		return domain.AnswerRecord{}, domain.ErrDuplicateAnswer
	}

	at := sub.SubmittedAt
	if at.IsZero() {
		at = s.clock.Now()
	}
	if at.After(s.deadline) {
		if s.clock.Now().After(s.deadline) {
			s.advanceLocked(s.position, domain.ReasonDeadline)
		}
		return domain.AnswerRecord{}, domain.ErrDeadlineExpired
	}
	if at.Before(s.broadcastAt) {
		at = s.broadcastAt
	}

	rec := s.scorer.Score(question, sub.Option, at.Sub(s.broadcastAt))
	rec.QuestionIndex = questionIndex
	rec.AnsweredAt = at
	if _, err := s.registry.RecordAnswer(userID, rec); err != nil {
		return domain.AnswerRecord{}, err
	}

	if s.cfg.ShowLeaderboard {
		s.broadcastLocked(domain.EventLeaderboard, s.leaderboardLocked())
	}
	if s.registry.AllActiveAnswered(questionIndex) {
		s.advanceLocked(s.position, domain.ReasonAllAnswered)
	}
	return rec, nil
}

// Discard closes a room that never left the lobby. It stays in Lobby, produces
// no result and rejects every further join, leave and start.
func (s *Session) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateLobby {
		return domain.ErrInvalidTransition
	}
	if s.discarded {
		return nil
	}
	s.discarded = true
	s.registry.Close()
	s.broadcastLocked(domain.EventLobbyExpired, domain.LobbyExpired{CreatedAt: s.createdAt})
	return nil
}

// Discarded reports whether the lobby was discarded.
func (s *Session) Discarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}

// End force-ends a started room. Unanswered participants get zero points for
// the open question.
func (s *Session) End(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateInProgress {
		return domain.ErrInvalidTransition
	}
	s.closeQuestionLocked(domain.ReasonForced)
	s.endLocked(reason)
	return nil
}

// expire is the deadline timer callback for the question at position.
func (s *Session) expire(position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked(position, domain.ReasonDeadline)
}

// advanceLocked closes the question at expected and moves on. It is a no-op
// when another trigger already advanced past expected.
func (s *Session) advanceLocked(expected int, reason string) bool {
	if s.state != domain.StateInProgress || s.position != expected {
		return false
	}
	s.closeQuestionLocked(reason)
	if next := s.position + 1; next < len(s.order) {
		s.openQuestionLocked(next)
	} else {
		s.endLocked(domain.ReasonCompleted)
	}
	return true
}

func (s *Session) openQuestionLocked(position int) {
	questionIndex := s.order[position]
	question := s.quiz.Questions[questionIndex]

	s.position = position
	s.broadcastAt = s.clock.Now()
	s.deadline = s.broadcastAt.Add(question.TimeLimit())
	s.timer = s.clock.AfterFunc(question.TimeLimit(), func() { s.expire(position) })

	s.broadcastLocked(domain.EventQuestionStarted, domain.QuestionStarted{
		Position:         position,
		QuestionIndex:    questionIndex,
		TotalQuestions:   len(s.order),
		Text:             question.Text,
		Options:          append([]string(nil), question.Options...),
		Points:           question.Points,
		TimeLimitSeconds: question.TimeLimitSeconds,
		BroadcastAt:      s.broadcastAt,
		Deadline:         s.deadline,
	})
}

// closeQuestionLocked stops the deadline timer and writes a zero-point record
// for everyone who did not answer.
func (s *Session) closeQuestionLocked(reason string) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	questionIndex := s.order[s.position]
	at := s.clock.Now()
	if at.After(s.deadline) {
		at = s.deadline
	}
	for _, userID := range s.registry.Unanswered(questionIndex) {
		_, _ = s.registry.RecordAnswer(userID, domain.AnswerRecord{
			QuestionIndex: questionIndex,
			ChosenOption:  -1,
			Missed:        true,
			TimeTaken:     at.Sub(s.broadcastAt),
			AnsweredAt:    at,
		})
	}
	question := s.quiz.Questions[questionIndex]
	s.broadcastLocked(domain.EventQuestionClosed, domain.QuestionClosed{
		Position:      s.position,
		QuestionIndex: questionIndex,
		CorrectIndex:  question.CorrectIndex,
		Explanation:   question.Explanation,
		Reason:        reason,
	})
}

func (s *Session) endLocked(reason string) {
	s.state = domain.StateEnded
	s.endedAt = s.clock.Now()
	s.endReason = reason
	s.registry.Close()
	close(s.done)

	lb := s.leaderboardLocked()
	s.broadcastLocked(domain.EventSessionEnded, domain.SessionEnded{Reason: reason, Leaderboard: lb})

	result := domain.SessionResult{
		SessionID:    s.id,
		RoomCode:     s.code,
		QuizID:       s.quiz.ID,
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
		EndReason:    reason,
		Participants: s.registry.Snapshot(),
	}
	if s.onEnded != nil {
		s.onEnded(result)
	}
}

// Leaderboard ranks the current participants.
func (s *Session) Leaderboard() domain.Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

func (s *Session) leaderboardLocked() domain.Leaderboard {
	return RankParticipants(s.code, s.registry.Snapshot(), s.clock.Now())
}

// Participants returns copies of all participants in join order.
func (s *Session) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Snapshot()
}

// Participant returns one participant by user id.
func (s *Session) Participant(userID string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Get(userID)
}

// QuestionOrder returns the fixed question permutation, nil before start.
func (s *Session) QuestionOrder() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.order...)
}

// Snapshot describes the room for late subscribers and REST callers.
func (s *Session) Snapshot() domain.RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() domain.RoomSnapshot {
	snap := domain.RoomSnapshot{
		RoomCode:        s.code,
		QuizID:          s.quiz.ID,
		CreatorID:       s.creator.UserID,
		State:           s.state,
		Config:          s.cfg,
		Participants:    s.registry.Len(),
		TotalQuestions:  len(s.quiz.Questions),
		CurrentPosition: s.position,
		CreatedAt:       s.createdAt,
		EndReason:       s.endReason,
	}
	if s.state == domain.StateInProgress {
		deadline := s.deadline
		snap.Deadline = &deadline
	}
	if !s.startedAt.IsZero() {
		startedAt := s.startedAt
		snap.StartedAt = &startedAt
	}
	if !s.endedAt.IsZero() {
		endedAt := s.endedAt
		snap.EndedAt = &endedAt
	}
	return snap
}

// Subscribe returns a channel that receives room events, starting with a
// snapshot. The caller must invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.eventLocked(domain.EventSnapshot, s.snapshotLocked())
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Publish pushes an out-of-band event (e.g. finalization status) to subscribers.
func (s *Session) Publish(eventType domain.EventType, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(eventType, payload)
}

func (s *Session) eventLocked(eventType domain.EventType, payload any) domain.Event {
	return domain.Event{Type: eventType, RoomCode: s.code, At: s.clock.Now(), Payload: payload}
}

func (s *Session) broadcastLocked(eventType domain.EventType, payload any) {
	ev := s.eventLocked(eventType, payload)
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// slow subscriber: drop its oldest event rather than block the room
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
