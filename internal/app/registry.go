package app

import (
	"time"

	"quiz-room-service/internal/domain"
)

type registryPhase int

const (
	phaseOpen registryPhase = iota
	phaseSealed
	phaseClosed
)

// ParticipantRegistry tracks membership and per-question answers for one room.
// It is not safe for concurrent use; the owning Session serializes access.
type ParticipantRegistry struct {
	capacity     int
	phase        registryPhase
	seq          int
	order        []string
	participants map[string]*domain.Participant
}

func NewParticipantRegistry(capacity int) *ParticipantRegistry {
	return &ParticipantRegistry{
		capacity:     capacity,
		participants: make(map[string]*domain.Participant),
	}
}

// Register adds a new participant with zero score.
func (r *ParticipantRegistry) Register(id domain.Identity, now time.Time) (domain.Participant, error) {
	if r.phase != phaseOpen {
		return domain.Participant{}, domain.ErrSessionClosed
	}
	if _, ok := r.participants[id.UserID]; ok {
		return domain.Participant{}, domain.ErrAlreadyJoined
	}
	if len(r.order) >= r.capacity {
		return domain.Participant{}, domain.ErrCapacityExceeded
	}
	r.seq++
	p := &domain.Participant{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		JoinedAt:    now,
		JoinSeq:     r.seq,
		Active:      true,
	}
	r.participants[id.UserID] = p
	r.order = append(r.order, id.UserID)
	return clone(p), nil
}

// Remove drops a participant. Only allowed before the room starts.
func (r *ParticipantRegistry) Remove(userID string) error {
	switch r.phase {
	case phaseClosed:
		return domain.ErrSessionClosed
	case phaseSealed:
		return domain.ErrSessionStarted
	}
	if _, ok := r.participants[userID]; !ok {
		return domain.ErrNotAJoiningMember
	}
	delete(r.participants, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetActive flags a started participant as connected or not. Inactive
// participants keep their records but no longer hold up question advance.
func (r *ParticipantRegistry) SetActive(userID string, active bool) error {
	p, ok := r.participants[userID]
	if !ok {
		return domain.ErrUnknownParticipant
	}
	p.Active = active
	return nil
}

// RecordAnswer appends rec and adds its points to the score.
func (r *ParticipantRegistry) RecordAnswer(userID string, rec domain.AnswerRecord) (domain.Participant, error) {
	p, ok := r.participants[userID]
	if !ok {
		return domain.Participant{}, domain.ErrUnknownParticipant
	}
	if p.Answered(rec.QuestionIndex) {
		return domain.Participant{}, domain.ErrDuplicateAnswer
	}
	p.Answers = append(p.Answers, rec)
	p.Score += rec.PointsEarned
	return clone(p), nil
}

// Get returns a copy of one participant.
func (r *ParticipantRegistry) Get(userID string) (domain.Participant, bool) {
	p, ok := r.participants[userID]
	if !ok {
		return domain.Participant{}, false
	}
	return clone(p), true
}

func (r *ParticipantRegistry) Len() int { return len(r.order) }

// AllActiveAnswered reports whether every active participant has a record
// for the question. With nobody active the question waits for its deadline.
func (r *ParticipantRegistry) AllActiveAnswered(questionIndex int) bool {
	active := 0
	for _, id := range r.order {
		p := r.participants[id]
		if !p.Active {
			continue
		}
		active++
		if !p.Answered(questionIndex) {
			return false
		}
	}
	return active > 0
}

// Unanswered lists participants (active or not) without a record for the question.
func (r *ParticipantRegistry) Unanswered(questionIndex int) []string {
	var ids []string
	for _, id := range r.order {
		if !r.participants[id].Answered(questionIndex) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Seal stops membership changes once the room starts.
func (r *ParticipantRegistry) Seal() {
	if r.phase == phaseOpen {
		r.phase = phaseSealed
	}
}

// Close makes the registry reject every further join and leave.
func (r *ParticipantRegistry) Close() { r.phase = phaseClosed }

// Snapshot returns deep copies of all participants in join order.
func (r *ParticipantRegistry) Snapshot() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, clone(r.participants[id]))
	}
	return out
}

func clone(p *domain.Participant) domain.Participant {
	cp := *p
	cp.Answers = append([]domain.AnswerRecord(nil), p.Answers...)
	return cp
}
