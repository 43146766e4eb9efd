package domain

import "time"

// EventType names a realtime push to room members.
type EventType string

const (
	EventSnapshot          EventType = "snapshot"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventQuestionStarted   EventType = "question_started"
	EventQuestionClosed    EventType = "question_closed"
	EventLeaderboard       EventType = "leaderboard"
	EventSessionEnded      EventType = "session_ended"
	// EventFinalizationDegraded reports that results could not be persisted and
	// were parked for reconciliation. The room itself is still ended.
	EventFinalizationDegraded EventType = "finalization_degraded"
	// EventLobbyExpired reports that a room never started and was discarded.
	EventLobbyExpired EventType = "lobby_expired"
)

// Event is a fire-and-forget broadcast.
type Event struct {
	Type     EventType `json:"type"`
	RoomCode string    `json:"roomCode"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload"`
}

// RoomSnapshot describes the visible state of a room.
type RoomSnapshot struct {
	RoomCode        string       `json:"roomCode"`
	QuizID          string       `json:"quizId"`
	CreatorID       string       `json:"creatorId"`
	State           SessionState `json:"state"`
	Config          RoomConfig   `json:"config"`
	Participants    int          `json:"participants"`
	TotalQuestions  int          `json:"totalQuestions"`
	CurrentPosition int          `json:"currentPosition"`
	Deadline        *time.Time   `json:"deadline,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	EndedAt         *time.Time   `json:"endedAt,omitempty"`
	EndReason       string       `json:"endReason,omitempty"`
}

// QuestionStarted is broadcast when a question opens. The correct index is withheld.
type QuestionStarted struct {
	Position         int       `json:"position"`
	QuestionIndex    int       `json:"questionIndex"`
	TotalQuestions   int       `json:"totalQuestions"`
	Text             string    `json:"text"`
	Options          []string  `json:"options"`
	Points           int       `json:"points"`
	TimeLimitSeconds int       `json:"timeLimitSeconds"`
	BroadcastAt      time.Time `json:"broadcastAt"`
	Deadline         time.Time `json:"deadline"`
}

// QuestionClosed reveals the answer once a question stops accepting submissions.
type QuestionClosed struct {
	Position      int    `json:"position"`
	QuestionIndex int    `json:"questionIndex"`
	CorrectIndex  int    `json:"correctIndex"`
	Explanation   string `json:"explanation,omitempty"`
	Reason        string `json:"reason"`
}

// SessionEnded carries the final standings of a room.
type SessionEnded struct {
	Reason      string      `json:"reason"`
	Leaderboard Leaderboard `json:"leaderboard"`
}

// ParticipantChange is broadcast on joins and leaves.
type ParticipantChange struct {
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	Participants int    `json:"participants"`
}

// FinalizationDegraded is broadcast when the result sink stays unavailable.
type FinalizationDegraded struct {
	Reason string `json:"reason"`
}

// LobbyExpired is broadcast when an idle lobby is discarded.
type LobbyExpired struct {
	CreatedAt time.Time `json:"createdAt"`
}

// Reasons a question closes or a room ends.
const (
	ReasonAllAnswered = "all_answered"
	ReasonDeadline    = "deadline"
	ReasonForced      = "forced"
	ReasonCompleted   = "completed"
	ReasonShutdown    = "shutdown"
)
