package domain

import (
	"fmt"
	"time"
)

const (
	// DefaultQuestionPoints and DefaultTimeLimitSeconds apply when quiz content leaves them unset.
	DefaultQuestionPoints   = 10
	DefaultTimeLimitSeconds = 30
	DefaultMaxParticipants  = 50

	MinOptions = 2
	MaxOptions = 5
)

// Role gates instructor/admin operations.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Identity is a resolved caller as reported by the identity provider.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// CanHost reports whether the identity may create, start or end rooms.
func (i Identity) CanHost() bool {
	return i.Role == RoleInstructor || i.Role == RoleAdmin
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Badge is an achievement held on a user profile.
type Badge struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	EarnedAt    time.Time `json:"earnedAt"`
}

// User is the external profile owned by the identity collaborator.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar"`
	XP          int64     `json:"xp"`
	Level       int       `json:"level"`
	Streak      int       `json:"streak"`
	LastActive  time.Time `json:"lastActive"`
	Badges      []Badge   `json:"badges"`
}

// Question models an MCQ question with exactly one correct option. A zero
// Points or TimeLimitSeconds means unset and takes the default; every question
// is worth at least one point.
type Question struct {
	Text             string   `json:"text"`
	Options          []string `json:"options"`
	CorrectIndex     int      `json:"correctIndex"`
	Points           int      `json:"points"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
	Explanation      string   `json:"explanation,omitempty"`
}

// TimeLimit returns the answer window of the question.
func (q Question) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Normalized returns a deep copy with defaults applied to unset (zero) points
// and time limits, so sessions never share slices with the content provider.
func (q Quiz) Normalized() Quiz {
	out := Quiz{ID: q.ID, Title: q.Title, Questions: make([]Question, len(q.Questions))}
	for i, question := range q.Questions {
		question.Options = append([]string(nil), question.Options...)
		if question.Points == 0 {
			question.Points = DefaultQuestionPoints
		}
		if question.TimeLimitSeconds == 0 {
			question.TimeLimitSeconds = DefaultTimeLimitSeconds
		}
		out.Questions[i] = question
	}
	return out
}

// Validate checks the structural rules for quiz content.
func (q Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return fmt.Errorf("%w: quiz %q has no questions", ErrInvalidQuiz, q.ID)
	}
	for i, question := range q.Questions {
		if n := len(question.Options); n < MinOptions || n > MaxOptions {
			return fmt.Errorf("%w: question %d has %d options", ErrInvalidQuiz, i, n)
		}
		if question.CorrectIndex < 0 || question.CorrectIndex >= len(question.Options) {
			return fmt.Errorf("%w: question %d correct index %d out of range", ErrInvalidQuiz, i, question.CorrectIndex)
		}
		if question.Points < 0 {
			return fmt.Errorf("%w: question %d has negative points", ErrInvalidQuiz, i)
		}
		if question.TimeLimitSeconds <= 0 {
			return fmt.Errorf("%w: question %d has no time limit", ErrInvalidQuiz, i)
		}
	}
	return nil
}

// RoomConfig carries the per-room settings chosen by the creator.
type RoomConfig struct {
	MaxParticipants    int  `json:"maxParticipants"`
	ShowLeaderboard    bool `json:"showLeaderboard"`
	RandomizeQuestions bool `json:"randomizeQuestions"`
}

func (c RoomConfig) Validate() error {
	if c.MaxParticipants <= 0 {
		return fmt.Errorf("%w: max participants must be positive", ErrInvalidConfig)
	}
	return nil
}

// SessionState is the lifecycle state of a room.
type SessionState string

const (
	StateLobby      SessionState = "lobby"
	StateInProgress SessionState = "in_progress"
	StateEnded      SessionState = "ended"
)

// AnswerRecord is the scored outcome of one question for one participant.
// Missed records are written when a question closes without an answer.
type AnswerRecord struct {
	QuestionIndex int           `json:"questionIndex"`
	ChosenOption  int           `json:"chosenOption"`
	Correct       bool          `json:"correct"`
	Missed        bool          `json:"missed,omitempty"`
	TimeTaken     time.Duration `json:"timeTaken"`
	PointsEarned  int           `json:"pointsEarned"`
	AnsweredAt    time.Time     `json:"answeredAt"`
}

// Participant is a joined identity's state within one room.
type Participant struct {
	UserID      string         `json:"userId"`
	DisplayName string         `json:"displayName"`
	JoinedAt    time.Time      `json:"joinedAt"`
	JoinSeq     int            `json:"joinSeq"`
	Active      bool           `json:"active"`
	Score       int            `json:"score"`
	Answers     []AnswerRecord `json:"answers"`
}

// TotalTime is the cumulative time taken across all records.
func (p Participant) TotalTime() time.Duration {
	var total time.Duration
	for _, rec := range p.Answers {
		total += rec.TimeTaken
	}
	return total
}

// Answered reports whether the participant has a record for the quiz question.
func (p Participant) Answered(questionIndex int) bool {
	for _, rec := range p.Answers {
		if rec.QuestionIndex == questionIndex {
			return true
		}
	}
	return false
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	TimeTakenMs int64  `json:"timeTakenMs"`
}

// Leaderboard captures the ordered scoreboard for a room.
type Leaderboard struct {
	RoomCode  string             `json:"roomCode"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Standing is one identity's position on the global XP leaderboard.
type Standing struct {
	Rank        int       `json:"rank"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	XP          int64     `json:"xp"`
	Level       int       `json:"level"`
	TimeTakenMs int64     `json:"timeTakenMs"`
	FirstSeen   time.Time `json:"firstSeen"`
}

// RankResult answers "where am I" on the global leaderboard.
type RankResult struct {
	UserID string `json:"userId"`
	XP     int64  `json:"xp"`
	Rank   int    `json:"rank"`
	Total  int    `json:"total"`
}

// LevelForXP derives a profile level from cumulative XP.
func LevelForXP(xp int64) int {
	if xp < 0 {
		return 1
	}
	return 1 + int(xp/100)
}

// NextStreak computes the daily-activity streak for activity at now, comparing
// calendar days in loc. Same day keeps the streak, the following day extends it,
// anything else restarts at 1.
func NextStreak(prev int, lastActive, now time.Time, loc *time.Location) int {
	if lastActive.IsZero() || prev <= 0 {
		return 1
	}
	if loc == nil {
		loc = time.UTC
	}
	ly, lm, ld := lastActive.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	last := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	switch days := int(today.Sub(last).Hours() / 24); {
	case days <= 0:
		return prev
	case days == 1:
		return prev + 1
	default:
		return 1
	}
}

// SessionResult is the final snapshot handed to the result sink.
type SessionResult struct {
	SessionID    string        `json:"sessionId"`
	RoomCode     string        `json:"roomCode"`
	QuizID       string        `json:"quizId"`
	StartedAt    time.Time     `json:"startedAt"`
	EndedAt      time.Time     `json:"endedAt"`
	EndReason    string        `json:"endReason"`
	Participants []Participant `json:"participants"`
}

// XPAward is one participant's XP grant for a finished room. The sink must
// apply it at most once per (SessionID, UserID); room codes can be reused.
type XPAward struct {
	SessionID   string        `json:"sessionId"`
	RoomCode    string        `json:"roomCode"`
	UserID      string        `json:"userId"`
	DisplayName string        `json:"displayName"`
	Amount      int           `json:"amount"`
	TimeTaken   time.Duration `json:"timeTaken"`
	AwardedAt   time.Time     `json:"awardedAt"`
}

// AwardsFor derives the XP grants of a finished room: one per participant,
// equal to the final score.
func AwardsFor(result SessionResult) []XPAward {
	awards := make([]XPAward, 0, len(result.Participants))
	for _, p := range result.Participants {
		awards = append(awards, XPAward{
			SessionID:   result.SessionID,
			RoomCode:    result.RoomCode,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Amount:      p.Score,
			TimeTaken:   p.TotalTime(),
			AwardedAt:   result.EndedAt,
		})
	}
	return awards
}

// PendingResult is a finished room whose persistence exhausted its retries.
type PendingResult struct {
	Result   SessionResult `json:"result"`
	Cause    string        `json:"cause"`
	MarkedAt time.Time     `json:"markedAt"`
}

// AnswerSubmission is an answer as received from a client.
type AnswerSubmission struct {
	QuestionIndex int
	Option        int
	SubmittedAt   time.Time
}
