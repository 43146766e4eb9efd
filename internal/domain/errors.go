package domain

import "errors"

// Error kinds. Every code below unwraps to exactly one of these, so callers can
// match either the specific code or the whole class with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrStateConflict = errors.New("state conflict")
	ErrCapacity      = errors.New("capacity error")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("authorization error")
)

var (
	// ErrAlreadyJoined is returned when an identity registers twice in one room.
	ErrAlreadyJoined = newCoded(ErrStateConflict, "participant already joined")

	// ErrSessionClosed is returned for joins after start and for any mutation after the room ended.
	ErrSessionClosed = newCoded(ErrStateConflict, "session closed")

	// ErrSessionStarted is returned when a participant tries to leave a started room.
	ErrSessionStarted = newCoded(ErrStateConflict, "session already started")

	// ErrDuplicateAnswer is returned for a second submission to the same question.
	ErrDuplicateAnswer = newCoded(ErrStateConflict, "question already answered")

	ErrInvalidTransition = newCoded(ErrStateConflict, "invalid session transition")
	ErrDeadlineExpired   = newCoded(ErrStateConflict, "question deadline expired")
	ErrQuestionNotActive = newCoded(ErrStateConflict, "question is not active")
	ErrDuplicateRoomCode = newCoded(ErrStateConflict, "room code already in use")

	ErrCapacityExceeded = newCoded(ErrCapacity, "room is full")
	ErrEmptyRoom        = newCoded(ErrCapacity, "cannot start room with no participants")

	// ErrUnknownParticipant is returned when a user acts in a room they never joined.
	ErrUnknownParticipant = newCoded(ErrNotFound, "participant not found in room")

	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = newCoded(ErrNotFound, "quiz not found")

	ErrRoomNotFound      = newCoded(ErrNotFound, "room not found")
	ErrNotAJoiningMember = newCoded(ErrNotFound, "user is not a participant in this room")

	ErrUnauthenticated = newCoded(ErrAuthorization, "invalid or missing credentials")
	ErrForbidden       = newCoded(ErrAuthorization, "caller lacks the required role")

	ErrInvalidOption   = newCoded(ErrValidation, "option index out of range")
	ErrInvalidQuiz     = newCoded(ErrValidation, "invalid quiz content")
	ErrInvalidConfig   = newCoded(ErrValidation, "invalid room configuration")
	ErrInvalidRoomCode = newCoded(ErrValidation, "invalid room code")
)

type codedError struct {
	kind error
	msg  string
}

func newCoded(kind error, msg string) error {
	return &codedError{kind: kind, msg: msg}
}

func (e *codedError) Error() string { return e.msg }

func (e *codedError) Unwrap() error { return e.kind }

// KindOf returns the taxonomy kind of err, or nil when err is not a domain error.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrStateConflict, ErrCapacity, ErrNotFound, ErrAuthorization} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsExpected reports whether err is a normal, recoverable outcome that callers
// surface to users rather than log as a failure.
func IsExpected(err error) bool {
	return errors.Is(err, ErrStateConflict) || errors.Is(err, ErrCapacity)
}
