package app

import (
	"context"
	"errors"
	"fmt"

	"quiz-room-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// IdentityResolver turns a bearer token into a caller identity.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (domain.Identity, error)
}

// CreateRoomRequest describes a room to open. An empty Code is generated and
// a nil Config takes the service defaults.
type CreateRoomRequest struct {
	Code   string
	QuizID string
	Config *domain.RoomConfig
}

// QuizService contains the room use cases shared by every transport.
type QuizService struct {
	rooms        *Directory
	quizzes      QuizRepository
	identities   IdentityResolver
	leaderboards *LeaderboardEngine
	defaults     domain.RoomConfig
}

func NewQuizService(rooms *Directory, quizzes QuizRepository, identities IdentityResolver, leaderboards *LeaderboardEngine) *QuizService {
	return &QuizService{
		rooms:        rooms,
		quizzes:      quizzes,
		identities:   identities,
		leaderboards: leaderboards,
		defaults:     domain.RoomConfig{MaxParticipants: domain.DefaultMaxParticipants},
	}
}

// SetRoomDefaults replaces the config used for rooms created without one.
func (s *QuizService) SetRoomDefaults(cfg domain.RoomConfig) {
	if cfg.MaxParticipants == 0 {
		cfg.MaxParticipants = domain.DefaultMaxParticipants
	}
	s.defaults = cfg
}

// Authenticate resolves a bearer token.
func (s *QuizService) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if s.identities == nil || token == "" {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	return s.identities.ResolveIdentity(ctx, token)
}

// CreateRoom loads the quiz and opens a lobby owned by caller.
func (s *QuizService) CreateRoom(ctx context.Context, caller domain.Identity, req CreateRoomRequest) (domain.RoomSnapshot, error) {
	if !caller.CanHost() {
		return domain.RoomSnapshot{}, domain.ErrForbidden
	}
	quiz, err := s.quizzes.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	cfg := s.defaults
	if req.Config != nil {
		cfg = *req.Config
		if cfg.MaxParticipants == 0 {
			cfg.MaxParticipants = s.defaults.MaxParticipants
		}
	}
	code := req.Code
	if code == "" {
		code = GenerateCode()
	}
	session, err := s.rooms.Create(ctx, code, quiz, caller, cfg)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	return session.Snapshot(), nil
}

// UpdateRoomQuiz swaps the quiz of a room that is still in the lobby.
func (s *QuizService) UpdateRoomQuiz(ctx context.Context, caller domain.Identity, code, quizID string) error {
	session, err := s.hostedRoom(caller, code)
	if err != nil {
		return err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return err
	}
	return session.ReplaceQuiz(quiz)
}

// Join registers caller in a lobby.
func (s *QuizService) Join(_ context.Context, caller domain.Identity, code string) (domain.Participant, error) {
	session, err := s.rooms.Lookup(code)
	if err != nil {
		return domain.Participant{}, err
	}
	return session.Join(caller)
}

// Resume reactivates caller in a room they already joined.
func (s *QuizService) Resume(_ context.Context, caller domain.Identity, code string) (domain.Participant, error) {
	session, err := s.rooms.Lookup(code)
	if err != nil {
		return domain.Participant{}, err
	}
	return session.Resume(caller.UserID)
}

// Enter joins a lobby or, for a returning participant, resumes their seat.
func (s *QuizService) Enter(ctx context.Context, caller domain.Identity, code string) (domain.Participant, error) {
	p, err := s.Join(ctx, caller, code)
	if errors.Is(err, domain.ErrAlreadyJoined) || errors.Is(err, domain.ErrSessionClosed) {
		resumed, resumeErr := s.Resume(ctx, caller, code)
		if errors.Is(resumeErr, domain.ErrUnknownParticipant) {
			return domain.Participant{}, err
		}
		return resumed, resumeErr
	}
	return p, err
}

func (s *QuizService) Leave(_ context.Context, caller domain.Identity, code string) error {
	session, err := s.rooms.Lookup(code)
	if err != nil {
		return err
	}
	return session.Leave(caller.UserID)
}

// Disconnect reacts to a dropped realtime connection.
func (s *QuizService) Disconnect(_ context.Context, caller domain.Identity, code string) {
	session, err := s.rooms.Lookup(code)
	if err != nil {
		return
	}
	session.Disconnect(caller.UserID)
}

// Start opens the first question. Only the creator or an admin may start.
func (s *QuizService) Start(_ context.Context, caller domain.Identity, code string) error {
	session, err := s.hostedRoom(caller, code)
	if err != nil {
		return err
	}
	return session.Start()
}

// End force-ends a running room. Only the creator or an admin may end.
func (s *QuizService) End(_ context.Context, caller domain.Identity, code string) error {
	session, err := s.hostedRoom(caller, code)
	if err != nil {
		return err
	}
	return session.End(domain.ReasonForced)
}

func (s *QuizService) SubmitAnswer(_ context.Context, caller domain.Identity, code string, sub domain.AnswerSubmission) (domain.AnswerRecord, error) {
	session, err := s.rooms.Lookup(code)
	if err != nil {
		return domain.AnswerRecord{}, err
	}
	return session.SubmitAnswer(caller.UserID, sub)
}

func (s *QuizService) RoomLeaderboard(_ context.Context, code string) (domain.Leaderboard, error) {
	session, err := s.rooms.Lookup(code)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return s.leaderboards.Room(session), nil
}

func (s *QuizService) RoomSnapshot(_ context.Context, code string) (domain.RoomSnapshot, error) {
	session, err := s.rooms.Lookup(code)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	return session.Snapshot(), nil
}

func (s *QuizService) GlobalLeaderboard(ctx context.Context, k int) ([]domain.Standing, error) {
	return s.leaderboards.Global(ctx, k)
}

func (s *QuizService) GlobalRank(ctx context.Context, userID string) (domain.RankResult, error) {
	return s.leaderboards.Rank(ctx, userID)
}

// Subscribe returns a channel that receives room events.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *QuizService) Subscribe(_ context.Context, code string) (<-chan domain.Event, func(), error) {
	session, err := s.rooms.Lookup(code)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

func (s *QuizService) hostedRoom(caller domain.Identity, code string) (*Session, error) {
	if !caller.CanHost() {
		return nil, domain.ErrForbidden
	}
	session, err := s.rooms.Lookup(code)
	if err != nil {
		return nil, err
	}
	if session.Creator().UserID != caller.UserID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: room %s belongs to another host", domain.ErrForbidden, session.Code())
	}
	return session, nil
}
