package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-room-service/internal/domain"
)

// ResultStore is the durable result sink. Standings are kept denormalised in
// user_standings and xp_awards makes each award apply once per (session, user).
type ResultStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewResultStore computes daily streaks in loc.
func NewResultStore(pool *pgxpool.Pool, loc *time.Location) *ResultStore {
	if loc == nil {
		loc = time.UTC
	}
	return &ResultStore{pool: pool, loc: loc}
}

func (s *ResultStore) PersistSessionResult(ctx context.Context, result domain.SessionResult) error {
	raw, err := json.Marshal(result.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_results (session_id, room_code, quiz_id, end_reason, started_at, ended_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT (session_id) DO NOTHING`,
		result.SessionID, result.RoomCode, result.QuizID, result.EndReason, result.StartedAt, result.EndedAt, string(raw))
	if err != nil {
		return fmt.Errorf("persist session %s: %w", result.SessionID, err)
	}
	return nil
}

func (s *ResultStore) AwardXP(ctx context.Context, award domain.XPAward) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin award tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO xp_awards (session_id, user_id, amount, awarded_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, user_id) DO NOTHING`,
		award.SessionID, award.UserID, award.Amount, award.AwardedAt)
	if err != nil {
		return fmt.Errorf("record award: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	var (
		streak     int
		lastActive *time.Time
	)
	err = tx.QueryRow(ctx, `SELECT streak, last_active FROM user_standings WHERE user_id = $1 FOR UPDATE`, award.UserID).
		Scan(&streak, &lastActive)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("load standing: %w", err)
	}
	var last time.Time
	if lastActive != nil {
		last = *lastActive
	}
	streak = domain.NextStreak(streak, last, award.AwardedAt, s.loc)

	_, err = tx.Exec(ctx, `
		INSERT INTO user_standings AS s (user_id, display_name, xp, level, total_time_ms, streak, last_active, first_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name  = EXCLUDED.display_name,
			xp            = s.xp + EXCLUDED.xp,
			level         = 1 + (s.xp + EXCLUDED.xp) / 100,
			total_time_ms = s.total_time_ms + EXCLUDED.total_time_ms,
			streak        = EXCLUDED.streak,
			last_active   = GREATEST(s.last_active, EXCLUDED.last_active)`,
		award.UserID, award.DisplayName, int64(award.Amount), domain.LevelForXP(int64(award.Amount)),
		award.TimeTaken.Milliseconds(), streak, award.AwardedAt)
	if err != nil {
		return fmt.Errorf("update standing: %w", err)
	}
	return tx.Commit(ctx)
}

// TopStandings returns the k highest-XP identities plus anyone tied with the k-th.
func (s *ResultStore) TopStandings(ctx context.Context, k int) ([]domain.Standing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, display_name, xp, level, total_time_ms, first_seen
		FROM user_standings
		WHERE xp >= COALESCE((SELECT xp FROM user_standings ORDER BY xp DESC OFFSET $1 LIMIT 1), 0)
		ORDER BY xp DESC, total_time_ms ASC, first_seen ASC, user_id ASC`, k-1)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}
	defer rows.Close()

	var out []domain.Standing
	for rows.Next() {
		var st domain.Standing
		if err := rows.Scan(&st.UserID, &st.DisplayName, &st.XP, &st.Level, &st.TimeTakenMs, &st.FirstSeen); err != nil {
			return nil, fmt.Errorf("scan standing: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RankOf counts identities with strictly more XP. Unknown users rank as 0 XP.
func (s *ResultStore) RankOf(ctx context.Context, userID string) (domain.RankResult, error) {
	res := domain.RankResult{UserID: userID}
	err := s.pool.QueryRow(ctx, `SELECT xp FROM user_standings WHERE user_id = $1`, userID).Scan(&res.XP)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.RankResult{}, fmt.Errorf("load xp: %w", err)
	}
	var above int
	err = s.pool.QueryRow(ctx, `SELECT count(*) FILTER (WHERE xp > $1), count(*) FROM user_standings`, res.XP).
		Scan(&above, &res.Total)
	if err != nil {
		return domain.RankResult{}, fmt.Errorf("count standings: %w", err)
	}
	res.Rank = above + 1
	return res, nil
}

// User returns the profile counters maintained by awards.
func (s *ResultStore) User(ctx context.Context, userID string) (domain.User, error) {
	var (
		u          = domain.User{ID: userID}
		lastActive *time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT display_name, xp, level, streak, last_active FROM user_standings WHERE user_id = $1`, userID).
		Scan(&u.DisplayName, &u.XP, &u.Level, &u.Streak, &lastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	if lastActive != nil {
		u.LastActive = *lastActive
	}
	return u, nil
}
