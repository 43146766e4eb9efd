package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
	pgstore "quiz-room-service/internal/infra/postgres"
	redisstore "quiz-room-service/internal/infra/redis"
)

const (
	tokenTTL = 12 * time.Hour

	// award markers must outlive any pending replay
	resultRetention = 7 * 24 * time.Hour
)

// resultStore is what the finalizer and the global leaderboard need from a backend.
type resultStore interface {
	app.ResultSink
	app.StandingsStore
}

// runtime holds the wired collaborators shared by the CLI commands.
type runtime struct {
	service   *app.QuizService
	directory *app.Directory
	finalizer *app.Finalizer
	tokens    *auth.JWTService
	closers   []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildRuntime picks postgres and redis backends when configured and falls
// back to in-memory implementations otherwise.
func buildRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	rt := &runtime{}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var results resultStore
	switch {
	case pool != nil:
		results = pgstore.NewResultStore(pool, loc)
	case redisClient != nil:
		results = redisstore.NewResultStore(redisClient, resultRetention, loc)
	default:
		results = memory.NewResultStore(loc)
	}

	var pending app.PendingLedger
	var index app.RoomIndex
	if redisClient != nil {
		pending = redisstore.NewPendingLedger(redisClient)
		index = redisstore.NewRoomIndex(redisClient, redisTTL)
	} else {
		pending = memory.NewPendingLedger()
		index = memory.NewRoomIndex()
	}

	rt.finalizer = app.NewFinalizer(results, pending, app.RetryPolicy{
		Attempts:       cfg.Finalize.Attempts,
		InitialBackoff: config.TTLDuration(cfg.Finalize.InitialBackoff, 200*time.Millisecond),
		MaxBackoff:     config.TTLDuration(cfg.Finalize.MaxBackoff, 5*time.Second),
	})
	rt.directory = app.NewDirectory(app.DirectoryOptions{
		Index:     index,
		Finalizer: rt.finalizer,
		Scorer:    app.NewScoreCalculator(cfg.Session.DecayFloor),
		Retention: config.TTLDuration(cfg.Session.Retention, 10*time.Minute),
		LobbyTTL:  config.TTLDuration(cfg.Session.LobbyTTL, 30*time.Minute),
	})

	if cfg.Auth.JWTSecret == "" {
		log.Printf("auth.jwt_secret is empty; every token will be rejected")
	}
	rt.tokens = auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, tokenTTL)

	rt.service = app.NewQuizService(rt.directory, quizRepo, rt.tokens, app.NewLeaderboardEngine(results))
	rt.service.SetRoomDefaults(domain.RoomConfig{
		MaxParticipants: cfg.Session.MaxParticipants,
		ShowLeaderboard: cfg.Session.ShowLeaderboard,
	})
	return rt, nil
}

// sampleQuizzes seeds the in-memory loader when no database is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1},
				{Text: "Which planet is closest to the sun?", Options: []string{"Venus", "Mercury", "Mars", "Earth"}, CorrectIndex: 1, Points: 20},
				{Text: "How many sides does a hexagon have?", Options: []string{"5", "6", "8"}, CorrectIndex: 1, TimeLimitSeconds: 15},
			},
		},
	}
}
