package app

import (
	"math"
	"time"

	"quiz-room-service/internal/domain"
)

// DefaultDecayFloor guarantees half credit for a correct but slow answer.
const DefaultDecayFloor = 0.5

// ScoreCalculator maps an answer to points. It is a pure value type.
type ScoreCalculator struct {
	decayFloor float64
}

// NewScoreCalculator clamps decayFloor into [0, 1].
func NewScoreCalculator(decayFloor float64) ScoreCalculator {
	return ScoreCalculator{decayFloor: math.Min(1, math.Max(0, decayFloor))}
}

func (c ScoreCalculator) DecayFloor() float64 { return c.decayFloor }

// Score grades a choice made elapsed after the question was broadcast.
// Correct answers earn round(points * (floor + (1-floor) * max(0, 1-elapsed/limit))).
// Wrong answers and answers past the limit earn nothing and count as incorrect.
func (c ScoreCalculator) Score(q domain.Question, chosen int, elapsed time.Duration) domain.AnswerRecord {
	if elapsed < 0 {
		elapsed = 0
	}
	rec := domain.AnswerRecord{
		ChosenOption: chosen,
		TimeTaken:    elapsed,
	}
	limit := q.TimeLimit()
	if limit <= 0 || elapsed > limit {
		return rec
	}
	if chosen != q.CorrectIndex {
		return rec
	}

	decay := math.Max(0, 1-float64(elapsed)/float64(limit))
	points := float64(q.Points)
	rec.Correct = true
	rec.PointsEarned = int(math.Round(points*c.decayFloor + points*(1-c.decayFloor)*decay))
	return rec
}
