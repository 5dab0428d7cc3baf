// SPDX-License-Identifier: MIT

// Package scorer computes points for a scored answer. The calculation is
// deterministic: the same (question, answer, timing, streak) inputs always
// yield the same result, so replays and recomputation after a void agree.
package scorer

import (
	"math"
	"strings"

	"github.com/quizwire/quizwire/internal/quiz/model"
)

// Streak bonus: min(streakCap, streakAfter*streakStep) awarded on every
// correct answer.
const (
	streakStep = 10
	streakCap  = 50
)

// Result is the scoring outcome for one answer.
type Result struct {
	IsCorrect    bool
	PointsEarned int
	SpeedBonus   int
	StreakBonus  int
}

// Input bundles everything Score needs. StreakBefore is the participant's
// streak count before this answer.
type Input struct {
	Question       *model.Question
	SelectedIDs    []string
	AnswerText     string
	AnswerNumber   *float64
	ResponseTimeMs int64
	StreakBefore   int
	Settings       model.ExamSettings
	Voided         bool
}

// Score evaluates one answer. All arithmetic is integer points; bonuses are
// computed independently and summed into PointsEarned.
func Score(in Input) Result {
	if in.Voided {
		return Result{}
	}

	q := in.Question
	base := q.Scoring.BasePoints

	correct, partialPoints, isPartial := evaluate(in)

	var res Result
	res.IsCorrect = correct

	switch {
	case correct:
		res.PointsEarned = base
	case isPartial:
		res.PointsEarned = partialPoints
	default:
		if in.Settings.NegativeMarkingEnabled {
			res.PointsEarned = -int(math.Round(float64(base) * float64(in.Settings.NegativeMarkingPercentage) / 100))
		}
	}

	// Speed bonus only for fully correct answers: a partial-credit answer
	// already trades accuracy for coverage.
	if correct {
		limitMs := float64(q.TimeLimit) * 1000
		if limitMs > 0 && q.Scoring.SpeedBonusMultiplier > 0 {
			frac := 1 - float64(in.ResponseTimeMs)/limitMs
			if frac < 0 {
				frac = 0
			}
			res.SpeedBonus = int(math.Round(float64(base) * q.Scoring.SpeedBonusMultiplier * frac))
		}
		res.StreakBonus = streakBonus(in.StreakBefore + 1)
	}

	res.PointsEarned += res.SpeedBonus + res.StreakBonus
	return res
}

func streakBonus(streakAfter int) int {
	b := streakAfter * streakStep
	if b > streakCap {
		b = streakCap
	}
	return b
}

// evaluate returns (fully correct, partial points, partial applies).
func evaluate(in Input) (bool, int, bool) {
	q := in.Question

	switch q.QuestionType {
	case model.MultipleChoice, model.TrueFalse:
		if len(in.SelectedIDs) != 1 {
			return false, 0, false
		}
		for _, opt := range q.Options {
			if opt.OptionID == in.SelectedIDs[0] {
				return opt.IsCorrect, 0, false
			}
		}
		return false, 0, false

	case model.MultipleChoiceMulti:
		return evaluateMulti(q, in.SelectedIDs)

	case model.NumberInput:
		if in.AnswerNumber == nil {
			return false, 0, false
		}
		for _, opt := range q.Options {
			if math.Abs(*in.AnswerNumber-opt.NumericTarget) <= opt.Tolerance {
				return true, 0, false
			}
		}
		return false, 0, false

	case model.OpenEnded:
		given := normalizeText(in.AnswerText)
		if given == "" {
			return false, 0, false
		}
		for _, opt := range q.Options {
			for _, accepted := range opt.AcceptedAnswers {
				if normalizeText(accepted) == given {
					return true, 0, false
				}
			}
		}
		return false, 0, false
	}

	return false, 0, false
}

// evaluateMulti scores a multi-select answer. Without partial credit it is
// exact set equality with the correct options. With partial credit:
//
//	points = basePoints * (|correct selected| - |incorrect selected|) / |correct|
//
// clamped to [0, basePoints]; fully correct iff points == basePoints.
func evaluateMulti(q *model.Question, selected []string) (bool, int, bool) {
	correctSet := make(map[string]bool)
	for _, opt := range q.Options {
		if opt.IsCorrect {
			correctSet[opt.OptionID] = true
		}
	}
	if len(correctSet) == 0 {
		return false, 0, false
	}

	var hits, misses int
	seen := make(map[string]bool, len(selected))
	for _, id := range selected {
		if seen[id] {
			continue
		}
		seen[id] = true
		if correctSet[id] {
			hits++
		} else {
			misses++
		}
	}

	exact := hits == len(correctSet) && misses == 0

	if !q.Scoring.PartialCreditEnabled {
		return exact, 0, false
	}

	points := int(math.Round(float64(q.Scoring.BasePoints) * float64(hits-misses) / float64(len(correctSet))))
	if points < 0 {
		points = 0
	}
	if points > q.Scoring.BasePoints {
		points = q.Scoring.BasePoints
	}
	return points == q.Scoring.BasePoints, points, true
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
