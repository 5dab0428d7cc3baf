// SPDX-License-Identifier: MIT

package model

// QuestionType selects the answer shape and correctness rule for a question.
type QuestionType string

const (
	MultipleChoice      QuestionType = "MULTIPLE_CHOICE"
	MultipleChoiceMulti QuestionType = "MULTIPLE_CHOICE_MULTI"
	TrueFalse           QuestionType = "TRUE_FALSE"
	NumberInput         QuestionType = "NUMBER_INPUT"
	OpenEnded           QuestionType = "OPEN_ENDED"
)

// Option is one selectable answer. Tolerance and AcceptedAnswers only apply
// to numeric and open-ended questions respectively.
type Option struct {
	OptionID        string   `json:"optionId"`
	Text            string   `json:"text"`
	IsCorrect       bool     `json:"isCorrect"`
	NumericTarget   float64  `json:"numericTarget,omitempty"`
	Tolerance       float64  `json:"tolerance,omitempty"`
	AcceptedAnswers []string `json:"acceptedAnswers,omitempty"`
}

// Scoring holds the point parameters for one question.
type Scoring struct {
	BasePoints           int     `json:"basePoints"`
	SpeedBonusMultiplier float64 `json:"speedBonusMultiplier"`
	PartialCreditEnabled bool    `json:"partialCreditEnabled"`
}

// Question is read-only within a session.
type Question struct {
	QuestionID      string       `json:"questionId"`
	QuestionText    string       `json:"questionText"`
	QuestionType    QuestionType `json:"questionType"`
	Options         []Option     `json:"options"`
	TimeLimit       int          `json:"timeLimit"` // seconds
	ShuffleOptions  bool         `json:"shuffleOptions"`
	Scoring         Scoring      `json:"scoring"`
	ExplanationText string       `json:"explanationText,omitempty"`
}

// CorrectOptionIDs returns the ids of all correct options.
func (q *Question) CorrectOptionIDs() []string {
	var ids []string
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.OptionID)
		}
	}
	return ids
}

// HasOption reports whether id names an option of this question.
func (q *Question) HasOption(id string) bool {
	for _, o := range q.Options {
		if o.OptionID == id {
			return true
		}
	}
	return false
}

// Sanitized returns a copy with correctness markers stripped for client
// delivery during an active question.
func (q *Question) Sanitized() *Question {
	out := *q
	out.Options = make([]Option, len(q.Options))
	for i, o := range q.Options {
		out.Options[i] = Option{OptionID: o.OptionID, Text: o.Text}
	}
	return &out
}

// Quiz is the authored question set a session runs. Authoring CRUD lives
// outside the engine; the engine only reads.
type Quiz struct {
	QuizID    string     `json:"quizId"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// QuestionAt returns the question at index, or nil when out of range.
func (z *Quiz) QuestionAt(index int) *Question {
	if index < 0 || index >= len(z.Questions) {
		return nil
	}
	return &z.Questions[index]
}
