package model

// OptionLabel identifies one of the four choices of a question.
type OptionLabel string

const (
	OptionA OptionLabel = "A"
	OptionB OptionLabel = "B"
	OptionC OptionLabel = "C"
	OptionD OptionLabel = "D"
)

// OptionLabels lists the labels every question carries, in display order.
var OptionLabels = []OptionLabel{OptionA, OptionB, OptionC, OptionD}

// Valid reports whether l is one of A, B, C or D.
func (l OptionLabel) Valid() bool {
	switch l {
	case OptionA, OptionB, OptionC, OptionD:
		return true
	}
	return false
}

// TestDefinition is a test as served by the Assessment Repository. It never
// carries correct answers and is immutable for the lifetime of a session.
type TestDefinition struct {
	ID              string     `json:"id" validate:"required"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"duration_seconds" validate:"gt=0"`
	Questions       []Question `json:"questions" validate:"required,min=1,dive"`
}

// Question is a single multiple-choice question.
type Question struct {
	ID      string                 `json:"id" validate:"required"`
	Text    string                 `json:"text" validate:"required"`
	Options map[OptionLabel]string `json:"options" validate:"len=4,dive,keys,oneof=A B C D,endkeys,required"`
}

// QuestionIndex returns the position of questionID, or -1.
func (t *TestDefinition) QuestionIndex(questionID string) int {
	for i := range t.Questions {
		if t.Questions[i].ID == questionID {
			return i
		}
	}
	return -1
}
