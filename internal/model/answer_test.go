package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForSubmissionSendsNullForUnanswered(t *testing.T) {
	def := &TestDefinition{
		ID:              "t-1",
		DurationSeconds: 60,
		Questions:       []Question{{ID: "q1"}, {ID: "q2"}},
	}
	answers := AnswerMap{"q1": OptionC, "stale": OptionA}

	body, err := json.Marshal(SubmissionPayload{
		Answers:          answers.ForSubmission(def),
		TimeTakenSeconds: 12,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answers":{"q1":"C","q2":null},"time_taken_seconds":12}`, string(body))
}

func TestCloneIsIndependent(t *testing.T) {
	orig := AnswerMap{"q1": OptionA}
	cp := orig.Clone()
	cp["q1"] = OptionB

	assert.Equal(t, OptionA, orig["q1"])
}

func TestOptionLabelValid(t *testing.T) {
	for _, l := range OptionLabels {
		assert.True(t, l.Valid(), string(l))
	}
	assert.False(t, OptionLabel("E").Valid())
	assert.False(t, OptionLabel("a").Valid())
}
