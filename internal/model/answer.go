package model

// AnswerMap maps a question ID to the selected option. A question absent from
// the map is unanswered.
type AnswerMap map[string]OptionLabel

// Clone returns an independent copy of m.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ForSubmission expands m over every question of def. Unanswered questions are
// present with a nil value so they serialize as JSON null.
func (m AnswerMap) ForSubmission(def *TestDefinition) map[string]*OptionLabel {
	out := make(map[string]*OptionLabel, len(def.Questions))
	for _, q := range def.Questions {
		if opt, ok := m[q.ID]; ok {
			opt := opt
			out[q.ID] = &opt
		} else {
			out[q.ID] = nil
		}
	}
	return out
}
