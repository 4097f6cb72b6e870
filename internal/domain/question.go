package domain

// QuestionType distinguishes how a quiz item is presented to the client.
type QuestionType string

const (
	QuestionTypeTranslation QuestionType = "translation"
	QuestionTypeListening   QuestionType = "listening"
	QuestionTypeMultiple    QuestionType = "multiple_choice"
)

// Question is a single quiz item. Immutable for the lifetime of a session.
type Question struct {
	ID      int64        `json:"id,omitempty"`
	Topic   string       `json:"topic"`
	Text    string       `json:"text"`
	Answers []string     `json:"answers"`
	Tier    int          `json:"tier"`
	Type    QuestionType `json:"type"`
}

// QuestionImport is the wire format for question-bank import messages,
// consumed from Kafka or posted to the admin endpoint.
type QuestionImport struct {
	Topic   string       `json:"topic"`
	Text    string       `json:"text"`
	Answers []string     `json:"answers"`
	Tier    int          `json:"tier"`
	Type    QuestionType `json:"type,omitempty"`
}

// Valid reports whether an import carries enough data to become a question.
func (q *QuestionImport) Valid() bool {
	if q.Topic == "" || q.Text == "" || len(q.Answers) == 0 || q.Tier < 1 {
		return false
	}
	switch q.Type {
	case "", QuestionTypeTranslation, QuestionTypeListening, QuestionTypeMultiple:
		return true
	}
	return false
}
