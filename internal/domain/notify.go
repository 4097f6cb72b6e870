package domain

// Notification type names sent to clients over the transport layer.
const (
	NotifyWaitingForOpponent = "waiting_for_opponent"
	NotifyQueueError         = "queue_error"
	NotifyQueueTimeout       = "queue_timeout"
	NotifyMatchStart         = "match_start"
	NotifyProgressUpdate     = "progress_update"
	NotifyMatchEnd           = "match_end"
)

// MatchStart is the personalized view each player receives when a
// session is created.
type MatchStart struct {
	SessionID      string     `json:"session_id"`
	Topic          string     `json:"topic"`
	Username       string     `json:"username"`
	Opponent       string     `json:"opponent"`
	Rating         int        `json:"rating"`
	OpponentRating int        `json:"opponent_rating"`
	QuestionSet    []Question `json:"question_set"`
}

// ProgressUpdate tells a player that their opponent answered a question.
// Only the index and outcome cross the wire, never the opponent's full
// state.
type ProgressUpdate struct {
	SessionID     string        `json:"session_id"`
	QuestionIndex int           `json:"question_index"`
	Outcome       AnswerOutcome `json:"outcome"`
}

// MatchEnd is the terminal notification, carrying the full question set
// so clients can render a review screen.
type MatchEnd struct {
	SessionID       string       `json:"session_id"`
	Reason          string       `json:"reason"`
	Outcome         MatchOutcome `json:"outcome"`
	Winner          string       `json:"winner,omitempty"`
	CorrectAnswers  int          `json:"correct_answers"`
	OpponentCorrect *int         `json:"opponent_correct,omitempty"`
	Stats           TopicStats   `json:"stats"`
	ResultSaved     bool         `json:"result_saved"`
	QuestionSet     []Question   `json:"question_set"`
}

// QueueError explains why a join request was rejected.
type QueueError struct {
	Reason string `json:"reason"`
}

// Match-end reasons.
const (
	ReasonCompleted            = "completed"
	ReasonOpponentDisconnected = "opponentDisconnected"
	ReasonOpponentForfeited    = "opponentForfeited"
	ReasonYouForfeited         = "youForfeited"
	ReasonResultNotSaved       = "resultNotSaved"
)
