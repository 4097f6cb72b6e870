package domain

import "time"

// MatchOutcome classifies how a match ended.
type MatchOutcome string

const (
	OutcomeWin        MatchOutcome = "win"
	OutcomeTie        MatchOutcome = "tie"
	OutcomeForfeit    MatchOutcome = "forfeit"
	OutcomeAbandoned  MatchOutcome = "abandoned"
	OutcomeInProgress MatchOutcome = "in_progress"
)

// MatchPlayer is one side of a recorded match.
type MatchPlayer struct {
	Username       string          `json:"username"`
	Progress       []AnswerOutcome `json:"progress"`
	CorrectAnswers *int            `json:"correct_answers,omitempty"`
}

// MatchRecord is the advisory history mirror of a session, written at
// creation and again at settlement. The engine never reads it back.
type MatchRecord struct {
	SessionID   string         `json:"session_id"`
	Topic       string         `json:"topic"`
	Players     [2]MatchPlayer `json:"players"`
	QuestionSet []Question     `json:"question_set"`
	Outcome     MatchOutcome   `json:"outcome"`
	Winner      string         `json:"winner,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}
