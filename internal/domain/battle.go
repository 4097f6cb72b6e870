package domain

import "time"

// AnswerOutcome is the per-question progress state of one player.
type AnswerOutcome string

const (
	OutcomeUnanswered AnswerOutcome = "unanswered"
	OutcomeCorrect    AnswerOutcome = "correct"
	OutcomeWrong      AnswerOutcome = "wrong"
)

// SessionStatus is the lifecycle state of a battle session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionSettled SessionStatus = "settled"
)

// Ticket is a waiting matchmaking entry. The queue owns it exclusively
// until it is paired, withdrawn, expired or the connection is lost.
type Ticket struct {
	ConnID         string
	Username       string
	Topic          string
	EnqueuedAt     time.Time
	RatingSnapshot RatingRecord
}

// PlayerState is one participant's live state inside a session. Progress
// is pre-sized to the question-set length; CorrectAnswers stays nil until
// the player submits their final result, and is set at most once.
type PlayerState struct {
	ConnID         string
	Username       string
	Progress       []AnswerOutcome
	CorrectAnswers *int
}

// BattleSession is the authoritative state of one active duel.
type BattleSession struct {
	ID          string
	Topic       string
	Status      SessionStatus
	Players     [2]*PlayerState
	QuestionSet []Question
	CreatedAt   time.Time
}

// Opponent returns the other participant, or nil when username is not in
// the session.
func (s *BattleSession) Opponent(username string) *PlayerState {
	for i, p := range s.Players {
		if p != nil && p.Username == username {
			return s.Players[1-i]
		}
	}
	return nil
}

// Player returns the participant with the given username, or nil.
func (s *BattleSession) Player(username string) *PlayerState {
	for _, p := range s.Players {
		if p != nil && p.Username == username {
			return p
		}
	}
	return nil
}

// Complete reports whether both players have submitted their results.
func (s *BattleSession) Complete() bool {
	return s.Players[0] != nil && s.Players[0].CorrectAnswers != nil &&
		s.Players[1] != nil && s.Players[1].CorrectAnswers != nil
}

// NewPlayerState builds a PlayerState with an all-unanswered progress
// array sized to the question set.
func NewPlayerState(connID, username string, questions int) *PlayerState {
	progress := make([]AnswerOutcome, questions)
	for i := range progress {
		progress[i] = OutcomeUnanswered
	}
	return &PlayerState{
		ConnID:   connID,
		Username: username,
		Progress: progress,
	}
}
