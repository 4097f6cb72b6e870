package engine

import (
	"context"
	"time"

	"github.com/quizarena/internal/domain"
)

// createSessionLocked turns two retired tickets into a live session.
// Both tickets are already out of the queue with their timers stopped;
// on a failed draw they are simply discarded and both players notified.
func (e *Engine) createSessionLocked(ctx context.Context, t1, t2 *ticket) {
	topic := t1.Topic
	r1 := t1.RatingSnapshot[topic]
	r2 := t2.RatingSnapshot[topic]
	maxRating := r1.Rating
	if r2.Rating > maxRating {
		maxRating = r2.Rating
	}

	questions, err := e.drawQuestions(ctx, topic, maxRating)
	if err != nil {
		e.logger.Error("pairing aborted", "topic", topic, "error", err)
		reason := domain.QueueError{Reason: domain.ErrPairingAborted.Error()}
		e.notifier.Send(t1.ConnID, domain.NotifyQueueError, reason)
		e.notifier.Send(t2.ConnID, domain.NotifyQueueError, reason)
		return
	}

	s := &liveSession{
		BattleSession: &domain.BattleSession{
			ID:     sessionID(t1.ConnID, t2.ConnID),
			Topic:  topic,
			Status: domain.SessionActive,
			Players: [2]*domain.PlayerState{
				domain.NewPlayerState(t1.ConnID, t1.Username, len(questions)),
				domain.NewPlayerState(t2.ConnID, t2.Username, len(questions)),
			},
			QuestionSet: questions,
			CreatedAt:   time.Now(),
		},
		stats: [2]domain.TopicStats{r1, r2},
	}

	e.sessions[s.ID] = s
	e.sessionByConn[t1.ConnID] = s.ID
	e.sessionByConn[t2.ConnID] = s.ID

	e.logger.Info("session created",
		"session_id", s.ID,
		"topic", topic,
		"player1", t1.Username,
		"player2", t2.Username,
		"questions", len(questions),
	)

	e.notifier.Send(t1.ConnID, domain.NotifyMatchStart, domain.MatchStart{
		SessionID:      s.ID,
		Topic:          topic,
		Username:       t1.Username,
		Opponent:       t2.Username,
		Rating:         r1.Rating,
		OpponentRating: r2.Rating,
		QuestionSet:    questions,
	})
	e.notifier.Send(t2.ConnID, domain.NotifyMatchStart, domain.MatchStart{
		SessionID:      s.ID,
		Topic:          topic,
		Username:       t2.Username,
		Opponent:       t1.Username,
		Rating:         r2.Rating,
		OpponentRating: r1.Rating,
		QuestionSet:    questions,
	})

	if e.history != nil {
		if err := e.history.RecordMatchStart(ctx, e.matchRecord(s)); err != nil {
			e.logger.Warn("failed to mirror match start", "session_id", s.ID, "error", err)
		}
	}
}

// RecordAnswer sets one slot of the caller's progress and forwards only
// the index and outcome to the opponent. Stale or malformed events are
// logged and dropped, never returned to the caller.
func (e *Engine) RecordAnswer(sessionID, username string, questionIndex int, outcome domain.AnswerOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		e.logger.Warn("answer for unknown session", "session_id", sessionID, "username", username)
		return
	}
	p := s.Player(username)
	if p == nil {
		e.logger.Warn("answer from unknown player", "session_id", sessionID, "username", username)
		return
	}
	if questionIndex < 0 || questionIndex >= len(p.Progress) {
		e.logger.Warn("answer index out of range",
			"session_id", sessionID,
			"username", username,
			"index", questionIndex,
		)
		return
	}

	p.Progress[questionIndex] = outcome

	if opp := s.Opponent(username); opp != nil {
		e.notifier.Send(opp.ConnID, domain.NotifyProgressUpdate, domain.ProgressUpdate{
			SessionID:     sessionID,
			QuestionIndex: questionIndex,
			Outcome:       outcome,
		})
	}
}

// RecordResult sets the caller's final correct-answer count exactly
// once. When both players have submitted, the session settles and is
// destroyed.
func (e *Engine) RecordResult(ctx context.Context, sessionID, username string, correctAnswers int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		e.logger.Warn("result for unknown session", "session_id", sessionID, "username", username)
		return
	}
	p := s.Player(username)
	if p == nil {
		e.logger.Warn("result from unknown player", "session_id", sessionID, "username", username)
		return
	}
	if p.CorrectAnswers != nil {
		e.logger.Warn("duplicate result ignored", "session_id", sessionID, "username", username)
		return
	}

	p.CorrectAnswers = &correctAnswers
	e.logger.Info("result recorded", "session_id", sessionID, "username", username, "correct", correctAnswers)

	if s.Complete() {
		e.settleCompletedLocked(ctx, s)
	}
}

// Forfeit ends a session with the caller as the losing side.
func (e *Engine) Forfeit(sessionID, username string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		e.logger.Warn("forfeit for unknown session", "session_id", sessionID, "username", username)
		return
	}
	if s.Player(username) == nil {
		e.logger.Warn("forfeit from unknown player", "session_id", sessionID, "username", username)
		return
	}
	e.forfeitLocked(context.Background(), s, username, domain.ReasonOpponentForfeited)
}

// forfeitLocked settles a session asymmetrically against the leaver. If
// the partner is already gone the session is destroyed without
// settlement.
func (e *Engine) forfeitLocked(ctx context.Context, s *liveSession, leaver, reason string) {
	idx := playerIndex(s, leaver)
	if idx < 0 {
		return
	}
	s.departed[idx] = true

	if s.departed[1-idx] {
		e.logger.Info("destroying abandoned session", "session_id", s.ID)
		if e.history != nil {
			now := time.Now()
			rec := e.matchRecord(s)
			rec.Outcome = domain.OutcomeAbandoned
			rec.FinishedAt = &now
			if err := e.history.RecordMatchResult(ctx, rec); err != nil {
				e.logger.Warn("failed to mirror abandoned match", "session_id", s.ID, "error", err)
			}
		}
		e.destroySessionLocked(s)
		return
	}

	e.settleForfeitLocked(ctx, s, idx, reason)
}

// destroySessionLocked removes the session from the live tables.
func (e *Engine) destroySessionLocked(s *liveSession) {
	s.Status = domain.SessionSettled
	delete(e.sessions, s.ID)
	for _, p := range s.Players {
		if p != nil {
			delete(e.sessionByConn, p.ConnID)
		}
	}
}

// matchRecord builds the advisory mirror row for the session's current
// state.
func (e *Engine) matchRecord(s *liveSession) domain.MatchRecord {
	rec := domain.MatchRecord{
		SessionID:   s.ID,
		Topic:       s.Topic,
		QuestionSet: s.QuestionSet,
		Outcome:     domain.OutcomeInProgress,
		StartedAt:   s.CreatedAt,
	}
	for i, p := range s.Players {
		rec.Players[i] = domain.MatchPlayer{
			Username:       p.Username,
			Progress:       p.Progress,
			CorrectAnswers: p.CorrectAnswers,
		}
	}
	return rec
}
