package engine

import (
	"context"
	"time"

	"github.com/quizarena/internal/domain"
)

// Settlement deltas. Rating, experience and currency never drop below
// zero.

func applyWin(s domain.TopicStats) domain.TopicStats {
	s.Rating += 100
	s.Experience += 100
	s.Currency += 50
	s.WinStreak++
	return s
}

func applyLoss(s domain.TopicStats) domain.TopicStats {
	s.Rating = floorZero(s.Rating - 15)
	s.Experience += 10
	s.Currency = floorZero(s.Currency - 15)
	s.WinStreak = 0
	return s
}

func applyTie(s domain.TopicStats) domain.TopicStats {
	s.Rating = floorZero(s.Rating - 5)
	s.Experience += 25
	s.Currency += 25
	s.WinStreak = 0
	return s
}

func applyForfeitWin(s domain.TopicStats) domain.TopicStats {
	s.Rating += 15
	s.Experience += 100
	s.Currency += 40
	s.WinStreak++
	return s
}

func applyForfeitLoss(s domain.TopicStats) domain.TopicStats {
	s.Rating = floorZero(s.Rating - 15)
	s.Experience = floorZero(s.Experience - 100)
	s.Currency = floorZero(s.Currency - 10)
	s.WinStreak = 0
	return s
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// settleCompletedLocked resolves a duel where both players submitted
// results. The winner is the player with strictly more correct answers;
// a tie has no winner.
func (e *Engine) settleCompletedLocked(ctx context.Context, s *liveSession) {
	c0 := *s.Players[0].CorrectAnswers
	c1 := *s.Players[1].CorrectAnswers

	var next [2]domain.TopicStats
	outcome := domain.OutcomeTie
	winner := ""
	reasons := [2]string{domain.ReasonCompleted, domain.ReasonCompleted}

	switch {
	case c0 > c1:
		next[0] = applyWin(s.stats[0])
		next[1] = applyLoss(s.stats[1])
		outcome = domain.OutcomeWin
		winner = s.Players[0].Username
	case c1 > c0:
		next[1] = applyWin(s.stats[1])
		next[0] = applyLoss(s.stats[0])
		outcome = domain.OutcomeWin
		winner = s.Players[1].Username
	default:
		next[0] = applyTie(s.stats[0])
		next[1] = applyTie(s.stats[1])
	}

	e.finishLocked(ctx, s, next, outcome, winner, reasons)
}

// settleForfeitLocked resolves a duel one side abandoned. leaverIdx is
// the forfeiting or disconnected player; reason describes the leaver's
// departure from the opponent's point of view. The leaver gets their
// own reason so a still-connected forfeiter is not told their opponent
// left.
func (e *Engine) settleForfeitLocked(ctx context.Context, s *liveSession, leaverIdx int, reason string) {
	winnerIdx := 1 - leaverIdx

	var next [2]domain.TopicStats
	next[winnerIdx] = applyForfeitWin(s.stats[winnerIdx])
	next[leaverIdx] = applyForfeitLoss(s.stats[leaverIdx])

	var reasons [2]string
	reasons[winnerIdx] = reason
	reasons[leaverIdx] = domain.ReasonYouForfeited

	e.finishLocked(ctx, s, next, domain.OutcomeForfeit, s.Players[winnerIdx].Username, reasons)
}

// finishLocked writes both rating records, mirrors the outcome, publishes
// the settled event, notifies both connections with the full question
// set, and destroys the session. Reasons are per recipient. Settlement
// happens at most once per session because the session leaves the table
// here.
func (e *Engine) finishLocked(ctx context.Context, s *liveSession, next [2]domain.TopicStats, outcome domain.MatchOutcome, winner string, reasons [2]string) {
	var saved [2]bool
	for i, p := range s.Players {
		saved[i] = e.writeRating(ctx, p.Username, s.Topic, next[i])
	}

	now := time.Now()
	rec := e.matchRecord(s)
	rec.Outcome = outcome
	rec.Winner = winner
	rec.FinishedAt = &now

	if e.history != nil {
		if err := e.history.RecordMatchResult(ctx, rec); err != nil {
			e.logger.Warn("failed to mirror match result", "session_id", s.ID, "error", err)
		}
	}
	if e.events != nil {
		e.events.PublishMatchSettled(rec)
	}

	for i, p := range s.Players {
		opp := s.Players[1-i]
		msg := domain.MatchEnd{
			SessionID:   s.ID,
			Reason:      reasons[i],
			Outcome:     outcome,
			Winner:      winner,
			Stats:       next[i],
			ResultSaved: saved[i],
			QuestionSet: s.QuestionSet,
		}
		if !saved[i] {
			msg.Reason = domain.ReasonResultNotSaved
		}
		if p.CorrectAnswers != nil {
			msg.CorrectAnswers = *p.CorrectAnswers
		}
		if opp.CorrectAnswers != nil {
			msg.OpponentCorrect = opp.CorrectAnswers
		}
		e.notifier.Send(p.ConnID, domain.NotifyMatchEnd, msg)
	}

	e.logger.Info("session settled",
		"session_id", s.ID,
		"outcome", outcome,
		"winner", winner,
	)
	e.destroySessionLocked(s)
}

// writeRating persists one player's new stats with bounded retries.
// Exhausting the retries degrades to a result-not-saved notification;
// it never blocks session destruction.
func (e *Engine) writeRating(ctx context.Context, username, topic string, stats domain.TopicStats) bool {
	for attempt := 1; attempt <= e.cfg.SettleRetryAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
		err := e.ratings.SetRating(writeCtx, username, topic, stats)
		cancel()
		if err == nil {
			return true
		}
		e.logger.Warn("rating write failed",
			"username", username,
			"topic", topic,
			"attempt", attempt,
			"error", err,
		)
		if attempt < e.cfg.SettleRetryAttempts {
			time.Sleep(e.cfg.SettleRetryDelay)
		}
	}
	e.logger.Error("rating write exhausted retries", "username", username, "topic", topic)
	return false
}
