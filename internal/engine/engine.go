package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quizarena/internal/config"
	"github.com/quizarena/internal/domain"
)

// RatingStore is the external per-player, per-topic skill record. The
// engine reads it at pairing time and writes it back at settlement; it
// never creates records.
type RatingStore interface {
	GetRatings(ctx context.Context, username string) (domain.RatingRecord, error)
	SetRating(ctx context.Context, username, topic string, stats domain.TopicStats) error
}

// ContentStore supplies tagged quiz items. SampleQuestions may return
// fewer items than requested.
type ContentStore interface {
	SampleQuestions(ctx context.Context, topic string, tier, count int) ([]domain.Question, error)
}

// HistoryStore receives the advisory match mirror. Writes are
// best-effort; the engine never reads them back.
type HistoryStore interface {
	RecordMatchStart(ctx context.Context, rec domain.MatchRecord) error
	RecordMatchResult(ctx context.Context, rec domain.MatchRecord) error
}

// Notifier delivers a notification to one connection, at-most-once. A
// gone or slow connection drops the message without error.
type Notifier interface {
	Send(connID, msgType string, payload any)
}

// EventPublisher receives settled-match events for downstream consumers.
type EventPublisher interface {
	PublishMatchSettled(rec domain.MatchRecord)
}

// ticket wraps the queued entry with its expiry timer so that pairing,
// withdrawal and expiry can each stop it exactly once.
type ticket struct {
	domain.Ticket
	expiry *time.Timer
}

// liveSession pairs the session state with the rating snapshots taken at
// pairing time, which settlement applies its deltas to.
type liveSession struct {
	*domain.BattleSession
	stats    [2]domain.TopicStats
	departed [2]bool
}

// Engine owns the matchmaking queue and the live session table. All
// mutations are serialized through one mutex, matching the single-writer
// nature of the in-memory state.
type Engine struct {
	ratings  RatingStore
	content  ContentStore
	history  HistoryStore
	notifier Notifier
	events   EventPublisher
	cfg      *config.EngineConfig
	logger   *slog.Logger

	mu            sync.Mutex
	queue         []*ticket
	sessions      map[string]*liveSession
	sessionByConn map[string]string
	attempts      map[string][]time.Time
	rng           *rand.Rand
}

// New creates a battle engine. history may be nil when no mirror is
// configured.
func New(
	ratings RatingStore,
	content ContentStore,
	history HistoryStore,
	notifier Notifier,
	cfg *config.EngineConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ratings:       ratings,
		content:       content,
		history:       history,
		notifier:      notifier,
		cfg:           cfg,
		logger:        logger,
		sessions:      make(map[string]*liveSession),
		sessionByConn: make(map[string]string),
		attempts:      make(map[string][]time.Time),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetEvents attaches the settled-match event publisher.
func (e *Engine) SetEvents(p EventPublisher) {
	e.events = p
}

// JoinQueue admits a player into the matchmaking queue. Rejections are
// surfaced to the joining connection only and returned to the caller.
func (e *Engine) JoinQueue(ctx context.Context, connID, username, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	username = strings.TrimSpace(username)
	if username == "" {
		e.rejectJoin(connID, domain.ErrInvalidUsername)
		return domain.ErrInvalidUsername
	}

	// A connection can own at most one session; it must finish or leave
	// before queueing again.
	if _, ok := e.sessionByConn[connID]; ok {
		e.rejectJoin(connID, domain.ErrAlreadyInSession)
		return domain.ErrAlreadyInSession
	}

	if !e.allowAttemptLocked(username) {
		e.rejectJoin(connID, domain.ErrRateLimited)
		return domain.ErrRateLimited
	}

	record, err := e.fetchRatings(ctx, username)
	if err != nil {
		e.rejectJoin(connID, err)
		return err
	}
	if _, ok := record[topic]; !ok {
		e.rejectJoin(connID, domain.ErrNoTopicRating)
		return domain.ErrNoTopicRating
	}

	// A new join replaces any existing ticket for the same username.
	e.removeTicketLocked(func(t *ticket) bool { return t.Username == username })

	t := &ticket{
		Ticket: domain.Ticket{
			ConnID:         connID,
			Username:       username,
			Topic:          topic,
			EnqueuedAt:     time.Now(),
			RatingSnapshot: record,
		},
	}
	t.expiry = time.AfterFunc(e.cfg.QueueTimeout, func() { e.expireTicket(t) })
	e.queue = append(e.queue, t)

	e.logger.Info("player queued", "username", username, "topic", topic, "queue_len", len(e.queue))
	e.notifier.Send(connID, domain.NotifyWaitingForOpponent, nil)

	e.matchLocked(ctx)
	return nil
}

// LeaveQueue withdraws the caller's ticket if present; no-op otherwise.
func (e *Engine) LeaveQueue(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removeTicketLocked(func(t *ticket) bool { return t.ConnID == connID }) {
		e.logger.Info("player left queue", "conn_id", connID)
		e.matchLocked(context.Background())
	}
}

// HandleDisconnect is the connection-loss callback from the transport.
// It retires any queued ticket and forfeits any active session owned by
// the connection.
func (e *Engine) HandleDisconnect(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.removeTicketLocked(func(t *ticket) bool { return t.ConnID == connID })

	sid, ok := e.sessionByConn[connID]
	if !ok {
		return
	}
	s, ok := e.sessions[sid]
	if !ok {
		return
	}
	p := playerByConn(s, connID)
	if p == nil {
		return
	}
	e.logger.Info("player disconnected mid-session", "session_id", sid, "username", p.Username)
	e.forfeitLocked(context.Background(), s, p.Username, domain.ReasonOpponentDisconnected)
}

// expireTicket fires from the ticket's timer. The ticket may already
// have been retired by pairing, withdrawal, or replacement; presence is
// re-checked under the lock by pointer identity so a stale callback
// cannot retire a newer ticket for the same connection.
func (e *Engine) expireTicket(t *ticket) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removeTicketLocked(func(q *ticket) bool { return q == t }) {
		e.logger.Info("ticket expired", "conn_id", t.ConnID, "username", t.Username)
		e.notifier.Send(t.ConnID, domain.NotifyQueueTimeout, nil)
	}
}

// QueueLen reports the number of waiting tickets.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// ActiveSessions reports the number of live sessions.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// rejectJoin notifies the initiating connection only.
func (e *Engine) rejectJoin(connID string, err error) {
	e.logger.Warn("join rejected", "conn_id", connID, "reason", err)
	e.notifier.Send(connID, domain.NotifyQueueError, domain.QueueError{Reason: err.Error()})
}

// allowAttemptLocked applies the per-username sliding-window rate limit.
// Every join call counts as an attempt, including rejected ones.
func (e *Engine) allowAttemptLocked(username string) bool {
	now := time.Now()
	cutoff := now.Add(-e.cfg.RateLimitWindow)

	recent := e.attempts[username][:0]
	for _, ts := range e.attempts[username] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	allowed := len(recent) < e.cfg.RateLimitMax
	e.attempts[username] = append(recent, now)
	return allowed
}

// fetchRatings reads the player's rating record with a bounded timeout.
func (e *Engine) fetchRatings(ctx context.Context, username string) (domain.RatingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	record, err := e.ratings.GetRatings(ctx, username)
	if err != nil {
		if err == domain.ErrNoRatingRecord {
			return nil, err
		}
		e.logger.Error("rating store unavailable", "username", username, "error", err)
		return nil, domain.ErrStoreUnavailable
	}
	return record, nil
}

// removeTicketLocked removes the first ticket matching the predicate and
// stops its timer. Returns whether a ticket was removed.
func (e *Engine) removeTicketLocked(match func(*ticket) bool) bool {
	for i, t := range e.queue {
		if match(t) {
			if t.expiry != nil {
				t.expiry.Stop()
			}
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return true
		}
	}
	return false
}

// matchLocked runs pairing passes until no pair can be formed. The scan
// is oldest-first: each unmatched ticket looks for the oldest other
// ticket with the same topic and a different username, and an unmatched
// head does not block younger tickets from pairing with each other.
func (e *Engine) matchLocked(ctx context.Context) {
	for {
		i, j := e.findPairLocked()
		if i < 0 {
			return
		}
		t1, t2 := e.queue[i], e.queue[j]
		t1.expiry.Stop()
		t2.expiry.Stop()
		// j > i always holds, so remove j first.
		e.queue = append(e.queue[:j], e.queue[j+1:]...)
		e.queue = append(e.queue[:i], e.queue[i+1:]...)

		e.createSessionLocked(ctx, t1, t2)
	}
}

func (e *Engine) findPairLocked() (int, int) {
	for i := 0; i < len(e.queue); i++ {
		for j := i + 1; j < len(e.queue); j++ {
			if e.queue[j].Topic == e.queue[i].Topic && e.queue[j].Username != e.queue[i].Username {
				return i, j
			}
		}
	}
	return -1, -1
}

// sessionID derives a deterministic session identifier from the two
// connection IDs.
func sessionID(connA, connB string) string {
	pair := []string{connA, connB}
	sort.Strings(pair)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("session:"+pair[0]+":"+pair[1])).String()
}

func playerByConn(s *liveSession, connID string) *domain.PlayerState {
	for _, p := range s.Players {
		if p != nil && p.ConnID == connID {
			return p
		}
	}
	return nil
}

func playerIndex(s *liveSession, username string) int {
	for i, p := range s.Players {
		if p != nil && p.Username == username {
			return i
		}
	}
	return -1
}
