package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quizarena/internal/config"
	"github.com/quizarena/internal/domain"
)

type fakeRatings struct {
	mu      sync.Mutex
	records map[string]domain.RatingRecord
	saved   map[string]domain.TopicStats
	getErr  error
	setErr  error
}

func newFakeRatings() *fakeRatings {
	return &fakeRatings{
		records: make(map[string]domain.RatingRecord),
		saved:   make(map[string]domain.TopicStats),
	}
}

func (f *fakeRatings) GetRatings(ctx context.Context, username string) (domain.RatingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	record, ok := f.records[username]
	if !ok {
		return nil, domain.ErrNoRatingRecord
	}
	return record, nil
}

func (f *fakeRatings) SetRating(ctx context.Context, username, topic string, stats domain.TopicStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.saved[username+"/"+topic] = stats
	return nil
}

func (f *fakeRatings) savedStats(username, topic string) (domain.TopicStats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.saved[username+"/"+topic]
	return s, ok
}

type sampleCall struct {
	tier  int
	count int
}

type fakeContent struct {
	mu     sync.Mutex
	byTier map[int][]domain.Question
	err    error
	calls  []sampleCall
}

func newFakeContent(perTier int) *fakeContent {
	byTier := make(map[int][]domain.Question)
	for tier := 1; tier <= topTier; tier++ {
		for i := 0; i < perTier; i++ {
			byTier[tier] = append(byTier[tier], domain.Question{
				ID:    int64(tier*100 + i),
				Topic: "spanish",
				Text:  "q",
				Tier:  tier,
			})
		}
	}
	return &fakeContent{byTier: byTier}
}

func (f *fakeContent) SampleQuestions(ctx context.Context, topic string, tier, count int) ([]domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, sampleCall{tier: tier, count: count})
	pool := f.byTier[tier]
	if count > len(pool) {
		count = len(pool)
	}
	return pool[:count], nil
}

type fakeHistory struct {
	mu      sync.Mutex
	starts  []domain.MatchRecord
	results []domain.MatchRecord
}

func (f *fakeHistory) RecordMatchStart(ctx context.Context, rec domain.MatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, rec)
	return nil
}

func (f *fakeHistory) RecordMatchResult(ctx context.Context, rec domain.MatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, rec)
	return nil
}

type sentMsg struct {
	connID  string
	msgType string
	payload any
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []sentMsg
}

func (f *fakeNotifier) Send(connID, msgType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{connID: connID, msgType: msgType, payload: payload})
}

func (f *fakeNotifier) byType(connID, msgType string) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.msgs {
		if m.connID == connID && m.msgType == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fakeEvents struct {
	mu   sync.Mutex
	recs []domain.MatchRecord
}

func (f *fakeEvents) PublishMatchSettled(rec domain.MatchRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
}

func testConfig() *config.EngineConfig {
	return &config.EngineConfig{
		QueueTimeout:        time.Minute,
		RateLimitWindow:     time.Minute,
		RateLimitMax:        3,
		StoreTimeout:        time.Second,
		SettleRetryAttempts: 2,
		SettleRetryDelay:    time.Millisecond,
	}
}

type testEnv struct {
	engine   *Engine
	ratings  *fakeRatings
	content  *fakeContent
	history  *fakeHistory
	notifier *fakeNotifier
	events   *fakeEvents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ratings:  newFakeRatings(),
		content:  newFakeContent(10),
		history:  &fakeHistory{},
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.engine = New(env.ratings, env.content, env.history, env.notifier, testConfig(), logger)
	env.engine.SetEvents(env.events)
	return env
}

func (env *testEnv) addPlayer(username string, stats domain.TopicStats) {
	env.ratings.records[username] = domain.RatingRecord{"spanish": stats}
}

func (env *testEnv) join(t *testing.T, connID, username string) {
	t.Helper()
	if err := env.engine.JoinQueue(context.Background(), connID, username, "spanish"); err != nil {
		t.Fatalf("JoinQueue(%s): %v", username, err)
	}
}

func (env *testEnv) startedSession(t *testing.T, connID string) domain.MatchStart {
	t.Helper()
	msgs := env.notifier.byType(connID, domain.NotifyMatchStart)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 match_start for %s, got %d", connID, len(msgs))
	}
	return msgs[0].payload.(domain.MatchStart)
}

func TestJoinQueueInvalidUsername(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.JoinQueue(context.Background(), "c1", "   ", "spanish")
	if !errors.Is(err, domain.ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
	if env.engine.QueueLen() != 0 {
		t.Fatalf("expected empty queue, got %d", env.engine.QueueLen())
	}
	if len(env.notifier.byType("c1", domain.NotifyQueueError)) != 1 {
		t.Fatal("expected queue_error notification")
	}
}

func TestJoinQueueNoRatingRecord(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.JoinQueue(context.Background(), "c1", "ghost", "spanish")
	if !errors.Is(err, domain.ErrNoRatingRecord) {
		t.Fatalf("expected ErrNoRatingRecord, got %v", err)
	}
}

func TestJoinQueueNoTopicRating(t *testing.T) {
	env := newTestEnv(t)
	env.ratings.records["alice"] = domain.RatingRecord{"french": {Rating: 100}}

	err := env.engine.JoinQueue(context.Background(), "c1", "alice", "spanish")
	if !errors.Is(err, domain.ErrNoTopicRating) {
		t.Fatalf("expected ErrNoTopicRating, got %v", err)
	}
}

func TestJoinQueueStoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.ratings.getErr = errors.New("connection refused")

	err := env.engine.JoinQueue(context.Background(), "c1", "alice", "spanish")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestJoinQueueRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("alice", domain.TopicStats{Rating: 100})

	for i := 0; i < 3; i++ {
		env.join(t, "c1", "alice")
	}
	err := env.engine.JoinQueue(context.Background(), "c1", "alice", "spanish")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on 4th attempt, got %v", err)
	}
}

func TestRateLimitWindowSlides(t *testing.T) {
	env := newTestEnv(t)
	env.engine.cfg.RateLimitWindow = 20 * time.Millisecond
	env.addPlayer("alice", domain.TopicStats{Rating: 100})

	for i := 0; i < 3; i++ {
		env.join(t, "c1", "alice")
	}
	time.Sleep(30 * time.Millisecond)

	if err := env.engine.JoinQueue(context.Background(), "c1", "alice", "spanish"); err != nil {
		t.Fatalf("attempt after window elapsed should pass, got %v", err)
	}
}

func TestRateLimitCountsRejectedAttempts(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("alice", domain.TopicStats{Rating: 100})

	// Three rejected attempts for a topic alice has no rating in still
	// exhaust the window.
	for i := 0; i < 3; i++ {
		env.engine.JoinQueue(context.Background(), "c1", "alice", "klingon")
	}
	err := env.engine.JoinQueue(context.Background(), "c1", "alice", "spanish")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestPairingSameTopic(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("alice", domain.TopicStats{Rating: 100})
	env.addPlayer("bob", domain.TopicStats{Rating: 500})

	env.join(t, "c1", "alice")
	if len(env.notifier.byType("c1", domain.NotifyWaitingForOpponent)) != 1 {
		t.Fatal("expected waiting_for_opponent for first player")
	}
	env.join(t, "c2", "bob")

	if env.engine.QueueLen() != 0 {
		t.Fatalf("expected empty queue after pairing, got %d", env.engine.QueueLen())
	}
	if env.engine.ActiveSessions() != 1 {
		t.Fatalf("expected 1 active session, got %d", env.engine.ActiveSessions())
	}

	start1 := env.startedSession(t, "c1")
	start2 := env.startedSession(t, "c2")
	if start1.SessionID != start2.SessionID {
		t.Fatal("players received different session IDs")
	}
	if start1.Opponent != "bob" || start2.Opponent != "alice" {
		t.Fatalf("wrong opponents: %q, %q", start1.Opponent, start2.Opponent)
	}
	if start1.Rating != 100 || start1.OpponentRating != 500 {
		t.Fatalf("wrong ratings in match_start: %d vs %d", start1.Rating, start1.OpponentRating)
	}
	if len(start1.QuestionSet) != 5 {
		t.Fatalf("unexpected question set size %d", len(start1.QuestionSet))
	}

	if len(env.history.starts) != 1 {
		t.Fatalf("expected 1 mirrored match start, got %d", len(env.history.starts))
	}
}

func TestPairingDifferentTopicsWait(t *testing.T) {
	env := newTestEnv(t)
	env.ratings.records["alice"] = domain.RatingRecord{"spanish": {Rating: 100}}
	env.ratings.records["bob"] = domain.RatingRecord{"french": {Rating: 100}}

	env.join(t, "c1", "alice")
	if err := env.engine.JoinQueue(context.Background(), "c2", "bob", "french"); err != nil {
		t.Fatalf("JoinQueue(bob): %v", err)
	}

	if env.engine.QueueLen() != 2 {
		t.Fatalf("expected both tickets waiting, got %d", env.engine.QueueLen())
	}
	if env.engine.ActiveSessions() != 0 {
		t.Fatal("players with different topics must not pair")
	}
}

func TestNoSelfPairing(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("alice", domain.TopicStats{Rating: 100})

	env.join(t, "c1", "alice")
	env.join(t, "c2", "alice")

	if env.engine.ActiveSessions() != 0 {
		t.Fatal("same username must not pair with itself")
	}
	// The second join replaced the first ticket.
	if env.engine.QueueLen() != 1 {
		t.Fatalf("expected 1 ticket after replacement, got %d", env.engine.QueueLen())
	}
}

func TestOldestFirstPairingSkipsUnmatchableHead(t *testing.T) {
	env := newTestEnv(t)
	env.ratings.records["alice"] = domain.RatingRecord{"french": {Rating: 100}}
	env.addPlayer("bob", domain.TopicStats{Rating: 100})
	env.addPlayer("carol", domain.TopicStats{Rating: 100})

	if err := env.engine.JoinQueue(context.Background(), "c1", "alice", "french"); err != nil {
		t.Fatalf("JoinQueue(alice): %v", err)
	}
	env.join(t, "c2", "bob")
	env.join(t, "c3", "carol")

	// An unmatched head must not block younger tickets.
	if env.engine.ActiveSessions() != 1 {
		t.Fatalf("expected bob and carol to pair, got %d sessions", env.engine.ActiveSessions())
	}
	if env.engine.QueueLen() != 1 {
		t.Fatalf("expected alice still waiting, got %d tickets", env.engine.QueueLen())
	}
}

func TestLeaveQueue(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("alice", domain.TopicStats{Rating: 100})

	env.join(t, "c1", "alice")
	env.engine.LeaveQueue("c1")

	if env.engine.QueueLen() != 0 {
		t.Fatalf("expected empty queue, got %d", env.engine.QueueLen())
	}
	// Subsequent join works again.
	env.join(t, "c1", "alice")
	if env.engine.QueueLen() != 1 {
		t.Fatal("rejoin after leave failed")
	}
}

func TestQueueTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.engine.cfg.QueueTimeout = 10 * time.Millisecond
	env.addPlayer("alice", domain.TopicStats{Rating: 100})

	env.join(t, "c1", "alice")

	deadline := time.Now().Add(time.Second)
	for env.engine.QueueLen() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticket never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(env.notifier.byType("c1", domain.NotifyQueueTimeout)) != 1 {
		t.Fatal("expected queue_timeout notification")
	}
}

func TestStaleExpiryLeavesReplacementTicket(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("alice", domain.TopicStats{Rating: 100})

	env.join(t, "c1", "alice")
	env.engine.mu.Lock()
	stale := env.engine.queue[0]
	env.engine.mu.Unlock()

	// Replacing a ticket races its expiry timer. A callback already in
	// flight when Stop returns false must not retire the replacement.
	env.join(t, "c1", "alice")
	env.engine.expireTicket(stale)

	if env.engine.QueueLen() != 1 {
		t.Fatalf("stale expiry retired the replacement ticket: queue len = %d, want 1", env.engine.QueueLen())
	}
	if len(env.notifier.byType("c1", domain.NotifyQueueTimeout)) != 0 {
		t.Fatal("unexpected queue_timeout notification")
	}
}

func TestPairingAbortedOnEmptyBank(t *testing.T) {
	env := newTestEnv(t)
	env.content.byTier = map[int][]domain.Question{}
	env.addPlayer("alice", domain.TopicStats{Rating: 100})
	env.addPlayer("bob", domain.TopicStats{Rating: 100})

	env.join(t, "c1", "alice")
	env.join(t, "c2", "bob")

	if env.engine.ActiveSessions() != 0 {
		t.Fatal("session must not start without questions")
	}
	if env.engine.QueueLen() != 0 {
		t.Fatal("aborted tickets must not return to the queue")
	}
	for _, conn := range []string{"c1", "c2"} {
		if len(env.notifier.byType(conn, domain.NotifyQueueError)) != 1 {
			t.Fatalf("expected queue_error for %s", conn)
		}
	}
}

func startSession(t *testing.T, env *testEnv) string {
	t.Helper()
	env.addPlayer("alice", domain.TopicStats{Rating: 100, Experience: 50, Currency: 20, WinStreak: 2})
	env.addPlayer("bob", domain.TopicStats{Rating: 500, Experience: 200, Currency: 5, WinStreak: 0})
	env.join(t, "c1", "alice")
	env.join(t, "c2", "bob")
	return env.startedSession(t, "c1").SessionID
}

func TestRecordAnswerForwardsProgress(t *testing.T) {
	env := newTestEnv(t)
	sid := startSession(t, env)

	env.engine.RecordAnswer(sid, "alice", 2, domain.OutcomeCorrect)

	updates := env.notifier.byType("c2", domain.NotifyProgressUpdate)
	if len(updates) != 1 {
		t.Fatalf("expected 1 progress_update for opponent, got %d", len(updates))
	}
	upd := updates[0].payload.(domain.ProgressUpdate)
	if upd.QuestionIndex != 2 || upd.Outcome != domain.OutcomeCorrect {
		t.Fatalf("wrong update payload: %+v", upd)
	}
	if len(env.notifier.byType("c1", domain.NotifyProgressUpdate)) != 0 {
		t.Fatal("answering player must not receive their own update")
	}
}

func TestRecordAnswerIgnoresBadEvents(t *testing.T) {
	env := newTestEnv(t)
	sid := startSession(t, env)

	env.engine.RecordAnswer("missing", "alice", 0, domain.OutcomeCorrect)
	env.engine.RecordAnswer(sid, "mallory", 0, domain.OutcomeCorrect)
	env.engine.RecordAnswer(sid, "alice", -1, domain.OutcomeCorrect)
	env.engine.RecordAnswer(sid, "alice", 99, domain.OutcomeCorrect)

	if len(env.notifier.byType("c2", domain.NotifyProgressUpdate)) != 0 {
		t.Fatal("invalid answers must not propagate")
	}
	if env.engine.ActiveSessions() != 1 {
		t.Fatal("session must survive invalid answer events")
	}
}

func TestSettleWin(t *testing.T) {
	env := newTestEnv(t)
	sid := startSession(t, env)
	ctx := context.Background()

	env.engine.RecordResult(ctx, sid, "alice", 4)
	if env.engine.ActiveSessions() != 1 {
		t.Fatal("session must wait for the second result")
	}
	env.engine.RecordResult(ctx, sid, "bob", 2)

	if env.engine.ActiveSessions() != 0 {
		t.Fatal("session must be destroyed after settlement")
	}

	winner, ok := env.ratings.savedStats("alice", "spanish")
	if !ok {
		t.Fatal("winner stats not written")
	}
	want := domain.TopicStats{Rating: 200, Experience: 150, Currency: 70, WinStreak: 3}
	if winner != want {
		t.Fatalf("winner stats = %+v, want %+v", winner, want)
	}

	loser, ok := env.ratings.savedStats("bob", "spanish")
	if !ok {
		t.Fatal("loser stats not written")
	}
	want = domain.TopicStats{Rating: 485, Experience: 210, Currency: 0, WinStreak: 0}
	if loser != want {
		t.Fatalf("loser stats = %+v, want %+v", loser, want)
	}

	end := env.notifier.byType("c1", domain.NotifyMatchEnd)
	if len(end) != 1 {
		t.Fatalf("expected 1 match_end for winner, got %d", len(end))
	}
	msg := end[0].payload.(domain.MatchEnd)
	if msg.Outcome != domain.OutcomeWin || msg.Winner != "alice" {
		t.Fatalf("wrong outcome: %+v", msg)
	}
	if msg.Reason != domain.ReasonCompleted || !msg.ResultSaved {
		t.Fatalf("wrong reason/saved: %+v", msg)
	}
	if msg.CorrectAnswers != 4 || msg.OpponentCorrect == nil || *msg.OpponentCorrect != 2 {
		t.Fatalf("wrong correct counts: %+v", msg)
	}
	if len(msg.QuestionSet) == 0 {
		t.Fatal("match_end must carry the question set")
	}

	if len(env.events.recs) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(env.events.recs))
	}
	if len(env.history.results) != 1 {
		t.Fatalf("expected 1 mirrored result, got %d", len(env.history.results))
	}
}

func TestSettleTie(t *testing.T) {
	env := newTestEnv(t)
	sid := startSession(t, env)
	ctx := context.Background()

	env.engine.RecordResult(ctx, sid, "alice", 3)
	env.engine.RecordResult(ctx, sid, "bob", 3)

	alice, _ := env.ratings.savedStats("alice", "spanish")
	want := domain.TopicStats{Rating: 95, Experience: 75, Currency: 45, WinStreak: 0}
	if alice != want {
		t.Fatalf("tie stats = %+v, want %+v", alice, want)
	}

	msg := env.notifier.byType("c1", domain.NotifyMatchEnd)[0].payload.(domain.MatchEnd)
	if msg.Outcome != domain.OutcomeTie || msg.Winner != "" {
		t.Fatalf("expected tie with no winner, got %+v", msg)
	}
}

func TestDuplicateResultIgnored(t *testing.T) {
	env := newTestEnv(t)
	sid := startSession(t, env)
	ctx := context.Background()

	env.engine.RecordResult(ctx, sid, "alice", 5)
	env.engine.RecordResult(ctx, sid, "alice", 0)
	env.engine.RecordResult(ctx, sid, "bob", 1)

	// First submission wins: alice settles as the winner.
	alice, _ := env.ratings.savedStats("alice", "spanish")
	if alice.Rating != 200 {
		t.Fatalf("duplicate result overwrote the first: %+v", alice)
	}
}

func TestForfeitSettlement(t *testing.T) {
	env := newTestEnv(t)
	sid := startSession(t, env)

	env.engine.Forfeit(sid, "alice")

	if env.engine.ActiveSessions() != 0 {
		t.Fatal("forfeited session must be destroyed")
	}

	leaver, _ := env.ratings.savedStats("alice", "spanish")
	want := domain.TopicStats{Rating: 85, Experience: 0, Currency: 10, WinStreak: 0}
	if leaver != want {
		t.Fatalf("leaver stats = %+v, want %+v", leaver, want)
	}

	winner, _ := env.ratings.savedStats("bob", "spanish")
	want = domain.TopicStats{Rating: 515, Experience: 300, Currency: 45, WinStreak: 1}
	if winner != want {
		t.Fatalf("winner stats = %+v, want %+v", winner, want)
	}

	msg := env.notifier.byType("c2", domain.NotifyMatchEnd)[0].payload.(domain.MatchEnd)
	if msg.Outcome != domain.OutcomeForfeit || msg.Winner != "bob" {
		t.Fatalf("wrong forfeit outcome: %+v", msg)
	}
	if msg.Reason != domain.ReasonOpponentForfeited {
		t.Fatalf("wrong reason for winner: %q", msg.Reason)
	}
	// The leaver is told about their own departure, not the opponent's.
	msg = env.notifier.byType("c1", domain.NotifyMatchEnd)[0].payload.(domain.MatchEnd)
	if msg.Reason != domain.ReasonYouForfeited {
		t.Fatalf("wrong reason for leaver: %q", msg.Reason)
	}
}

func TestDisconnectForfeitsSession(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env)

	env.engine.HandleDisconnect("c1")

	if env.engine.ActiveSessions() != 0 {
		t.Fatal("disconnect must end the session")
	}
	msg := env.notifier.byType("c2", domain.NotifyMatchEnd)[0].payload.(domain.MatchEnd)
	if msg.Reason != domain.ReasonOpponentDisconnected {
		t.Fatalf("wrong reason: %q", msg.Reason)
	}
	if msg.Winner != "bob" {
		t.Fatalf("remaining player must win, got %q", msg.Winner)
	}
}

func TestJoinQueueRejectedWhileInSession(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env)

	err := env.engine.JoinQueue(context.Background(), "c1", "alice", "spanish")
	if !errors.Is(err, domain.ErrAlreadyInSession) {
		t.Fatalf("expected ErrAlreadyInSession, got %v", err)
	}
	if env.engine.ActiveSessions() != 1 {
		t.Fatal("rejected rejoin must leave the session intact")
	}
	if env.engine.QueueLen() != 0 {
		t.Fatalf("expected empty queue, got %d", env.engine.QueueLen())
	}
	if len(env.notifier.byType("c1", domain.NotifyQueueError)) != 1 {
		t.Fatal("expected queue_error notification")
	}
}

func TestDisconnectRemovesQueuedTicket(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("alice", domain.TopicStats{Rating: 100})

	env.join(t, "c1", "alice")
	env.engine.HandleDisconnect("c1")

	if env.engine.QueueLen() != 0 {
		t.Fatal("disconnect must retire the queued ticket")
	}
}

func TestResultNotSaved(t *testing.T) {
	env := newTestEnv(t)
	sid := startSession(t, env)
	env.ratings.setErr = errors.New("write refused")
	ctx := context.Background()

	env.engine.RecordResult(ctx, sid, "alice", 4)
	env.engine.RecordResult(ctx, sid, "bob", 2)

	if env.engine.ActiveSessions() != 0 {
		t.Fatal("session must be destroyed even when writes fail")
	}
	msg := env.notifier.byType("c1", domain.NotifyMatchEnd)[0].payload.(domain.MatchEnd)
	if msg.ResultSaved {
		t.Fatal("expected result_saved=false")
	}
	if msg.Reason != domain.ReasonResultNotSaved {
		t.Fatalf("wrong reason: %q", msg.Reason)
	}
}

func TestMidTierPairingScenario(t *testing.T) {
	env := newTestEnv(t)
	env.ratings.records["alice"] = domain.RatingRecord{"english": {Rating: 850}}
	env.ratings.records["bob"] = domain.RatingRecord{"english": {Rating: 900}}

	if err := env.engine.JoinQueue(context.Background(), "c1", "alice", "english"); err != nil {
		t.Fatalf("JoinQueue(alice): %v", err)
	}
	if err := env.engine.JoinQueue(context.Background(), "c2", "bob", "english"); err != nil {
		t.Fatalf("JoinQueue(bob): %v", err)
	}

	start := env.startedSession(t, "c1")
	if start.Topic != "english" {
		t.Fatalf("topic = %q", start.Topic)
	}
	if start.Rating != 850 || start.OpponentRating != 900 {
		t.Fatalf("ratings = %d vs %d", start.Rating, start.OpponentRating)
	}
	if len(start.QuestionSet) != 5 {
		t.Fatalf("set size = %d, want 5", len(start.QuestionSet))
	}

	// max rating 900 puts the base at tier 3: every sampled batch must be
	// tier 3 or 4.
	for _, call := range env.content.calls {
		if call.tier != 3 && call.tier != 4 {
			t.Fatalf("sampled tier %d, want 3 or 4", call.tier)
		}
	}
}

func TestDeterministicSessionID(t *testing.T) {
	if sessionID("a", "b") != sessionID("b", "a") {
		t.Fatal("session ID must not depend on argument order")
	}
	if sessionID("a", "b") == sessionID("a", "c") {
		t.Fatal("distinct pairs must get distinct IDs")
	}
}
