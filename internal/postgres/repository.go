package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizarena/internal/config"
	"github.com/quizarena/internal/domain"
)

// Repository provides PostgreSQL-based data access: the question bank,
// the advisory match history mirror and the rating durability table.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS questions (
			id BIGSERIAL PRIMARY KEY,
			topic VARCHAR(64) NOT NULL,
			text TEXT NOT NULL,
			answers JSONB NOT NULL,
			tier INT NOT NULL,
			type VARCHAR(32) DEFAULT 'translation',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			session_id VARCHAR(64) PRIMARY KEY,
			topic VARCHAR(64) NOT NULL,
			player1 VARCHAR(64) NOT NULL,
			player2 VARCHAR(64) NOT NULL,
			player1_progress JSONB,
			player2_progress JSONB,
			player1_correct INT,
			player2_correct INT,
			question_set JSONB NOT NULL,
			outcome VARCHAR(20) NOT NULL DEFAULT 'in_progress',
			winner VARCHAR(64),
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS player_ratings (
			username VARCHAR(64) NOT NULL,
			topic VARCHAR(64) NOT NULL,
			rating INT NOT NULL DEFAULT 0,
			experience INT NOT NULL DEFAULT 0,
			currency INT NOT NULL DEFAULT 0,
			win_streak INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (username, topic)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_topic_tier ON questions(topic, tier)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player1 ON matches(player1, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player2 ON matches(player2, started_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// SampleQuestions returns up to count questions for a topic and tier,
// uniformly at random and without duplicates within the draw. May return
// fewer rows than requested when the pool is small.
func (r *Repository) SampleQuestions(ctx context.Context, topic string, tier, count int) ([]domain.Question, error) {
	query := `
		SELECT id, topic, text, answers, tier, type
		FROM questions
		WHERE topic = $1 AND tier = $2
		ORDER BY random()
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, topic, tier, count)
	if err != nil {
		return nil, fmt.Errorf("sampling questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		var answers []byte
		if err := rows.Scan(&q.ID, &q.Topic, &q.Text, &answers, &q.Tier, &q.Type); err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		if err := json.Unmarshal(answers, &q.Answers); err != nil {
			return nil, fmt.Errorf("decoding answers: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// ImportQuestions inserts a batch of question imports into the bank
func (r *Repository) ImportQuestions(ctx context.Context, imports []domain.QuestionImport) error {
	if len(imports) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO questions (topic, text, answers, tier, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now()

	for _, q := range imports {
		qtype := q.Type
		if qtype == "" {
			qtype = domain.QuestionTypeTranslation
		}
		answers, err := json.Marshal(q.Answers)
		if err != nil {
			return fmt.Errorf("encoding answers: %w", err)
		}
		batch.Queue(query, q.Topic, q.Text, answers, q.Tier, string(qtype), now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range imports {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch inserting questions: %w", err)
		}
	}
	return nil
}

// QuestionCount returns the number of questions for a topic and tier
func (r *Repository) QuestionCount(ctx context.Context, topic string, tier int) (int64, error) {
	query := `SELECT COUNT(*) FROM questions WHERE topic = $1 AND tier = $2`
	var count int64
	if err := r.pool.QueryRow(ctx, query, topic, tier).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting questions: %w", err)
	}
	return count, nil
}

// RecordMatchStart writes the initial advisory row for a session
func (r *Repository) RecordMatchStart(ctx context.Context, rec domain.MatchRecord) error {
	questionSet, err := json.Marshal(rec.QuestionSet)
	if err != nil {
		return fmt.Errorf("encoding question set: %w", err)
	}

	query := `
		INSERT INTO matches (session_id, topic, player1, player2, question_set, outcome, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		rec.SessionID,
		rec.Topic,
		rec.Players[0].Username,
		rec.Players[1].Username,
		questionSet,
		string(domain.OutcomeInProgress),
		rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("recording match start: %w", err)
	}
	return nil
}

// RecordMatchResult updates the advisory row with the final outcome
func (r *Repository) RecordMatchResult(ctx context.Context, rec domain.MatchRecord) error {
	p1Progress, err := json.Marshal(rec.Players[0].Progress)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	p2Progress, err := json.Marshal(rec.Players[1].Progress)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}

	query := `
		UPDATE matches
		SET player1_progress = $2,
			player2_progress = $3,
			player1_correct = $4,
			player2_correct = $5,
			outcome = $6,
			winner = $7,
			finished_at = $8
		WHERE session_id = $1
	`
	_, err = r.pool.Exec(ctx, query,
		rec.SessionID,
		p1Progress,
		p2Progress,
		rec.Players[0].CorrectAnswers,
		rec.Players[1].CorrectAnswers,
		string(rec.Outcome),
		nullableString(rec.Winner),
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("recording match result: %w", err)
	}
	return nil
}

// ListMatches returns a player's recent matches, newest first
func (r *Repository) ListMatches(ctx context.Context, username string, limit int) ([]domain.MatchRecord, error) {
	query := `
		SELECT session_id, topic, player1, player2,
			   player1_progress, player2_progress,
			   player1_correct, player2_correct,
			   question_set, outcome, winner, started_at, finished_at
		FROM matches
		WHERE player1 = $1 OR player2 = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, username, limit)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer rows.Close()

	var records []domain.MatchRecord
	for rows.Next() {
		var rec domain.MatchRecord
		var p1Progress, p2Progress, questionSet []byte
		var winner *string
		err := rows.Scan(
			&rec.SessionID,
			&rec.Topic,
			&rec.Players[0].Username,
			&rec.Players[1].Username,
			&p1Progress,
			&p2Progress,
			&rec.Players[0].CorrectAnswers,
			&rec.Players[1].CorrectAnswers,
			&questionSet,
			&rec.Outcome,
			&winner,
			&rec.StartedAt,
			&rec.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if winner != nil {
			rec.Winner = *winner
		}
		if p1Progress != nil {
			if err := json.Unmarshal(p1Progress, &rec.Players[0].Progress); err != nil {
				return nil, fmt.Errorf("decoding progress: %w", err)
			}
		}
		if p2Progress != nil {
			if err := json.Unmarshal(p2Progress, &rec.Players[1].Progress); err != nil {
				return nil, fmt.Errorf("decoding progress: %w", err)
			}
		}
		if err := json.Unmarshal(questionSet, &rec.QuestionSet); err != nil {
			return nil, fmt.Errorf("decoding question set: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// BatchUpsertRatings mirrors rating rows from Redis for durability
func (r *Repository) BatchUpsertRatings(ctx context.Context, ratings []domain.PlayerRating) error {
	if len(ratings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO player_ratings (username, topic, rating, experience, currency, win_streak, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (username, topic)
		DO UPDATE SET rating = $3, experience = $4, currency = $5, win_streak = $6, updated_at = $7
	`
	now := time.Now()

	for _, pr := range ratings {
		batch.Queue(query, pr.Username, pr.Topic,
			pr.Stats.Rating, pr.Stats.Experience, pr.Stats.Currency, pr.Stats.WinStreak, now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range ratings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting ratings: %w", err)
		}
	}
	return nil
}

// GetAllRatings loads every mirrored rating row, used for startup recovery
func (r *Repository) GetAllRatings(ctx context.Context) ([]domain.PlayerRating, error) {
	query := `SELECT username, topic, rating, experience, currency, win_streak FROM player_ratings`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("getting all ratings: %w", err)
	}
	defer rows.Close()

	var ratings []domain.PlayerRating
	for rows.Next() {
		var pr domain.PlayerRating
		err := rows.Scan(&pr.Username, &pr.Topic,
			&pr.Stats.Rating, &pr.Stats.Experience, &pr.Stats.Currency, &pr.Stats.WinStreak)
		if err != nil {
			return nil, fmt.Errorf("scanning rating: %w", err)
		}
		ratings = append(ratings, pr)
	}
	return ratings, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
