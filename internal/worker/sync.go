package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quizarena/internal/config"
	"github.com/quizarena/internal/postgres"
	"github.com/quizarena/internal/redis"
)

// SyncWorker handles periodic rating synchronization between Redis and
// PostgreSQL. Redis holds the live ratings the engine reads and writes;
// PostgreSQL is the durable copy used for recovery.
type SyncWorker struct {
	ratings  *redis.RatingStore
	postgres *postgres.Repository
	config   *config.SyncConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	ratings *redis.RatingStore,
	pg *postgres.Repository,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		ratings:  ratings,
		postgres: pg,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncToDatabase(ctx)
		}
	}
}

// syncToDatabase flushes all live ratings from Redis to PostgreSQL
func (w *SyncWorker) syncToDatabase(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	ratings, err := w.ratings.AllRatings(ctx)
	if err != nil {
		w.logger.Error("failed to read ratings for sync", "error", err)
		return
	}

	if len(ratings) == 0 {
		w.logger.Debug("no ratings to sync")
		return
	}

	// Process in batches to avoid overwhelming the database
	batchSize := w.config.BatchSize
	if batchSize == 0 {
		batchSize = 1000
	}

	errorCount := 0
	for start := 0; start < len(ratings); start += batchSize {
		end := start + batchSize
		if end > len(ratings) {
			end = len(ratings)
		}

		if err := w.postgres.BatchUpsertRatings(ctx, ratings[start:end]); err != nil {
			w.logger.Error("failed to upsert rating batch",
				"batch_start", start,
				"error", err,
			)
			errorCount++
		}
	}

	duration := time.Since(startTime)
	w.logger.Info("sync cycle completed",
		"duration", duration,
		"ratings", len(ratings),
		"errors", errorCount,
	)
}

// SyncFromDatabase loads all durable ratings from PostgreSQL into Redis.
// This runs at startup so a fresh Redis instance recovers the last
// synced state instead of treating every player as new.
func (w *SyncWorker) SyncFromDatabase(ctx context.Context) error {
	w.logger.Info("restoring ratings from database")

	ratings, err := w.postgres.GetAllRatings(ctx)
	if err != nil {
		return err
	}

	if len(ratings) == 0 {
		w.logger.Debug("no ratings to restore")
		return nil
	}

	if err := w.ratings.BatchSetRatings(ctx, ratings); err != nil {
		return err
	}

	w.logger.Info("restored ratings from database", "count", len(ratings))
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncToDatabase(ctx)
}
