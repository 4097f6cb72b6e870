package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quizarena/internal/config"
	"github.com/quizarena/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RatingStore keeps per-player, per-topic rating records in Redis. One
// hash per player, one field per topic, JSON-encoded stats as the value.
type RatingStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRatingStore creates a new Redis rating store
func NewRatingStore(cfg *config.RedisConfig, logger *slog.Logger) (*RatingStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RatingStore{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (s *RatingStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *RatingStore) Client() *redis.Client {
	return s.client
}

// ratingKey returns the Redis key for a player's rating record
func (s *RatingStore) ratingKey(username string) string {
	return fmt.Sprintf("player:%s:ratings", username)
}

// GetRatings returns a player's full rating record. Returns
// domain.ErrNoRatingRecord when the player has no record at all.
func (s *RatingStore) GetRatings(ctx context.Context, username string) (domain.RatingRecord, error) {
	key := s.ratingKey(username)
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("getting rating record: %w", err)
	}

	if len(result) == 0 {
		return nil, domain.ErrNoRatingRecord
	}

	record := make(domain.RatingRecord, len(result))
	for topic, raw := range result {
		var stats domain.TopicStats
		if err := json.Unmarshal([]byte(raw), &stats); err != nil {
			return nil, fmt.Errorf("decoding stats for topic %s: %w", topic, err)
		}
		record[topic] = stats
	}
	return record, nil
}

// SetRating writes one topic's stats for a player
func (s *RatingStore) SetRating(ctx context.Context, username, topic string, stats domain.TopicStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	if err := s.client.HSet(ctx, s.ratingKey(username), topic, raw).Err(); err != nil {
		return fmt.Errorf("setting rating: %w", err)
	}
	return nil
}

// InitRating creates a topic entry for a player only when it is absent.
// Used by the profile bootstrap path, never by the engine itself.
func (s *RatingStore) InitRating(ctx context.Context, username, topic string, stats domain.TopicStats) (bool, error) {
	raw, err := json.Marshal(stats)
	if err != nil {
		return false, fmt.Errorf("encoding stats: %w", err)
	}
	created, err := s.client.HSetNX(ctx, s.ratingKey(username), topic, raw).Result()
	if err != nil {
		return false, fmt.Errorf("initializing rating: %w", err)
	}
	return created, nil
}

// BatchSetRatings writes many (username, topic, stats) rows using
// pipelining. Used by the durability sync on startup recovery.
func (s *RatingStore) BatchSetRatings(ctx context.Context, ratings []domain.PlayerRating) error {
	if len(ratings) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, r := range ratings {
		raw, err := json.Marshal(r.Stats)
		if err != nil {
			return fmt.Errorf("encoding stats: %w", err)
		}
		pipe.HSet(ctx, s.ratingKey(r.Username), r.Topic, raw)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting ratings: %w", err)
	}
	return nil
}

// AllRatings walks every player rating record using SCAN and returns the
// flattened rows. Used by the durability sync to mirror Redis into
// PostgreSQL.
func (s *RatingStore) AllRatings(ctx context.Context) ([]domain.PlayerRating, error) {
	var ratings []domain.PlayerRating

	iter := s.client.Scan(ctx, 0, "player:*:ratings", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		username := usernameFromKey(key)
		if username == "" {
			continue
		}

		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("reading rating record %s: %w", key, err)
		}
		for topic, raw := range fields {
			var stats domain.TopicStats
			if err := json.Unmarshal([]byte(raw), &stats); err != nil {
				s.logger.Warn("skipping undecodable rating entry", "key", key, "topic", topic, "error", err)
				continue
			}
			ratings = append(ratings, domain.PlayerRating{
				Username: username,
				Topic:    topic,
				Stats:    stats,
			})
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning rating keys: %w", err)
	}
	return ratings, nil
}

// usernameFromKey extracts the username from a "player:<name>:ratings"
// key. Usernames may not contain ':' so the middle segments are safe to
// rejoin.
func usernameFromKey(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) < 3 || parts[0] != "player" || parts[len(parts)-1] != "ratings" {
		return ""
	}
	return strings.Join(parts[1:len(parts)-1], ":")
}
