package kafka

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/quizarena/internal/config"
	"github.com/quizarena/internal/domain"
)

// Producer publishes settled-match events to Kafka for downstream
// consumers (analytics, anti-cheat review, replay storage).
type Producer struct {
	config   *config.KafkaConfig
	logger   *slog.Logger
	producer sarama.AsyncProducer
	wg       sync.WaitGroup
}

// NewProducer creates a new Kafka event producer
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, err
	}

	p := &Producer{
		config:   cfg,
		logger:   logger,
		producer: producer,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Error("failed to publish event", "error", err)
		}
	}()

	return p, nil
}

// PublishMatchSettled enqueues a settled match record for delivery.
// Delivery is asynchronous and best-effort: the battle lifecycle never
// blocks on the broker.
func (p *Producer) PublishMatchSettled(rec domain.MatchRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		p.logger.Error("failed to marshal match record", "session_id", rec.SessionID, "error", err)
		return
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.config.EventsTopic,
		Key:   sarama.StringEncoder(rec.SessionID),
		Value: sarama.ByteEncoder(data),
	}
}

// Close shuts down the producer, flushing pending messages
func (p *Producer) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
