package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// QuestionImport mirrors the ingestion message format
type QuestionImport struct {
	Topic   string   `json:"topic"`
	Text    string   `json:"text"`
	Answers []string `json:"answers"`
	Tier    int      `json:"tier"`
	Type    string   `json:"type,omitempty"`
}

var questionTypes = []string{"translation", "listening", "multiple_choice"}

var wordBank = []string{
	"apple", "house", "river", "window", "garden", "bridge", "mirror", "candle", "forest", "market",
	"winter", "summer", "morning", "evening", "teacher", "student", "doctor", "kitchen", "journey", "mountain",
	"library", "umbrella", "bicycle", "airport", "station", "weather", "holiday", "morning", "evening", "dinner",
}

func makeQuestion(topic string, tier int, idx int) QuestionImport {
	word := wordBank[idx%len(wordBank)]
	qType := questionTypes[rand.Intn(len(questionTypes))]

	answers := make([]string, 0, 4)
	answers = append(answers, fmt.Sprintf("%s_%s", topic, word))
	for len(answers) < 4 {
		answers = append(answers, fmt.Sprintf("%s_%s", topic, wordBank[rand.Intn(len(wordBank))]))
	}

	return QuestionImport{
		Topic:   topic,
		Text:    fmt.Sprintf("Translate: %s", word),
		Answers: answers,
		Tier:    tier,
		Type:    qType,
	}
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "question-imports", "Kafka topic")
	languages := flag.String("languages", "spanish,french,german,japanese", "Question topics (comma-separated)")
	perTier := flag.Int("per-tier", 50, "Questions to generate per topic per tier")
	maxTier := flag.Int("max-tier", 4, "Highest difficulty tier to generate")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")
	languageList := strings.Split(*languages, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🚀 Question Bank Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Languages:        %s\n", *languages)
	fmt.Printf("  Per tier:         %d\n", *perTier)
	fmt.Printf("  Max tier:         %d\n", *maxTier)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	total := len(languageList) * *maxTier * *perTier
	fmt.Printf("Generating %d questions...\n", total)

	sent := 0
	for _, lang := range languageList {
		lang = strings.TrimSpace(lang)
		for tier := 1; tier <= *maxTier; tier++ {
			for i := 0; i < *perTier; i++ {
				q := makeQuestion(lang, tier, i)
				data, err := json.Marshal(q)
				if err != nil {
					log.Printf("Failed to marshal question: %v", err)
					continue
				}

				producer.Input() <- &sarama.ProducerMessage{
					Topic: *topic,
					Key:   sarama.StringEncoder(lang),
					Value: sarama.ByteEncoder(data),
				}
				sent++
			}
		}

		progress := float64(sent) / float64(total) * 100
		fmt.Printf("\r  Progress: %d/%d questions (%.1f%%)", sent, total, progress)
	}
	fmt.Printf("\n✓ Generated %d questions\n\n", sent)

	producer.AsyncClose()
	wg.Wait()
	fmt.Printf("✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
}
