package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// LowBalanceEvent is the payload published for each alert.
type LowBalanceEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Balance   string    `json:"balance"`
	Threshold string    `json:"threshold"`
	Currency  string    `json:"currency"`
	At        time.Time `json:"at"`
}

// messageWriter is the subset of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts as JSON events to a Kafka topic.
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier returns a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Notify publishes the alert event keyed by its ID.
func (k *KafkaNotifier) Notify(ctx context.Context, a Alert) error {
	data, err := json.Marshal(LowBalanceEvent{
		ID:        a.ID,
		Type:      "low_balance",
		Balance:   a.Balance.StringFixed(2),
		Threshold: a.Threshold.StringFixed(2),
		Currency:  "USD",
		At:        a.At.UTC(),
	})
	if err != nil {
		return fmt.Errorf("alert: encoding event: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(a.ID), Value: data}); err != nil {
		return fmt.Errorf("alert: publishing event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
