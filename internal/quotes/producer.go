package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/finsim/paper-engine/internal/model"
)

// TradeEvent is the JSON wire format of an executed-trade message.
type TradeEvent struct {
	EventType string           `json:"event_type"`
	AccountID string           `json:"account_id"`
	Trade     model.TradeEntry `json:"trade"`
	Timestamp time.Time        `json:"timestamp"`
}

// Producer publishes executed-trade events to Kafka. It satisfies the trade
// service's TradePublisher interface.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a Kafka producer for trade events.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishTradeExecuted publishes an executed trade keyed by account so a
// single account's trades stay ordered within a partition.
func (p *Producer) PublishTradeExecuted(ctx context.Context, accountID string, entry model.TradeEntry) error {
	event := TradeEvent{
		EventType: "TRADE_EXECUTED",
		AccountID: accountID,
		Trade:     entry,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trade event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(accountID),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write trade event to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
