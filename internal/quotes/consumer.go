// Package quotes connects the trading engine to Kafka: consuming market
// quote ticks and publishing executed-trade events.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/finsim/paper-engine/internal/model"
)

// QuoteSink receives parsed price updates. Returns the number of accounts
// whose valuation changed.
type QuoteSink interface {
	ApplyQuotes(ctx context.Context, updates []model.PriceUpdate) int
}

// Tick is the JSON wire format of a market quote message.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Consumer reads quote ticks from Kafka and applies them to resident
// account ledgers.
type Consumer struct {
	reader *kafka.Reader
	sink   QuoteSink
}

// NewConsumer creates a Kafka consumer for the quote feed.
func NewConsumer(brokers []string, topic, groupID string, sink QuoteSink) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})

	return &Consumer{
		reader: reader,
		sink:   sink,
	}
}

// Start consumes quote messages until the context is cancelled. Malformed
// messages are logged and skipped; the feed keeps running.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("quote consumer started", "topic", c.reader.Config().Topic)

	for {
		select {
		case <-ctx.Done():
			slog.Info("quote consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("quote read failed", "err", err)
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				slog.Warn("quote message skipped",
					"partition", msg.Partition,
					"offset", msg.Offset,
					"err", err,
				)
			}
		}
	}
}

// processMessage parses a single quote tick and applies it.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	tick, err := parseTick(msg.Value)
	if err != nil {
		return err
	}

	c.sink.ApplyQuotes(ctx, []model.PriceUpdate{{
		Symbol: tick.Symbol,
		Price:  tick.Price,
	}})
	return nil
}

// parseTick validates and decodes a quote message payload.
func parseTick(data []byte) (Tick, error) {
	var tick Tick
	if err := json.Unmarshal(data, &tick); err != nil {
		return Tick{}, fmt.Errorf("failed to unmarshal quote tick: %w", err)
	}
	if tick.Symbol == "" {
		return Tick{}, fmt.Errorf("quote tick missing symbol")
	}
	if !tick.Price.IsPositive() {
		return Tick{}, fmt.Errorf("quote tick for %s has non-positive price %s", tick.Symbol, tick.Price)
	}
	return tick, nil
}

// Close closes the Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
