// Package events publishes wallet lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Type string

const (
	WalletCredited  Type = "wallet.credited"
	WalletDebited   Type = "wallet.debited"
	PaymentSettled  Type = "payment.settled"
	PaymentFailed   Type = "payment.failed"
	RefundProcessed Type = "refund.processed"
	UsageCharged    Type = "usage.charged"
	UsageChargeDead Type = "usage.charge_dead"
)

type Event struct {
	Type         Type                   `json:"type"`
	UserID       string                 `json:"user_id"`
	WalletID     string                 `json:"wallet_id,omitempty"`
	Reference    string                 `json:"reference,omitempty"`
	Amount       decimal.Decimal        `json:"amount"`
	Currency     string                 `json:"currency"`
	BalanceAfter *decimal.Decimal       `json:"balance_after,omitempty"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// Publisher is best effort: failures are logged, never returned to the
// caller whose state change already committed.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  messageWriter
	logger  *zap.Logger
	timeout time.Duration
	onError func()
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	logger.Info("kafka publisher initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))
	return newKafkaPublisher(writer, logger)
}

func newKafkaPublisher(w messageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger, timeout: 10 * time.Second}
}

// OnError registers a hook fired on every failed publish (metrics).
func (p *KafkaPublisher) OnError(fn func()) *KafkaPublisher {
	p.onError = fn
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to marshal wallet event", zap.Error(err), zap.String("type", string(evt.Type)))
		p.failed()
		return
	}

	// keyed by wallet so a wallet's events stay ordered within a partition
	key := evt.WalletID
	if key == "" {
		key = evt.UserID
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		p.logger.Error("failed to publish wallet event",
			zap.Error(err),
			zap.String("type", string(evt.Type)),
			zap.String("reference", evt.Reference))
		p.failed()
	}
}

func (p *KafkaPublisher) failed() {
	if p.onError != nil {
		p.onError()
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}
func (Noop) Close() error                   { return nil }
