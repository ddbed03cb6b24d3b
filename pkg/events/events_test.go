package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, zap.NewNop())

	balance := decimal.NewFromInt(100)
	p.Publish(context.Background(), Event{
		Type:         WalletCredited,
		UserID:       "user-1",
		WalletID:     "wal_1",
		Reference:    "wtx_1",
		Amount:       decimal.NewFromInt(100),
		Currency:     "USD",
		BalanceAfter: &balance,
	})

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "wal_1", string(w.msgs[0].Key))
	assert.Equal(t, "event-type", w.msgs[0].Headers[0].Key)

	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, WalletCredited, got.Type)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(100)))
	assert.False(t, got.OccurredAt.IsZero())
}

func TestKafkaPublisher_ErrorHook(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	var failures int
	p := newKafkaPublisher(w, zap.NewNop()).OnError(func() { failures++ })

	p.Publish(context.Background(), Event{Type: WalletDebited, UserID: "user-1"})
	assert.Equal(t, 1, failures)
}
