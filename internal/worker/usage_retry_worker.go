// internal/worker/usage_retry_worker.go
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DueProcessor drains one batch of due usage charges.
type DueProcessor interface {
	ProcessDue(ctx context.Context) (int, error)
}

type UsageRetryWorker struct {
	processor DueProcessor
	interval  time.Duration
	logger    *zap.Logger
	stopChan  chan bool
	stopOnce  sync.Once
}

func NewUsageRetryWorker(processor DueProcessor, interval time.Duration, logger *zap.Logger) *UsageRetryWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &UsageRetryWorker{
		processor: processor,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan bool),
	}
}

func (w *UsageRetryWorker) Start(ctx context.Context) {
	w.logger.Info("Starting usage retry worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drain(ctx)

		case <-w.stopChan:
			w.logger.Info("Stopping usage retry worker")
			return

		case <-ctx.Done():
			w.logger.Info("Context cancelled, stopping usage retry worker")
			return
		}
	}
}

// drain keeps claiming until a batch comes back empty, so a backlog does not
// wait a whole tick per batch.
func (w *UsageRetryWorker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.processor.ProcessDue(ctx)
		if err != nil {
			w.logger.Error("Usage retry batch failed", zap.Error(err))
			return
		}
		if n == 0 {
			return
		}
		w.logger.Debug("Usage retry batch processed", zap.Int("claimed", n))
		select {
		case <-w.stopChan:
			return
		default:
		}
	}
}

func (w *UsageRetryWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}
