package retention

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type retentionStore interface {
	DeleteDetectionEventsOlderThan(ctx context.Context, days int) (int64, error)
}

// Worker sweeps expired detection events on an interval. The sweep is
// idempotent and needs no coordination with live traffic.
type Worker struct {
	store    retentionStore
	days     int
	interval time.Duration
	logger   *log.Entry

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewWorker(store retentionStore, days int, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Worker{
		store:    store,
		days:     days,
		interval: interval,
		logger:   log.WithField("object", "RetentionWorker"),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.runMutex.Lock()
	defer w.runMutex.Unlock()
	if w.started || w.days <= 0 {
		w.started = true
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.runCancel = cancel

	w.workersWg.Add(1)
	go func() {
		defer w.workersWg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if _, err := w.SweepOnce(runCtx); err != nil {
					w.logger.WithError(err).Error("retention sweep failed")
				}
			}
		}
	}()

	w.started = true
	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	w.runMutex.Lock()
	if !w.started {
		w.runMutex.Unlock()
		return nil
	}
	w.started = false
	cancel := w.runCancel
	w.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// SweepOnce deletes detection events older than the retention window and
// returns the number of deleted rows.
func (w *Worker) SweepOnce(ctx context.Context) (int64, error) {
	deleted, err := w.store.DeleteDetectionEventsOlderThan(ctx, w.days)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("swept expired detection events")
	}
	return deleted, nil
}
