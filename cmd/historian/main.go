// cmd/historian/main.go drains queued match results from Redis and
// persists them to the append-only match_history table in batches.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/quizgrid/quizgrid/internal/cache"
	"github.com/quizgrid/quizgrid/internal/database"
)

// Historian accumulates popped records and flushes them to Postgres either
// when the batch fills or on a timer.
type Historian struct {
	log        *logrus.Logger
	queue      *cache.HistoryQueue
	store      *database.Store
	batchSize  int
	flushDelay time.Duration

	mu    sync.Mutex
	batch []cache.MatchResultRecord
}

func main() {
	logger := logrus.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.Connect(ctx)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer store.Close()

	queue, err := cache.NewHistoryQueue(ctx)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}

	h := &Historian{
		log:        logger,
		queue:      queue,
		store:      store,
		batchSize:  cache.GetEnvInt("HISTORIAN_BATCH_SIZE", 20),
		flushDelay: time.Duration(cache.GetEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
	}

	go h.flushLoop(ctx)
	logger.Info("quizgrid historian started")
	h.readLoop(ctx)

	// Final flush on shutdown.
	h.flush(context.Background())
	logger.Info("quizgrid historian stopped")
	_ = os.Stdout.Sync()
}

// readLoop pops queued records until the context is canceled.
func (h *Historian) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		record, err := h.queue.PopResult(ctx, 3*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.log.WithError(err).Error("pop result failed")
			time.Sleep(time.Second)
			continue
		}
		if record == nil {
			continue
		}

		h.mu.Lock()
		h.batch = append(h.batch, *record)
		full := len(h.batch) >= h.batchSize
		h.mu.Unlock()
		if full {
			h.flush(ctx)
		}
	}
}

func (h *Historian) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(h.flushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.flush(ctx)
		}
	}
}

// flush writes the pending batch in a single transaction.
func (h *Historian) flush(ctx context.Context) {
	h.mu.Lock()
	if len(h.batch) == 0 {
		h.mu.Unlock()
		return
	}
	pending := h.batch
	h.batch = nil
	h.mu.Unlock()

	err := pgx.BeginTxFunc(ctx, h.store.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `INSERT INTO match_history (username, category, score, played_at)
		      VALUES ($1, $2, $3, $4)`
		for _, r := range pending {
			playedAt := time.UnixMilli(r.Timestamp)
			if _, err := tx.Exec(ctx, q, r.Username, r.Category, r.Score, playedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.log.WithError(err).WithField("records", len(pending)).Error("batch flush failed")
		// Re-queue so the records are not lost.
		h.mu.Lock()
		h.batch = append(pending, h.batch...)
		h.mu.Unlock()
		return
	}
	h.log.WithField("records", len(pending)).Debug("flushed match results")
}
