package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"SiteLend/internal/observability"
	"SiteLend/internal/site"
)

// ChannelRecorder adapts the worker's input channel to the engine's
// Recorder interface. Sends block so no record is ever dropped; if the
// worker falls behind, operations stall.
type ChannelRecorder struct {
	ch chan<- site.OperationRecord
}

func NewChannelRecorder(ch chan<- site.OperationRecord) *ChannelRecorder {
	return &ChannelRecorder{ch: ch}
}

func (r *ChannelRecorder) Record(rec site.OperationRecord) {
	r.ch <- rec
}

// Worker drains the record and liquidation channels and batch-writes to
// Postgres. It runs independently from the sites; the blocking Recorder
// sends are the backpressure boundary.
type Worker struct {
	db           *sql.DB
	writer       *OperationLogWriter
	inputChan    <-chan site.OperationRecord
	liqChan      <-chan LiquidationRow
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan site.OperationRecord,
	liqChan <-chan LiquidationRow,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewOperationLogWriter(db),
		inputChan:    inputChan,
		liqChan:      liqChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming records and flushes either when a batch is full
// or the flush timeout expires. Blocks until ctx is cancelled or the
// record channel closes.
func (w *Worker) Run(ctx context.Context) error {
	ops := make([]OperationRow, 0, w.batchSize)
	liqs := make([]LiquidationRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	final := func() {
		if len(ops) > 0 || len(liqs) > 0 {
			if err := w.flush(context.Background(), ops, liqs); err != nil {
				w.log.Error().Err(err).Msg("final flush failed")
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			final()
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				final()
				return nil
			}
			ops = append(ops, FromRecord(rec))
			if len(ops) >= w.batchSize {
				if err := w.flushWithRetry(ctx, ops, liqs); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				ops, liqs = ops[:0], liqs[:0]
				timer.Reset(w.flushTimeout)
			}

		case row, ok := <-w.liqChan:
			if !ok {
				w.liqChan = nil
				continue
			}
			liqs = append(liqs, row)
			if len(liqs) >= w.batchSize {
				if err := w.flushWithRetry(ctx, ops, liqs); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				ops, liqs = ops[:0], liqs[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(ops) > 0 || len(liqs) > 0 {
				if err := w.flushWithRetry(ctx, ops, liqs); err != nil {
					w.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				ops, liqs = ops[:0], liqs[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. Records are never
// dropped; on shutdown one final flush runs with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, ops []OperationRow, liqs []LiquidationRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("records", len(ops)+len(liqs)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				return w.flush(context.Background(), ops, liqs)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, ops, liqs)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, ops []OperationRow, liqs []LiquidationRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteOperationBatch(ctx, tx, ops); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_operations").Inc()
		}
		return err
	}
	if err := w.writer.WriteLiquidationBatch(ctx, tx, liqs); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_liquidations").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(ops) + len(liqs)))
		w.metrics.PersistRecordsWritten.Add(float64(len(ops) + len(liqs)))
	}

	return nil
}
