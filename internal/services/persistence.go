package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
)

// DefaultBatchSize is the number of records written per store call
const DefaultBatchSize = 100

// Batch stages recorded in metrics
const (
	StagePersist   = "persist"
	StageNormalize = "normalize"
)

// PersistOptions configure one persistence run
type PersistOptions struct {
	BatchSize       int
	Mode            storage.InsertMode
	ContinueOnError bool

	// OnProgress receives a snapshot after every batch
	OnProgress func(models.ImportResult)
}

// BatchPersister writes assembled records to the store in sequential batches
type BatchPersister struct {
	store   storage.RecordStore
	metrics *ImportMetrics
	logger  *zap.Logger
}

// NewBatchPersister creates a persister. A nil metrics aggregate uses the global one.
func NewBatchPersister(store storage.RecordStore, metrics *ImportMetrics, logger *zap.Logger) *BatchPersister {
	if metrics == nil {
		metrics = GetImportMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchPersister{store: store, metrics: metrics, logger: logger}
}

// Persist writes records batch by batch, extending result.
//
// Progress after batch i of n is ceil(i*100/n), so it never decreases and
// ends at exactly 100. Cancellation is checked before every batch; a batch
// already sent to the store runs to completion. With the default policy the
// first failed batch stops the run and is returned as a *BatchError; with
// ContinueOnError the failed rows are recorded and the run goes on.
func (p *BatchPersister) Persist(ctx context.Context, result models.ImportResult, records []models.AssembledRecord, opts PersistOptions) (models.ImportResult, error) {
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	mode := opts.Mode
	if mode == "" {
		mode = storage.ModeInsert
	}

	result = result.Clone()
	batches := (len(records) + size - 1) / size

	if batches == 0 {
		result.Progress = 100
		p.emit(opts, result)
		return result, nil
	}

	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("Import cancelled between batches",
				zap.String("run_id", result.RunID),
				zap.Int("batch", b),
				zap.Int("batches", batches))
			return result, err
		}

		start := b * size
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		err := p.store.InsertRecords(context.WithoutCancel(ctx), result.TenantID, batch, mode)
		p.metrics.RecordBatch(StagePersist, err == nil)

		result = result.Clone()
		if err == nil {
			result.Imported += len(batch)
		} else {
			for _, rec := range batch {
				result.Errors = append(result.Errors, models.RowError{Index: rec.RowIndex, Error: err.Error()})
			}
			p.logger.Error("Batch insert failed",
				zap.String("run_id", result.RunID),
				zap.Int("batch", b),
				zap.Int("rows", len(batch)),
				zap.Error(err))

			if !opts.ContinueOnError {
				p.emit(opts, result)
				return result, &BatchError{Batch: b, FirstIndex: batch[0].RowIndex, Count: len(batch), Err: err}
			}
		}

		result.Progress = progressAfter(b+1, batches)
		p.emit(opts, result)

		p.logger.Debug("Batch persisted",
			zap.String("run_id", result.RunID),
			zap.Int("batch", b),
			zap.Int("progress", result.Progress))
	}

	return result, nil
}

func (p *BatchPersister) emit(opts PersistOptions, result models.ImportResult) {
	if opts.OnProgress != nil {
		opts.OnProgress(result.Clone())
	}
}

// progressAfter is ceil(done*100/total)
func progressAfter(done, total int) int {
	if total <= 0 {
		return 100
	}
	return (done*100 + total - 1) / total
}
