package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// DefaultAIBatchSize is the number of rows sent per normalization prompt
const DefaultAIBatchSize = 8

const normalizationSystemPrompt = `You extract structured real-estate listings from raw spreadsheet rows.
Answer with a single JSON array and nothing else.`

// RawArchiver keeps unusable oracle output for later inspection
type RawArchiver interface {
	ArchiveRaw(ctx context.Context, runID string, batch int, raw string) (string, error)
}

// NormalizerOptions configure an AINormalizer
type NormalizerOptions struct {
	AI          AIOptions
	BatchSize   int
	CallTimeout time.Duration // per oracle call, zero means none
	Archiver    RawArchiver
	Metrics     *ImportMetrics
}

// NormalizeResult is the table rebuilt from oracle output plus the batches that failed
type NormalizeResult struct {
	Table *models.Table
	// SourceRows holds, for each row of Table, the index of the input row it
	// came from. A batch answered with a different number of records than it
	// sent cannot be matched row by row; its records all point at the batch's
	// first input row.
	SourceRows []int
	Failures   []models.AIBatchFailure
	Batches    int
}

// SourceRow translates a row index of the normalized table back to the input
func (r NormalizeResult) SourceRow(i int) int {
	if i >= 0 && i < len(r.SourceRows) {
		return r.SourceRows[i]
	}
	return i
}

// AINormalizer sends raw rows to the oracle in small batches and turns what
// comes back into a table keyed by canonical field names
type AINormalizer struct {
	oracle Oracle
	mapper *FieldMapper
	opts   NormalizerOptions
	logger *zap.Logger
}

// NewAINormalizer creates a normalizer
func NewAINormalizer(oracle Oracle, mapper *FieldMapper, opts NormalizerOptions, logger *zap.Logger) *AINormalizer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultAIBatchSize
	}
	if opts.Metrics == nil {
		opts.Metrics = GetImportMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AINormalizer{oracle: oracle, mapper: mapper, opts: opts, logger: logger}
}

// Normalize processes rows batch by batch. A batch whose response cannot be
// parsed, or whose oracle call fails, is recorded and skipped. Only a
// cancelled context ends the run early; the partial result is returned too.
func (n *AINormalizer) Normalize(ctx context.Context, runID string, headers []string, rows [][]string) (NormalizeResult, error) {
	size := n.opts.BatchSize
	batches := (len(rows) + size - 1) / size

	var records []map[string]any
	result := NormalizeResult{Batches: batches}

	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			result.Table = n.buildTable(records)
			return result, err
		}

		start := b * size
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}

		batchRecords, failure := n.normalizeBatch(ctx, runID, b, start, headers, rows[start:end])
		n.opts.Metrics.RecordBatch(StageNormalize, failure == nil)
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
			continue
		}
		for i := range batchRecords {
			if len(batchRecords) == end-start {
				result.SourceRows = append(result.SourceRows, start+i)
			} else {
				result.SourceRows = append(result.SourceRows, start)
			}
		}
		records = append(records, batchRecords...)
	}

	result.Table = n.buildTable(records)

	n.logger.Info("AI normalization finished",
		zap.String("run_id", runID),
		zap.Int("batches", batches),
		zap.Int("failed_batches", len(result.Failures)),
		zap.Int("records", len(records)))

	return result, nil
}

func (n *AINormalizer) normalizeBatch(ctx context.Context, runID string, batch, first int, headers []string, rows [][]string) ([]map[string]any, *models.AIBatchFailure) {
	failure := &models.AIBatchFailure{Batch: batch, FirstIndex: first, Count: len(rows)}

	prompt, err := n.buildPrompt(headers, rows)
	if err != nil {
		failure.Reason = err.Error()
		return nil, failure
	}

	callCtx := context.WithoutCancel(ctx)
	if n.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, n.opts.CallTimeout)
		defer cancel()
	}

	raw, err := n.oracle.Complete(callCtx, CompletionRequest{
		System:    normalizationSystemPrompt,
		Prompt:    prompt,
		MaxTokens: n.opts.AI.MaxTokens,
		Model:     n.opts.AI.Model,
	})
	if err != nil {
		n.logger.Warn("AI normalization call failed",
			zap.String("run_id", runID),
			zap.Int("batch", batch),
			zap.Error(err))
		failure.Reason = fmt.Sprintf("AI oracle error: %v", err)
		return nil, failure
	}

	records, err := ParseJSONArray(raw)
	if err != nil {
		n.logger.Warn("Unparsable AI normalization response",
			zap.String("run_id", runID),
			zap.Int("batch", batch),
			zap.String("raw", truncateForLog(raw)))

		failure.Reason = models.ReasonUnparsableAI
		failure.Raw = truncateForLog(raw)
		if n.opts.Archiver != nil {
			key, err := n.opts.Archiver.ArchiveRaw(callCtx, runID, batch, raw)
			if err != nil {
				n.logger.Warn("Failed to archive raw AI response", zap.String("run_id", runID), zap.Error(err))
			} else {
				failure.ArchiveKey = key
			}
		}
		return nil, failure
	}

	return records, nil
}

func (n *AINormalizer) buildPrompt(headers []string, rows [][]string) (string, error) {
	objects := make([]map[string]string, len(rows))
	for i, row := range rows {
		obj := make(map[string]string, len(headers))
		for j, h := range headers {
			if j < len(row) && row[j] != "" {
				obj[h] = row[j]
			}
		}
		objects[i] = obj
	}

	rowsJSON, err := json.Marshal(objects)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rows: %w", err)
	}

	fields := n.mapper.Fields()
	return fmt.Sprintf(`Raw rows (one JSON object per row, keyed by the original column names):
%s

Canonical fields:
%s
Return a JSON array with one object per listing. Use only the canonical field
names above as keys. Every object must include "%s". Write numbers without
currency symbols or thousands separators, dates as YYYY-MM-DD, and tags as an
array of strings. Leave out fields you cannot fill.`,
		rowsJSON, fields.Describe(), fields.Identifier), nil
}

// buildTable turns normalized records into a table whose headers are
// canonical field names in first-seen record order, keys of one record taken
// alphabetically. Keys that are not canonical fields are dropped.
func (n *AINormalizer) buildTable(records []map[string]any) *models.Table {
	table := &models.Table{}
	columns := make(map[string]int)

	canonical := make([]map[string]string, len(records))
	for i, rec := range records {
		values := make(map[string]string, len(rec))
		for _, key := range sortedRecordKeys(rec) {
			target, known := n.mapper.Canonicalize(key)
			if !known || target == models.Ignored {
				continue
			}
			if _, dup := values[target]; dup {
				continue
			}
			values[target] = stringify(rec[key])
			if _, ok := columns[target]; !ok {
				columns[target] = len(table.Headers)
				table.Headers = append(table.Headers, target)
			}
		}
		canonical[i] = values
	}

	table.Rows = make([][]string, len(canonical))
	for i, values := range canonical {
		row := make([]string, len(table.Headers))
		for target, v := range values {
			row[columns[target]] = v
		}
		table.Rows[i] = row
	}
	return table
}

func sortedRecordKeys(rec map[string]any) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IdentityMapping maps every canonical header to itself
func IdentityMapping(headers []string) models.ColumnMapping {
	mapping := make(models.ColumnMapping, len(headers))
	for _, h := range headers {
		mapping[h] = h
	}
	return mapping
}
