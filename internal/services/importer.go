package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
)

// DefaultSampleRows is the number of data rows shown to the mapping engines
const DefaultSampleRows = 5

// ReportUploader publishes a run's error report
type ReportUploader interface {
	UploadReport(ctx context.Context, tenantID, runID string, report []byte) (*S3UploadResult, error)
}

// ImportRequest is one file to import for one tenant
type ImportRequest struct {
	RunID    string
	TenantID string
	UserID   string
	FileName string
	Data     []byte
	Options  models.ImportOptions
}

// PreviewResult is what a caller needs to confirm the mapping before importing
type PreviewResult struct {
	Format         string                   `json:"format"`
	Encoding       string                   `json:"encoding,omitempty"`
	Headers        []string                 `json:"headers"`
	HeaderRowIndex int                      `json:"header_row_index"`
	Samples        [][]string               `json:"samples"`
	TotalRows      int                      `json:"total_rows"`
	Suggestion     models.MappingSuggestion `json:"suggestion"`
	MappingError   string                   `json:"mapping_error,omitempty"`
	Warnings       []string                 `json:"warnings,omitempty"`
}

// ImportConfig holds the service-wide pipeline settings. Per-request options
// can switch on upsert and the continue policy but not switch them off.
type ImportConfig struct {
	BatchSize            int
	AIBatchSize          int
	SampleRows           int
	AI                   AIOptions
	AICallTimeout        time.Duration
	Upsert               bool
	ContinueOnBatchError bool
}

// ImportDeps are the collaborators of an ImportService. Only Store is required.
type ImportDeps struct {
	Store    storage.RecordStore
	Mapper   *FieldMapper
	Oracle   Oracle
	Status   StatusStore
	Reports  ReportUploader
	Archiver RawArchiver
	Metrics  *ImportMetrics
	Logger   *zap.Logger
}

// ImportService runs the whole pipeline: parse, header selection, mapping,
// optional AI normalization, assembly, dimension provisioning and batched
// persistence, keeping the run status up to date along the way
type ImportService struct {
	deps ImportDeps
	cfg  ImportConfig
	now  func() time.Time
}

// NewImportService creates the service
func NewImportService(deps ImportDeps, cfg ImportConfig) *ImportService {
	if deps.Mapper == nil {
		deps.Mapper = NewFieldMapper(nil, nil)
	}
	if deps.Status == nil {
		deps.Status = NewMemoryStatusStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = GetImportMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.AIBatchSize <= 0 {
		cfg.AIBatchSize = DefaultAIBatchSize
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = DefaultSampleRows
	}
	return &ImportService{deps: deps, cfg: cfg, now: time.Now}
}

// Status returns the stored status of a run
func (s *ImportService) Status(ctx context.Context, runID string) (models.ImportStatus, error) {
	return s.deps.Status.GetStatus(ctx, runID)
}

// Report returns the stored error report of a run
func (s *ImportService) Report(ctx context.Context, runID string) ([]byte, error) {
	return s.deps.Status.GetReport(ctx, runID)
}

// MarkPending records a run that has been accepted but not started
func (s *ImportService) MarkPending(ctx context.Context, runID, tenantID string) error {
	return s.deps.Status.SaveStatus(ctx, models.ImportStatus{
		RunID:     runID,
		TenantID:  tenantID,
		State:     models.RunStatePending,
		UpdatedAt: s.now().UTC(),
	})
}

// Preview parses the file and proposes a mapping without touching the store
func (s *ImportService) Preview(ctx context.Context, req ImportRequest) (PreviewResult, error) {
	raw, table, err := s.parse(req)
	if err != nil {
		return PreviewResult{}, err
	}

	suggestion, err := s.suggest(ctx, req, table)
	if err != nil {
		return PreviewResult{}, err
	}

	preview := PreviewResult{
		Format:         raw.Format,
		Encoding:       raw.Encoding,
		Headers:        table.Headers,
		HeaderRowIndex: table.HeaderRowIndex,
		Samples:        table.Samples(s.cfg.SampleRows),
		TotalRows:      len(table.Rows),
		Suggestion:     suggestion,
		Warnings:       table.Warnings,
	}
	if err := s.deps.Mapper.Validate(suggestion.Mapping, table.Headers); err != nil {
		preview.MappingError = err.Error()
	}
	return preview, nil
}

// Run imports one file. Input errors are returned before any record or
// dimension is written. The returned result is valid even when err is not
// nil and reflects everything that was persisted.
func (s *ImportService) Run(ctx context.Context, req ImportRequest) (models.ImportResult, error) {
	if req.RunID == "" {
		req.RunID = models.GenerateImportRunID()
	}
	started := s.now()
	log := s.deps.Logger.With(zap.String("run_id", req.RunID), zap.String("tenant_id", req.TenantID))

	result := models.NewImportResult(req.RunID, req.TenantID, 0)
	result.StartedAt = started
	s.saveStatus(ctx, models.StatusFromResult(models.RunStateRunning, result), log)

	records, result, err := s.prepare(ctx, req, result, log)
	if err != nil {
		return s.finish(ctx, req, result, err, started, log)
	}

	provisioned, err := NewDimensionProvisioner(s.deps.Store, s.deps.Mapper.Fields(), log).Provision(ctx, req.TenantID, records)
	result.DimensionsCreated = provisioned.Created
	if err != nil {
		return s.finish(ctx, req, result, err, started, log)
	}

	mode := storage.ModeInsert
	if s.cfg.Upsert || req.Options.Upsert {
		mode = storage.ModeUpsert
	}

	persister := NewBatchPersister(s.deps.Store, s.deps.Metrics, log)
	result, err = persister.Persist(ctx, result, records, PersistOptions{
		BatchSize:       s.cfg.BatchSize,
		Mode:            mode,
		ContinueOnError: s.cfg.ContinueOnBatchError || req.Options.ContinueOnBatchError,
		OnProgress: func(snapshot models.ImportResult) {
			s.saveStatus(ctx, models.StatusFromResult(models.RunStateRunning, snapshot), log)
		},
	})
	return s.finish(ctx, req, result, err, started, log)
}

// prepare runs every step that has no store side effect and returns the
// records to persist
func (s *ImportService) prepare(ctx context.Context, req ImportRequest, result models.ImportResult, log *zap.Logger) ([]models.AssembledRecord, models.ImportResult, error) {
	_, table, err := s.parse(req)
	if err != nil {
		return nil, result, err
	}

	headers, rows := table.Headers, table.Rows
	var mapping models.ColumnMapping
	var normalized *NormalizeResult

	if req.Options.UseAINormalization {
		if s.deps.Oracle == nil {
			return nil, result, ErrAIUnavailable
		}
		normalizer := NewAINormalizer(s.deps.Oracle, s.deps.Mapper, NormalizerOptions{
			AI:          s.cfg.AI,
			BatchSize:   s.cfg.AIBatchSize,
			CallTimeout: s.cfg.AICallTimeout,
			Archiver:    s.deps.Archiver,
			Metrics:     s.deps.Metrics,
		}, log)

		out, err := normalizer.Normalize(ctx, req.RunID, headers, rows)
		result.AIFailures = out.Failures
		if err != nil {
			return nil, result, err
		}
		normalized = &out
		headers, rows = out.Table.Headers, out.Table.Rows
		mapping = IdentityMapping(headers)
	} else {
		suggestion, err := s.suggest(ctx, req, table)
		if err != nil {
			return nil, result, err
		}
		if err := s.deps.Mapper.Validate(suggestion.Mapping, headers); err != nil {
			return nil, result, err
		}
		mapping = suggestion.Mapping
	}

	assembler := NewRecordAssembler(s.deps.Mapper, headers, mapping, RecordMeta{
		TenantID: req.TenantID,
		UserID:   req.UserID,
		RunID:    req.RunID,
	})
	records, skipped := assembler.AssembleAll(rows)

	// report positions in the uploaded file, not in the oracle's output
	if normalized != nil {
		for i := range skipped {
			skipped[i].Index = normalized.SourceRow(skipped[i].Index)
		}
		for i := range records {
			records[i].RowIndex = normalized.SourceRow(records[i].RowIndex)
		}
	}

	result.Total = len(rows)
	result.Skipped = append(result.Skipped, skipped...)

	log.Info("Import prepared",
		zap.Int("rows", len(rows)),
		zap.Int("records", len(records)),
		zap.Int("skipped", len(skipped)),
		zap.Int("ai_failures", len(result.AIFailures)))

	return records, result, nil
}

func (s *ImportService) parse(req ImportRequest) (*models.RawTable, *models.Table, error) {
	if len(req.Data) == 0 {
		return nil, nil, ErrEmptyInput
	}

	format := strings.ToLower(strings.TrimSpace(req.Options.Format))
	switch {
	case format == "":
		format = FormatFromFileName(req.FileName)
	case !models.ValidateFormat(format):
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Options.Format)
	}

	delimiter, err := parseDelimiter(req.Options.Delimiter)
	if err != nil {
		return nil, nil, err
	}
	raw, err := ParseSource(req.Data, format, ParseOptions{Delimiter: delimiter}, req.Options.Sheet)
	if err != nil {
		return nil, nil, err
	}
	table, err := SelectHeader(raw, req.Options.HeaderRow)
	if err != nil {
		return nil, nil, err
	}
	return raw, table, nil
}

// suggest merges the heuristic mapping, the optional AI suggestion and the
// caller's mapping. A failed AI suggestion is logged and ignored.
func (s *ImportService) suggest(ctx context.Context, req ImportRequest, table *models.Table) (models.MappingSuggestion, error) {
	samples := table.Samples(s.cfg.SampleRows)
	heuristic := s.deps.Mapper.Suggest(table.Headers, samples)

	var ai models.MappingSuggestion
	if req.Options.UseAIMapping {
		if s.deps.Oracle == nil {
			return models.MappingSuggestion{}, ErrAIUnavailable
		}
		var err error
		ai, err = s.deps.Mapper.SuggestWithAI(ctx, s.deps.Oracle, s.cfg.AI, table.Headers, samples, s.deps.Logger)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return models.MappingSuggestion{}, ctxErr
			}
			s.deps.Logger.Warn("AI mapping suggestion failed, using heuristics only", zap.Error(err))
		}
	}

	merged := s.deps.Mapper.Merge(table.Headers, heuristic.Mapping, ai.Mapping, req.Options.Mapping)
	merged.Unknown = ai.Unknown
	return merged, nil
}

func (s *ImportService) finish(ctx context.Context, req ImportRequest, result models.ImportResult, runErr error, started time.Time, log *zap.Logger) (models.ImportResult, error) {
	result = result.Clone()
	result.FinishedAt = s.now()

	state := models.RunStateCompleted
	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		state = models.RunStateCancelled
	case runErr != nil:
		state = models.RunStateFailed
	}

	status := models.StatusFromResult(state, result)
	if runErr != nil {
		status.Message = runErr.Error()
	}

	// the run is over; bookkeeping must not be cut short by the caller's context
	bg := context.WithoutCancel(ctx)

	if HasReportLines(result) {
		report, err := BuildReport(result)
		if err != nil {
			log.Error("Failed to build error report", zap.Error(err))
		} else {
			if err := s.deps.Status.SaveReport(bg, result.RunID, report); err != nil {
				log.Warn("Failed to store error report", zap.Error(err))
			}
			if s.deps.Reports != nil {
				uploaded, err := s.deps.Reports.UploadReport(bg, req.TenantID, result.RunID, report)
				if err != nil {
					log.Warn("Failed to upload error report", zap.Error(err))
				} else {
					status.ReportKey = uploaded.Key
				}
			}
		}
	}

	s.saveStatus(bg, status, log)
	s.deps.Metrics.RecordRun(state, result, result.FinishedAt.Sub(started))

	if runErr != nil {
		log.Error("Import run ended with error", zap.String("state", string(state)), zap.Error(runErr))
	} else {
		log.Info("Import run completed",
			zap.Int("imported", result.Imported),
			zap.Int("skipped", len(result.Skipped)),
			zap.Int("errored", len(result.Errors)))
	}
	return result, runErr
}

func (s *ImportService) saveStatus(ctx context.Context, status models.ImportStatus, log *zap.Logger) {
	if err := s.deps.Status.SaveStatus(context.WithoutCancel(ctx), status); err != nil {
		log.Warn("Failed to save import status", zap.String("state", string(status.State)), zap.Error(err))
	}
}

// parseDelimiter accepts a literal character or a name such as "tab".
// An empty string leaves the delimiter to be sniffed.
func parseDelimiter(s string) (rune, error) {
	if s == "" {
		return 0, nil
	}
	var r rune
	if utf8.RuneCountInString(s) == 1 {
		r, _ = utf8.DecodeRuneInString(s)
	} else {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "tab", `\t`:
			r = '\t'
		case "comma":
			r = ','
		case "semicolon":
			r = ';'
		case "pipe":
			r = '|'
		}
	}
	if !ValidDelimiter(r) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelimiter, s)
	}
	return r, nil
}
