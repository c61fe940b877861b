package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/app"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/config"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/logger"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/services"
)

// LambdaResponse represents the function response
type LambdaResponse struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	RunID          string   `json:"run_id"`
	Total          int      `json:"total"`
	Imported       int      `json:"imported"`
	Skipped        int      `json:"skipped"`
	Errored        int      `json:"errored"`
	AIFailures     int      `json:"ai_failures,omitempty"`
	ProcessingTime int64    `json:"processing_time_ms"`
	Errors         []string `json:"errors,omitempty"`
}

// sourceReader fetches staged uploads
type sourceReader interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

// ImportWorker runs import jobs handed over by the admin API or by S3
// object notifications
type ImportWorker struct {
	importer     *services.ImportService
	source       sourceReader
	uploadPrefix string
	logger       *zap.Logger
}

// NewImportWorker creates a worker
func NewImportWorker(importer *services.ImportService, source sourceReader, uploadPrefix string, log *zap.Logger) *ImportWorker {
	return &ImportWorker{importer: importer, source: source, uploadPrefix: uploadPrefix, logger: logger.OrNop(log)}
}

// HandleEvent accepts either an ImportJob or an S3 event
func (w *ImportWorker) HandleEvent(ctx context.Context, payload json.RawMessage) (LambdaResponse, error) {
	var probe struct {
		Records []json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && len(probe.Records) > 0 {
		var event events.S3Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return LambdaResponse{Message: "invalid S3 event"}, fmt.Errorf("failed to decode S3 event: %w", err)
		}
		return w.HandleS3Event(ctx, event)
	}

	var job models.ImportJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return LambdaResponse{Message: "invalid import job"}, fmt.Errorf("failed to decode import job: %w", err)
	}
	return w.HandleJob(ctx, job)
}

// HandleS3Event imports every staged object named in the event
func (w *ImportWorker) HandleS3Event(ctx context.Context, event events.S3Event) (LambdaResponse, error) {
	combined := LambdaResponse{Success: true}
	start := time.Now()
	for _, record := range event.Records {
		job, err := JobFromS3Record(record, w.uploadPrefix)
		if err != nil {
			w.logger.Warn("Ignoring S3 object", zap.String("key", record.S3.Object.Key), zap.Error(err))
			combined.Errors = append(combined.Errors, err.Error())
			continue
		}

		resp, err := w.HandleJob(ctx, job)
		if err != nil {
			return resp, err
		}
		combined.RunID = resp.RunID
		combined.Total += resp.Total
		combined.Imported += resp.Imported
		combined.Skipped += resp.Skipped
		combined.Errored += resp.Errored
		combined.AIFailures += resp.AIFailures
		combined.Errors = append(combined.Errors, resp.Errors...)
		combined.Success = combined.Success && resp.Success
	}
	combined.ProcessingTime = time.Since(start).Milliseconds()
	combined.Message = fmt.Sprintf("Processed %d objects", len(event.Records))
	return combined, nil
}

// HandleJob downloads the staged file and runs the import. A failed download
// is returned as an error so that the invocation is retried; pipeline
// failures are final and only reported in the response and run status.
func (w *ImportWorker) HandleJob(ctx context.Context, job models.ImportJob) (LambdaResponse, error) {
	start := time.Now()
	if err := validateJob(job); err != nil {
		return LambdaResponse{Message: err.Error(), RunID: job.RunID}, nil
	}

	log := w.logger.With(zap.String("run_id", job.RunID), zap.String("tenant_id", job.TenantID))
	log.Info("Import job started", zap.String("bucket", job.Bucket), zap.String("key", job.Key))

	data, err := w.source.Download(ctx, job.Bucket, job.Key)
	if err != nil {
		log.Error("Failed to download staged upload", zap.Error(err))
		return LambdaResponse{Message: "download failed", RunID: job.RunID, ProcessingTime: time.Since(start).Milliseconds()}, err
	}

	fileName := job.FileName
	if fileName == "" {
		fileName = job.Key
	}

	result, runErr := w.importer.Run(logger.WithRunID(ctx, job.RunID), services.ImportRequest{
		RunID:    job.RunID,
		TenantID: job.TenantID,
		UserID:   job.UserID,
		FileName: fileName,
		Data:     data,
		Options:  job.Options,
	})

	response := LambdaResponse{
		Success:        runErr == nil,
		RunID:          result.RunID,
		Total:          result.Total,
		Imported:       result.Imported,
		Skipped:        len(result.Skipped),
		Errored:        len(result.Errors),
		AIFailures:     len(result.AIFailures),
		ProcessingTime: time.Since(start).Milliseconds(),
	}
	if runErr != nil {
		response.Message = fmt.Sprintf("Import failed: %v", runErr)
		response.Errors = append(response.Errors, runErr.Error())
	} else {
		response.Message = fmt.Sprintf("Imported %d of %d rows", result.Imported, result.Total)
	}

	log.Info("Import job finished", zap.Bool("success", response.Success), zap.Int64("processing_time_ms", response.ProcessingTime))
	return response, nil
}

func validateJob(job models.ImportJob) error {
	var missing []string
	if job.RunID == "" {
		missing = append(missing, "run_id")
	}
	if job.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if job.Key == "" {
		missing = append(missing, "key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("import job is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// JobFromS3Record derives a job from the key layout <prefix><tenant>/<run>/<file>
func JobFromS3Record(record events.S3EventRecord, prefix string) (models.ImportJob, error) {
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return models.ImportJob{}, fmt.Errorf("invalid object key %q: %w", record.S3.Object.Key, err)
	}
	if !strings.HasPrefix(key, prefix) {
		return models.ImportJob{}, fmt.Errorf("object %q is outside %q", key, prefix)
	}

	parts := strings.SplitN(strings.TrimPrefix(key, prefix), "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return models.ImportJob{}, errors.New("object key does not match <tenant>/<run>/<file>: " + key)
	}

	return models.ImportJob{
		RunID:    parts[1],
		TenantID: parts[0],
		Bucket:   record.S3.Bucket.Name,
		Key:      key,
		FileName: parts[2],
	}, nil
}

// main is the entry point for the Lambda function
func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	logger.Initialize(cfg.Env)
	defer logger.Sync()

	a, err := app.New(context.Background(), cfg, app.Options{}, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize import worker", zap.Error(err))
	}
	defer a.Close()
	if a.S3 == nil {
		logger.Log.Fatal("S3_BUCKET_NAME is required for the import worker")
	}

	worker := NewImportWorker(a.Import, a.S3, cfg.S3.UploadPrefix, logger.Log)
	lambda.Start(worker.HandleEvent)
}
