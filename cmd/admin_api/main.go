package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	lambdaclient "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/app"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/config"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/logger"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/services"
)

// AdminAPIResponse represents the Lambda response
type AdminAPIResponse struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// ResponseBody represents the response body structure
type ResponseBody struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type lambdaInvoker interface {
	Invoke(ctx context.Context, params *lambdaclient.InvokeInput, optFns ...func(*lambdaclient.Options)) (*lambdaclient.InvokeOutput, error)
}

type uploadStager interface {
	UploadSource(ctx context.Context, tenantID, runID, fileName string, data []byte) (*services.S3UploadResult, error)
}

// AdminAPI stages uploads and hands them to the import worker
type AdminAPI struct {
	importer       *services.ImportService
	stager         uploadStager
	invoker        lambdaInvoker
	workerFunction string
	maxUploadBytes int
	logger         *zap.Logger
}

func handleRequest(ctx context.Context, api *AdminAPI, request events.APIGatewayProxyRequest) (AdminAPIResponse, error) {
	// Set CORS headers
	headers := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token,X-Tenant-ID,X-User-ID,X-File-Name",
		"Access-Control-Allow-Methods": "GET,POST,OPTIONS",
		"Content-Type":                 "application/json",
	}

	// Handle preflight OPTIONS request
	if request.HTTPMethod == "OPTIONS" {
		return AdminAPIResponse{StatusCode: 200, Headers: headers}, nil
	}

	path := strings.TrimSuffix(request.Path, "/")
	method := request.HTTPMethod
	api.logger.Info("Admin API request", zap.String("method", method), zap.String("path", path))

	tenantID := header(request, "X-Tenant-ID")
	if tenantID == "" && path != "/healthz" {
		return respond(headers, ResponseBody{Success: false, Message: "Missing tenant", Error: "X-Tenant-ID header is required"}, 400)
	}

	var responseBody ResponseBody
	var statusCode int

	switch {
	case method == "GET" && path == "/healthz":
		responseBody, statusCode = ResponseBody{Success: true, Message: "ok"}, 200

	case method == "POST" && path == "/api/imports/preview":
		responseBody, statusCode = api.handlePreview(ctx, tenantID, request)

	case method == "POST" && path == "/api/imports":
		responseBody, statusCode = api.handleSubmitImport(ctx, tenantID, request)

	case method == "GET" && strings.HasPrefix(path, "/api/imports/") && strings.HasSuffix(path, "/report"):
		runID := extractRunIDFromPath(path, "/report")
		report, body, code := api.handleGetReport(ctx, tenantID, runID)
		if report == nil {
			return respond(headers, body, code)
		}
		csvHeaders := make(map[string]string, len(headers))
		for k, v := range headers {
			csvHeaders[k] = v
		}
		csvHeaders["Content-Type"] = "text/csv; charset=utf-8"
		csvHeaders["Content-Disposition"] = fmt.Sprintf("attachment; filename=%q", runID+".csv")
		return AdminAPIResponse{StatusCode: 200, Headers: csvHeaders, Body: string(report)}, nil

	case method == "GET" && strings.HasPrefix(path, "/api/imports/"):
		runID := extractRunIDFromPath(path, "")
		responseBody, statusCode = api.handleGetStatus(ctx, tenantID, runID)

	default:
		responseBody = ResponseBody{
			Success: false,
			Error:   "Not found",
		}
		statusCode = 404
	}

	return respond(headers, responseBody, statusCode)
}

func respond(headers map[string]string, body ResponseBody, statusCode int) (AdminAPIResponse, error) {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return AdminAPIResponse{
			StatusCode: 500,
			Headers:    headers,
			Body:       `{"success":false,"error":"Internal server error"}`,
		}, nil
	}
	return AdminAPIResponse{StatusCode: statusCode, Headers: headers, Body: string(bodyJSON)}, nil
}

// header looks a header up case-insensitively; API Gateway keeps client casing
func header(request events.APIGatewayProxyRequest, name string) string {
	if v, ok := request.Headers[name]; ok {
		return v
	}
	for k, v := range request.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// extractRunIDFromPath extracts the run ID from a path like /api/imports/{id}/report
func extractRunIDFromPath(path, suffix string) string {
	path = strings.TrimPrefix(path, "/api/imports/")
	path = strings.TrimSuffix(path, suffix)
	return strings.Trim(path, "/")
}

// readUpload decodes the request body and options. The file name comes from
// X-File-Name or the file_name query parameter; options are a JSON document
// in the options query parameter.
func (api *AdminAPI) readUpload(tenantID string, request events.APIGatewayProxyRequest) (services.ImportRequest, error) {
	data := []byte(request.Body)
	if request.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(request.Body)
		if err != nil {
			return services.ImportRequest{}, fmt.Errorf("invalid base64 body: %w", err)
		}
		data = decoded
	}
	if api.maxUploadBytes > 0 && len(data) > api.maxUploadBytes {
		return services.ImportRequest{}, fmt.Errorf("uploads are limited to %d bytes", api.maxUploadBytes)
	}

	fileName := header(request, "X-File-Name")
	if fileName == "" {
		fileName = request.QueryStringParameters["file_name"]
	}

	var opts models.ImportOptions
	if raw := request.QueryStringParameters["options"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return services.ImportRequest{}, fmt.Errorf("invalid options: %w", err)
		}
	}

	return services.ImportRequest{
		TenantID: tenantID,
		UserID:   header(request, "X-User-ID"),
		FileName: fileName,
		Data:     data,
		Options:  opts,
	}, nil
}

func (api *AdminAPI) handlePreview(ctx context.Context, tenantID string, request events.APIGatewayProxyRequest) (ResponseBody, int) {
	req, err := api.readUpload(tenantID, request)
	if err != nil {
		return ResponseBody{Success: false, Message: "Invalid upload", Error: err.Error()}, 400
	}

	preview, err := api.importer.Preview(ctx, req)
	if err != nil {
		return failure("Preview failed", err)
	}
	return ResponseBody{Success: true, Message: "Preview ready", Data: preview}, 200
}

func (api *AdminAPI) handleSubmitImport(ctx context.Context, tenantID string, request events.APIGatewayProxyRequest) (ResponseBody, int) {
	req, err := api.readUpload(tenantID, request)
	if err != nil {
		return ResponseBody{Success: false, Message: "Invalid upload", Error: err.Error()}, 400
	}
	if len(req.Data) == 0 {
		return failure("Import rejected", services.ErrEmptyInput)
	}

	runID := models.GenerateImportRunID()
	staged, err := api.stager.UploadSource(ctx, tenantID, runID, req.FileName, req.Data)
	if err != nil {
		return failure("Failed to stage upload", err)
	}

	if err := api.importer.MarkPending(ctx, runID, tenantID); err != nil {
		return failure("Failed to register import", err)
	}

	job := models.ImportJob{
		RunID:    runID,
		TenantID: tenantID,
		UserID:   req.UserID,
		Bucket:   staged.Bucket,
		Key:      staged.Key,
		FileName: req.FileName,
		Options:  req.Options,
	}
	if err := api.triggerImportWorker(ctx, job); err != nil {
		return failure("Failed to start import worker", err)
	}

	api.logger.Info("Import submitted", zap.String("run_id", runID), zap.String("tenant_id", tenantID), zap.String("key", staged.Key))
	return ResponseBody{
		Success: true,
		Message: "Import started",
		Data:    map[string]string{"run_id": runID},
	}, 202
}

func (api *AdminAPI) handleGetStatus(ctx context.Context, tenantID, runID string) (ResponseBody, int) {
	status, err := api.importer.Status(ctx, runID)
	if err == nil && status.TenantID != tenantID {
		err = services.ErrStatusNotFound
	}
	if err != nil {
		return failure("Import not found", err)
	}
	return ResponseBody{Success: true, Message: "Import status", Data: status}, 200
}

func (api *AdminAPI) handleGetReport(ctx context.Context, tenantID, runID string) ([]byte, ResponseBody, int) {
	if body, code := api.handleGetStatus(ctx, tenantID, runID); !body.Success {
		return nil, body, code
	}
	report, err := api.importer.Report(ctx, runID)
	if err != nil {
		body, code := failure("Report unavailable", err)
		return nil, body, code
	}
	return report, ResponseBody{}, 200
}

func (api *AdminAPI) triggerImportWorker(ctx context.Context, job models.ImportJob) error {
	payloadBytes, err := json.Marshal(job)
	if err != nil {
		return err
	}

	_, err = api.invoker.Invoke(ctx, &lambdaclient.InvokeInput{
		FunctionName:   aws.String(api.workerFunction),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payloadBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to invoke %s: %w", api.workerFunction, err)
	}
	return nil
}

func failure(message string, err error) (ResponseBody, int) {
	code := 500
	switch {
	case services.IsInputError(err):
		code = 400
	case errors.Is(err, services.ErrStatusNotFound):
		code = 404
	}
	return ResponseBody{Success: false, Message: message, Error: err.Error()}, code
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	logger.Initialize(cfg.Env)
	defer logger.Sync()
	log := logger.Log

	if cfg.Lambda.WorkerFunction == "" {
		log.Fatal("IMPORT_WORKER_FUNCTION_NAME environment variable not set")
	}
	if cfg.Redis.Addr == "" {
		log.Warn("REDIS_ADDR not set; run status is not shared with the worker")
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, app.Options{}, log)
	if err != nil {
		log.Fatal("Failed to initialize import service", zap.Error(err))
	}
	defer a.Close()
	if a.S3 == nil {
		log.Fatal("S3_BUCKET_NAME is required to stage uploads")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal("Failed to load AWS config", zap.Error(err))
	}

	api := &AdminAPI{
		importer:       a.Import,
		stager:         a.S3,
		invoker:        lambdaclient.NewFromConfig(awsCfg),
		workerFunction: cfg.Lambda.WorkerFunction,
		maxUploadBytes: cfg.Server.MaxUploadMB << 20,
		logger:         log,
	}

	lambda.Start(func(ctx context.Context, request events.APIGatewayProxyRequest) (AdminAPIResponse, error) {
		return handleRequest(ctx, api, request)
	})
}
