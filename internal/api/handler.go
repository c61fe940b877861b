// Package api exposes the import pipeline over HTTP
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/logger"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/services"
)

// Header names carrying the caller identity
const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"
)

// DefaultMaxUploadBytes caps uploaded files when no limit is configured
const DefaultMaxUploadBytes = 20 << 20

// ResponseBody is the JSON envelope of every non-CSV response
type ResponseBody struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Handler serves the import endpoints
type Handler struct {
	importer       *services.ImportService
	metrics        *services.ImportMetrics
	maxUploadBytes int64

	wg sync.WaitGroup
}

// NewHandler creates a handler. A maxUploadBytes of zero uses DefaultMaxUploadBytes.
func NewHandler(importer *services.ImportService, metrics *services.ImportMetrics, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{importer: importer, metrics: metrics, maxUploadBytes: maxUploadBytes}
}

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.RequestLogger())
	h.Register(r)
	return r
}

// Register adds the routes to r
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)

	imports := r.Group("/api/imports")
	imports.Use(requireTenant())
	{
		imports.POST("/preview", h.Preview)
		imports.POST("", h.Create)
		imports.GET("/:id", h.GetStatus)
		imports.GET("/:id/report", h.GetReport)
	}

	r.GET("/api/metrics", h.Metrics)
}

// Wait blocks until every background run started by Create has finished
func (h *Handler) Wait() {
	h.wg.Wait()
}

func requireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(TenantHeader) == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, ResponseBody{
				Success: false,
				Message: "Missing tenant",
				Error:   TenantHeader + " header is required",
			})
			return
		}
		c.Next()
	}
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Preview parses the upload and returns headers, samples and a proposed mapping
func (h *Handler) Preview(c *gin.Context) {
	req, ok := h.bindUpload(c)
	if !ok {
		return
	}

	preview, err := h.importer.Preview(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Preview failed", err)
		return
	}

	c.JSON(http.StatusOK, ResponseBody{
		Success: true,
		Message: "Preview ready",
		Data:    preview,
	})
}

// Create starts an import. With ?wait=true the run completes before the
// response and its result is returned; otherwise the run continues in the
// background and 202 is returned with the run ID.
func (h *Handler) Create(c *gin.Context) {
	req, ok := h.bindUpload(c)
	if !ok {
		return
	}
	req.RunID = models.GenerateImportRunID()
	ctx := logger.WithRunID(c.Request.Context(), req.RunID)

	if c.Query("wait") == "true" {
		result, err := h.importer.Run(ctx, req)
		if err != nil && services.IsInputError(err) {
			h.fail(c, "Import rejected", err)
			return
		}
		body := ResponseBody{Success: err == nil, Message: "Import finished", Data: result}
		if err != nil {
			body.Message = "Import failed"
			body.Error = err.Error()
		}
		c.JSON(http.StatusOK, body)
		return
	}

	if err := h.importer.MarkPending(ctx, req.RunID, req.TenantID); err != nil {
		h.fail(c, "Failed to register import", err)
		return
	}

	bg := context.WithoutCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.importer.Run(bg, req); err != nil {
			logger.Error(bg, "Background import failed", err)
		}
	}()

	c.JSON(http.StatusAccepted, ResponseBody{
		Success: true,
		Message: "Import started",
		Data:    gin.H{"run_id": req.RunID},
	})
}

// GetStatus returns the status of a run owned by the calling tenant
func (h *Handler) GetStatus(c *gin.Context) {
	status, ok := h.ownedStatus(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ResponseBody{
		Success: true,
		Message: "Import status",
		Data:    status,
	})
}

// GetReport returns the CSV error report of a run
func (h *Handler) GetReport(c *gin.Context) {
	status, ok := h.ownedStatus(c)
	if !ok {
		return
	}

	report, err := h.importer.Report(c.Request.Context(), status.RunID)
	if err != nil {
		h.fail(c, "Report unavailable", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", status.RunID+".csv"))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", report)
}

// Metrics returns the in-process import dashboard and active alerts
func (h *Handler) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, ResponseBody{Success: false, Message: "Metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, ResponseBody{
		Success: true,
		Message: "Import metrics",
		Data: gin.H{
			"dashboard": h.metrics.GetDashboardMetrics(),
			"alerts":    h.metrics.CheckAlerts(),
		},
	})
}

func (h *Handler) ownedStatus(c *gin.Context) (models.ImportStatus, bool) {
	status, err := h.importer.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Import not found", err)
		return models.ImportStatus{}, false
	}
	// runs of other tenants are reported as missing
	if status.TenantID != c.GetHeader(TenantHeader) {
		h.fail(c, "Import not found", services.ErrStatusNotFound)
		return models.ImportStatus{}, false
	}
	return status, true
}

// bindUpload reads the multipart "file" part and the optional JSON "options" field
func (h *Handler) bindUpload(c *gin.Context) (services.ImportRequest, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ResponseBody{
				Success: false,
				Message: "Upload too large",
				Error:   fmt.Sprintf("uploads are limited to %d bytes", tooLarge.Limit),
			})
			return services.ImportRequest{}, false
		}
		c.JSON(http.StatusBadRequest, ResponseBody{
			Success: false,
			Message: "Invalid upload",
			Error:   "multipart field \"file\" is required: " + err.Error(),
		})
		return services.ImportRequest{}, false
	}

	f, err := fileHeader.Open()
	if err != nil {
		h.fail(c, "Invalid upload", err)
		return services.ImportRequest{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, "Invalid upload", err)
		return services.ImportRequest{}, false
	}

	var opts models.ImportOptions
	if raw := c.PostForm("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			c.JSON(http.StatusBadRequest, ResponseBody{
				Success: false,
				Message: "Invalid options",
				Error:   err.Error(),
			})
			return services.ImportRequest{}, false
		}
	}

	return services.ImportRequest{
		TenantID: c.GetHeader(TenantHeader),
		UserID:   c.GetHeader(UserHeader),
		FileName: fileHeader.Filename,
		Data:     data,
		Options:  opts,
	}, true
}

// fail maps err to a status code and writes the envelope
func (h *Handler) fail(c *gin.Context, message string, err error) {
	code := http.StatusInternalServerError
	switch {
	case services.IsInputError(err):
		code = http.StatusBadRequest
	case errors.Is(err, services.ErrStatusNotFound):
		code = http.StatusNotFound
	default:
		logger.Error(c, message, err, zap.String("path", c.FullPath()))
	}
	c.JSON(code, ResponseBody{Success: false, Message: message, Error: err.Error()})
}
