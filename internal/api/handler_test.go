package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/services"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage/memory"
)

const listings = "Nome;Preço;Código\nCasa Azul;250.000,00;C-1\n;100,00;\n"

type testServer struct {
	handler *Handler
	router  *gin.Engine
	store   *memory.Store
}

func newTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	metrics := services.NewImportMetrics(nil, nil)
	svc := services.NewImportService(services.ImportDeps{
		Store:   store,
		Status:  services.NewMemoryStatusStore(),
		Metrics: metrics,
	}, services.ImportConfig{BatchSize: 100})

	h := NewHandler(svc, metrics, maxUpload)
	return &testServer{handler: h, router: NewRouter(h), store: store}
}

func uploadRequest(t *testing.T, target, tenant, fileName, content, options string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write([]byte(content))
	}
	if options != "" {
		mw.WriteField("options", options)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	req.Header.Set(UserHeader, "u1")
	return req
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, data interface{}) ResponseBody {
	t.Helper()
	var raw struct {
		ResponseBody
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	if data != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			t.Fatalf("failed to decode data: %v", err)
		}
	}
	return raw.ResponseBody
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)
	w := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected: %d, got: %d", http.StatusOK, w.Code)
	}
}

func TestPreview(t *testing.T) {
	s := newTestServer(t, 0)
	w := s.do(uploadRequest(t, "/api/imports/preview", "t1", "imoveis.csv", listings, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected: %d, got: %d (%s)", http.StatusOK, w.Code, w.Body.String())
	}

	var preview services.PreviewResult
	body := decodeBody(t, w, &preview)
	if !body.Success {
		t.Error("Expected success")
	}
	if preview.TotalRows != 2 {
		t.Errorf("Expected: %d, got: %d", 2, preview.TotalRows)
	}
	if got := preview.Suggestion.Mapping["Nome"]; got != "name" {
		t.Errorf("Expected: %q, got: %q", "name", got)
	}
	if preview.MappingError != "" {
		t.Errorf("Expected no mapping error, got %q", preview.MappingError)
	}
}

func TestCreate_WaitAndReport(t *testing.T) {
	s := newTestServer(t, 0)
	w := s.do(uploadRequest(t, "/api/imports?wait=true", "t1", "imoveis.csv", listings, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected: %d, got: %d (%s)", http.StatusOK, w.Code, w.Body.String())
	}

	var result models.ImportResult
	decodeBody(t, w, &result)
	if result.Imported != 1 || len(result.Skipped) != 1 {
		t.Fatalf("Expected 1 imported and 1 skipped, got %d and %d", result.Imported, len(result.Skipped))
	}

	w = s.do(withTenant(httptest.NewRequest(http.MethodGet, "/api/imports/"+result.RunID, nil), "t1"))
	var status models.ImportStatus
	decodeBody(t, w, &status)
	if status.State != models.RunStateCompleted {
		t.Errorf("Expected: %q, got: %q", models.RunStateCompleted, status.State)
	}

	w = s.do(withTenant(httptest.NewRequest(http.MethodGet, "/api/imports/"+result.RunID+"/report", nil), "t1"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected: %d, got: %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Expected text/csv, got %q", ct)
	}
	expected := "index,kind,reason\n1,skipped,missing mandatory identifier\n"
	if w.Body.String() != expected {
		t.Errorf("Expected: %q, got: %q", expected, w.Body.String())
	}
}

func TestCreate_Background(t *testing.T) {
	s := newTestServer(t, 0)
	w := s.do(uploadRequest(t, "/api/imports", "t1", "imoveis.csv", listings, `{"upsert":true}`))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected: %d, got: %d (%s)", http.StatusAccepted, w.Code, w.Body.String())
	}
	var data struct {
		RunID string `json:"run_id"`
	}
	decodeBody(t, w, &data)
	if data.RunID == "" {
		t.Fatal("Expected a run ID")
	}

	s.handler.Wait()

	w = s.do(withTenant(httptest.NewRequest(http.MethodGet, "/api/imports/"+data.RunID, nil), "t1"))
	var status models.ImportStatus
	decodeBody(t, w, &status)
	if status.State != models.RunStateCompleted {
		t.Errorf("Expected: %q, got: %q", models.RunStateCompleted, status.State)
	}
	if status.Imported != 1 {
		t.Errorf("Expected: %d, got: %d", 1, status.Imported)
	}
}

func TestCreate_InputErrors(t *testing.T) {
	s := newTestServer(t, 0)

	tests := []struct {
		name     string
		tenant   string
		file     string
		content  string
		options  string
		expected int
	}{
		{"missing tenant", "", "a.csv", listings, "", http.StatusBadRequest},
		{"missing file", "t1", "", "", "", http.StatusBadRequest},
		{"bad options", "t1", "a.csv", listings, "{", http.StatusBadRequest},
		{"header out of range", "t1", "a.csv", listings, `{"header_row":10}`, http.StatusBadRequest},
		{"unknown field", "t1", "a.csv", listings, `{"mapping":{"Nome":"colour"}}`, http.StatusBadRequest},
		{"empty file", "t1", "a.csv", "", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(uploadRequest(t, "/api/imports?wait=true", tt.tenant, tt.file, tt.content, tt.options))
			if w.Code != tt.expected {
				t.Errorf("Expected: %d, got: %d (%s)", tt.expected, w.Code, w.Body.String())
			}
			if body := decodeBody(t, w, nil); body.Success {
				t.Error("Expected failure envelope")
			}
		})
	}

	if n := len(s.store.Records("t1")); n != 0 {
		t.Errorf("Expected no records, got %d", n)
	}
}

func TestCreate_UploadTooLarge(t *testing.T) {
	s := newTestServer(t, 64)
	w := s.do(uploadRequest(t, "/api/imports", "t1", "a.csv", strings.Repeat("x", 1024), ""))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected: %d, got: %d", http.StatusRequestEntityTooLarge, w.Code)
	}
}

func TestGetStatus_OtherTenant(t *testing.T) {
	s := newTestServer(t, 0)
	w := s.do(uploadRequest(t, "/api/imports?wait=true", "t1", "imoveis.csv", listings, ""))
	var result models.ImportResult
	decodeBody(t, w, &result)

	tests := []struct {
		name string
		path string
	}{
		{"status", "/api/imports/" + result.RunID},
		{"report", "/api/imports/" + result.RunID + "/report"},
		{"unknown run", "/api/imports/run_missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant := "t2"
			if tt.name == "unknown run" {
				tenant = "t1"
			}
			w := s.do(withTenant(httptest.NewRequest(http.MethodGet, tt.path, nil), tenant))
			if w.Code != http.StatusNotFound {
				t.Errorf("Expected: %d, got: %d", http.StatusNotFound, w.Code)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, 0)
	s.do(uploadRequest(t, "/api/imports?wait=true", "t1", "imoveis.csv", listings, ""))

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected: %d, got: %d", http.StatusOK, w.Code)
	}
	var data struct {
		Dashboard struct {
			Runs struct {
				Total int `json:"total"`
			} `json:"runs"`
		} `json:"dashboard"`
	}
	decodeBody(t, w, &data)
	if data.Dashboard.Runs.Total != 1 {
		t.Errorf("Expected: %d, got: %d", 1, data.Dashboard.Runs.Total)
	}
}

func withTenant(req *http.Request, tenant string) *http.Request {
	req.Header.Set(TenantHeader, tenant)
	return req
}
