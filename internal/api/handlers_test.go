package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/analysis"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/auth"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/config"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/metrics"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/ownerlock"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/report"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/service/account"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/service/dataset"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/storage"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/worker"
)

const plantCSV = `equipment_id,Type,Flowrate,Pressure,Temperature
P-1,Pump,120,5.2,110
P-2,Pump,80,5.0,100
V-1,Valve,60,4.1,95
`

func TestHandlersEndToEndFlow(t *testing.T) {
	router, db := newTestServer(t, 2)
	defer db.Close()

	_, authHeader := registerAndLogin(t, router)

	// Upload three datasets; the first is evicted by the retention limit of 2.
	var ids []int64
	for i := 0; i < 3; i++ {
		resp := doUpload(t, router, "/api/datasets", fmt.Sprintf("plant-%d.csv", i), plantCSV,
			map[string]string{"strict": "true", "description": "shift log"}, authHeader)
		assertStatus(t, resp, http.StatusCreated)
		var body struct {
			Dataset struct {
				ID     int64  `json:"id"`
				Status string `json:"status"`
				Name   string `json:"name"`
			} `json:"dataset"`
			Summary struct {
				RowCount  int `json:"row_count"`
				Equipment struct {
					MostCommonType string `json:"most_common_type"`
				} `json:"equipment"`
			} `json:"summary"`
			Evicted []int64 `json:"evicted"`
		}
		decodeJSON(t, resp.Body.Bytes(), &body)
		if body.Dataset.Status != "processed" || body.Summary.RowCount != 3 {
			t.Fatalf("unexpected upload response: %s", resp.Body.String())
		}
		if body.Summary.Equipment.MostCommonType != "Pump" {
			t.Fatalf("expected Pump as most common type, got %q", body.Summary.Equipment.MostCommonType)
		}
		if i == 2 && (len(body.Evicted) != 1 || body.Evicted[0] != ids[0]) {
			t.Fatalf("expected %d evicted, got %v", ids[0], body.Evicted)
		}
		ids = append(ids, body.Dataset.ID)
	}

	listResp := doJSONRequest(t, router, http.MethodGet, "/api/datasets", nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Datasets []struct {
			ID int64 `json:"id"`
		} `json:"datasets"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Datasets) != 2 || listBody.Datasets[0].ID != ids[2] {
		t.Fatalf("unexpected listing: %s", listResp.Body.String())
	}

	gone := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/datasets/%d/summary", ids[0]), nil, authHeader)
	assertStatus(t, gone, http.StatusNotFound)

	summaryResp := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/datasets/%d/summary", ids[2]), nil, authHeader)
	assertStatus(t, summaryResp, http.StatusOK)

	reportResp := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/datasets/%d/report", ids[2]), nil, authHeader)
	assertStatus(t, reportResp, http.StatusOK)
	var reportBody struct {
		Report struct {
			DataQuality struct {
				TotalRows         int     `json:"total_rows"`
				MissingPercentage float64 `json:"missing_percentage"`
			} `json:"data_quality"`
		} `json:"report"`
	}
	decodeJSON(t, reportResp.Body.Bytes(), &reportBody)
	if reportBody.Report.DataQuality.TotalRows != 3 || reportBody.Report.DataQuality.MissingPercentage != 0 {
		t.Fatalf("unexpected report: %s", reportResp.Body.String())
	}

	textResp := doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/datasets/%d/report?format=text", ids[2]), nil, authHeader)
	assertStatus(t, textResp, http.StatusOK)
	if !strings.Contains(textResp.Body.String(), "Type distribution") {
		t.Fatalf("expected text report, got %s", textResp.Body.String())
	}

	statusResp := doJSONRequest(t, router, http.MethodGet, "/api/history/status", nil, authHeader)
	assertStatus(t, statusResp, http.StatusOK)
	var statusBody struct {
		Status struct {
			TotalDatasets  int `json:"total_datasets"`
			RetentionLimit int `json:"retention_limit"`
		} `json:"status"`
	}
	decodeJSON(t, statusResp.Body.Bytes(), &statusBody)
	if statusBody.Status.TotalDatasets != 2 || statusBody.Status.RetentionLimit != 2 {
		t.Fatalf("unexpected history status: %s", statusResp.Body.String())
	}

	previewResp := doJSONRequest(t, router, http.MethodGet, "/api/history/preview", nil, authHeader)
	assertStatus(t, previewResp, http.StatusOK)

	delResp := doJSONRequest(t, router, http.MethodDelete, fmt.Sprintf("/api/datasets/%d", ids[1]), nil, authHeader)
	assertStatus(t, delResp, http.StatusNoContent)
	delAgain := doJSONRequest(t, router, http.MethodDelete, fmt.Sprintf("/api/datasets/%d", ids[1]), nil, authHeader)
	assertStatus(t, delAgain, http.StatusNotFound)

	cleanupResp := doJSONRequest(t, router, http.MethodPost, "/api/history/cleanup", map[string]int{"keep": 0}, authHeader)
	assertStatus(t, cleanupResp, http.StatusOK)

	logoutResp := doJSONRequest(t, router, http.MethodPost, "/api/users/logout", nil, authHeader)
	assertStatus(t, logoutResp, http.StatusNoContent)
	afterLogout := doJSONRequest(t, router, http.MethodGet, "/api/datasets", nil, authHeader)
	assertStatus(t, afterLogout, http.StatusUnauthorized)
}

func TestUploadStrictMissingRole(t *testing.T) {
	router, db := newTestServer(t, 5)
	defer db.Close()
	_, authHeader := registerAndLogin(t, router)

	resp := doUpload(t, router, "/api/datasets", "plant.csv", "id,type,flow,temp\nP-1,Pump,1,2\n",
		map[string]string{"strict": "true"}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
	var body struct {
		Error        string                 `json:"error"`
		MissingRoles []analysis.MissingRole `json:"missing_roles"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.MissingRoles) != 1 || body.MissingRoles[0].Role != analysis.RolePressure {
		t.Fatalf("expected pressure missing, got %s", resp.Body.String())
	}
	if !strings.Contains(body.Error, "psi") {
		t.Fatalf("expected aliases in message, got %q", body.Error)
	}

	listResp := doJSONRequest(t, router, http.MethodGet, "/api/datasets", nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	if !strings.Contains(listResp.Body.String(), `"datasets":[]`) {
		t.Fatalf("expected no datasets, got %s", listResp.Body.String())
	}
}

func TestUploadFailuresAndValidation(t *testing.T) {
	router, db := newTestServer(t, 5)
	defer db.Close()
	_, authHeader := registerAndLogin(t, router)

	wrongType := doUpload(t, router, "/api/datasets", "plant.txt", plantCSV, nil, authHeader)
	assertStatus(t, wrongType, http.StatusBadRequest)

	headerOnly := doUpload(t, router, "/api/datasets", "plant.csv", "a,b\n", nil, authHeader)
	assertStatus(t, headerOnly, http.StatusBadRequest)

	broken := doUpload(t, router, "/api/datasets", "broken.csv", "a,b\n1,2,3\n", nil, authHeader)
	assertStatus(t, broken, http.StatusUnprocessableEntity)
	var brokenBody struct {
		Dataset struct {
			Status       string `json:"status"`
			ErrorMessage string `json:"error_message"`
		} `json:"dataset"`
	}
	decodeJSON(t, broken.Body.Bytes(), &brokenBody)
	if brokenBody.Dataset.Status != "failed" || brokenBody.Dataset.ErrorMessage == "" {
		t.Fatalf("expected failed dataset, got %s", broken.Body.String())
	}

	validResp := doUpload(t, router, "/api/datasets/validate", "plant.csv", plantCSV, nil, authHeader)
	assertStatus(t, validResp, http.StatusOK)

	missingFile := doJSONRequest(t, router, http.MethodPost, "/api/datasets", nil, authHeader)
	assertStatus(t, missingFile, http.StatusBadRequest)

	badID := doJSONRequest(t, router, http.MethodGet, "/api/datasets/abc", nil, authHeader)
	assertStatus(t, badID, http.StatusBadRequest)
}

func TestDatasetsAreOwnerScoped(t *testing.T) {
	router, db := newTestServer(t, 5)
	defer db.Close()
	_, alice := registerAndLogin(t, router)
	_, bob := registerAndLogin(t, router)

	resp := doUpload(t, router, "/api/datasets", "plant.csv", plantCSV, nil, alice)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		Dataset struct {
			ID int64 `json:"id"`
		} `json:"dataset"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)

	path := fmt.Sprintf("/api/datasets/%d", body.Dataset.ID)
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, path, nil, bob), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, path, nil, bob), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, path, nil, alice), http.StatusOK)

	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, "/api/users/me", nil, alice), http.StatusNoContent)
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, path, nil, alice), http.StatusUnauthorized)
}

func TestAvailableReportsAndHistorySettings(t *testing.T) {
	router, db := newTestServer(t, 3)
	defer db.Close()
	_, authHeader := registerAndLogin(t, router)

	resp := doUpload(t, router, "/api/datasets", "plant.csv", plantCSV, map[string]string{"strict": "true"}, authHeader)
	assertStatus(t, resp, http.StatusCreated)
	var uploaded struct {
		Dataset struct {
			ID int64 `json:"id"`
		} `json:"dataset"`
	}
	decodeJSON(t, resp.Body.Bytes(), &uploaded)
	// A failed upload has no report.
	failed := doUpload(t, router, "/api/datasets", "broken.csv", "a\n1,2\n", nil, authHeader)
	assertStatus(t, failed, http.StatusUnprocessableEntity)

	avail := doJSONRequest(t, router, http.MethodGet, "/api/reports/available", nil, authHeader)
	assertStatus(t, avail, http.StatusOK)
	var availBody struct {
		Count   int `json:"count"`
		Reports []struct {
			DatasetID    int64  `json:"dataset_id"`
			HasEquipment bool   `json:"has_equipment_analysis"`
			ReportURL    string `json:"report_url"`
		} `json:"reports"`
	}
	decodeJSON(t, avail.Body.Bytes(), &availBody)
	if availBody.Count != 1 || len(availBody.Reports) != 1 {
		t.Fatalf("expected one available report, got %s", avail.Body.String())
	}
	got := availBody.Reports[0]
	if got.DatasetID != uploaded.Dataset.ID || !got.HasEquipment {
		t.Fatalf("unexpected report entry %+v", got)
	}
	if want := fmt.Sprintf("/api/datasets/%d/report", uploaded.Dataset.ID); got.ReportURL != want {
		t.Fatalf("report url %q, want %q", got.ReportURL, want)
	}
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, got.ReportURL, nil, authHeader), http.StatusOK)

	settings := doJSONRequest(t, router, http.MethodGet, "/api/history/settings", nil, authHeader)
	assertStatus(t, settings, http.StatusOK)
	var settingsBody struct {
		RetentionLimit int  `json:"retention_limit"`
		DatasetCount   int  `json:"dataset_count"`
		Processed      int  `json:"processed_dataset_count"`
		AutoCleanup    bool `json:"auto_cleanup_enabled"`
	}
	decodeJSON(t, settings.Body.Bytes(), &settingsBody)
	if settingsBody.RetentionLimit != 3 || settingsBody.DatasetCount != 2 || settingsBody.Processed != 1 || !settingsBody.AutoCleanup {
		t.Fatalf("unexpected settings: %s", settings.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router, db := newTestServer(t, 5)
	defer db.Close()

	health := doJSONRequest(t, router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, health, http.StatusOK)
	if health.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	echoed := doJSONRequest(t, router, http.MethodGet, "/healthz", nil, map[string]string{"X-Request-ID": "abc"})
	if got := echoed.Header().Get("X-Request-ID"); got != "abc" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	m := doJSONRequest(t, router, http.MethodGet, "/metrics", nil, nil)
	assertStatus(t, m, http.StatusOK)
	if !strings.Contains(m.Body.String(), "go_goroutines") {
		t.Fatalf("expected go collector output")
	}
}

func newTestServer(t *testing.T, retention int) (*gin.Engine, *sql.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	m := metrics.New()
	workers := worker.NewManager(worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 16, WorkerIdleTimeout: time.Minute})
	t.Cleanup(workers.Close)
	store := dataset.NewStore(db, storage.DriverSQLite)
	history := dataset.NewHistoryManager(db, storage.DriverSQLite, retention, ownerlock.NewLocal(), m)
	extractor := analysis.NewEquipmentExtractor(analysis.NewAnalyzer(analysis.NewInferencer(0)), analysis.NewResolver(nil))
	pipeline := dataset.NewPipeline(store, history, extractor, workers, m, time.Minute)
	reports := report.NewService(store, nil, time.Minute, m)
	history.OnEvict(reports.Invalidate)

	handler := NewHandler(account.NewService(db), auth.NewService(db, nil, time.Hour), pipeline, reports, workers, m, 1<<20)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doUpload(t *testing.T, router *gin.Engine, path, fileName, content string, fields map[string]string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func registerAndLogin(t *testing.T, router *gin.Engine) (int64, map[string]string) {
	t.Helper()
	username := fmt.Sprintf("tester_%d", time.Now().UnixNano())
	password := "pass123"
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token after login")
	}
	authHeader := map[string]string{"Authorization": fmt.Sprintf("Bearer %s", loginBody.AuthToken)}
	return regBody.ID, authHeader
}
