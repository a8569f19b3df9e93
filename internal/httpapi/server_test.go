package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"incomed/internal/engine"
	"incomed/internal/events"
	"incomed/internal/log"
	"incomed/internal/metrics"
	"incomed/internal/settings"
	"incomed/internal/storage"
	"incomed/internal/syncer"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := log.New(log.Config{Level: slog.LevelError})

	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "incomed.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := settings.NewStore(context.Background(), repo, logger)
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng := engine.New(repo, store, events.Nop{}, m, logger)
	coord := syncer.New(repo, store, events.Nop{}, m, logger)

	return NewServer("127.0.0.1:0", eng, coord, store, reg, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWorkLifecycle(t *testing.T) {
	h := newTestServer(t)

	if rec := do(t, h, http.MethodPost, "/api/work/end", ""); rec.Code != http.StatusConflict {
		t.Fatalf("end without session: status %d, want 409", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/work/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status %d: %s", rec.Code, rec.Body)
	}
	var session struct {
		ID   string `json:"id"`
		Date string `json:"date"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatal(err)
	}
	if session.ID == "" || session.Date == "" {
		t.Fatalf("incomplete session: %s", rec.Body)
	}

	if rec := do(t, h, http.MethodPost, "/api/work/start", ""); rec.Code != http.StatusConflict {
		t.Fatalf("double start: status %d, want 409", rec.Code)
	}

	if rec := do(t, h, http.MethodPost, "/api/work/end", ""); rec.Code != http.StatusOK {
		t.Fatalf("end: status %d: %s", rec.Code, rec.Body)
	}
}

func TestIncomeRead(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/income", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		Formatted     string `json:"formatted"`
		WorkedMinutes *int   `json:"workedMinutes"`
		IsWorking     *bool  `json:"isWorking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.WorkedMinutes == nil || body.IsWorking == nil || !strings.HasPrefix(body.Formatted, "¥") {
		t.Fatalf("unexpected income body: %s", rec.Body)
	}
}

func TestSnapshotOmitsSecrets(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	out := rec.Body.String()
	for _, field := range []string{"config", "dailyData", "isWorking"} {
		if !strings.Contains(out, field) {
			t.Fatalf("snapshot missing %q: %s", field, out)
		}
	}
	for _, banned := range []string{"password", "secretKey", "accessKey"} {
		if strings.Contains(out, banned) {
			t.Fatalf("snapshot leaked %q: %s", banned, out)
		}
	}
}

func TestHistoryUnknownDate(t *testing.T) {
	h := newTestServer(t)
	if rec := do(t, h, http.MethodGet, "/api/history/1999-01-01", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}

func TestUpdateSettings(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodPatch, "/api/settings", `{"workStartTime":"10:00","overtimeRate":0.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var cfg settings.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.WorkStartTime != "10:00" {
		t.Fatalf("workStartTime = %q", cfg.WorkStartTime)
	}
	// Out-of-range overtime rate is repaired at the boundary.
	if cfg.OvertimeRate < 1.0 {
		t.Fatalf("overtimeRate = %v, want >= 1.0", cfg.OvertimeRate)
	}

	if rec := do(t, h, http.MethodPatch, "/api/settings", `{broken`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed patch: status %d, want 400", rec.Code)
	}
}

func TestManualSyncLocalProvider(t *testing.T) {
	h := newTestServer(t)
	if rec := do(t, h, http.MethodPost, "/api/sync", ""); rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
}

func TestSaveSyncConfigUnknownProvider(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/sync/config", `{"provider":"ftp","config":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", rec.Code, rec.Body)
	}
}

func TestTestConnectionAgainstBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	h := newTestServer(t)
	body := `{"provider":"webdav","endpoint":"` + backend.URL + `","username":"u","password":"p"}`
	rec := do(t, h, http.MethodPost, "/api/sync/test", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var out struct {
		Reachable bool `json:"reachable"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Reachable {
		t.Fatalf("expected reachable backend: %s", rec.Body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t)
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "incomed_sync_queue_depth") {
		t.Fatalf("metrics output missing gauges: %.200s", rec.Body)
	}
}
