package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/motorpool/internal/config"
	"github.com/zulandar/motorpool/internal/db"
	"github.com/zulandar/motorpool/internal/metrics"
	"github.com/zulandar/motorpool/internal/models"
	"gopkg.in/guregu/null.v4"
	"gorm.io/gorm"
)

func openDashboardTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return gdb
}

func setupTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gdb := openDashboardTestDB(t)

	vid := uint(1)
	seed := []any{
		&models.Vehicle{Prefix: "VTR006", Name: "Patrol Six", Model: "Hilux", Plate: "ABC-1234", Odometer: 45100, Status: models.VehicleAvailable},
		&models.Vehicle{Prefix: "VTR007", Name: "Patrol Seven", Model: "Hilux", Plate: "ABC-1235", Odometer: 1000, Status: models.VehicleUnderMaintenance},
		&models.Request{Code: "SOL001", Seq: 1, RequesterID: "u-req", RequesterName: "Rita",
			NeedAt: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), Reason: "Routine patrol",
			Status: models.StatusFinalized, VehicleID: &vid, VehiclePrefix: "VTR006",
			StartOdometer: null.IntFrom(45010), EndOdometer: null.IntFrom(45100)},
		&models.Request{Code: "SOL002", Seq: 2, RequesterID: "u-other", RequesterName: "Otto",
			NeedAt: time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC), Reason: "Court hearing",
			Status: models.StatusAwaitingInspection},
	}
	for _, row := range seed {
		if err := gdb.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	router, err := NewRouter(StartOpts{DB: gdb, Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router, gdb
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestStart_NilDB(t *testing.T) {
	err := Start(context.Background(), StartOpts{DB: nil})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
	if !strings.Contains(err.Error(), "db is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db is required")
	}
}

func TestHealthz(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := get(t, router, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestRequestList(t *testing.T) {
	router, _ := setupTestRouter(t)

	var out struct {
		Requests []RequestRow `json:"requests"`
		Count    int          `json:"count"`
	}
	decode(t, get(t, router, "/api/requests"), &out)
	if out.Count != 2 || out.Requests[0].Code != "SOL002" {
		t.Fatalf("requests = %+v, want newest first", out.Requests)
	}

	out.Requests = nil
	decode(t, get(t, router, "/api/requests?status=finalized"), &out)
	if out.Count != 1 || out.Requests[0].Code != "SOL001" {
		t.Errorf("status filter = %+v", out.Requests)
	}

	out.Requests = nil
	decode(t, get(t, router, "/api/requests?requester=u-other"), &out)
	if out.Count != 1 || out.Requests[0].Requester != "Otto" {
		t.Errorf("requester filter = %+v", out.Requests)
	}

	if w := get(t, router, "/api/requests?limit=zero"); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestRequestDetail(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := get(t, router, "/api/requests/sol001")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var row RequestRow
	decode(t, w, &row)
	if row.Distance == nil || *row.Distance != 90 {
		t.Errorf("distance = %v, want 90", row.Distance)
	}
	if row.NeedAt != "10/03/2026 10:00" {
		t.Errorf("need_at = %q", row.NeedAt)
	}

	if w := get(t, router, "/api/requests/SOL999"); w.Code != http.StatusNotFound {
		t.Errorf("missing request status = %d, want 404", w.Code)
	}
}

func TestVehicleList(t *testing.T) {
	router, _ := setupTestRouter(t)
	var out struct {
		Vehicles []VehicleRow `json:"vehicles"`
	}
	decode(t, get(t, router, "/api/vehicles"), &out)
	if len(out.Vehicles) != 2 {
		t.Fatalf("vehicles = %+v", out.Vehicles)
	}
	if out.Vehicles[1].StatusLabel != "Under maintenance" {
		t.Errorf("status label = %q", out.Vehicles[1].StatusLabel)
	}
}

func TestStats(t *testing.T) {
	router, _ := setupTestRouter(t)
	var s Stats
	decode(t, get(t, router, "/api/stats"), &s)
	if s.TotalRequests != 2 || s.TotalVehicles != 2 || s.Available != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gdb := openDashboardTestDB(t)
	m := metrics.New()
	m.Transitions.WithLabelValues(models.StatusAwaitingInspection).Inc()
	router, err := NewRouter(StartOpts{DB: gdb, Metrics: m})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	w := get(t, router, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`motorpool_request_transitions_total{status="awaiting_inspection"} 1`,
		"motorpool_claim_reminders_total 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics body missing %q:\n%s", want, body)
		}
	}
}

func TestCORSHeaders(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "http://ops.example")
	router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestSSE_ConnectedEvent(t *testing.T) {
	router, _ := setupTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	router.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "event: connected") {
		t.Errorf("body = %q, want connected event", w.Body.String())
	}
}

func TestWriteSSE(t *testing.T) {
	var b strings.Builder
	writeSSE(&b, "request", map[string]string{"code": "SOL001"})
	want := "event: request\ndata: {\"code\":\"SOL001\"}\n\n"
	if b.String() != want {
		t.Errorf("writeSSE = %q, want %q", b.String(), want)
	}
}
