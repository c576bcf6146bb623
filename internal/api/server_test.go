package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/firewatch-core/internal/audit"
	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/dispatch"
	"github.com/nerrad567/firewatch-core/internal/events"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/config"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/database"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/metrics"
	"github.com/nerrad567/firewatch-core/internal/ingest"
	"github.com/nerrad567/firewatch-core/internal/session"
	_ "github.com/nerrad567/firewatch-core/migrations"
)

const testToken = "lan-secret"

// lanDevice is a fake device exposing the pull HTTP interface.
type lanDevice struct {
	*httptest.Server

	mu         sync.Mutex
	thresholds device.Thresholds
	accept     bool
	paths      []string
	auth       string
}

func newLANDevice(t *testing.T) *lanDevice {
	t.Helper()
	d := &lanDevice{
		thresholds: device.Thresholds{Safety: 300, Warning: 600, Danger: 1000},
		accept:     true,
	}
	d.Server = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.Close)
	return d
}

func (d *lanDevice) serve(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.paths = append(d.paths, r.Method+" "+r.URL.Path)
	d.auth = r.Header.Get("Authorization")

	switch r.URL.Path {
	case "/threshold":
		if r.Method == http.MethodPut {
			var t device.Thresholds
			if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			if d.accept {
				d.thresholds = t
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": d.accept, "thresholds": d.thresholds})
	case "/alert/trigger", "/alert/reset", "/health":
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (d *lanDevice) address() string {
	return strings.TrimPrefix(d.URL, "http://")
}

func (d *lanDevice) lastAuth() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auth
}

func (d *lanDevice) requests() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...)
}

type testEnv struct {
	srv      *Server
	router   http.Handler
	store    *device.SQLStore
	sessions *session.Registry
	lan      *lanDevice
	dev      *device.Device
}

// testServer builds a Server over in-memory SQLite with one provisioned
// device whose address points at a fake LAN device.
func testServer(t *testing.T) *testEnv {
	t.Helper()
	return testServerWith(t, config.LivenessConfig{})
}

func testServerWith(t *testing.T, live config.LivenessConfig) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Driver: "sqlite", Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	store := device.NewSQLStore(db)
	lan := newLANDevice(t)
	dev := &device.Device{Code: "FW-001", Name: "Kitchen", Address: lan.address()}
	if err := store.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	m := metrics.New()

	sessions := session.NewRegistry(store)
	sessions.SetMetrics(m)
	ing := ingest.NewService(store)
	ing.SetMetrics(m)
	disp := dispatch.New(store, sessions, dispatch.NewLANClient(config.DispatchConfig{
		RequestTimeout: 500 * time.Millisecond,
		DeviceToken:    testToken,
	}))
	disp.SetMetrics(m)
	commands := audit.NewSQLRepository(db)
	disp.SetAudit(commands)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws/device",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
			WriteTimeout:   5,
		},
		Liveness:   live,
		Logger:     log,
		Devices:    store,
		Sessions:   sessions,
		Ingest:     ing,
		Dispatcher: disp,
		Metrics:    m,
		DB:         db,
		Audit:      commands,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hubCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go srv.hub.Run(hubCtx)

	return &testEnv{
		srv:      srv,
		router:   srv.buildRouter(),
		store:    store,
		sessions: sessions,
		lan:      lan,
		dev:      dev,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) device(t *testing.T) *device.Device {
	t.Helper()
	d, err := e.store.FindByID(context.Background(), e.dev.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	return d
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	body := decode[Error](t, rec)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
	if body.Status != status {
		t.Errorf("body status = %d, want %d", body.Status, status)
	}
}

// ─── Service Endpoints ─────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	body := decode[struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}](t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Version != "test" {
		t.Errorf("version = %q, want test", body.Version)
	}
	want := map[string]string{"database": "ok", "mqtt": "disabled", "influxdb": "disabled", "amqp": "disabled"}
	for k, v := range want {
		if body.Checks[k] != v {
			t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], v)
		}
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := testServer(t)
	env.srv.db.Close()

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestPrometheusMetrics(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/telemetry", `{"deviceCode":"FW-001","value":12}`)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `firewatch_ingest_total{result="accepted",source="http"} 1`) {
		t.Errorf("ingest counter missing from /metrics output")
	}
	if !strings.Contains(rec.Body.String(), `firewatch_http_requests_total{method="POST",route="/api/v1/telemetry",status="2xx"} 1`) {
		t.Errorf("http request counter missing from /metrics output")
	}
}

func TestSystemMetrics(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/system/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[SystemMetrics](t, rec)
	if body.Devices.Total != 1 {
		t.Errorf("devices.total = %d, want 1", body.Devices.Total)
	}
	if body.Devices.ByStatus["OFFLINE"] != 1 {
		t.Errorf("devices.by_status[OFFLINE] = %d, want 1", body.Devices.ByStatus["OFFLINE"])
	}
	if body.Database.Dialect != "sqlite" {
		t.Errorf("database.dialect = %q, want sqlite", body.Database.Dialect)
	}
	if body.MQTT.Enabled {
		t.Error("mqtt.enabled = true, want false")
	}
}

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)
	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

func TestRequestID_ReplacesInvalid(t *testing.T) {
	env := testServer(t)

	for _, id := range []string{strings.Repeat("x", maxRequestIDLength+1), "has space", "line\nbreak"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("X-Request-ID", id)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		got := rec.Header().Get("X-Request-ID")
		if got == id || got == "" {
			t.Errorf("X-Request-ID for %q = %q, want a generated ID", id, got)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://console.local")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://console.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

// ─── Telemetry ─────────────────────────────────────────────────────

func TestTelemetry_Accepted(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/telemetry",
		`{"deviceCode":"FW-001","sensorType":"smoke","value":412.5,"address":"10.0.0.7"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	body := decode[telemetryResponse](t, rec)
	if !body.Success || body.ReadingID == 0 {
		t.Errorf("response = %+v, want success with reading id", body)
	}

	d := env.device(t)
	if d.Status != device.StatusActive {
		t.Errorf("Status = %s, want ACTIVE", d.Status)
	}
	if d.Address != "10.0.0.7" {
		t.Errorf("Address = %q, want 10.0.0.7", d.Address)
	}
	if d.LastActiveAt == nil {
		t.Error("LastActiveAt = nil, want set")
	}
}

func TestTelemetry_UnknownDevice(t *testing.T) {
	env := testServer(t)
	rec := env.do(t, http.MethodPost, "/api/v1/telemetry", `{"deviceCode":"FW-404","value":1}`)
	wantError(t, rec, http.StatusNotFound, ErrCodeDeviceNotFound)
}

func TestTelemetry_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"deviceCode":`, ErrCodeBadRequest},
		{"missing value", `{"deviceCode":"FW-001"}`, ErrCodeValidation},
		{"missing code", `{"value":3}`, ErrCodeValidation},
		{"bad sensor type", `{"deviceCode":"FW-001","sensorType":"co 2","value":3}`, ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			rec := env.do(t, http.MethodPost, "/api/v1/telemetry", tt.body)
			wantError(t, rec, http.StatusBadRequest, tt.code)
			if env.device(t).Status != device.StatusOffline {
				t.Error("rejected sample changed liveness")
			}
		})
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestCreateDevice(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/devices",
		`{"code":"FW-002","name":"Hall","thresholds":{"safety":100,"warning":200,"danger":300}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	got := decode[device.Device](t, rec)
	if got.ID == 0 || got.Code != "FW-002" {
		t.Errorf("created = %+v", got)
	}
	if got.Status != device.StatusOffline {
		t.Errorf("Status = %s, want OFFLINE", got.Status)
	}
	if got.Thresholds != (device.Thresholds{Safety: 100, Warning: 200, Danger: 300}) {
		t.Errorf("Thresholds = %+v", got.Thresholds)
	}
}

func TestCreateDevice_DefaultThresholds(t *testing.T) {
	env := testServer(t)
	rec := env.do(t, http.MethodPost, "/api/v1/devices", `{"code":"FW-003"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if got := decode[device.Device](t, rec); got.Thresholds != device.DefaultThresholds {
		t.Errorf("Thresholds = %+v, want defaults", got.Thresholds)
	}
}

func TestCreateDevice_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"duplicate code", `{"code":"FW-001"}`, http.StatusConflict, ErrCodeConflict},
		{"missing code", `{"name":"x"}`, http.StatusBadRequest, ErrCodeValidation},
		{"unordered thresholds", `{"code":"FW-9","thresholds":{"safety":5,"warning":4,"danger":9}}`, http.StatusBadRequest, ErrCodeThresholdInvalid},
		{"invalid json", `{`, http.StatusBadRequest, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			wantError(t, env.do(t, http.MethodPost, "/api/v1/devices", tt.body), tt.status, tt.code)
		})
	}
}

func TestListDevices_StatusFilter(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/devices", `{"code":"FW-002"}`)
	env.do(t, http.MethodPost, "/api/v1/telemetry", `{"deviceCode":"FW-002","value":1}`)

	tests := []struct {
		query string
		count int
	}{
		{"", 2},
		{"?status=active", 1},
		{"?status=OFFLINE", 1},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodGet, "/api/v1/devices"+tt.query, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.query, rec.Code)
		}
		body := decode[struct {
			Count int `json:"count"`
		}](t, rec)
		if body.Count != tt.count {
			t.Errorf("%q: count = %d, want %d", tt.query, body.Count, tt.count)
		}
	}

	wantError(t, env.do(t, http.MethodGet, "/api/v1/devices?status=broken", ""), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestGetDevice(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/devices/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decode[device.Device](t, rec); got.Code != "FW-001" {
		t.Errorf("Code = %q, want FW-001", got.Code)
	}

	wantError(t, env.do(t, http.MethodGet, "/api/v1/devices/99", ""), http.StatusNotFound, ErrCodeDeviceNotFound)
	wantError(t, env.do(t, http.MethodGet, "/api/v1/devices/abc", ""), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestListReadings(t *testing.T) {
	env := testServer(t)
	for _, v := range []string{"1", "2", "3"} {
		env.do(t, http.MethodPost, "/api/v1/telemetry", `{"deviceCode":"FW-001","value":`+v+`}`)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/devices/1/readings?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[struct {
		Readings []device.Reading `json:"readings"`
		Count    int              `json:"count"`
	}](t, rec)
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}

	wantError(t, env.do(t, http.MethodGet, "/api/v1/devices/1/readings?limit=0", ""), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, env.do(t, http.MethodGet, "/api/v1/devices/7/readings", ""), http.StatusNotFound, ErrCodeDeviceNotFound)
}

// ─── Commands ──────────────────────────────────────────────────────

func TestAlert_PushWithoutSession(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/devices/1/alert/trigger", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[dispatch.Result](t, rec)
	if got.Delivered {
		t.Error("Delivered = true, want false")
	}
	if got.Reason != dispatch.ReasonSessionAbsent {
		t.Errorf("Reason = %q, want %q", got.Reason, dispatch.ReasonSessionAbsent)
	}
	if got.Mode != dispatch.ModePush {
		t.Errorf("Mode = %q, want push", got.Mode)
	}
	if n := len(env.lan.requests()); n != 0 {
		t.Errorf("push command made %d LAN requests", n)
	}
}

func TestAlert_Pull(t *testing.T) {
	env := testServer(t)

	for _, action := range []string{"trigger", "reset"} {
		rec := env.do(t, http.MethodPost, "/api/v1/devices/1/alert/"+action+"?mode=pull", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200 (body %s)", action, rec.Code, rec.Body.String())
		}
		if got := decode[dispatch.Result](t, rec); !got.Delivered {
			t.Errorf("%s: Delivered = false, reason %q", action, got.Reason)
		}
	}

	want := []string{"POST /alert/trigger", "POST /alert/reset"}
	got := env.lan.requests()
	if len(got) != len(want) {
		t.Fatalf("requests = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("requests[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAlert_PullUnreachable(t *testing.T) {
	env := testServer(t)
	env.lan.Close()

	rec := env.do(t, http.MethodPost, "/api/v1/devices/1/alert/trigger?mode=pull", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decode[struct {
		Code   string          `json:"code"`
		Result dispatch.Result `json:"result"`
	}](t, rec)
	if body.Code != ErrCodeDeviceUnreachable {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeDeviceUnreachable)
	}
	if body.Result.Reason != dispatch.ReasonUnreachable {
		t.Errorf("result.reason = %q, want %q", body.Result.Reason, dispatch.ReasonUnreachable)
	}
}

func TestAlert_Rejected(t *testing.T) {
	env := testServer(t)

	wantError(t, env.do(t, http.MethodPost, "/api/v1/devices/1/alert/trigger?mode=carrier-pigeon", ""), http.StatusBadRequest, ErrCodeValidation)
	wantError(t, env.do(t, http.MethodPost, "/api/v1/devices/1/alert/explode", ""), http.StatusNotFound, ErrCodeNotFound)
	wantError(t, env.do(t, http.MethodPost, "/api/v1/devices/42/alert/trigger", ""), http.StatusNotFound, ErrCodeDeviceNotFound)
}

func TestListCommands(t *testing.T) {
	env := testServer(t)

	env.do(t, http.MethodPost, "/api/v1/devices/1/alert/trigger?mode=pull", "")
	env.do(t, http.MethodPost, "/api/v1/devices/1/alert/reset", "")

	rec := env.do(t, http.MethodGet, "/api/v1/devices/1/commands", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	got := decode[audit.ListResult](t, rec)
	if got.Total != 2 || len(got.Entries) != 2 {
		t.Fatalf("total = %d, entries = %d, want 2", got.Total, len(got.Entries))
	}
	for _, e := range got.Entries {
		switch e.Action {
		case "trigger_alert":
			if e.Mode != "pull" || !e.Delivered {
				t.Errorf("trigger entry = %+v, want delivered over pull", e)
			}
		case "reset_alert":
			if e.Mode != "push" || e.Reason != dispatch.ReasonSessionAbsent {
				t.Errorf("reset entry = %+v, want session_absent over push", e)
			}
		default:
			t.Errorf("unexpected action %q", e.Action)
		}
	}

	filtered := decode[audit.ListResult](t, env.do(t, http.MethodGet, "/api/v1/devices/1/commands?action=reset_alert&limit=5", ""))
	if filtered.Total != 1 || filtered.Limit != 5 {
		t.Errorf("filtered total = %d, limit = %d, want 1 and 5", filtered.Total, filtered.Limit)
	}
}

func TestListCommands_Rejected(t *testing.T) {
	env := testServer(t)

	wantError(t, env.do(t, http.MethodGet, "/api/v1/devices/1/commands?limit=many", ""), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, env.do(t, http.MethodGet, "/api/v1/devices/42/commands", ""), http.StatusNotFound, ErrCodeDeviceNotFound)
}

func TestExportCommands(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/devices/1/alert/trigger?mode=pull", "")

	rec := env.do(t, http.MethodGet, "/api/v1/devices/1/commands/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q, want xlsx", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "FW-001-commands-") || !strings.HasSuffix(cd, `.xlsx"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	// XLSX is a zip container.
	if !strings.HasPrefix(rec.Body.String(), "PK") {
		t.Error("xlsx body is not a zip archive")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/1/commands/export?format=pdf&action=trigger_alert", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("pdf export status = %d, Content-Type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF-") {
		t.Error("pdf body has no PDF header")
	}

	wantError(t, env.do(t, http.MethodGet, "/api/v1/devices/1/commands/export?format=csv", ""), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, env.do(t, http.MethodGet, "/api/v1/devices/42/commands/export", ""), http.StatusNotFound, ErrCodeDeviceNotFound)
}

func TestPing_PullUnsupported(t *testing.T) {
	env := testServer(t)
	wantError(t, env.do(t, http.MethodPost, "/api/v1/devices/1/ping?mode=pull", ""), http.StatusBadRequest, ErrCodeUnsupportedMode)
}

func TestDeviceHealth_Pull(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/devices/1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[struct {
		Mode    dispatch.Mode `json:"mode"`
		Healthy bool          `json:"healthy"`
	}](t, rec)
	if body.Mode != dispatch.ModePull || !body.Healthy {
		t.Errorf("body = %+v, want healthy pull", body)
	}

	env.lan.Close()
	rec = env.do(t, http.MethodGet, "/api/v1/devices/1/health?mode=pull", "")
	if got := decode[struct {
		Healthy bool `json:"healthy"`
	}](t, rec); got.Healthy {
		t.Error("Healthy = true for a closed device")
	}
}

func TestGetThresholds(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/devices/1/thresholds", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		Thresholds device.Thresholds `json:"thresholds"`
	}](t, rec)
	if body.Thresholds != (device.Thresholds{Safety: 300, Warning: 600, Danger: 1000}) {
		t.Errorf("thresholds = %+v", body.Thresholds)
	}
	if got := env.lan.lastAuth(); got != "Bearer "+testToken {
		t.Errorf("Authorization = %q", got)
	}
}

func TestUpdateThresholds(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPut, "/api/v1/devices/1/thresholds", `{"warning":700}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	want := device.Thresholds{Safety: 300, Warning: 700, Danger: 1000}
	if got := decode[device.Device](t, rec); got.Thresholds != want {
		t.Errorf("response thresholds = %+v, want %+v", got.Thresholds, want)
	}
	if got := env.device(t).Thresholds; got != want {
		t.Errorf("stored thresholds = %+v, want %+v", got, want)
	}
}

func TestUpdateThresholds_Invalid(t *testing.T) {
	env := testServer(t)

	for _, body := range []string{`{"warning":2000}`, `{"safety":-1}`, `{}`} {
		wantError(t, env.do(t, http.MethodPut, "/api/v1/devices/1/thresholds", body), http.StatusBadRequest, ErrCodeThresholdInvalid)
	}
	if n := len(env.lan.requests()); n != 0 {
		t.Errorf("invalid updates made %d LAN requests, want 0", n)
	}
}

func TestUpdateThresholds_DeviceDeclines(t *testing.T) {
	env := testServer(t)
	env.lan.mu.Lock()
	env.lan.accept = false
	env.lan.mu.Unlock()

	rec := env.do(t, http.MethodPut, "/api/v1/devices/1/thresholds", `{"danger":1200}`)
	wantError(t, rec, http.StatusServiceUnavailable, ErrCodeDeviceUnreachable)
	if got := env.device(t).Thresholds; got != device.DefaultThresholds {
		t.Errorf("stored thresholds = %+v, want unchanged", got)
	}
}

// ─── Device Push Transport ─────────────────────────────────────────

func dialDevice(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/device", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readReply(t *testing.T, ws *websocket.Conn) session.Reply {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var r session.Reply
	if err := ws.ReadJSON(&r); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDeviceSocket_RegisterAndCommand(t *testing.T) {
	env := testServer(t)
	ws := dialDevice(t, env)

	if err := ws.WriteJSON(map[string]string{"type": "register", "deviceCode": "FW-001", "version": "1.4.2"}); err != nil {
		t.Fatalf("write register: %v", err)
	}
	if r := readReply(t, ws); r.Type != session.TypeRegistered || r.DeviceCode != "FW-001" {
		t.Fatalf("reply = %+v, want registered FW-001", r)
	}

	d := env.device(t)
	if d.Status != device.StatusActive {
		t.Errorf("Status = %s, want ACTIVE", d.Status)
	}
	if d.FirmwareVersion != "1.4.2" {
		t.Errorf("FirmwareVersion = %q, want 1.4.2", d.FirmwareVersion)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/sessions", "")
	if got := decode[struct {
		Sessions []string `json:"sessions"`
	}](t, rec); len(got.Sessions) != 1 || got.Sessions[0] != "FW-001" {
		t.Errorf("sessions = %v, want [FW-001]", got.Sessions)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/devices/1/alert/trigger", "")
	if got := decode[dispatch.Result](t, rec); !got.Delivered {
		t.Fatalf("Delivered = false, reason %q", got.Reason)
	}

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd session.Command
	if err := ws.ReadJSON(&cmd); err != nil {
		t.Fatalf("read command: %v", err)
	}
	if cmd.Action != session.ActionTriggerAlert {
		t.Errorf("Action = %q, want %q", cmd.Action, session.ActionTriggerAlert)
	}
	if cmd.Timestamp == 0 {
		t.Error("Timestamp = 0, want unix millis")
	}

	ws.Close()
	waitFor(t, "session removal", func() bool { return !env.sessions.IsOnline("FW-001") })
}

func TestDeviceSocket_ReRegisterReleasesPreviousCode(t *testing.T) {
	env := testServer(t)
	other := &device.Device{Code: "FW-002"}
	if err := env.store.Create(context.Background(), other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ws := dialDevice(t, env)

	for _, code := range []string{"FW-001", "FW-002"} {
		if err := ws.WriteJSON(map[string]string{"type": "register", "deviceCode": code}); err != nil {
			t.Fatalf("write register %s: %v", code, err)
		}
		if r := readReply(t, ws); r.Type != session.TypeRegistered || r.DeviceCode != code {
			t.Fatalf("reply = %+v, want registered %s", r, code)
		}
	}

	if got := env.sessions.Online(); len(got) != 1 || got[0] != "FW-002" {
		t.Errorf("Online() = %v, want [FW-002]", got)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/devices/1/alert/trigger", "")
	if got := decode[dispatch.Result](t, rec); got.Delivered || got.Reason != dispatch.ReasonSessionAbsent {
		t.Errorf("FW-001 trigger = %+v, want session_absent", got)
	}

	ws.Close()
	waitFor(t, "session removal", func() bool { return env.sessions.Count() == 0 })
}

func TestDeviceSocket_UnknownDevice(t *testing.T) {
	env := testServer(t)
	ws := dialDevice(t, env)

	if err := ws.WriteJSON(map[string]string{"type": "register", "deviceCode": "FW-404"}); err != nil {
		t.Fatalf("write register: %v", err)
	}
	r := readReply(t, ws)
	if r.Type != session.TypeError || r.Code != session.ErrorCodeUnknownDevice {
		t.Fatalf("reply = %+v, want unknown_device error", r)
	}

	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, session.CloseUnknownDevice) {
		t.Errorf("read error = %v, want close %d", err, session.CloseUnknownDevice)
	}
	if env.sessions.Count() != 0 {
		t.Errorf("Count() = %d, want 0", env.sessions.Count())
	}
}

func TestDeviceSocket_Rejects(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		code string
	}{
		{"not json", `hello`, session.ErrorCodeInvalidMessage},
		{"unknown type", `{"type":"reboot"}`, session.ErrorCodeInvalidMessage},
		{"register without code", `{"type":"register"}`, session.ErrorCodeInvalidMessage},
		{"heartbeat before register", `{"type":"heartbeat","deviceCode":"FW-001"}`, session.ErrorCodeNotRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			ws := dialDevice(t, env)
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.msg)); err != nil {
				t.Fatalf("write: %v", err)
			}
			if r := readReply(t, ws); r.Type != session.TypeError || r.Code != tt.code {
				t.Errorf("reply = %+v, want error %s", r, tt.code)
			}
		})
	}
}

func TestDeviceSocket_Heartbeat(t *testing.T) {
	tests := []struct {
		name       string
		refreshes  bool
		wantStatus device.Status
	}{
		{"ignored by default", false, device.StatusOffline},
		{"refreshes when enabled", true, device.StatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServerWith(t, config.LivenessConfig{HeartbeatRefreshes: tt.refreshes})
			ws := dialDevice(t, env)

			if err := ws.WriteJSON(map[string]string{"type": "register", "deviceCode": "FW-001"}); err != nil {
				t.Fatalf("write register: %v", err)
			}
			readReply(t, ws)

			// Simulate a sweep demoting the device after registration.
			d := env.device(t)
			if demoted, err := env.store.MarkOffline(context.Background(), d.ID, d.LastActiveAt); err != nil || demoted == nil {
				t.Fatalf("MarkOffline() = %v, %v", demoted, err)
			}

			if err := ws.WriteJSON(map[string]string{"type": "heartbeat", "deviceCode": "FW-001"}); err != nil {
				t.Fatalf("write heartbeat: %v", err)
			}
			// Messages are handled in order; the error reply marks the
			// heartbeat as processed.
			if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"sync"}`)); err != nil {
				t.Fatalf("write: %v", err)
			}
			readReply(t, ws)

			if got := env.device(t).Status; got != tt.wantStatus {
				t.Errorf("Status = %s, want %s", got, tt.wantStatus)
			}
		})
	}
}

// ─── Operator Event Stream ─────────────────────────────────────────

func subscribedOperator(kinds []events.Kind, devices ...string) *operator {
	op := newOperator(nil)
	for _, k := range kinds {
		op.kinds[k] = struct{}{}
	}
	for _, d := range devices {
		op.devices[d] = struct{}{}
	}
	return op
}

func receive(t *testing.T, op *operator) OperatorMessage {
	t.Helper()
	select {
	case data := <-op.send:
		var msg OperatorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for operator message")
		return OperatorMessage{}
	}
}

func TestHub_DeliverMatchesFilter(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 10, WriteTimeout: 5}, log)

	statusAll := subscribedOperator([]events.Kind{events.KindStatusChanged})
	statusOther := subscribedOperator([]events.Kind{events.KindStatusChanged}, "FW-009")
	readings := subscribedOperator([]events.Kind{events.KindReading})
	for _, op := range []*operator{statusAll, statusOther, readings} {
		hub.add(op)
	}

	dev := &device.Device{ID: 3, Code: "FW-003", Status: device.StatusOffline}
	if err := hub.Deliver(context.Background(), events.StatusChanged(dev, events.ReasonTimeout, time.Now())); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	msg := receive(t, statusAll)
	if msg.Type != OpEvent || msg.Event == nil {
		t.Fatalf("message = %+v, want event", msg)
	}
	if msg.Event.DeviceCode != "FW-003" || msg.Event.Reason != events.ReasonTimeout || msg.Event.Status != device.StatusOffline {
		t.Errorf("event = %+v", msg.Event)
	}

	if len(statusOther.send) != 0 {
		t.Error("operator filtered to FW-009 received FW-003 event")
	}
	if len(readings.send) != 0 {
		t.Error("reading subscriber received a status event")
	}
	if hub.Count() != 3 {
		t.Errorf("Count() = %d, want 3", hub.Count())
	}
}

func TestHub_DisconnectsSlowOperator(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{}, log)

	slow := subscribedOperator([]events.Kind{events.KindReading})
	hub.add(slow)

	dev := &device.Device{ID: 1, Code: "FW-001"}
	for i := 0; i < operatorQueueSize+1; i++ {
		r := &device.Reading{DeviceID: 1, Value: float64(i), Timestamp: time.Now()}
		if err := hub.Deliver(context.Background(), events.ReadingAccepted(dev, r)); err != nil {
			t.Fatalf("Deliver() error = %v", err)
		}
	}

	if hub.Count() != 0 {
		t.Errorf("Count() = %d, want slow operator removed", hub.Count())
	}
	select {
	case <-slow.done:
	default:
		t.Error("slow operator not closed")
	}
}

func TestHub_RunClosesOperators(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{}, log)
	op := subscribedOperator(nil)
	hub.add(op)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if hub.Count() != 0 {
		t.Errorf("Count() = %d, want 0", hub.Count())
	}
	select {
	case <-op.done:
	default:
		t.Error("operator not closed on shutdown")
	}
}

func TestOperator_Requests(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{}, log)
	op := newOperator(nil)

	op.handle(hub, OperatorRequest{Type: OpSubscribe, ID: "1", Kinds: []events.Kind{events.KindReading, events.KindStatusChanged}, Devices: []string{"FW-002", "FW-001"}})
	msg := receive(t, op)
	if msg.Type != OpSubscribed || msg.ID != "1" || msg.Filter == nil {
		t.Fatalf("subscribe reply = %+v", msg)
	}
	if len(msg.Filter.Kinds) != 2 || len(msg.Filter.Devices) != 2 || msg.Filter.Devices[0] != "FW-001" || msg.Filter.Devices[1] != "FW-002" {
		t.Errorf("filter = %+v, want both kinds and sorted devices", msg.Filter)
	}

	op.handle(hub, OperatorRequest{Type: OpUnsubscribe, ID: "2", Devices: []string{"FW-002"}})
	if msg := receive(t, op); len(msg.Filter.Devices) != 1 || len(msg.Filter.Kinds) != 2 {
		t.Errorf("after device unsubscribe filter = %+v", msg.Filter)
	}

	op.handle(hub, OperatorRequest{Type: OpUnsubscribe, ID: "3"})
	if msg := receive(t, op); len(msg.Filter.Kinds) != 0 || len(msg.Filter.Devices) != 0 {
		t.Errorf("after clear filter = %+v, want empty", msg.Filter)
	}

	tests := []struct {
		name    string
		req     OperatorRequest
		want    string
		wantErr string
	}{
		{"ping", OperatorRequest{Type: OpPing, ID: "p"}, OpPong, ""},
		{"unknown kind", OperatorRequest{Type: OpSubscribe, Kinds: []events.Kind{"device.exploded"}}, OpError, "unknown event kind"},
		{"unknown type", OperatorRequest{Type: "dance"}, OpError, "unknown message type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op.handle(hub, tt.req)
			msg := receive(t, op)
			if msg.Type != tt.want || !strings.Contains(msg.Error, tt.wantErr) {
				t.Errorf("reply = %+v, want type %q error containing %q", msg, tt.want, tt.wantErr)
			}
		})
	}
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(OperatorRequest{
		Type:    OpSubscribe,
		ID:      "sub-1",
		Kinds:   []events.Kind{events.KindReading},
		Devices: []string{"FW-001"},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg OperatorMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read subscribe reply: %v", err)
	}
	if msg.Type != OpSubscribed || msg.ID != "sub-1" {
		t.Fatalf("reply = %+v", msg)
	}
	waitFor(t, "operator registration", func() bool { return env.srv.Hub().Count() == 1 })

	// Bridge the ingest service to the hub the way main does.
	bus := events.NewBus(8)
	bus.AddSink("operators", env.srv.Hub())
	busCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(busCtx)
	env.srv.ingest.SetEvents(bus)

	env.do(t, http.MethodPost, "/api/v1/telemetry", `{"deviceCode":"FW-001","value":77}`)

	for {
		msg = OperatorMessage{}
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if msg.Type == OpEvent && msg.Event.Kind == events.KindReading {
			break
		}
	}
	if msg.Event.DeviceCode != "FW-001" || msg.Event.Reading == nil || msg.Event.Reading.Value != 77 {
		t.Errorf("event = %+v", msg.Event)
	}
}
