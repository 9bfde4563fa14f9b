package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
	"github.com/nerrad567/autelis-bridge/internal/history"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/logging"
)

// serve runs one request through the router.
func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func TestNew_RequiresDependencies(t *testing.T) {
	deps := testDeps(newMockBridge())
	deps.Logger = nil
	if _, err := New(deps); err == nil {
		t.Error("New() without logger should fail")
	}

	deps = testDeps(nil)
	if _, err := New(deps); err == nil {
		t.Error("New() without bridge should fail")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}
	if resp["bridge"] != "pool" {
		t.Errorf("bridge = %v, want pool", resp["bridge"])
	}
}

func TestHealth_UnhealthyIs503(t *testing.T) {
	srv, bridge := testServer(t)
	bridge.health.Status = autelis.HealthUnhealthy

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHealth_DegradedIs200(t *testing.T) {
	srv, bridge := testServer(t)
	bridge.health.Status = autelis.HealthDegraded

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := serve(srv, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices/jets/state", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(srv, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PUT") {
		t.Errorf("Access-Control-Allow-Methods = %q, want PUT included", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	bridge := newMockBridge()
	deps := testDeps(bridge)
	deps.Config.CORS.AllowedOrigins = []string{"http://pool.local"}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := serve(srv, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty for disallowed origin", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── State Tests ───────────────────────────────────────────────────

func TestGetState_BeforeFirstPoll(t *testing.T) {
	srv, _ := testServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestGetState(t *testing.T) {
	srv, bridge := testServer(t)
	bridge.publish(poolSnapshot())

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		TakenAt time.Time      `json:"taken_at"`
		Fields  map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.TakenAt.Equal(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("taken_at = %v", resp.TakenAt)
	}
	if resp.Fields["pump"] != "on" {
		t.Errorf("pump = %v, want on", resp.Fields["pump"])
	}
	if resp.Fields["poolsp"] != float64(84) {
		t.Errorf("poolsp = %v, want 84", resp.Fields["poolsp"])
	}
}

func TestGetField(t *testing.T) {
	srv, bridge := testServer(t)
	bridge.publish(poolSnapshot())

	tests := []struct {
		name       string
		field      string
		wantStatus int
		wantKind   string
	}{
		{"switch", "aux1", http.StatusOK, "switch"},
		{"number", "pooltemp", http.StatusOK, "number"},
		{"enum", "poolht", http.StatusOK, "enum"},
		{"missing", "aux9", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/state/"+tt.field, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantKind == "" {
				return
			}
			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp["field"] != tt.field {
				t.Errorf("field = %v, want %s", resp["field"], tt.field)
			}
			if resp["kind"] != tt.wantKind {
				t.Errorf("kind = %v, want %s", resp["kind"], tt.wantKind)
			}
		})
	}
}

func TestQueue(t *testing.T) {
	srv, bridge := testServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))
	if !strings.Contains(w.Body.String(), `"pending":[]`) {
		t.Errorf("empty queue body = %s, want pending []", w.Body.String())
	}

	bridge.pending = []autelis.WriteRequest{{Name: "poolsp", Param: autelis.ParamTemp, Value: "84"}}
	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))

	var resp struct {
		Pending []autelis.WriteRequest `json:"pending"`
		Depth   int                    `json:"depth"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Depth != 1 || resp.Pending[0].Name != "poolsp" {
		t.Errorf("queue = %+v, want one poolsp write", resp)
	}
}

// ─── History Tests ─────────────────────────────────────────────────

func TestHistory_Disabled(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{"/api/v1/history/pump", "/api/v1/commands"} {
		w := serve(srv, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusServiceUnavailable)
		}
	}
}

func TestFieldHistory(t *testing.T) {
	srv, _ := testServer(t)
	hist := &mockHistory{
		changes: []history.FieldChange{
			{ID: 2, Field: "pump", Value: "off", Kind: "switch", Source: history.SourcePoll},
			{ID: 1, Field: "pump", Value: "on", Kind: "switch", Source: history.SourceSeed},
		},
	}
	srv.history = hist

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/history/pump?limit=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if hist.lastField != "pump" || hist.lastLimit != 10 {
		t.Errorf("query = (%q, %d), want (pump, 10)", hist.lastField, hist.lastLimit)
	}

	var resp struct {
		Changes []history.FieldChange `json:"changes"`
		Count   int                   `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 || resp.Changes[0].Value != "off" {
		t.Errorf("response = %+v", resp)
	}
}

func TestFieldHistory_InvalidLimit(t *testing.T) {
	srv, _ := testServer(t)
	srv.history = &mockHistory{}

	for _, limit := range []string{"abc", "-1"} {
		w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/history/pump?limit="+limit, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want %d", limit, w.Code, http.StatusBadRequest)
		}
	}
}

func TestListCommands(t *testing.T) {
	srv, _ := testServer(t)
	hist := &mockHistory{
		commands: []history.CommandRecord{
			{ID: "c1", Device: "jets", Native: "aux1", Desired: "off", Outcome: "dispatched"},
		},
	}
	srv.history = hist

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/commands", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if hist.lastLimit != 0 {
		t.Errorf("limit = %d, want 0 (repository default)", hist.lastLimit)
	}
	if !strings.Contains(w.Body.String(), `"device":"jets"`) {
		t.Errorf("body = %s, want jets command", w.Body.String())
	}
}

func TestHistory_InternalError(t *testing.T) {
	srv, _ := testServer(t)
	srv.history = &mockHistory{err: errors.New("disk I/O error")}

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/commands", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "disk") {
		t.Error("internal error leaked to client")
	}
}

// ─── Command Tests ─────────────────────────────────────────────────

func TestSetDeviceState(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		outcome     autelis.Outcome
		wantStatus  int
		wantDesired string
	}{
		{"dispatched", `{"state":"off"}`, autelis.OutcomeDispatched, http.StatusAccepted, "off"},
		{"queued setpoint", `{"state":84}`, autelis.OutcomeQueued, http.StatusAccepted, "84"},
		{"boolean", `{"state":true}`, autelis.OutcomeDispatched, http.StatusAccepted, "on"},
		{"unchanged", `{"state":"on"}`, autelis.OutcomeUnchanged, http.StatusOK, "on"},
		{"ignored", `"on"`, autelis.OutcomeIgnored, http.StatusOK, "on"},
		{"rejected", `{"state":"warm"}`, autelis.OutcomeRejected, http.StatusUnprocessableEntity, "warm"},
		{"failed", `{"state":"on"}`, autelis.OutcomeFailed, http.StatusBadGateway, "on"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, bridge := testServer(t)
			bridge.result = autelis.CommandResult{Outcome: tt.outcome}

			req := httptest.NewRequest(http.MethodPut, "/api/v1/devices/jets/state", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+testToken(t))
			w := serve(srv, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}

			cmds := bridge.getCommands()
			if len(cmds) != 1 {
				t.Fatalf("commands = %d, want 1", len(cmds))
			}
			if cmds[0].Device != "jets" || cmds[0].Desired != tt.wantDesired {
				t.Errorf("command = %+v, want jets/%s", cmds[0], tt.wantDesired)
			}

			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp["outcome"] != string(tt.outcome) {
				t.Errorf("outcome = %v, want %s", resp["outcome"], tt.outcome)
			}
		})
	}
}

func TestSetDeviceState_ErrorInBody(t *testing.T) {
	srv, bridge := testServer(t)
	bridge.result = autelis.CommandResult{
		Outcome: autelis.OutcomeRejected,
		Err:     fmt.Errorf("%w: cannot set pooltemp", autelis.ErrValidation),
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/devices/pooltemp/state", strings.NewReader(`{"state":"90"}`))
	req.Header.Set("Authorization", "Bearer "+testToken(t))
	w := serve(srv, req)

	if !strings.Contains(w.Body.String(), "cannot set pooltemp") {
		t.Errorf("body = %s, want validation error", w.Body.String())
	}
}

func TestSetDeviceState_BadBody(t *testing.T) {
	srv, bridge := testServer(t)

	for _, body := range []string{"", `{"value":"on"}`, `{"state":`} {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/devices/jets/state", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testToken(t))
		w := serve(srv, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
	if n := len(bridge.getCommands()); n != 0 {
		t.Errorf("commands = %d, want 0 for malformed bodies", n)
	}
}

func TestPoll(t *testing.T) {
	tests := []struct {
		name       string
		pollErr    error
		wantStatus int
	}{
		{"success", nil, http.StatusOK},
		{"in flight", autelis.ErrPollInFlight, http.StatusConflict},
		{"controller down", fmt.Errorf("polling controller: %w", autelis.ErrTransport), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, bridge := testServer(t)
			bridge.snap = poolSnapshot()
			bridge.pollErr = tt.pollErr

			req := httptest.NewRequest(http.MethodPost, "/api/v1/poll", nil)
			req.Header.Set("Authorization", "Bearer "+testToken(t))
			w := serve(srv, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if bridge.getPolls() != 1 {
				t.Errorf("polls = %d, want 1", bridge.getPolls())
			}
		})
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	bridge := newMockBridge()
	bridge.stats = autelis.BridgeStatistics{
		Polls:      autelis.PollStats{Succeeded: 12, Failed: 1},
		Commands:   map[autelis.Outcome]uint64{autelis.OutcomeDispatched: 3},
		QueueDepth: 2,
	}
	deps := testDeps(bridge)
	deps.MQTT = mockConn{connected: true}
	deps.DB = mockDB{stats: sql.DBStats{OpenConnections: 1, Idle: 1}}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.MQTT.Connected {
		t.Error("mqtt.connected = false, want true")
	}
	if resp.Bridge.Polls.Succeeded != 12 || resp.Bridge.QueueDepth != 2 {
		t.Errorf("bridge stats = %+v", resp.Bridge)
	}
	if resp.Bridge.Commands[autelis.OutcomeDispatched] != 3 {
		t.Errorf("dispatched = %d, want 3", resp.Bridge.Commands[autelis.OutcomeDispatched])
	}
	if resp.Database == nil || resp.Database.OpenConnections != 1 {
		t.Errorf("database = %+v, want one open connection", resp.Database)
	}
	if resp.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0")
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	deps := testDeps(newMockBridge())
	deps.Config.Port = 19081
	deps.Logger = logging.Discard()

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Wait for server to be ready
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:19081/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
