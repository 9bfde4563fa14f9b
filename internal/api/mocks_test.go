package api

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
	"github.com/nerrad567/autelis-bridge/internal/history"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// recordedCommand is one call to mockBridge.Command.
type recordedCommand struct {
	Device  string
	Desired string
}

// mockBridge is a test implementation of Bridge.
type mockBridge struct {
	mu        sync.Mutex
	snap      *autelis.Snapshot
	health    autelis.HealthMessage
	stats     autelis.BridgeStatistics
	pending   []autelis.WriteRequest
	pollErr   error
	polls     int
	result    autelis.CommandResult
	commands  []recordedCommand
	listeners []autelis.SnapshotHandler
}

func newMockBridge() *mockBridge {
	return &mockBridge{
		health: autelis.NewHealthMessage("pool", "test", autelis.HealthHealthy, time.Now()),
		result: autelis.CommandResult{Outcome: autelis.OutcomeDispatched},
	}
}

func (m *mockBridge) Snapshot() *autelis.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *mockBridge) Command(_ context.Context, device, desired string) autelis.CommandResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, recordedCommand{Device: device, Desired: desired})
	res := m.result
	res.Device = device
	res.Desired = desired
	return res
}

func (m *mockBridge) PollNow(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
	return m.pollErr
}

func (m *mockBridge) Health() autelis.HealthMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

func (m *mockBridge) Stats() autelis.BridgeStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *mockBridge) PendingWrites() []autelis.WriteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]autelis.WriteRequest(nil), m.pending...)
}

func (m *mockBridge) OnSnapshot(fn autelis.SnapshotHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// publish swaps in next and notifies listeners the way the poller does.
func (m *mockBridge) publish(next *autelis.Snapshot) {
	m.mu.Lock()
	prev := m.snap
	m.snap = next
	listeners := append([]autelis.SnapshotHandler(nil), m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, next)
	}
}

func (m *mockBridge) getCommands() []recordedCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedCommand(nil), m.commands...)
}

func (m *mockBridge) getPolls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// mockHistory is a test implementation of HistoryReader.
type mockHistory struct {
	changes   []history.FieldChange
	commands  []history.CommandRecord
	err       error
	lastField string
	lastLimit int
}

func (m *mockHistory) GetFieldHistory(_ context.Context, field string, limit int) ([]history.FieldChange, error) {
	m.lastField = field
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.changes, nil
}

func (m *mockHistory) ListCommands(_ context.Context, limit int) ([]history.CommandRecord, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.commands, nil
}

type mockConn struct{ connected bool }

func (m mockConn) IsConnected() bool { return m.connected }

type mockDB struct{ stats sql.DBStats }

func (m mockDB) Stats() sql.DBStats { return m.stats }

// poolSnapshot returns a small snapshot with one field of each kind.
func poolSnapshot() *autelis.Snapshot {
	return autelis.NewSnapshot(map[string]autelis.Value{
		"pump":     autelis.SwitchValue(true),
		"aux1":     autelis.SwitchValue(false),
		"poolsp":   autelis.NumberValue(84),
		"pooltemp": autelis.NumberValue(78),
		"runstate": autelis.NumberValue(8),
		"poolht":   autelis.EnumValue("on"),
	}, time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
}

func testDeps(bridge Bridge) Deps {
	return Deps{
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
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret},
		},
		Logger:  logging.Discard(),
		Bridge:  bridge,
		Version: "test",
	}
}

// testServer creates a Server backed by a mockBridge with a running hub.
func testServer(t *testing.T) (*Server, *mockBridge) {
	t.Helper()

	bridge := newMockBridge()
	srv, err := New(testDeps(bridge))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, bridge
}

// testToken mints a valid bearer token for tests.
func testToken(t *testing.T) string {
	t.Helper()
	token, err := IssueToken(testSecret, "tester", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	return token
}
