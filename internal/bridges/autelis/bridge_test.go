package autelis

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/autelis-bridge/internal/history"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/mqtt"
)

// mockHistory implements HistoryRecorder for testing.
type mockHistory struct {
	mu       sync.Mutex
	changes  []history.FieldChange
	commands []history.CommandRecord
}

func (m *mockHistory) RecordFieldChanges(_ context.Context, changes []history.FieldChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, changes...)
	return nil
}

func (m *mockHistory) RecordCommand(_ context.Context, rec history.CommandRecord) (history.CommandRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, rec)
	return rec, nil
}

func (m *mockHistory) getChanges() []history.FieldChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.FieldChange(nil), m.changes...)
}

func (m *mockHistory) getCommands() []history.CommandRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.CommandRecord(nil), m.commands...)
}

// mockTelemetry implements Telemetry for testing.
type mockTelemetry struct {
	mu        sync.Mutex
	snapshots []map[string]float64
	commands  []string
}

func (m *mockTelemetry) WriteSnapshot(_ string, fields map[string]float64, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, fields)
}

func (m *mockTelemetry) WriteCommand(_, device, outcome string, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, device+":"+outcome)
}

func (m *mockTelemetry) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots), len(m.commands)
}

type bridgeFixture struct {
	bridge    *Bridge
	client    *MockMQTTClient
	ctrl      *mockController
	history   *mockHistory
	telemetry *mockTelemetry
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		client:    NewMockMQTTClient(),
		ctrl:      newMockController(statusDoc("1", "82")),
		history:   &mockHistory{},
		telemetry: &mockTelemetry{},
	}

	b, err := NewBridge(BridgeOptions{
		BridgeID:       "pool-01",
		Version:        "test",
		Controller:     f.ctrl,
		MQTTClient:     f.client,
		Devices:        defaultDevices(),
		Topics:         mqtt.NewTopics("autelis"),
		QoS:            1,
		PollInterval:   time.Hour,
		RequestSpacing: 5 * time.Millisecond,
		HealthInterval: time.Hour,
		History:        f.history,
		Telemetry:      f.telemetry,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	f.bridge = b
	return f
}

// start runs the bridge until the test ends and waits for the first snapshot.
func (f *bridgeFixture) start(t *testing.T) {
	t.Helper()
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(f.bridge.Stop)
	// Telemetry is written last, after publishing and listeners.
	waitFor(t, 2*time.Second, func() bool {
		snaps, _ := f.telemetry.counts()
		return snaps >= 1
	})
}

func TestNewBridge_RequiresDependencies(t *testing.T) {
	ctrl := newMockController(nil)
	client := NewMockMQTTClient()

	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"no id", BridgeOptions{Controller: ctrl, MQTTClient: client, Devices: defaultDevices()}},
		{"no controller", BridgeOptions{BridgeID: "x", MQTTClient: client, Devices: defaultDevices()}},
		{"no mqtt", BridgeOptions{BridgeID: "x", Controller: ctrl, Devices: defaultDevices()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() error = nil, want error")
			}
		})
	}
}

func TestBridge_StartPublishesSnapshot(t *testing.T) {
	f := newBridgeFixture(t)
	f.start(t)

	subs := f.client.GetSubscriptions()
	if len(subs) != 1 || subs[0].Topic != "autelis/set/+" {
		t.Fatalf("subscriptions = %v, want [autelis/set/+]", subs)
	}

	jets := f.client.PublishedTo("autelis/status/jets")
	if len(jets) != 1 || string(jets[0].Payload) != "on" || !jets[0].Retained {
		t.Errorf("jets publishes = %+v, want one retained \"on\"", jets)
	}
	sp := f.client.PublishedTo("autelis/status/poolSetpoint")
	if len(sp) != 1 || string(sp[0].Payload) != "82" {
		t.Errorf("poolSetpoint publishes = %+v", sp)
	}

	var full map[string]any
	if err := json.Unmarshal(f.client.PublishedTo("autelis/status")[0].Payload, &full); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if full["jets"] != "on" || full["poolSetpoint"] != float64(82) {
		t.Errorf("snapshot = %v", full)
	}

	changes := f.history.getChanges()
	if len(changes) != f.bridge.Snapshot().Len() {
		t.Errorf("recorded %d changes, want %d", len(changes), f.bridge.Snapshot().Len())
	}
	for _, c := range changes {
		if c.Source != history.SourceSeed {
			t.Errorf("first snapshot change %s has source %s, want seed", c.Field, c.Source)
			break
		}
	}
	if snaps, _ := f.telemetry.counts(); snaps != 1 {
		t.Errorf("telemetry snapshots = %d, want 1", snaps)
	}
}

func TestBridge_OnlyChangedFieldsRepublished(t *testing.T) {
	f := newBridgeFixture(t)
	f.start(t)

	var mu sync.Mutex
	var notified []string
	f.bridge.OnSnapshot(func(prev, next *Snapshot) {
		mu.Lock()
		notified = append(notified, next.Changed(prev)...)
		mu.Unlock()
	})

	f.client.ClearPublished()
	f.ctrl.setStatus(statusDoc("0", "82"))
	if err := f.bridge.PollNow(context.Background()); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}

	for _, p := range f.client.GetPublished() {
		if p.Topic == "autelis/status/poolSetpoint" {
			t.Error("unchanged field was republished")
		}
	}
	if jets := f.client.PublishedTo("autelis/status/jets"); len(jets) != 1 || string(jets[0].Payload) != "off" {
		t.Errorf("jets publishes = %+v, want one \"off\"", jets)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 || notified[0] != "jets" {
		t.Errorf("listener saw %v, want [jets]", notified)
	}

	last := f.history.getChanges()
	if c := last[len(last)-1]; c.Field != "jets" || c.Value != "off" || c.Source != history.SourcePoll {
		t.Errorf("last change = %+v", c)
	}
}

func TestBridge_ClearsVanishedFields(t *testing.T) {
	f := newBridgeFixture(t)
	f.start(t)

	f.client.ClearPublished()
	f.ctrl.setStatus([]byte(strings.Replace(string(statusDoc("1", "82")), "<airtemp>71</airtemp>", "", 1)))
	if err := f.bridge.PollNow(context.Background()); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}

	air := f.client.PublishedTo("autelis/status/airtemp")
	if len(air) != 1 || len(air[0].Payload) != 0 || !air[0].Retained {
		t.Errorf("airtemp publishes = %+v, want one empty retained payload", air)
	}
	if jets := f.client.PublishedTo("autelis/status/jets"); len(jets) != 0 {
		t.Errorf("unchanged jets republished: %+v", jets)
	}
}

func TestBridge_MQTTCommand(t *testing.T) {
	f := newBridgeFixture(t)
	f.start(t)

	f.client.SimulateMessage("autelis/set/+", "autelis/set/jets", []byte("off"))

	writes := f.ctrl.getWrites()
	if len(writes) != 1 || writes[0].Query() != "name=aux1&value=0" {
		t.Fatalf("writes = %v, want [name=aux1&value=0]", writes)
	}

	cmds := f.history.getCommands()
	if len(cmds) != 1 || cmds[0].Device != "jets" || cmds[0].Native != "aux1" || cmds[0].Outcome != string(OutcomeDispatched) {
		t.Errorf("command log = %+v", cmds)
	}
	if _, n := f.telemetry.counts(); n != 1 {
		t.Errorf("telemetry commands = %d, want 1", n)
	}
	if got := f.bridge.Stats().Commands[OutcomeDispatched]; got != 1 {
		t.Errorf("dispatched count = %d, want 1", got)
	}
}

func TestBridge_MQTTSetpointGoesThroughQueue(t *testing.T) {
	f := newBridgeFixture(t)
	f.start(t)

	f.client.SimulateMessage("autelis/set/+", "autelis/set/poolsp", []byte(`84`))

	waitFor(t, time.Second, func() bool { return len(f.ctrl.getWrites()) == 1 })
	if got := f.ctrl.getWrites()[0].Query(); got != "name=poolsp&temp=84" {
		t.Errorf("write = %q, want name=poolsp&temp=84", got)
	}
	waitFor(t, time.Second, func() bool { return f.bridge.Stats().WritesExecuted == 1 })
}

func TestBridge_BadPayloadReported(t *testing.T) {
	f := newBridgeFixture(t)
	f.start(t)

	f.client.SimulateMessage("autelis/set/+", "autelis/set/jets", []byte("   "))

	if len(f.ctrl.getWrites()) != 0 {
		t.Error("empty payload reached the controller")
	}
	if n := len(f.client.PublishedTo("autelis/exception")); n != 1 {
		t.Errorf("exception publishes = %d, want 1", n)
	}
	if got := f.bridge.Stats().Errors[KindValidation]; got != 1 {
		t.Errorf("validation errors = %d, want 1", got)
	}
}

func TestBridge_IgnoredCommandsNotLogged(t *testing.T) {
	f := newBridgeFixture(t)
	f.start(t)

	f.bridge.Command(context.Background(), "unmappedField", "on")

	if len(f.history.getCommands()) != 0 {
		t.Error("ignored command was written to the audit log")
	}
	if got := f.bridge.Stats().Commands[OutcomeIgnored]; got != 1 {
		t.Errorf("ignored count = %d, want 1", got)
	}
}

func TestBridge_StartTwice(t *testing.T) {
	f := newBridgeFixture(t)
	f.start(t)

	if err := f.bridge.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil, want error")
	}
}

func TestBridge_StopPublishesStopping(t *testing.T) {
	f := newBridgeFixture(t)
	f.start(t)

	f.bridge.Stop()
	f.bridge.Stop()

	msgs := f.client.PublishedTo("autelis/health")
	if len(msgs) < 2 {
		t.Fatalf("health publishes = %d, want at least 2", len(msgs))
	}
	var last HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final health = %s, want stopping", last.Status)
	}
}

func TestDecodeCommandPayload(t *testing.T) {
	tests := []struct {
		payload string
		want    string
		wantErr bool
	}{
		{"on", "on", false},
		{" off\n", "off", false},
		{"84", "84", false},
		{`"on"`, "on", false},
		{`{"state":"off"}`, "off", false},
		{`{"state":84}`, "84", false},
		{"true", "on", false},
		{"false", "off", false},
		{"t", "t", false},
		{"f", "f", false},
		{"fals", "fals", false},
		{"", "", true},
		{`{"value":1}`, "", true},
		{`"unterminated`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := DecodeCommandPayload([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeCommandPayload(%q) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DecodeCommandPayload(%q) = %q, want %q", tt.payload, got, tt.want)
			}
		})
	}
}
