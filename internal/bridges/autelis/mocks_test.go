package autelis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
)

// statusDoc renders a controller status document. aux1 and poolsp are the
// fields most tests care about; everything else is a fixed fixture.
func statusDoc(aux1, poolsp string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="ISO-8859-1"?>
<response>
  <system>
    <runstate>8</runstate>
    <model>13</model>
    <dip>00100000</dip>
    <opmode>0</opmode>
    <vbat>300</vbat>
    <lowbat>0</lowbat>
    <version>1.6.9</version>
    <time>1415632486</time>
  </system>
  <equipment>
    <pump>1</pump>
    <pumplo>0</pumplo>
    <spa>0</spa>
    <waterfall>0</waterfall>
    <cleaner>0</cleaner>
    <poolht>2</poolht>
    <spaht>0</spaht>
    <solarht>0</solarht>
    <aux1>%s</aux1>
    <aux2>0</aux2>
    <aux3>1</aux3>
    <aux4>0</aux4>
    <aux5>0</aux5>
    <aux6>0</aux6>
  </equipment>
  <temp>
    <poolsp>%s</poolsp>
    <poolsp2>60</poolsp2>
    <spasp>102</spasp>
    <pooltemp>78</pooltemp>
    <spatemp>80</spatemp>
    <airtemp>71</airtemp>
    <solartemp></solartemp>
    <tempunits>F</tempunits>
  </temp>
</response>`, aux1, poolsp))
}

func defaultDevices() config.DevicesConfig {
	return config.DevicesConfig{
		Forward:   config.DefaultForwardMap(),
		Backward:  config.DefaultBackwardMap(),
		Whitelist: config.DefaultWhitelist(),
	}
}

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	m, err := NewMapper(defaultDevices())
	if err != nil {
		t.Fatalf("NewMapper() error = %v", err)
	}
	return m
}

// mockController implements Controller for testing.
type mockController struct {
	mu       sync.Mutex
	status   []byte
	fetchErr error
	writeErr error
	fetches  int
	writes   []WriteRequest

	// fetchGate, when set, blocks FetchStatus until it is closed.
	fetchGate chan struct{}
	fetching  chan struct{}
}

func newMockController(status []byte) *mockController {
	return &mockController{status: status}
}

func (m *mockController) FetchStatus(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	m.fetches++
	gate, fetching := m.fetchGate, m.fetching
	status, err := m.status, m.fetchErr
	m.mu.Unlock()

	if gate != nil {
		if fetching != nil {
			fetching <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (m *mockController) Write(_ context.Context, req WriteRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, req)
	return m.writeErr
}

func (m *mockController) setStatus(status []byte) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

func (m *mockController) setFetchErr(err error) {
	m.mu.Lock()
	m.fetchErr = err
	m.mu.Unlock()
}

func (m *mockController) getWrites() []WriteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WriteRequest(nil), m.writes...)
}

func (m *mockController) getFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// recordingSink implements ErrorSink for testing.
type recordingSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *recordingSink) Report(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *recordingSink) getErrors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func (s *recordingSink) count(target error) int {
	n := 0
	for _, err := range s.getErrors() {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

// PublishedTo returns messages published to topic, oldest first.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers payload to the handler subscribed with pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
