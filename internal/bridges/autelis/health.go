package autelis

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	defaultHealthInterval = 30 * time.Second

	// staleFactor poll intervals without a successful poll degrade health.
	staleFactor = 3
)

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// healthSource supplies the figures a health message carries.
type healthSource interface {
	Stats() BridgeStatistics
	Snapshot() *Snapshot
}

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID     string
	version      string
	topic        string
	address      string
	startTime    time.Time
	interval     time.Duration
	pollInterval time.Duration
	publisher    HealthPublisher
	source       healthSource
	now          func() time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Topic receives health messages.
	Topic string

	// Address is the controller URL shown in health messages.
	Address string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// PollInterval is used to decide when the snapshot is stale.
	PollInterval time.Duration

	Publisher HealthPublisher
}

// NewHealthReporter creates a new health reporter. source may be nil, in
// which case messages carry no statistics.
func NewHealthReporter(cfg HealthReporterConfig, source healthSource) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &HealthReporter{
		bridgeID:     cfg.BridgeID,
		version:      cfg.Version,
		topic:        cfg.Topic,
		address:      cfg.Address,
		startTime:    time.Now(),
		interval:     interval,
		pollInterval: pollInterval,
		publisher:    cfg.Publisher,
		source:       source,
		now:          time.Now,
		done:         make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.Status()
	return h.publishStatus(status, reason)
}

// Status evaluates the current bridge status.
func (h *HealthReporter) Status() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.source == nil {
		return HealthHealthy, ""
	}

	polls := h.source.Stats().Polls
	if polls.LastPoll.IsZero() {
		if polls.Failed > 0 {
			return HealthUnhealthy, "controller unreachable"
		}
		return HealthStarting, "awaiting first poll"
	}
	if age := h.now().Sub(polls.LastPoll); age > staleFactor*h.pollInterval {
		return HealthDegraded, "snapshot stale since " + polls.LastPoll.UTC().Format(time.RFC3339)
	}
	return HealthHealthy, ""
}

// Message builds the health message for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	msg := NewHealthMessage(h.bridgeID, h.version, status, h.startTime)
	msg.Reason = reason
	msg.Controller = &ControllerStatus{Address: h.address}

	if h.source != nil {
		stats := h.source.Stats()
		msg.Statistics = &stats
		msg.Controller.Fields = h.source.Snapshot().Len()
		if !stats.Polls.LastPoll.IsZero() {
			last := stats.Polls.LastPoll.UTC()
			msg.Controller.LastPoll = &last
		}
	}
	return msg
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil || h.topic == "" {
		return nil
	}

	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
