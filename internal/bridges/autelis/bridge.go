package autelis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/autelis-bridge/internal/history"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/mqtt"
)

// recordTimeout bounds history writes made from the poll and command paths.
const recordTimeout = 5 * time.Second

// Bridge connects one controller to the MQTT bus. It owns the poll loop,
// the request queue consumer and the health reporter, and routes inbound
// commands to the command processor.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id     string
	mqtt   MQTTClient
	topics mqtt.Topics
	qos    byte

	mapper    *Mapper
	cell      *SnapshotCell
	poller    *Poller
	queue     *Queue
	processor *CommandProcessor
	reporter  *Reporter
	health    *HealthReporter

	history   HistoryRecorder // optional
	telemetry Telemetry       // optional

	commandsMu sync.Mutex
	commands   map[Outcome]uint64

	listenersMu sync.RWMutex
	listeners   []SnapshotHandler

	// Shutdown coordination
	started   atomic.Bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger Logger
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// HistoryRecorder persists field changes and processed commands.
// This interface is satisfied by *history.SQLiteRepository.
type HistoryRecorder interface {
	RecordFieldChanges(ctx context.Context, changes []history.FieldChange) error
	RecordCommand(ctx context.Context, rec history.CommandRecord) (history.CommandRecord, error)
}

// Telemetry receives time-series points.
// This interface is satisfied by *influxdb.Client.
type Telemetry interface {
	WriteSnapshot(bridgeID string, fields map[string]float64, ts time.Time)
	WriteCommand(bridgeID, device, outcome string, ts time.Time)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health and exception messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// Controller is the controller client.
	Controller Controller

	// ControllerAddress is shown in health messages. Optional.
	ControllerAddress string

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Devices is the device name table and write whitelist.
	Devices config.DevicesConfig

	// Topics is the MQTT topic layout. Zero value uses the default prefix.
	Topics mqtt.Topics

	// QoS for state publishes and the command subscription.
	QoS byte

	PollInterval   time.Duration
	RequestSpacing time.Duration
	HealthInterval time.Duration

	// Logger is optional structured logger.
	Logger Logger

	// History is optional. If nil, nothing is persisted.
	History HistoryRecorder

	// Telemetry is optional. If nil, no time-series points are written.
	Telemetry Telemetry
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	mapper, err := NewMapper(opts.Devices)
	if err != nil {
		return nil, err
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:        opts.BridgeID,
		mqtt:      opts.MQTTClient,
		topics:    opts.Topics,
		qos:       opts.QoS,
		mapper:    mapper,
		cell:      &SnapshotCell{},
		history:   opts.History,
		telemetry: opts.Telemetry,
		commands:  make(map[Outcome]uint64),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.reporter = NewReporter(ReporterOptions{
		BridgeID:  opts.BridgeID,
		Topic:     b.topics.Exception(),
		Publisher: opts.MQTTClient,
		Logger:    opts.Logger,
	})
	b.queue = NewQueue(opts.Controller, b.reporter, opts.RequestSpacing)
	b.processor = NewCommandProcessor(mapper, b.cell, opts.Controller, b.queue, b.reporter)
	b.poller = NewPoller(PollerOptions{
		Fetcher:    opts.Controller,
		Normalizer: NewNormalizer(mapper),
		Cell:       b.cell,
		Sink:       b.reporter,
		Interval:   opts.PollInterval,
		OnSnapshot: b.handleSnapshot,
	})

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:     opts.BridgeID,
		Version:      opts.Version,
		Topic:        b.topics.Health(),
		Address:      opts.ControllerAddress,
		Interval:     opts.HealthInterval,
		PollInterval: b.poller.interval,
		Publisher:    opts.MQTTClient,
	}, b)
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command topics and starts the poll loop, the queue
// consumer and health reporting. The loops stop when ctx is cancelled or
// Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge already started")
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.wg.Add(3)
	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
			b.ctxCancel()
		case <-b.ctx.Done():
		}
	}()
	go func() {
		defer b.wg.Done()
		b.poller.Run(b.ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.queue.Run(b.ctx)
	}()

	b.health.Start(b.ctx)

	b.logInfo("bridge started",
		"bridge_id", b.id,
		"poll_interval", b.poller.interval.String(),
		"request_spacing", b.queue.spacing.String())
	return nil
}

// Stop cancels both loops, waits for them and publishes a final health
// status. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped", "queued_dropped", b.queue.Len())
	})
}

// Command runs the command processor and records the result.
func (b *Bridge) Command(ctx context.Context, device, desired string) CommandResult {
	res := b.processor.Command(ctx, device, desired)

	b.commandsMu.Lock()
	b.commands[res.Outcome]++
	b.commandsMu.Unlock()

	switch res.Outcome {
	case OutcomeDispatched, OutcomeQueued:
		b.logInfo("command accepted", "device", res.Device, "native", res.Native,
			"desired", res.Desired, "outcome", res.Outcome)
	default:
		b.logDebug("command processed", "device", res.Device, "desired", res.Desired,
			"outcome", res.Outcome)
	}

	if res.Outcome == OutcomeIgnored {
		return res
	}
	if b.telemetry != nil {
		b.telemetry.WriteCommand(b.id, res.Device, string(res.Outcome), time.Now())
	}
	if b.history != nil {
		rec := history.CommandRecord{
			Device:  res.Device,
			Native:  res.Native,
			Desired: res.Desired,
			Outcome: string(res.Outcome),
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		rctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
		defer cancel()
		if _, err := b.history.RecordCommand(rctx, rec); err != nil {
			b.logWarn("failed to record command", "device", res.Device, "error", err)
		}
	}
	return res
}

// PollNow triggers an immediate poll. It returns ErrPollInFlight when a
// poll is already running.
func (b *Bridge) PollNow(ctx context.Context) error {
	return b.poller.PollOnce(ctx)
}

// Snapshot returns the current snapshot, or nil before the first poll.
func (b *Bridge) Snapshot() *Snapshot {
	return b.cell.Load()
}

// Mapper returns the device name mapper.
func (b *Bridge) Mapper() *Mapper {
	return b.mapper
}

// PendingWrites returns the queued setpoint writes, oldest first.
func (b *Bridge) PendingWrites() []WriteRequest {
	return b.queue.Pending()
}

// Health evaluates the current health status.
func (b *Bridge) Health() HealthMessage {
	status, reason := b.health.Status()
	return b.health.Message(status, reason)
}

// Stats returns operational counters.
func (b *Bridge) Stats() BridgeStatistics {
	b.commandsMu.Lock()
	commands := make(map[Outcome]uint64, len(b.commands))
	for k, v := range b.commands {
		commands[k] = v
	}
	b.commandsMu.Unlock()

	return BridgeStatistics{
		Polls:          b.poller.Stats(),
		Commands:       commands,
		QueueDepth:     b.queue.Len(),
		WritesExecuted: b.queue.Executed(),
		WritesFailed:   b.queue.Failed(),
		Errors:         b.reporter.Counts(),
	}
}

// OnSnapshot registers fn to be called after each new snapshot has been
// published on the bus.
func (b *Bridge) OnSnapshot(fn SnapshotHandler) {
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, fn)
	b.listenersMu.Unlock()
}

// handleMQTTMessage routes {prefix}/set/{device} to the command processor.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	device, ok := b.topics.ParseCommand(topic)
	if !ok {
		b.logDebug("ignoring message on unexpected topic", "topic", topic)
		return
	}
	desired, err := DecodeCommandPayload(payload)
	if err != nil {
		b.reporter.Report(fmt.Errorf("%w: command %s: %w", ErrValidation, device, err))
		return
	}
	b.Command(b.ctx, device, desired)
}

// DecodeCommandPayload accepts a plain payload ("on", "84"), a JSON string
// or number, or a JSON object with a "state" member.
func DecodeCommandPayload(payload []byte) (string, error) {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 {
		return "", errors.New("empty payload")
	}

	switch p[0] {
	case '"':
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			return "", fmt.Errorf("decoding payload: %w", err)
		}
		return s, nil
	case '{':
		var body struct {
			State json.RawMessage `json:"state"`
		}
		if err := json.Unmarshal(p, &body); err != nil {
			return "", fmt.Errorf("decoding payload: %w", err)
		}
		if len(body.State) == 0 {
			return "", errors.New(`payload object has no "state"`)
		}
		return DecodeCommandPayload(body.State)
	case 't', 'f':
		// Only the JSON literals; a bare "t" or "f" is passed through as text.
		switch string(p) {
		case "true":
			return StateOn, nil
		case "false":
			return StateOff, nil
		}
	}
	return string(p), nil
}

// handleSnapshot publishes a freshly swapped snapshot.
func (b *Bridge) handleSnapshot(prev, next *Snapshot) {
	changed := next.Changed(prev)

	for _, key := range changed {
		v, _ := next.Get(key)
		if err := b.mqtt.Publish(b.topics.Field(key), []byte(v.String()), b.qos, true); err != nil {
			b.logWarn("failed to publish field", "field", key, "error", err)
		}
	}

	// An empty retained payload deletes the broker's copy of a field the
	// controller stopped reporting.
	for _, key := range next.Removed(prev) {
		if err := b.mqtt.Publish(b.topics.Field(key), nil, b.qos, true); err != nil {
			b.logWarn("failed to clear field", "field", key, "error", err)
		}
	}

	payload, err := json.Marshal(next)
	if err != nil {
		b.logError("failed to encode snapshot", err)
	} else if err := b.mqtt.Publish(b.topics.Snapshot(), payload, b.qos, true); err != nil {
		b.logWarn("failed to publish snapshot", "error", err)
	}

	if len(changed) > 0 {
		b.logDebug("snapshot changed", "fields", len(changed))
		b.recordChanges(prev, next, changed)
	}

	b.listenersMu.RLock()
	listeners := b.listeners
	b.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(prev, next)
	}

	if b.telemetry != nil {
		b.telemetry.WriteSnapshot(b.id, next.Numeric(), next.TakenAt())
	}
}

func (b *Bridge) recordChanges(prev, next *Snapshot, changed []string) {
	if b.history == nil {
		return
	}
	source := history.SourcePoll
	if prev == nil {
		source = history.SourceSeed
	}

	changes := make([]history.FieldChange, 0, len(changed))
	for _, key := range changed {
		v, _ := next.Get(key)
		changes = append(changes, history.FieldChange{
			Field:  key,
			Value:  v.String(),
			Kind:   string(v.Kind),
			Source: source,
		})
	}

	ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
	defer cancel()
	if err := b.history.RecordFieldChanges(ctx, changes); err != nil {
		b.logWarn("failed to record field changes", "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}
