package autelis

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrorSink is the single funnel for failures. Report must not panic or
// block for long, and nothing it receives propagates further.
type ErrorSink interface {
	Report(err error)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(err error)

// Report calls f(err).
func (f ErrorSinkFunc) Report(err error) { f(err) }

// Logger is the structured logger used across the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Publisher publishes MQTT messages.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Reporter is the production ErrorSink. It logs each error, counts it by
// kind and, when a publisher is set, publishes an ExceptionMessage.
type Reporter struct {
	bridgeID  string
	topic     string
	publisher Publisher
	logger    Logger
	now       func() time.Time

	counts [5]atomic.Uint64 // indexed by kindIndex

	lastMu sync.RWMutex
	last   *ExceptionMessage
}

// ReporterOptions configures a Reporter.
type ReporterOptions struct {
	BridgeID string

	// Topic receives exception messages; empty disables publishing.
	Topic     string
	Publisher Publisher
	Logger    Logger
}

// NewReporter creates a Reporter.
func NewReporter(opts ReporterOptions) *Reporter {
	return &Reporter{
		bridgeID:  opts.BridgeID,
		topic:     opts.Topic,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

var kindOrder = [...]ErrorKind{KindTransport, KindDecode, KindValidation, KindInternal, KindUnknown}

func kindIndex(k ErrorKind) int {
	for i, kind := range kindOrder {
		if kind == k {
			return i
		}
	}
	return len(kindOrder) - 1
}

// Report implements ErrorSink.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}
	kind := KindOf(err)
	r.counts[kindIndex(kind)].Add(1)

	msg := &ExceptionMessage{
		ID:        uuid.NewString(),
		BridgeID:  r.bridgeID,
		Kind:      kind,
		Error:     err.Error(),
		Timestamp: r.now().UTC(),
	}
	r.lastMu.Lock()
	r.last = msg
	r.lastMu.Unlock()

	if r.logger != nil {
		if kind == KindValidation {
			r.logger.Warn("command rejected", "kind", kind, "error", err)
		} else {
			r.logger.Error("bridge error", "kind", kind, "error", err)
		}
	}

	if r.publisher == nil || r.topic == "" {
		return
	}
	payload, mErr := json.Marshal(msg)
	if mErr != nil {
		return
	}
	if pErr := r.publisher.Publish(r.topic, payload, 1, false); pErr != nil && r.logger != nil {
		r.logger.Warn("failed to publish exception", "error", pErr)
	}
}

// Counts returns the number of reported errors per kind.
func (r *Reporter) Counts() map[ErrorKind]uint64 {
	out := make(map[ErrorKind]uint64, len(kindOrder))
	for i, kind := range kindOrder {
		out[kind] = r.counts[i].Load()
	}
	return out
}

// Last returns the most recent report, or nil.
func (r *Reporter) Last() *ExceptionMessage {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	return r.last
}
