package autelis

import "time"

// ExceptionMessage is published for every reported error.
// Topic: {prefix}/exception
// QoS: 1, Retained: No
type ExceptionMessage struct {
	// ID uniquely identifies this report.
	ID string `json:"id"`

	// BridgeID is the reporting bridge.
	BridgeID string `json:"bridge_id"`

	// Kind classifies the error (transport, decode, validation, internal).
	Kind ErrorKind `json:"kind"`

	// Error is the full error text.
	Error string `json:"error"`

	// Timestamp is when the error was reported (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is polling successfully.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bus is down or the snapshot is stale.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the controller has never answered.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports operational status.
// Topic: {prefix}/health
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	Status HealthStatus `json:"status"`

	Version string `json:"version"`

	UptimeSeconds int64 `json:"uptime_seconds"`

	// Controller describes the polled controller.
	Controller *ControllerStatus `json:"controller,omitempty"`

	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for degraded/unhealthy).
	Reason string `json:"reason,omitempty"`
}

// ControllerStatus describes the controller as seen by the poller.
type ControllerStatus struct {
	Address  string     `json:"address"`
	LastPoll *time.Time `json:"last_poll,omitempty"`
	Fields   int        `json:"fields"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	Polls PollStats `json:"polls"`

	// Commands counts processed commands by outcome.
	Commands map[Outcome]uint64 `json:"commands"`

	QueueDepth     int    `json:"queue_depth"`
	WritesExecuted uint64 `json:"writes_executed"`
	WritesFailed   uint64 `json:"writes_failed"`

	// Errors counts reported errors by kind.
	Errors map[ErrorKind]uint64 `json:"errors"`
}

// NewHealthMessage creates a health message with the current timestamp.
func NewHealthMessage(bridgeID, version string, status HealthStatus, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
	}
}
