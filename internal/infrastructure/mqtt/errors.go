package mqtt

import "errors"

// Errors returned by Client. Use errors.Is to test for them.
var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS means a QoS above 2 was requested.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic means an empty topic was passed.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
