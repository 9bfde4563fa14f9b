package autelis

import "errors"

// Error taxonomy of the bridge. Every failure reported to an ErrorSink wraps
// exactly one of the first four sentinels; use KindOf to classify.
var (
	// ErrTransport is a network or HTTP failure talking to the controller.
	ErrTransport = errors.New("autelis: transport error")

	// ErrDecode is a malformed or unexpected status document.
	ErrDecode = errors.New("autelis: decode error")

	// ErrValidation is a command the bridge refuses to translate.
	ErrValidation = errors.New("autelis: validation error")

	// ErrInternal is an unexpected failure (including a recovered panic)
	// while handling a command.
	ErrInternal = errors.New("autelis: internal error")

	// ErrPollInFlight is returned by PollOnce when a fetch is already running.
	// It is not reported to the sink.
	ErrPollInFlight = errors.New("autelis: poll already in flight")
)

// ErrorKind names an error class in logs, metrics and exception messages.
type ErrorKind string

// Error kinds.
const (
	KindTransport  ErrorKind = "transport"
	KindDecode     ErrorKind = "decode"
	KindValidation ErrorKind = "validation"
	KindInternal   ErrorKind = "internal"
	KindUnknown    ErrorKind = "unknown"
)

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInternal):
		return KindInternal
	default:
		return KindUnknown
	}
}
