package history

import (
	"errors"
	"time"
)

// Sources of a field change.
const (
	SourcePoll = "poll"
	SourceSeed = "seed"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// ErrFieldRequired is returned when a history query names no field.
var ErrFieldRequired = errors.New("history: field is required")

// FieldChange is one observed change of a snapshot field.
type FieldChange struct {
	ID        int64     `json:"id"`
	Field     string    `json:"field"`
	Value     string    `json:"value"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// CommandRecord is one entry of the command audit log.
type CommandRecord struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	Native    string    `json:"native,omitempty"`
	Desired   string    `json:"desired"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(timestampLayout, value); err == nil {
		return t, nil
	}
	// Rows written by SQLite defaults or by hand.
	return time.Parse(time.RFC3339, value)
}
