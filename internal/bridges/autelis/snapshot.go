package autelis

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync/atomic"
	"time"
)

// Kind is the type of a snapshot value.
type Kind string

// Value kinds.
const (
	KindSwitch Kind = "switch"
	KindEnum   Kind = "enum"
	KindNumber Kind = "number"
	KindText   Kind = "text"
)

// Switch states.
const (
	StateOn  = "on"
	StateOff = "off"
)

// Value is one normalised field. Number is set for KindNumber; Text holds
// the label for every other kind.
type Value struct {
	Kind   Kind
	Text   string
	Number float64
}

// SwitchValue returns an on/off value.
func SwitchValue(on bool) Value {
	if on {
		return Value{Kind: KindSwitch, Text: StateOn}
	}
	return Value{Kind: KindSwitch, Text: StateOff}
}

// EnumValue returns a value from one of the fixed lookup tables.
func EnumValue(label string) Value { return Value{Kind: KindEnum, Text: label} }

// NumberValue returns a numeric value.
func NumberValue(f float64) Value { return Value{Kind: KindNumber, Number: f} }

// TextValue returns a free-text value.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// String returns the value as published on per-field topics.
func (v Value) String() string {
	if v.Kind == KindNumber {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return v.Text
}

// MarshalJSON encodes numbers as JSON numbers and everything else as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindNumber {
		return json.Marshal(v.Number)
	}
	return json.Marshal(v.Text)
}

// Snapshot is one complete, immutable view of the controller. It is never
// modified after construction.
type Snapshot struct {
	fields  map[string]Value
	takenAt time.Time
}

// NewSnapshot copies fields into a new Snapshot.
func NewSnapshot(fields map[string]Value, takenAt time.Time) *Snapshot {
	copied := make(map[string]Value, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &Snapshot{fields: copied, takenAt: takenAt}
}

// Get returns the value stored under key.
func (s *Snapshot) Get(key string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	v, ok := s.fields[key]
	return v, ok
}

// Len returns the number of fields.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}

// TakenAt returns when the snapshot was fetched.
func (s *Snapshot) TakenAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.takenAt
}

// Keys returns the field names in sorted order.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fields returns a copy of the field map.
func (s *Snapshot) Fields() map[string]Value {
	out := make(map[string]Value, s.Len())
	if s == nil {
		return out
	}
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

// Changed returns the sorted keys whose value differs from prev, including
// keys new in s. Keys that disappeared are reported by Removed. A nil prev
// makes every key changed.
func (s *Snapshot) Changed(prev *Snapshot) []string {
	var changed []string
	for _, k := range s.Keys() {
		old, ok := prev.Get(k)
		if !ok || old != s.fields[k] {
			changed = append(changed, k)
		}
	}
	return changed
}

// Removed returns the sorted keys present in prev but absent from s.
func (s *Snapshot) Removed(prev *Snapshot) []string {
	var removed []string
	for _, k := range prev.Keys() {
		if _, ok := s.Get(k); !ok {
			removed = append(removed, k)
		}
	}
	return removed
}

// Numeric returns the fields that have a numeric reading: numbers as-is
// and switches as 1 or 0.
func (s *Snapshot) Numeric() map[string]float64 {
	out := make(map[string]float64)
	if s == nil {
		return out
	}
	for k, v := range s.fields {
		switch v.Kind {
		case KindNumber:
			out[k] = v.Number
		case KindSwitch:
			if v.Text == StateOn {
				out[k] = 1
			} else {
				out[k] = 0
			}
		}
	}
	return out
}

// MarshalJSON encodes the snapshot as a flat object of field values.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.fields)
}

// SnapshotCell holds the current snapshot. One writer (the poller) swaps in
// whole snapshots; any number of readers load them without locking.
type SnapshotCell struct {
	current atomic.Pointer[Snapshot]
}

// Load returns the current snapshot, or nil before the first poll.
func (c *SnapshotCell) Load() *Snapshot {
	return c.current.Load()
}

// Swap publishes next and returns the snapshot it replaced.
func (c *SnapshotCell) Swap(next *Snapshot) *Snapshot {
	return c.current.Swap(next)
}
