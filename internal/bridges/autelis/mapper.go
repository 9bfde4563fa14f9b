package autelis

import (
	"fmt"
	"sort"

	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
)

// Mapper translates between bridge (canonical) device names and the
// controller's native field names, and knows which native fields accept
// writes. It is immutable after construction.
type Mapper struct {
	forward   map[string]string // canonical -> native
	backward  map[string]string // native -> canonical
	whitelist map[string]bool   // native

	// canonical names that differ from their native field
	claimed map[string]bool
}

// NewMapper builds a Mapper from the devices configuration.
//
// Every entry present in both directions must be a consistent inverse and
// no two native fields may share a canonical name.
func NewMapper(cfg config.DevicesConfig) (*Mapper, error) {
	m := &Mapper{
		forward:   make(map[string]string, len(cfg.Forward)),
		backward:  make(map[string]string, len(cfg.Backward)),
		whitelist: make(map[string]bool, len(cfg.Whitelist)),
		claimed:   make(map[string]bool),
	}

	for canonical, native := range cfg.Forward {
		if back, ok := cfg.Backward[native]; ok && back != canonical {
			return nil, fmt.Errorf("device map: %s maps to %s but %s maps back to %s", canonical, native, native, back)
		}
		m.forward[canonical] = native
		if canonical != native {
			m.claimed[canonical] = true
		}
	}

	owner := make(map[string]string, len(cfg.Backward))
	for native, canonical := range cfg.Backward {
		if other, dup := owner[canonical]; dup {
			return nil, fmt.Errorf("device map: %s and %s both map to %s", other, native, canonical)
		}
		owner[canonical] = native
		m.backward[native] = canonical
		if canonical != native {
			m.claimed[canonical] = true
		}
	}

	for _, native := range cfg.Whitelist {
		m.whitelist[native] = true
	}
	return m, nil
}

// ToNative returns the controller field for a canonical name.
func (m *Mapper) ToNative(canonical string) (string, bool) {
	native, ok := m.forward[canonical]
	return native, ok
}

// ToCanonical returns the canonical name for a controller field.
func (m *Mapper) ToCanonical(native string) (string, bool) {
	canonical, ok := m.backward[native]
	return canonical, ok
}

// Writable reports whether the native field is on the whitelist.
func (m *Mapper) Writable(native string) bool {
	return m.whitelist[native]
}

// Resolve turns a command target (canonical or native) into a writable
// native field. Canonical names are tried first.
func (m *Mapper) Resolve(name string) (string, bool) {
	native, ok := m.forward[name]
	if !ok {
		native = name
	}
	if !m.whitelist[native] {
		return "", false
	}
	return native, true
}

// Key returns the snapshot key for a native field: its canonical name when
// mapped, otherwise the native name itself. A native name that is also
// another field's canonical name is shadowed and has no key.
func (m *Mapper) Key(native string) (string, bool) {
	if canonical, ok := m.backward[native]; ok {
		return canonical, true
	}
	if m.claimed[native] {
		return "", false
	}
	return native, true
}

// Whitelist returns the writable native fields in sorted order.
func (m *Mapper) Whitelist() []string {
	out := make([]string, 0, len(m.whitelist))
	for native := range m.whitelist {
		out = append(out, native)
	}
	sort.Strings(out)
	return out
}
