package autelis

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestValue_String(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{SwitchValue(true), "on"},
		{SwitchValue(false), "off"},
		{NumberValue(84), "84"},
		{NumberValue(4.392), "4.392"},
		{EnumValue("Auto"), "Auto"},
		{TextValue("1.6.9"), "1.6.9"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestSnapshot_ImmutableCopy(t *testing.T) {
	fields := map[string]Value{"jets": SwitchValue(true)}
	snap := NewSnapshot(fields, time.Now())

	fields["jets"] = SwitchValue(false)
	if v, _ := snap.Get("jets"); v.Text != StateOn {
		t.Error("NewSnapshot did not copy its input")
	}

	out := snap.Fields()
	out["jets"] = SwitchValue(false)
	if v, _ := snap.Get("jets"); v.Text != StateOn {
		t.Error("Fields() exposed internal state")
	}
}

func TestSnapshot_NilSafe(t *testing.T) {
	var snap *Snapshot
	if snap.Len() != 0 || len(snap.Keys()) != 0 || !snap.TakenAt().IsZero() {
		t.Error("nil snapshot accessors should return zero values")
	}
	if _, ok := snap.Get("x"); ok {
		t.Error("nil snapshot Get() ok = true")
	}
	data, err := json.Marshal(snap)
	if err != nil || string(data) != "null" {
		t.Errorf("json.Marshal(nil) = %s, %v", data, err)
	}
}

func TestSnapshot_Changed(t *testing.T) {
	prev := NewSnapshot(map[string]Value{
		"jets":         SwitchValue(true),
		"poolSetpoint": NumberValue(82),
		"pump":         SwitchValue(true),
	}, time.Now())
	next := NewSnapshot(map[string]Value{
		"jets":         SwitchValue(false),
		"poolSetpoint": NumberValue(82),
		"pump":         SwitchValue(true),
		"airtemp":      NumberValue(70),
	}, time.Now())

	if got, want := next.Changed(prev), []string{"airtemp", "jets"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Changed() = %v, want %v", got, want)
	}
	if got := next.Changed(nil); len(got) != 4 {
		t.Errorf("Changed(nil) = %v, want every key", got)
	}
}

func TestSnapshot_Removed(t *testing.T) {
	prev := NewSnapshot(map[string]Value{
		"jets":      SwitchValue(true),
		"solartemp": NumberValue(90),
		"airtemp":   NumberValue(70),
	}, time.Now())
	next := NewSnapshot(map[string]Value{
		"jets": SwitchValue(false),
	}, time.Now())

	if got, want := next.Removed(prev), []string{"airtemp", "solartemp"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Removed() = %v, want %v", got, want)
	}
	if got := next.Removed(nil); len(got) != 0 {
		t.Errorf("Removed(nil) = %v, want none", got)
	}
}

func TestSnapshot_NumericAndJSON(t *testing.T) {
	snap := NewSnapshot(map[string]Value{
		"jets":     SwitchValue(true),
		"blower":   SwitchValue(false),
		"pooltemp": NumberValue(78.5),
		"opmode":   EnumValue("Auto"),
	}, time.Now())

	want := map[string]float64{"jets": 1, "blower": 0, "pooltemp": 78.5}
	if got := snap.Numeric(); !reflect.DeepEqual(got, want) {
		t.Errorf("Numeric() = %v, want %v", got, want)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	const wantJSON = `{"blower":"off","jets":"on","opmode":"Auto","pooltemp":78.5}`
	if string(data) != wantJSON {
		t.Errorf("json = %s, want %s", data, wantJSON)
	}
}

func TestSnapshotCell_ConcurrentReaders(t *testing.T) {
	var cell SnapshotCell
	if cell.Load() != nil {
		t.Fatal("new cell should be empty")
	}

	first := NewSnapshot(map[string]Value{"n": NumberValue(0)}, time.Now())
	if prev := cell.Swap(first); prev != nil {
		t.Fatalf("Swap() on empty cell returned %v", prev)
	}

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				snap := cell.Load()
				if snap == nil || snap.Len() != 1 {
					t.Error("reader observed an incomplete snapshot")
					return
				}
			}
		}()
	}
	for i := 1; i <= 100; i++ {
		cell.Swap(NewSnapshot(map[string]Value{"n": NumberValue(float64(i))}, time.Now()))
	}
	wg.Wait()

	if v, _ := cell.Load().Get("n"); v.Number != 100 {
		t.Errorf("final value = %v, want 100", v.Number)
	}
}
