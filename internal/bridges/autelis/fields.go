package autelis

import (
	"fmt"
	"strconv"
	"strings"
)

// Sections of the controller's status document.
const (
	sectionSystem    = "system"
	sectionEquipment = "equipment"
	sectionTemp      = "temp"
)

// batteryScale converts the raw vbat code to volts.
const batteryScale = 0.01464

var runStates = map[int]string{
	1:  "Not Connected",
	2:  "Startup Initialization Sequence 2",
	3:  "Startup Initialization Sequence 3",
	4:  "Startup Initialization Sequence 4",
	5:  "Startup Initialization Sequence 5",
	6:  "Startup Initialization Sequence 6",
	7:  "Startup Initialization Sequence 7",
	8:  "Connected and Ready",
	9:  "Connected and Busy Executing Command 9",
	10: "Connected and Busy Executing Command 10",
	11: "Connected and Busy Executing Command 11",
	12: "Connected and Busy Executing Command 12",
}

var opModes = map[int]string{
	0: "Auto",
	1: "Service",
	2: "Timeout",
}

// Heater states. "enabled" means armed but not currently heating.
var heaterStates = map[int]string{
	0: "off",
	1: "enabled",
	2: "on",
}

var batteryStates = map[bool]string{
	false: "Normal",
	true:  "Low",
}

// decodeFunc turns one raw element into a Value. ok=false drops the field.
type decodeFunc func(raw string) (v Value, ok bool, err error)

// fieldSpec describes one known element of the status document.
type fieldSpec struct {
	section string
	decode  decodeFunc
}

// setpointFields are written with temp= and compared numerically.
var setpointFields = map[string]bool{
	"poolsp":  true,
	"poolsp2": true,
	"spasp":   true,
}

// IsSetpoint reports whether the native field is a temperature setpoint.
func IsSetpoint(native string) bool {
	return setpointFields[native]
}

// fieldTable lists every element the normaliser understands. Elements not
// listed here are ignored.
var fieldTable = buildFieldTable()

func buildFieldTable() map[string]fieldSpec {
	t := map[string]fieldSpec{
		"runstate": {sectionSystem, decodeEnum(runStates)},
		"model":    {sectionSystem, decodeText},
		"dip":      {sectionSystem, decodeText},
		"opmode":   {sectionSystem, decodeEnum(opModes)},
		"vbat":     {sectionSystem, decodeBattery},
		"lowbat":   {sectionSystem, decodeLowBattery},
		"version":  {sectionSystem, decodeText},
		"time":     {sectionSystem, dropField},

		"pump":      {sectionEquipment, decodeSwitch},
		"pumplo":    {sectionEquipment, decodeSwitch},
		"spa":       {sectionEquipment, decodeSwitch},
		"waterfall": {sectionEquipment, decodeSwitch},
		"cleaner":   {sectionEquipment, decodeSwitch},
		"poolht":    {sectionEquipment, decodeEnum(heaterStates)},
		"spaht":     {sectionEquipment, decodeEnum(heaterStates)},
		"solarht":   {sectionEquipment, decodeEnum(heaterStates)},

		"poolsp":    {sectionTemp, decodeNumber},
		"poolsp2":   {sectionTemp, decodeNumber},
		"spasp":     {sectionTemp, decodeNumber},
		"pooltemp":  {sectionTemp, decodeNumber},
		"spatemp":   {sectionTemp, decodeNumber},
		"airtemp":   {sectionTemp, decodeNumber},
		"solartemp": {sectionTemp, decodeNumber},
		"tempunits": {sectionTemp, decodeText},
	}
	for i := 1; i <= 23; i++ {
		t[fmt.Sprintf("aux%d", i)] = fieldSpec{sectionEquipment, decodeSwitch}
	}
	return t
}

func parseCode(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer code", ErrDecode, raw)
	}
	return n, nil
}

func decodeSwitch(raw string) (Value, bool, error) {
	n, err := parseCode(raw)
	if err != nil {
		return Value{}, false, err
	}
	if n != 0 {
		return SwitchValue(true), true, nil
	}
	return SwitchValue(false), true, nil
}

func decodeEnum(table map[int]string) decodeFunc {
	return func(raw string) (Value, bool, error) {
		n, err := parseCode(raw)
		if err != nil {
			return Value{}, false, err
		}
		label, ok := table[n]
		if !ok {
			label = fmt.Sprintf("Unknown (%d)", n)
		}
		return EnumValue(label), true, nil
	}
}

func decodeBattery(raw string) (Value, bool, error) {
	n, err := parseCode(raw)
	if err != nil {
		return Value{}, false, err
	}
	return NumberValue(float64(n) * batteryScale), true, nil
}

func decodeLowBattery(raw string) (Value, bool, error) {
	n, err := parseCode(raw)
	if err != nil {
		return Value{}, false, err
	}
	return EnumValue(batteryStates[n != 0]), true, nil
}

// decodeNumber copies a temperature or setpoint. An empty element (no
// sensor fitted) drops the field.
func decodeNumber(raw string) (Value, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Value{}, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, false, fmt.Errorf("%w: %q is not a number", ErrDecode, raw)
	}
	return NumberValue(f), true, nil
}

func decodeText(raw string) (Value, bool, error) {
	return TextValue(strings.TrimSpace(raw)), true, nil
}

func dropField(string) (Value, bool, error) {
	return Value{}, false, nil
}
