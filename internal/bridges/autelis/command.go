package autelis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// exceptionSentinel marks device names used for error signalling on the
// bus. Commands addressed to them are never executed.
const exceptionSentinel = "exception"

// Outcome is what the command processor did with a command.
type Outcome string

// Command outcomes.
const (
	// OutcomeIgnored is a harmless no-op: a sentinel name, no snapshot yet,
	// or an unresolved name whose state does not conflict.
	OutcomeIgnored Outcome = "ignored"

	// OutcomeRejected is a ValidationError.
	OutcomeRejected Outcome = "rejected"

	// OutcomeUnchanged means the controller already reports the desired state.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeDispatched means the write was sent to the controller.
	OutcomeDispatched Outcome = "dispatched"

	// OutcomeQueued means the write was appended to the request queue.
	OutcomeQueued Outcome = "queued"

	// OutcomeFailed is a transport or internal failure.
	OutcomeFailed Outcome = "failed"
)

// CommandResult describes one processed command.
type CommandResult struct {
	Device  string        `json:"device"`
	Native  string        `json:"native,omitempty"`
	Desired string        `json:"desired"`
	Outcome Outcome       `json:"outcome"`
	Request *WriteRequest `json:"request,omitempty"`
	Err     error         `json:"-"`
}

// CommandProcessor validates commands against the current snapshot and
// turns the ones that change something into controller writes. Boolean
// writes are sent immediately; setpoint writes go through the queue.
//
// It does not touch the snapshot: the next poll is authoritative.
type CommandProcessor struct {
	mapper *Mapper
	cell   *SnapshotCell
	writer Writer
	queue  *Queue
	sink   ErrorSink
}

// NewCommandProcessor creates a CommandProcessor.
func NewCommandProcessor(mapper *Mapper, cell *SnapshotCell, writer Writer, queue *Queue, sink ErrorSink) *CommandProcessor {
	return &CommandProcessor{
		mapper: mapper,
		cell:   cell,
		writer: writer,
		queue:  queue,
		sink:   sink,
	}
}

// Command handles a request to set device (canonical or native name) to
// desired. Failures are reported to the sink and returned in the result;
// Command itself never panics.
func (p *CommandProcessor) Command(ctx context.Context, device, desired string) (res CommandResult) {
	device = strings.TrimSpace(device)
	desired = strings.TrimSpace(desired)
	res = CommandResult{Device: device, Desired: desired}

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("%w: command %s=%s: %v", ErrInternal, device, desired, r)
			p.sink.Report(res.Err)
		}
	}()

	if strings.Contains(device, exceptionSentinel) {
		res.Outcome = OutcomeIgnored
		return res
	}
	snap := p.cell.Load()
	if snap == nil {
		res.Outcome = OutcomeIgnored
		return res
	}

	native, ok := p.mapper.Resolve(device)
	if !ok {
		current, present := snap.Get(device)
		if present && !equalsCurrent(current, desired) {
			return p.reject(res, fmt.Errorf("%w: cannot set %s", ErrValidation, device))
		}
		res.Outcome = OutcomeIgnored
		return res
	}
	res.Native = native

	// An echo of the current value is a no-op whatever its kind, so this
	// runs before the value is classified.
	if key, keyed := p.mapper.Key(native); keyed {
		if current, present := snap.Get(key); present && equalsCurrent(current, desired) {
			res.Outcome = OutcomeUnchanged
			return res
		}
	}

	req, err := encodeWrite(native, desired)
	if err != nil {
		return p.reject(res, err)
	}
	res.Request = &req

	if req.Param == ParamTemp {
		p.queue.Enqueue(req)
		res.Outcome = OutcomeQueued
		return res
	}

	if err := p.writer.Write(ctx, req); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("command %s: %w", device, err)
		p.sink.Report(res.Err)
		return res
	}
	res.Outcome = OutcomeDispatched
	return res
}

func (p *CommandProcessor) reject(res CommandResult, err error) CommandResult {
	res.Outcome = OutcomeRejected
	res.Err = err
	p.sink.Report(err)
	return res
}

// encodeWrite builds the controller write for native=desired. Switch
// tokens on a non-setpoint field become value writes; anything else must be
// a finite number and becomes a temp write.
func encodeWrite(native, desired string) (WriteRequest, error) {
	if !IsSetpoint(native) {
		switch switchToken(desired) {
		case StateOn:
			return WriteRequest{Name: native, Param: ParamValue, Value: "1"}, nil
		case StateOff:
			return WriteRequest{Name: native, Param: ParamValue, Value: "0"}, nil
		}
	}

	f, ok := parseFinite(desired)
	if !ok {
		if IsSetpoint(native) {
			return WriteRequest{}, fmt.Errorf("%w: setpoint %s needs a number, got %q", ErrValidation, native, desired)
		}
		return WriteRequest{}, fmt.Errorf("%w: %s accepts on/off or a number, got %q", ErrValidation, native, desired)
	}
	return WriteRequest{Name: native, Param: ParamTemp, Value: strconv.FormatFloat(f, 'f', -1, 64)}, nil
}

// parseFinite parses s as a number, refusing NaN and the infinities that
// strconv.ParseFloat otherwise accepts.
func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// switchToken folds the accepted boolean spellings to on/off. Anything
// else is returned lower-cased.
func switchToken(s string) string {
	switch t := strings.ToLower(s); t {
	case "on", "1", "true":
		return StateOn
	case "off", "0", "false":
		return StateOff
	default:
		return t
	}
}

// equalsCurrent reports whether desired already matches current. Numbers
// compare numerically; everything else compares case-folded strings with
// the boolean spellings folded to on/off.
func equalsCurrent(current Value, desired string) bool {
	if current.Kind == KindNumber {
		f, ok := parseFinite(desired)
		return ok && f == current.Number
	}
	return switchToken(desired) == strings.ToLower(current.Text)
}
