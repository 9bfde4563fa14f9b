package autelis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 2 * time.Second

// SnapshotHandler is called after a new snapshot has been published.
// prev is nil for the first snapshot.
type SnapshotHandler func(prev, next *Snapshot)

// Poller fetches the controller status on a fixed schedule and publishes
// each decoded snapshot into a SnapshotCell.
//
// At most one fetch is ever in flight: PollOnce returns ErrPollInFlight
// instead of starting a second one.
type Poller struct {
	fetcher    StatusFetcher
	normalizer *Normalizer
	cell       *SnapshotCell
	sink       ErrorSink
	interval   time.Duration
	onSnapshot SnapshotHandler

	inFlight atomic.Bool

	succeeded atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64

	lastMu    sync.RWMutex
	lastPoll  time.Time
	lastError error
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Fetcher    StatusFetcher
	Normalizer *Normalizer
	Cell       *SnapshotCell
	Sink       ErrorSink

	// Interval is the fixed delay between polls. Default: 2s.
	Interval time.Duration

	// OnSnapshot is optional.
	OnSnapshot SnapshotHandler
}

// NewPoller creates a Poller.
func NewPoller(opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		fetcher:    opts.Fetcher,
		normalizer: opts.Normalizer,
		cell:       opts.Cell,
		sink:       opts.Sink,
		interval:   interval,
		onSnapshot: opts.OnSnapshot,
	}
}

// PollOnce fetches, decodes and publishes one snapshot.
//
// On a transport or decode failure the error is reported to the sink and
// returned, and the published snapshot is left untouched.
func (p *Poller) PollOnce(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return ErrPollInFlight
	}
	defer p.inFlight.Store(false)

	snap, err := p.fetch(ctx)
	if err != nil {
		p.failed.Add(1)
		p.setLast(time.Time{}, err)
		p.sink.Report(err)
		return err
	}

	prev := p.cell.Swap(snap)
	p.succeeded.Add(1)
	p.setLast(snap.TakenAt(), nil)

	if p.onSnapshot != nil {
		p.onSnapshot(prev, snap)
	}
	return nil
}

func (p *Poller) fetch(ctx context.Context) (*Snapshot, error) {
	raw, err := p.fetcher.FetchStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("polling controller: %w", err)
	}
	snap, err := p.normalizer.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("polling controller: %w", err)
	}
	return snap, nil
}

// Run polls, then waits the fixed interval, until ctx is cancelled. The
// schedule does not change after failures.
func (p *Poller) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		_ = p.PollOnce(ctx) //nolint:errcheck // reported to the sink

		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// InFlight reports whether a fetch is running.
func (p *Poller) InFlight() bool { return p.inFlight.Load() }

func (p *Poller) setLast(success time.Time, err error) {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	if err == nil {
		p.lastPoll = success
	}
	p.lastError = err
}

// PollStats is a point-in-time view of poller counters.
type PollStats struct {
	Succeeded uint64    `json:"succeeded"`
	Failed    uint64    `json:"failed"`
	Skipped   uint64    `json:"skipped"`
	LastPoll  time.Time `json:"last_poll,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Stats returns the poller counters.
func (p *Poller) Stats() PollStats {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	s := PollStats{
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
		LastPoll:  p.lastPoll,
	}
	if p.lastError != nil {
		s.LastError = p.lastError.Error()
	}
	return s
}
