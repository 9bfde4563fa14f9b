package autelis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultRequestSpacing = 1500 * time.Millisecond

// Queue is the FIFO of deferred controller writes. Producers append with
// Enqueue; a single consumer (Run) executes one request per cycle and then
// waits the fixed spacing, which caps the write rate seen by the controller.
//
// Failed requests are reported and dropped, never retried.
type Queue struct {
	writer  Writer
	sink    ErrorSink
	spacing time.Duration

	mu    sync.Mutex
	items []WriteRequest

	executed atomic.Uint64
	failed   atomic.Uint64
}

// NewQueue creates a queue that executes requests with writer.
func NewQueue(writer Writer, sink ErrorSink, spacing time.Duration) *Queue {
	if spacing <= 0 {
		spacing = defaultRequestSpacing
	}
	return &Queue{writer: writer, sink: sink, spacing: spacing}
}

// Enqueue appends req to the tail of the queue.
func (q *Queue) Enqueue(req WriteRequest) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()
}

// Len returns the number of waiting requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the waiting requests, oldest first.
func (q *Queue) Pending() []WriteRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]WriteRequest(nil), q.items...)
}

// Executed returns how many requests were written successfully.
func (q *Queue) Executed() uint64 { return q.executed.Load() }

// Failed returns how many requests failed and were dropped.
func (q *Queue) Failed() uint64 { return q.failed.Load() }

func (q *Queue) dequeue() (WriteRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return WriteRequest{}, false
	}
	req := q.items[0]
	q.items[0] = WriteRequest{}
	q.items = q.items[1:]
	return req, true
}

// Step executes the oldest request, if any, and reports whether one was
// taken. It never blocks on an empty queue.
func (q *Queue) Step(ctx context.Context) bool {
	req, ok := q.dequeue()
	if !ok {
		return false
	}
	if err := q.writer.Write(ctx, req); err != nil {
		q.failed.Add(1)
		q.sink.Report(fmt.Errorf("queued write %s: %w", req, err))
		return true
	}
	q.executed.Add(1)
	return true
}

// Run is the consumer loop: Step, wait the spacing, repeat until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		q.Step(ctx)

		timer.Reset(q.spacing)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}
