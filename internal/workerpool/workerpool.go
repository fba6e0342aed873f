// Package workerpool amortizes CPU-heavy decompression off the request
// path, wrapping github.com/panjf2000/ants/v2. Taking a queue slot is
// non-blocking (a buffered channel used as a semaphore, with a select
// default that fails fast); once a slot is taken, handing the task to ants
// waits for a free worker when every worker is busy.
package workerpool

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"mediaproxy/internal/decompress"
)

// ErrSaturated is returned when the bounded task queue is full; the caller
// should fall back to inline decode rather than treat this as fatal.
var ErrSaturated = errors.New("workerpool: queue saturated")

// Result is a completed decompression outcome.
type Result struct {
	Bytes    []byte
	Encoding decompress.Encoding
	Ok       bool
}

// Pool bounds a set of decompression workers behind a bounded FIFO queue,
// implemented as a buffered channel acting as an admission gate in front of
// the underlying ants.Pool.
type Pool struct {
	inner *ants.Pool
	slots chan struct{}

	successes atomic.Int64
	failures  atomic.Int64
	highWater atomic.Int64
	depth     atomic.Int64

	onDepthChange func(int)
}

// New creates a Pool with size workers and a bounded queue of queueSize
// pending task slots.
func New(size, queueSize int) (*Pool, error) {
	inner, err := ants.NewPool(size, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}
	return &Pool{
		inner: inner,
		slots: make(chan struct{}, queueSize),
	}, nil
}

// OnDepthChange registers a callback invoked whenever the queue depth
// changes, used by internal/metrics to drive the queue-depth gauge.
func (p *Pool) OnDepthChange(fn func(int)) {
	p.onDepthChange = fn
}

// Release shuts the pool down, draining the queue and rejecting any task
// submitted afterward.
func (p *Pool) Release() {
	p.inner.Release()
}

// Submit attempts to enqueue a decompression task. It returns ErrSaturated
// immediately if the queue is full, letting the caller fall back to an
// inline decode rather than block. With a slot free, it returns after ants
// has accepted the task, which waits while all workers are busy.
func (p *Pool) Submit(ctx context.Context, input []byte, declared decompress.Encoding) (<-chan Result, error) {
	select {
	case p.slots <- struct{}{}:
	default:
		return nil, ErrSaturated
	}

	p.noteDepth(1)
	if d := p.depth.Load(); d > p.highWater.Load() {
		p.highWater.Store(d)
	}

	resultCh := make(chan Result, 1)
	err := p.inner.Submit(func() {
		defer func() {
			<-p.slots
			p.noteDepth(-1)
		}()

		select {
		case <-ctx.Done():
			p.failures.Add(1)
			resultCh <- Result{Ok: false}
			return
		default:
		}

		out, usedEnc, ok := decompress.Decompress(input, declared)
		if ok {
			p.successes.Add(1)
		} else {
			p.failures.Add(1)
		}
		resultCh <- Result{Bytes: out, Encoding: usedEnc, Ok: ok}
	})
	if err != nil {
		<-p.slots
		p.noteDepth(-1)
		return nil, err
	}

	return resultCh, nil
}

func (p *Pool) noteDepth(delta int64) {
	d := p.depth.Add(delta)
	if p.onDepthChange != nil {
		p.onDepthChange(int(d))
	}
}

// Stats is the /workers/stats telemetry snapshot.
type Stats struct {
	Running       int   `json:"running"`
	Capacity      int   `json:"capacity"`
	QueueDepth    int64 `json:"queueDepth"`
	QueueCapacity int   `json:"queueCapacity"`
	HighWaterMark int64 `json:"highWaterMark"`
	Successes     int64 `json:"successes"`
	Failures      int64 `json:"failures"`
}

// Stats reports the pool's current telemetry.
func (p *Pool) Stats() Stats {
	return Stats{
		Running:       p.inner.Running(),
		Capacity:      p.inner.Cap(),
		QueueDepth:    p.depth.Load(),
		QueueCapacity: cap(p.slots),
		HighWaterMark: p.highWater.Load(),
		Successes:     p.successes.Load(),
		Failures:      p.failures.Load(),
	}
}
