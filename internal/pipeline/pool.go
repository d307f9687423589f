package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/accent"
	"github.com/snarg/accent-engine/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("analysis queue is full")
	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("analysis pool is stopped")
)

// Runner is satisfied by *Pipeline.
type Runner interface {
	Run(ctx context.Context, req Request) (accent.Result, error)
}

// Outcome is what a worker delivers back to the submitter.
type Outcome struct {
	Result accent.Result
	Err    error
}

// QueueStats reports the current state of the analysis queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Active    int   `json:"active"`
	Capacity  int   `json:"capacity"`
	Workers   int   `json:"workers"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// PoolOptions configures the worker pool.
type PoolOptions struct {
	Runner    Runner
	Workers   int
	QueueSize int
	Log       zerolog.Logger
}

type job struct {
	ctx  context.Context
	req  Request
	done chan Outcome
}

// Pool bounds how many analyses run at once. Submissions beyond the queue
// size are refused rather than blocked.
type Pool struct {
	jobs chan job
	opts PoolOptions
	log  zerolog.Logger
	wg   sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a worker pool. Workers below 1 are raised to 1.
func NewPool(opts PoolOptions) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	return &Pool{
		jobs: make(chan job, opts.QueueSize),
		opts: opts,
		log:  opts.Log.With().Str("component", "pool").Logger(),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", p.opts.QueueSize).Msg("analysis worker pool started")
}

// Stop refuses new work, drains queued jobs and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("analysis worker pool stopped")
}

// Submit queues an analysis and returns a channel that receives exactly one
// Outcome. A request without an ID is assigned one. ctx governs the run
// itself; if it is done before a worker picks the job up, the Outcome
// carries ctx.Err().
func (p *Pool) Submit(ctx context.Context, req Request) (<-chan Outcome, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	j := job{ctx: ctx, req: req, done: make(chan Outcome, 1)}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		metrics.RejectedTotal.WithLabelValues("stopped").Inc()
		return nil, ErrPoolStopped
	}

	// With an unbuffered queue, a hand-off to an idle worker still succeeds.
	select {
	case p.jobs <- j:
		return j.done, nil
	default:
		metrics.RejectedTotal.WithLabelValues("queue_full").Inc()
		return nil, ErrQueueFull
	}
}

// Do submits req and waits for its Outcome or for ctx to end.
func (p *Pool) Do(ctx context.Context, req Request) (accent.Result, error) {
	done, err := p.Submit(ctx, req)
	if err != nil {
		return accent.Result{}, err
	}
	select {
	case out := <-done:
		return out.Result, out.Err
	case <-ctx.Done():
		return accent.Result{}, ctx.Err()
	}
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(p.jobs),
		Active:    int(p.active.Load()),
		Capacity:  cap(p.jobs),
		Workers:   p.opts.Workers,
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Pending returns the number of queued jobs.
func (p *Pool) Pending() int { return len(p.jobs) }

// Active returns the number of running jobs.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Capacity returns the queue size.
func (p *Pool) Capacity() int { return cap(p.jobs) }

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.opts.Workers }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for j := range p.jobs {
		if err := j.ctx.Err(); err != nil {
			p.failed.Add(1)
			j.done <- Outcome{Err: err}
			log.Debug().Str("analysis_id", j.req.ID).Msg("request abandoned before start")
			continue
		}

		p.active.Add(1)
		res, err := p.opts.Runner.Run(j.ctx, j.req)
		p.active.Add(-1)

		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		j.done <- Outcome{Result: res, Err: err}
	}
}
