package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/accent"
)

// stubRunner blocks on gate (when set) and returns a fixed outcome.
type stubRunner struct {
	gate  chan struct{}
	err   error
	calls atomic.Int64
}

func (s *stubRunner) Run(ctx context.Context, req Request) (accent.Result, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return accent.Result{}, ctx.Err()
		}
	}
	if s.err != nil {
		return accent.Result{}, s.err
	}
	return accent.Result{Kind: accent.KindOK, Accent: accent.English, Confidence: 90, Excerpt: req.Source}, nil
}

func newTestPool(r Runner, workers, queueSize int) *Pool {
	return NewPool(PoolOptions{
		Runner:    r,
		Workers:   workers,
		QueueSize: queueSize,
		Log:       zerolog.Nop(),
	})
}

func TestNewPool(t *testing.T) {
	p := newTestPool(&stubRunner{}, 0, 100)
	if p.Capacity() != 100 {
		t.Errorf("Capacity = %d, want 100", p.Capacity())
	}
	if p.Workers() != 1 {
		t.Errorf("Workers = %d, want 1 (raised from 0)", p.Workers())
	}
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	p := newTestPool(&stubRunner{}, 1, 5)
	if _, err := p.Submit(context.Background(), Request{Source: "a"}); err != nil {
		t.Errorf("Submit should buffer before Start, got %v", err)
	}
	if got := p.Stats().Pending; got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}
}

func TestPool_SubmitFull(t *testing.T) {
	p := newTestPool(&stubRunner{}, 1, 2) // not started, nobody draining

	for i := 0; i < 2; i++ {
		if _, err := p.Submit(context.Background(), Request{}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	_, err := p.Submit(context.Background(), Request{})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("third Submit err = %v, want ErrQueueFull", err)
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := newTestPool(&stubRunner{}, 1, 10)
	p.Start()
	p.Stop()

	_, err := p.Submit(context.Background(), Request{})
	if !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit after Stop err = %v, want ErrPoolStopped", err)
	}
	p.Stop() // idempotent
}

func TestPool_Do(t *testing.T) {
	r := &stubRunner{}
	p := newTestPool(r, 2, 4)
	p.Start()
	defer p.Stop()

	res, err := p.Do(context.Background(), Request{Source: "hello"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Accent != accent.English || res.Excerpt != "hello" {
		t.Errorf("result = %+v", res)
	}
	if got := p.Stats().Completed; got != 1 {
		t.Errorf("Completed = %d, want 1", got)
	}
}

func TestPool_FatalErrorCountsFailed(t *testing.T) {
	boom := errors.New("fetch failed")
	p := newTestPool(&stubRunner{err: boom}, 1, 1)
	p.Start()
	defer p.Stop()

	_, err := p.Do(context.Background(), Request{})
	if !errors.Is(err, boom) {
		t.Fatalf("Do err = %v, want %v", err, boom)
	}
	if got := p.Stats().Failed; got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	r := &stubRunner{gate: make(chan struct{})}
	p := newTestPool(r, 2, 1)
	p.Start()

	// The queue holds one job, so each submission must be picked up by a
	// worker before the next one goes in.
	var chans []<-chan Outcome
	for i := 0; i < 2; i++ {
		ch, err := p.Submit(context.Background(), Request{})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		chans = append(chans, ch)
		want := i + 1
		waitFor(t, func() bool { return p.Active() == want })
	}

	// Both workers busy: one queued job fits, the next is refused.
	ch, err := p.Submit(context.Background(), Request{})
	if err != nil {
		t.Fatalf("queued Submit: %v", err)
	}
	chans = append(chans, ch)
	if _, err := p.Submit(context.Background(), Request{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("overflow Submit err = %v, want ErrQueueFull", err)
	}
	if got := p.Active(); got != 2 {
		t.Errorf("Active = %d, want 2", got)
	}

	close(r.gate)
	for _, ch := range chans {
		if out := <-ch; out.Err != nil {
			t.Errorf("outcome err: %v", out.Err)
		}
	}
	p.Stop()
	if got := p.Stats().Completed; got != 3 {
		t.Errorf("Completed = %d, want 3", got)
	}
}

func TestPool_CancelledBeforeStart(t *testing.T) {
	r := &stubRunner{}
	p := newTestPool(r, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Submit(ctx, Request{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cancel()
	p.Start()
	out := <-ch
	p.Stop()

	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("outcome err = %v, want context.Canceled", out.Err)
	}
	if r.calls.Load() != 0 {
		t.Error("runner should not be called for an abandoned request")
	}
}

func TestPool_DoHonoursContext(t *testing.T) {
	r := &stubRunner{gate: make(chan struct{})}
	p := newTestPool(r, 1, 1)
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Do(ctx, Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do err = %v, want DeadlineExceeded", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
