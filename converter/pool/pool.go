// Package pool bounds concurrent codec invocations to a fixed set of
// isolated execution contexts and serializes access to each one.
//
// Tasks queue FIFO at the pool level: the oldest unassigned task is always
// the next dispatched when any context frees up. Within one context tasks
// run strictly one at a time; across contexts there is no global ordering.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"heicConverter/converter/codec"
)

var (
	ErrNotReady   = errors.New("execution context is not ready")
	ErrInitFailed = errors.New("no execution context reached ready")
	ErrTerminated = errors.New("pool terminated")
)

const (
	DefaultInitTimeout = 5 * time.Second

	// A context is retired after this many consecutive out-of-band faults
	// and replaced if the pool would fall below MinContexts.
	maxConsecutiveFaults = 3
)

// CodecFactory builds the codec instance owned by one execution context.
type CodecFactory func() (codec.Codec, error)

// Config bounds the pool.
type Config struct {
	MaxContexts int           // default: host parallelism
	MinContexts int           // default: 1
	InitTimeout time.Duration // per-context ready wait, default 5s

	// Detect short-circuits initialization when it returns true, marking
	// the pool initialized with zero contexts. Used to skip codec loading
	// for automated non-interactive clients.
	Detect func() bool
}

func (c Config) withDefaults() Config {
	if c.MaxContexts <= 0 {
		c.MaxContexts = runtime.NumCPU()
	}
	if c.MinContexts <= 0 {
		c.MinContexts = 1
	}
	if c.MinContexts > c.MaxContexts {
		c.MinContexts = c.MaxContexts
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	return c
}

// Status is a read-only snapshot for observability.
type Status struct {
	TotalContexts int
	BusyContexts  int
	QueuedTasks   int
}

type initState int

const (
	stateUninitialized initState = iota
	stateInitializing
	stateInitialized
)

// Pool owns the execution contexts and the pending-task queue.
type Pool struct {
	newCodec CodecFactory
	logger   *zap.Logger

	mu         sync.Mutex
	cfg        Config
	state      initState
	initDone   chan struct{}
	initErr    error
	contexts   []*execContext
	pending    []*Task
	nextCtxID  int
	generation int
}

func New(newCodec CodecFactory, logger *zap.Logger) *Pool {
	return &Pool{newCodec: newCodec, logger: logger}
}

// Init creates the execution contexts concurrently. It is idempotent: a call
// while initialization is outstanding joins the pending result, and a call
// after success is a no-op. A failed initialization resets to uninitialized
// so the next submission retries lazily.
func (p *Pool) Init(ctx context.Context, cfg Config) error {
	p.mu.Lock()
	switch p.state {
	case stateInitialized:
		p.mu.Unlock()
		return nil
	case stateInitializing:
		done := p.initDone
		p.mu.Unlock()
		select {
		case <-done:
			p.mu.Lock()
			err := p.initErr
			p.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cfg = cfg.withDefaults()
	p.cfg = cfg
	p.state = stateInitializing
	p.initDone = make(chan struct{})
	p.initErr = nil
	gen := p.generation
	p.mu.Unlock()

	if cfg.Detect != nil && cfg.Detect() {
		p.logger.Info("non-interactive client detected, skipping context creation")
		return p.finishInit(gen, nil, nil)
	}

	contexts := make([]*execContext, cfg.MaxContexts)
	errs := make([]error, cfg.MaxContexts)
	var wg sync.WaitGroup
	for i := 0; i < cfg.MaxContexts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			contexts[i], errs[i] = p.createContext(ctx)
		}(i)
	}
	wg.Wait()

	live := contexts[:0]
	var firstErr error
	for i, ec := range contexts {
		if ec != nil {
			live = append(live, ec)
		} else if firstErr == nil {
			firstErr = errs[i]
		}
	}

	if len(live) == 0 {
		return p.finishInit(gen, nil, fmt.Errorf("%w: %v", ErrInitFailed, firstErr))
	}
	if firstErr != nil {
		p.logger.Warn("pool initialized degraded",
			zap.Int("requested", cfg.MaxContexts),
			zap.Int("created", len(live)),
			zap.Error(firstErr),
		)
	}
	return p.finishInit(gen, live, nil)
}

func (p *Pool) finishInit(gen int, contexts []*execContext, err error) error {
	p.mu.Lock()
	if p.generation != gen {
		// Terminated while initializing; the terminate path already settled
		// the init result for any joiners.
		p.mu.Unlock()
		for _, ec := range contexts {
			close(ec.stop)
		}
		return ErrTerminated
	}

	p.initErr = err
	if err != nil {
		p.state = stateUninitialized
	} else {
		p.state = stateInitialized
		p.contexts = contexts
		p.dispatchLocked()
	}
	close(p.initDone)
	p.mu.Unlock()
	return err
}

// createContext spawns one worker and waits for its ready signal. On timeout
// the context is still accepted into the pool; a context that never signaled
// ready may be masking a startup failure, so the acceptance is logged.
func (p *Pool) createContext(ctx context.Context) (*execContext, error) {
	p.mu.Lock()
	id := p.nextCtxID
	p.nextCtxID++
	timeout := p.cfg.InitTimeout
	p.mu.Unlock()

	ec := newExecContext(id, p.newCodec, p.logger)
	ec.requests <- initRequest{}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ec.responses:
		switch r := resp.(type) {
		case readyResponse:
			return ec, nil
		case errorResponse:
			close(ec.stop)
			return nil, r.err
		default:
			close(ec.stop)
			return nil, fmt.Errorf("unexpected init response %T", resp)
		}
	case <-timer.C:
		p.logger.Warn("context accepted without ready signal",
			zap.Int("context_id", id),
			zap.Duration("timeout", timeout),
		)
		return ec, nil
	case <-ctx.Done():
		close(ec.stop)
		return nil, ctx.Err()
	}
}

// Convert enqueues a task without blocking. The returned task settles exactly
// once unless the pool is terminated first.
func (p *Pool) Convert(input []byte, fileName string, opts codec.Options, onProgress func(int)) *Task {
	t := newTask(input, fileName, opts, onProgress)
	p.mu.Lock()
	p.pending = append(p.pending, t)
	p.dispatchLocked()
	p.mu.Unlock()
	return t
}

// dispatchLocked hands queued tasks to idle contexts, oldest first.
func (p *Pool) dispatchLocked() {
	for len(p.pending) > 0 {
		ec := p.idleContextLocked()
		if ec == nil {
			return
		}
		t := p.pending[0]
		p.pending = p.pending[1:]
		ec.busy = true
		ec.current = t
		go p.run(ec, t, p.generation)
	}
}

func (p *Pool) idleContextLocked() *execContext {
	for _, ec := range p.contexts {
		if !ec.busy {
			return ec
		}
	}
	return nil
}

// run drives one task conversation with its assigned context.
func (p *Pool) run(ec *execContext, t *Task, gen int) {
	select {
	case ec.requests <- convertRequest{input: t.input, fileName: t.fileName, opts: t.opts}:
	case <-ec.stop:
		return
	}

	for {
		select {
		case <-ec.stop:
			// Terminated out from under us; the task stays unsettled and
			// the caller must treat it as cancelled.
			return
		case resp := <-ec.responses:
			switch r := resp.(type) {
			case readyResponse:
				// Stale ready from a timed-out init. Ignore.
			case progressResponse:
				t.reportProgress(r.progress)
			case completeResponse:
				p.finish(ec, t, gen, r.result, nil, false)
				return
			case errorResponse:
				p.finish(ec, t, gen, nil, r.err, false)
				return
			case crashResponse:
				p.finish(ec, t, gen, nil, r.reason, true)
				return
			}
		}
	}
}

// finish settles a task, updates context health, and re-invokes dispatch.
func (p *Pool) finish(ec *execContext, t *Task, gen int, result *codec.Result, err error, crashed bool) {
	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		return
	}
	ec.busy = false
	ec.current = nil
	if crashed {
		ec.faults++
		if ec.faults >= maxConsecutiveFaults {
			p.retireLocked(ec, gen)
		}
	} else {
		ec.faults = 0
	}
	p.dispatchLocked()
	p.mu.Unlock()

	t.settle(result, err)
}

// retireLocked removes a repeatedly faulting context from rotation and
// arranges a replacement if the pool would drop below MinContexts.
func (p *Pool) retireLocked(ec *execContext, gen int) {
	close(ec.stop)
	for i, c := range p.contexts {
		if c == ec {
			p.contexts = append(p.contexts[:i], p.contexts[i+1:]...)
			break
		}
	}
	p.logger.Warn("retired faulty execution context",
		zap.Int("context_id", ec.id),
		zap.Int("consecutive_faults", ec.faults),
	)
	if len(p.contexts) < p.cfg.MinContexts {
		go p.replaceContext(gen)
	}
}

func (p *Pool) replaceContext(gen int) {
	ec, err := p.createContext(context.Background())
	if err != nil {
		p.logger.Error("failed to replace retired context", zap.Error(err))
		return
	}
	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		close(ec.stop)
		return
	}
	p.contexts = append(p.contexts, ec)
	p.dispatchLocked()
	p.mu.Unlock()
}

// Status returns a read-only snapshot of pool occupancy.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		TotalContexts: len(p.contexts),
		QueuedTasks:   len(p.pending),
	}
	for _, ec := range p.contexts {
		if ec.busy {
			st.BusyContexts++
		}
	}
	return st
}

// Initialized reports whether the pool is ready to accept work.
func (p *Pool) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateInitialized
}

// Terminate destroys all contexts and drops queued and in-flight tasks
// without settling them, then resets to uninitialized.
func (p *Pool) Terminate() {
	p.mu.Lock()
	p.generation++
	for _, ec := range p.contexts {
		close(ec.stop)
	}
	dropped := len(p.pending)
	p.contexts = nil
	p.pending = nil
	if p.state == stateInitializing {
		p.initErr = ErrTerminated
		close(p.initDone)
	}
	p.state = stateUninitialized
	p.mu.Unlock()

	if dropped > 0 {
		p.logger.Info("terminated with queued tasks dropped", zap.Int("dropped", dropped))
	}
}
