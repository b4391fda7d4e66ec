// Package coordinator binds file intake, scheduling, progress reporting,
// and output packaging together. It is the only policy layer over the queue
// store and the pool; all conversion state lives in the store and all
// execution lives in the pool.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"heicConverter/converter/codec"
	"heicConverter/converter/handle"
	"heicConverter/converter/pool"
	"heicConverter/converter/queue"
)

var ErrNothingToDeliver = errors.New("no completed outputs to deliver")

// defaultStagger spaces individual downloads when archive packaging is
// unavailable, to satisfy host download throttling.
const defaultStagger = 250 * time.Millisecond

type Option func(*Coordinator)

// WithArchiver sets the archive collaborator used for multi-output delivery.
func WithArchiver(a Archiver) Option {
	return func(c *Coordinator) { c.archiver = a }
}

// WithPoolConfig sets the config used for lazy pool initialization.
func WithPoolConfig(cfg pool.Config) Option {
	return func(c *Coordinator) { c.poolCfg = cfg }
}

// WithStagger overrides the delay between degraded individual deliveries.
func WithStagger(d time.Duration) Option {
	return func(c *Coordinator) { c.stagger = d }
}

// Coordinator drives queue entries through the pool and packages outputs.
type Coordinator struct {
	store    *queue.Store
	pool     *pool.Pool
	handles  *handle.Registry
	archiver Archiver
	poolCfg  pool.Config
	stagger  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	active int           // submissions not yet settled into the store
	idle   chan struct{} // closed when active drops back to zero
}

func New(store *queue.Store, p *pool.Pool, handles *handle.Registry, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		pool:    p,
		handles: handles,
		stagger: defaultStagger,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add filters files into the queue and submits every pending entry to the
// pool, initializing the pool lazily on first use. An empty result with a
// nil error means nothing was accepted; the caller surfaces that. An init
// failure leaves the accepted entries pending so the next Add retries.
func (c *Coordinator) Add(ctx context.Context, files []queue.File, opts codec.Options) ([]queue.Entry, error) {
	entries := c.store.AddFiles(files)
	if len(entries) == 0 {
		return entries, nil
	}

	if err := c.pool.Init(ctx, c.poolCfg); err != nil {
		c.logger.Error("pool initialization failed, entries left pending",
			zap.Int("pending", len(entries)),
			zap.Error(err),
		)
		return entries, fmt.Errorf("initialize pool: %w", err)
	}

	c.submitPending(opts)
	return entries, nil
}

// submitPending fans out every pending entry in one pass. Execution order
// beyond pool size is governed by the pool's FIFO queue.
func (c *Coordinator) submitPending(opts codec.Options) {
	for _, e := range c.store.All() {
		if e.Status == queue.StatusPending {
			c.submit(e, opts)
		}
	}
}

func (c *Coordinator) submit(e queue.Entry, opts codec.Options) {
	id := e.ID
	c.store.UpdateStatus(id, queue.StatusProcessing, queue.Patch{})

	task := c.pool.Convert(e.Input, e.Name, opts, func(pct int) {
		c.store.SetProgress(id, pct)
	})

	c.taskStarted()
	go func() {
		defer c.taskFinished()
		result, err := task.Result()
		if err != nil {
			c.logger.Warn("conversion failed",
				zap.Int64("entry_id", id),
				zap.String("file", e.Name),
				zap.Error(err),
			)
			c.store.SetError(id, err)
			return
		}

		outName := outputName(e.Name, opts)
		rh := c.handles.New(outName, mediaTypeFor(opts), result.Data)
		ph := rh
		if len(result.Preview) > 0 {
			ph = c.handles.New(previewName(e.Name), "image/jpeg", result.Preview)
		}
		c.store.SetComplete(id, rh, int64(len(result.Data)), ph)
	}()
}

func (c *Coordinator) taskStarted() {
	c.mu.Lock()
	if c.active == 0 {
		c.idle = make(chan struct{})
	}
	c.active++
	c.mu.Unlock()
}

func (c *Coordinator) taskFinished() {
	c.mu.Lock()
	c.active--
	if c.active == 0 {
		close(c.idle)
	}
	c.mu.Unlock()
}

// Wait blocks until every submitted entry reaches a terminal status. All
// callers share one idle channel per batch, so a cancelled Wait leaves
// nothing behind.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	if c.active == 0 {
		c.mu.Unlock()
		return nil
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver hands completed outputs to sink: a single output directly, several
// as one archive. If archive packaging is unavailable or fails, delivery
// degrades to sequential individual downloads staggered by a fixed delay.
func (c *Coordinator) Deliver(ctx context.Context, sink DeliverySink) error {
	var completed []queue.Entry
	for _, e := range c.store.All() {
		if e.Status == queue.StatusComplete && e.Result != nil {
			completed = append(completed, e)
		}
	}

	switch len(completed) {
	case 0:
		return ErrNothingToDeliver
	case 1:
		return sink.Deliver(ctx, completed[0].Result)
	}

	archive, err := c.buildArchive(completed)
	if err != nil {
		c.logger.Warn("archive packaging unavailable, delivering individually", zap.Error(err))
		return c.deliverIndividually(ctx, sink, completed)
	}
	defer archive.Release()
	return sink.Deliver(ctx, archive)
}

func (c *Coordinator) buildArchive(completed []queue.Entry) (*handle.Handle, error) {
	if c.archiver == nil {
		return nil, errors.New("no archive collaborator configured")
	}

	builder := c.archiver.Create()
	seen := make(map[string]int)
	for _, e := range completed {
		data, err := e.Result.Bytes()
		if err != nil {
			return nil, fmt.Errorf("fetch output for %s: %w", e.Name, err)
		}
		if err := builder.Add(dedupeName(seen, e.Result.Name), data); err != nil {
			return nil, err
		}
	}

	data, err := builder.Finalize()
	if err != nil {
		return nil, err
	}
	return c.handles.New("converted.zip", "application/zip", data), nil
}

func (c *Coordinator) deliverIndividually(ctx context.Context, sink DeliverySink, completed []queue.Entry) error {
	for i, e := range completed {
		if i > 0 {
			select {
			case <-time.After(c.stagger):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := sink.Deliver(ctx, e.Result); err != nil {
			return fmt.Errorf("deliver %s: %w", e.Result.Name, err)
		}
	}
	return nil
}

// Clear tears everything down through the queue notification path: the
// store releases every handle and emits a single cleared event.
func (c *Coordinator) Clear() {
	c.store.Clear()
}

func outputName(input string, opts codec.Options) string {
	stem := strings.TrimSuffix(input, filepath.Ext(input))
	if opts.Normalized().Format == "png" {
		return stem + ".png"
	}
	return stem + ".jpg"
}

func previewName(input string) string {
	stem := strings.TrimSuffix(input, filepath.Ext(input))
	return stem + "-preview.jpg"
}

func mediaTypeFor(opts codec.Options) string {
	if opts.Normalized().Format == "png" {
		return "image/png"
	}
	return "image/jpeg"
}

func dedupeName(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s (%d)%s", stem, n, ext)
}
