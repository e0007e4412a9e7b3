// Package core implements the host object the device modules hang off:
// the default sample spec, the sink registry, the shared block pool and
// the main thread's maintenance loop. Device threads never touch the
// core directly; they reach it through their outbound message queues.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mixerd/mixerd/internal/asyncmsgq"
	"github.com/mixerd/mixerd/internal/memblock"
	"github.com/mixerd/mixerd/internal/sample"
	"github.com/mixerd/mixerd/internal/sink"
)

// Control message codes the core accepts on device outbound queues.
const (
	// MsgUnloadModule asks the main thread to unload the Module in
	// Data. Posted by a device thread that hit an unrecoverable error.
	MsgUnloadModule = iota
)

// Module is a loadable device driver instance.
type Module interface {
	Name() string
	Unload()
}

// Core is the host object.
type Core struct {
	// DefaultSpec is the sample spec modules fall back to when their
	// arguments leave format, rate or channels unset.
	DefaultSpec sample.Spec

	pool   *memblock.Pool
	logger *slog.Logger

	mu      sync.Mutex
	sinks   map[string]*sink.Sink
	modules []Module

	// unloadCh carries deferred unload requests from message dispatch
	// into the maintenance loop, so a device's outbound queue is never
	// blocked on its own teardown.
	unloadCh chan Module

	wg sync.WaitGroup
}

// New creates a core with the given default spec.
func New(defaultSpec sample.Spec, logger *slog.Logger) (*Core, error) {
	if err := defaultSpec.Valid(); err != nil {
		return nil, fmt.Errorf("invalid default sample spec: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		DefaultSpec: defaultSpec,
		pool:        memblock.NewPool(),
		logger:      logger,
		sinks:       make(map[string]*sink.Sink),
		unloadCh:    make(chan Module, 16),
	}, nil
}

// Pool returns the shared memblock pool.
func (c *Core) Pool() *memblock.Pool { return c.pool }

// Logger returns the core's logger.
func (c *Core) Logger() *slog.Logger { return c.logger }

// AddSink registers a sink under its name.
func (c *Core) AddSink(s *sink.Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sinks[s.Name]; exists {
		return fmt.Errorf("sink %q already registered", s.Name)
	}
	c.sinks[s.Name] = s
	return nil
}

// RemoveSink drops a sink from the registry.
func (c *Core) RemoveSink(s *sink.Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sinks, s.Name)
}

// GetSink looks a sink up by name.
func (c *Core) GetSink(name string) (*sink.Sink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sinks[name]
	return s, ok
}

// Sinks returns a snapshot of all registered sinks.
func (c *Core) Sinks() []*sink.Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*sink.Sink, 0, len(c.sinks))
	for _, s := range c.sinks {
		out = append(out, s)
	}
	return out
}

// AddModule registers a loaded module.
func (c *Core) AddModule(m Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = append(c.modules, m)
	c.logger.Info("module loaded", "module", m.Name())
}

func (c *Core) removeModule(m Module) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.modules {
		if x == m {
			c.modules = append(c.modules[:i], c.modules[i+1:]...)
			return true
		}
	}
	return false
}

// ProcessMsg implements asyncmsgq.Object for messages device threads
// post to their outbound queues. The actual unload is deferred to the
// maintenance loop so the queue being serviced is never blocked on its
// own module's teardown.
func (c *Core) ProcessMsg(code int, data any, offset int64, chunk memblock.Chunk) int {
	switch code {
	case MsgUnloadModule:
		m := data.(Module)
		c.logger.Warn("module requested its own unload", "module", m.Name())
		select {
		case c.unloadCh <- m:
		default:
			c.logger.Error("unload queue full, dropping request", "module", m.Name())
		}
		return 0
	}

	c.logger.Warn("unhandled core message", "code", code)
	return -1
}

// ServiceQueue drains a device thread's outbound queue on a dedicated
// goroutine, dispatching each message and acking it, until a Shutdown
// message (nil object) arrives.
func (c *Core) ServiceQueue(q *asyncmsgq.Queue) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			m := q.Recv()
			if m.Object == nil && m.Code == asyncmsgq.CodeShutdown {
				q.Done(0)
				return
			}
			q.Done(asyncmsgq.Dispatch(m))
		}
	}()
}

// Run is the main thread's maintenance loop: it executes deferred
// module unloads until the context is cancelled.
func (c *Core) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.unloadCh:
			c.unloadModule(m)
		}
	}
}

func (c *Core) unloadModule(m Module) {
	if !c.removeModule(m) {
		// Already unloaded (racing with shutdown).
		return
	}
	m.Unload()
	c.logger.Info("module unloaded by request", "module", m.Name())
}

// UnloadAll unloads every remaining module. Called at shutdown after
// the maintenance loop has stopped.
func (c *Core) UnloadAll() {
	c.mu.Lock()
	mods := make([]Module, len(c.modules))
	copy(mods, c.modules)
	c.modules = nil
	c.mu.Unlock()

	for i := len(mods) - 1; i >= 0; i-- {
		mods[i].Unload()
	}
	c.wg.Wait()
}
