// Package script embeds a Lua runtime for user-defined hooks. Scripts can
// define on_estimate and on_calibrated functions that the daemon invokes as
// estimates refresh and calibrations complete.
package script

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// Work is a unit of work executed on the Lua VM. All Lua execution goes
// through the work queue; the VM is single-threaded.
type Work func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L *lua.LState

	workQueue chan Work

	// Closing this channel signals senders to stop. A channel in select is
	// race-free, unlike mutex + bool.
	closing   chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a new Lua runtime with the log module preloaded
func NewRuntime() *Runtime {
	L := lua.NewState()

	r := &Runtime{
		L:         L,
		workQueue: make(chan Work, 100),
		closing:   make(chan struct{}),
	}

	logModule := &LogModule{}
	L.PreloadModule("log", logModule.Loader)

	return r
}

// LoadScript loads and executes a Lua script (must be called before Run)
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")

	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().Msg("Lua script loaded successfully")
	return nil
}

// Do queues work on the Lua VM without blocking. Returns false if the
// runtime is closing, the queue is full, or the context is cancelled.
func (r *Runtime) Do(ctx context.Context, work Work) bool {
	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// Run starts the Lua worker goroutine, the only goroutine that touches the
// VM. Exits when the context is cancelled or the runtime is closed.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			r.drainQueue(ctx)
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

// drainQueue processes remaining work before exiting
func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	r.L.SetContext(ctx)
	work(ctx)
}

// Close signals the runtime to stop accepting work and closes the Lua state.
// Safe to call concurrently with Do.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
	// The work queue is never closed to avoid send-on-closed-channel panics;
	// Run exits on the closing signal.
	r.L.Close()
}
