// Package mnn is the Go facade over the libmnnllm native module. A Handle owns
// the module reference, tracks whether a model is loaded, and serializes every
// call into the native side.
package mnn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samcharles93/mnnllm/internal/logger"
	"github.com/samcharles93/mnnllm/internal/native"
)

type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Handle struct {
	mod native.Module
	log logger.Logger

	// slot is held for the whole duration of a native call.
	slot chan struct{}

	mu     sync.RWMutex
	state  State
	path   string
	closed bool
}

type Option func(*Handle)

func WithLogger(log logger.Logger) Option {
	return func(h *Handle) {
		if log != nil {
			h.log = log
		}
	}
}

func New(mod native.Module, opts ...Option) *Handle {
	h := &Handle{
		mod:  mod,
		log:  logger.Discard(),
		slot: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "mnn")
	return h
}

// Load initializes the model at path, replacing any previously loaded model.
// A rejected load leaves the handle unloaded.
func (h *Handle) Load(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return ErrEmptyPath
	}
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.release()

	h.setState(StateLoading, "")
	start := time.Now()
	ok := h.mod.Load(path)
	return h.finishLoad(path, ok, time.Since(start))
}

// LoadAsync starts a load and returns immediately. done is called exactly
// once, after the native side reported the outcome or ctx ended first. In the
// latter case the native load keeps running and its outcome still updates the
// handle state.
func (h *Handle) LoadAsync(ctx context.Context, path string, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	path = strings.TrimSpace(path)
	go func() {
		if path == "" {
			done(ErrEmptyPath)
			return
		}
		if err := h.acquire(ctx); err != nil {
			done(err)
			return
		}

		h.setState(StateLoading, "")
		start := time.Now()
		outcome := make(chan bool, 1)
		var once sync.Once
		h.mod.LoadAsync(path, func(ok bool) {
			once.Do(func() { outcome <- ok })
		})

		select {
		case ok := <-outcome:
			err := h.finishLoad(path, ok, time.Since(start))
			h.release()
			done(err)
		case <-ctx.Done():
			go func() {
				ok := <-outcome
				_ = h.finishLoad(path, ok, time.Since(start))
				h.release()
			}()
			done(ctx.Err())
		}
	}()
}

func (h *Handle) finishLoad(path string, ok bool, took time.Duration) error {
	if !ok {
		h.setState(StateUnloaded, "")
		h.log.Warn("model load rejected", "path", path, "duration", took)
		return fmt.Errorf("%w: %s", ErrLoadFailed, path)
	}
	h.setState(StateLoaded, path)
	h.log.Info("model loaded", "path", path, "duration", took)
	return nil
}

// Unload releases the loaded model. It waits for an in-flight native call to
// return. Unloading an unloaded handle is a no-op.
func (h *Handle) Unload(ctx context.Context) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.release()
	return h.unloadLocked()
}

func (h *Handle) unloadLocked() error {
	h.mu.RLock()
	state, path := h.state, h.path
	h.mu.RUnlock()
	if state != StateLoaded {
		return nil
	}

	var err error
	if r, ok := h.mod.(native.Releaser); ok {
		err = r.Release()
	}
	h.setState(StateUnloaded, "")
	if err != nil {
		return fmt.Errorf("release %s: %w", path, err)
	}
	h.log.Info("model unloaded", "path", path)
	return nil
}

// Close unloads the model and rejects every later call with ErrClosed.
func (h *Handle) Close() error {
	if err := h.acquire(context.Background()); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	defer h.release()

	err := h.unloadLocked()
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return err
}

func (h *Handle) IsLoaded() bool {
	return h.State() == StateLoaded
}

func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Path returns the path of the loaded model, or "" when nothing is loaded.
func (h *Handle) Path() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.path
}

// Interrupt asks the native side to abort the running generation. It reports
// whether the module supports interruption.
func (h *Handle) Interrupt() bool {
	ir, ok := h.mod.(native.Interrupter)
	if ok {
		ir.Interrupt()
	}
	return ok
}

func (h *Handle) setState(s State, path string) {
	h.mu.Lock()
	h.state = s
	h.path = path
	h.mu.Unlock()
}

func (h *Handle) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case h.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		<-h.slot
		return ErrClosed
	}
	return nil
}

func (h *Handle) release() {
	<-h.slot
}
