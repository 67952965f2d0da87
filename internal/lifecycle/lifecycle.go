// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/geoflow/internal/logger"
)

// ErrClosed is returned when a transition is requested on a closed Host.
var ErrClosed = errors.New("lifecycle host is closed")

// State is the lifecycle phase of a Host.
type State int

const (
	Inactive State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Job is the work a Host runs while it is active. It must return once ctx is cancelled.
type Job func(ctx context.Context) error

// Host runs a Job only while it is in the Active state. At most one instance of the job runs at
// any time: starting a new instance cancels the previous one and waits for it to return.
type Host struct {
	name    string
	job     Job
	logger  *logger.Logger
	onError func(error)

	mu     sync.Mutex
	state  State
	parent context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Host.
type Option func(*Host)

// WithErrorHandler sets a function that is called with the error of a job that returned on
// its own. It is called after the job instance fully ended, so it may call back into the Host.
func WithErrorHandler(fn func(error)) Option {
	return func(h *Host) {
		h.onError = fn
	}
}

// New returns an inactive Host for the given job. Job instances derive their context from ctx.
func New(ctx context.Context, name string, job Job, log *logger.Logger, opts ...Option) (*Host, error) {
	if job == nil {
		return nil, errors.New("job is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	host := &Host{
		name:   name,
		job:    job,
		logger: log.With(slog.String("host", name)),
		parent: ctx,
	}
	for _, opt := range opts {
		opt(host)
	}
	return host, nil
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Running reports whether a job instance is currently running.
func (h *Host) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runningLocked()
}

// Resume moves the Host into the Active state and starts the job. A job instance that is still
// running is cancelled and awaited first, so a resume always begins with a fresh instance.
func (h *Host) Resume() error {
	return h.Restart()
}

// Restart cancels a running job instance, waits for it to return and starts a fresh one.
// The Host is Active afterwards.
func (h *Host) Restart() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Closed {
		return ErrClosed
	}
	h.stopLocked()
	h.state = Active
	h.startLocked()
	return nil
}

// Pause cancels the running job instance and waits for it to return. The Host is Inactive
// afterwards.
func (h *Host) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Closed {
		return
	}
	h.stopLocked()
	h.state = Inactive
}

// Close stops the job for good. Further transitions fail with ErrClosed.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	h.state = Closed
}

func (h *Host) runningLocked() bool {
	if h.done == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Host) startLocked() {
	ctx, cancel := context.WithCancel(h.parent)
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done

	h.logger.Debug("starting job")
	go func() {
		err := h.job(ctx)
		failed := err != nil && ctx.Err() == nil
		close(done)
		if failed {
			h.logger.Error("job returned with error", logger.Err(err))
			if h.onError != nil {
				h.onError(err)
			}
		}
	}()
}

// stopLocked cancels the running instance and waits for it. The job goroutine never takes
// h.mu, so waiting while holding the lock is safe.
func (h *Host) stopLocked() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
	h.logger.Debug("job stopped")
}
