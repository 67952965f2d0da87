// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package tracker owns the Update Source and its shared stream for one consuming component.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/share"
	"github.com/wneessen/geoflow/internal/source"
	"github.com/wneessen/geoflow/internal/vartype"
)

// Tracker lazily builds one shared position stream on top of a provider. It outlives
// individual subscribers, so observers that come and go reuse the same cached stream.
type Tracker struct {
	provider   location.Provider
	logger     *logger.Logger
	sourceOpts []source.Option
	shareOpts  []share.Option

	mu     sync.Mutex
	stream *share.Stream[location.Position]
	closed bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSourceOptions passes options to every Update Source the Tracker creates.
func WithSourceOptions(opts ...source.Option) Option {
	return func(t *Tracker) {
		t.sourceOpts = append(t.sourceOpts, opts...)
	}
}

// WithShareOptions passes options to every shared stream the Tracker creates.
func WithShareOptions(opts ...share.Option) Option {
	return func(t *Tracker) {
		t.shareOpts = append(t.shareOpts, opts...)
	}
}

// New returns a Tracker for the given provider. Nothing is requested from the provider until
// the first subscriber attaches.
func New(provider location.Provider, log *logger.Logger, opts ...Option) (*Tracker, error) {
	if provider == nil {
		return nil, errors.New("location provider is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	t := &Tracker{
		provider: provider,
		logger:   log.With(slog.String("provider", provider.Name())),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Locations returns the shared position stream, creating it on first use.
func (t *Tracker) Locations() (*share.Stream[location.Position], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stream != nil {
		return t.stream, nil
	}
	stream, err := t.buildLocked()
	if err != nil {
		return nil, err
	}
	if t.closed {
		stream.Close()
	}
	t.stream = stream
	return stream, nil
}

// Subscribe attaches a new observer to the current shared stream. If the stream cannot be
// built, the returned subscription is already closed and reports the error.
func (t *Tracker) Subscribe(ctx context.Context) *share.Subscription[location.Position] {
	stream, err := t.Locations()
	if err != nil {
		return share.Failed[location.Position](err)
	}
	return stream.Subscribe(ctx)
}

// Latest returns the cached position of the current stream. It is unset before the first
// position arrived.
func (t *Tracker) Latest() vartype.Variable[location.Position] {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream == nil {
		return vartype.Variable[location.Position]{}
	}
	return stream.Latest()
}

// Err reports the terminal error of the current stream, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Err()
}

// Retry discards the current source and stream and builds fresh ones. This is the only way to
// recover from a provider start failure. Existing subscriptions of the old stream are closed.
func (t *Tracker) Retry() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("tracker is closed")
	}
	stream, err := t.buildLocked()
	if err != nil {
		t.mu.Unlock()
		return err
	}
	old := t.stream
	t.stream = stream
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	t.logger.Info("location stream recreated")
	return nil
}

// Close tears down the current stream. The cached position stays readable through Latest.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	stream := t.stream
	t.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

func (t *Tracker) buildLocked() (*share.Stream[location.Position], error) {
	src, err := source.New(t.provider, t.logger, t.sourceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create location source: %w", err)
	}
	stream, err := share.New[location.Position](src.Open(), t.logger, t.shareOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared location stream: %w", err)
	}
	return stream, nil
}
