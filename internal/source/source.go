// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package source turns a push-based location.Provider into a cold, cancellable stream of
// positions.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/telemetry"
)

// DefaultBufferSize is the number of positions buffered between the provider callback and the
// collecting consumer. Pushes that do not fit are dropped.
const DefaultBufferSize = 64

// Source wraps a location.Provider. A Source holds at most one provider registration at a
// time. Once the provider refused to start, the Source is closed for good and has to be
// recreated.
type Source struct {
	provider location.Provider
	logger   *logger.Logger
	request  location.Request
	buffer   int

	mu     sync.Mutex
	active bool
	err    error
}

// Option configures a Source.
type Option func(*Source)

// WithRequest overrides the default location request.
func WithRequest(req location.Request) Option {
	return func(s *Source) {
		s.request = req
	}
}

// WithBufferSize sets the size of the event buffer between provider and consumer.
func WithBufferSize(size int) Option {
	return func(s *Source) {
		if size > 0 {
			s.buffer = size
		}
	}
}

// New returns a Source for the given provider.
func New(provider location.Provider, log *logger.Logger, opts ...Option) (*Source, error) {
	if provider == nil {
		return nil, errors.New("location provider is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	src := &Source{
		provider: provider,
		logger:   log.With(slog.String("provider", provider.Name())),
		request:  location.DefaultRequest(),
		buffer:   DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(src)
	}
	if err := src.request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid location request: %w", err)
	}
	return src, nil
}

// Request returns the location request the Source registers with.
func (s *Source) Request() location.Request {
	return s.request
}

// Err returns the start failure that closed the Source, if any.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Open returns the cold position stream of the Source. No provider registration is made
// before Collect is called on it.
func (s *Source) Open() *Stream {
	return &Stream{source: s}
}

// Stream is a cold stream of positions.
type Stream struct {
	source *Source
}

// Collect registers with the provider and calls fn for every position it pushes until ctx is
// cancelled or the provider fails. The registration is always removed before Collect returns.
// Collect returns the context error on cancellation and a *location.StartError if the
// provider could not start.
func (st *Stream) Collect(ctx context.Context, fn func(location.Position)) error {
	return st.source.collect(ctx, fn)
}

func (s *Source) collect(ctx context.Context, fn func(location.Position)) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l := &listener{
		done:     ctx.Done(),
		events:   make(chan location.Position, s.buffer),
		failures: make(chan error, 1),
		logger:   s.logger,
		provider: s.provider.Name(),
	}

	s.logger.Info("location request started", slog.Duration("interval", s.request.Interval),
		slog.Duration("fastest_interval", s.request.FastestInterval),
		slog.String("priority", s.request.Priority.String()))
	handle, err := s.provider.RequestUpdates(ctx, s.request, l)
	if err != nil {
		// a start cut short by the consumer is not a provider failure
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logger.Debug("location request cancelled while starting", logger.Err(err))
			return ctxErr
		}
		return s.fail(err)
	}
	telemetry.ProviderStarts.WithLabelValues(s.provider.Name()).Inc()
	defer s.removeUpdates(handle)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err = <-l.failures:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return s.fail(err)
		case pos := <-l.events:
			telemetry.PositionsEmitted.WithLabelValues(s.provider.Name()).Inc()
			fn(pos)
		}
	}
}

func (s *Source) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return fmt.Errorf("%w: %w", location.ErrSourceClosed, s.err)
	}
	if s.active {
		return location.ErrSourceBusy
	}
	s.active = true
	return nil
}

func (s *Source) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// fail closes the Source with the given start failure.
func (s *Source) fail(err error) error {
	var startErr *location.StartError
	if !errors.As(err, &startErr) {
		startErr = location.NewStartError(s.provider.Name(), err)
	}
	s.mu.Lock()
	s.err = startErr
	s.mu.Unlock()

	telemetry.ProviderStartFailures.WithLabelValues(s.provider.Name()).Inc()
	s.logger.Error("location request failed", logger.Err(startErr))
	return startErr
}

func (s *Source) removeUpdates(handle location.Handle) {
	if err := s.provider.RemoveUpdates(handle); err != nil {
		s.logger.Error("failed to remove location updates", logger.Err(err))
	}
	telemetry.ProviderStops.WithLabelValues(s.provider.Name()).Inc()
	s.logger.Info("location request removed")
}

// listener forwards provider pushes into the event buffer of a single Collect call.
type listener struct {
	done     <-chan struct{}
	events   chan location.Position
	failures chan error
	logger   *logger.Logger
	provider string
}

func (l *listener) OnLocationResult(res location.Result) {
	pos, ok := res.LastLocation()
	if !ok {
		telemetry.EventsDropped.WithLabelValues(l.provider, telemetry.DropReasonEmpty).Inc()
		return
	}

	select {
	case <-l.done:
		l.drop(pos)
		return
	default:
	}
	select {
	case l.events <- pos:
	default:
		l.drop(pos)
	}
}

func (l *listener) OnFailure(err error) {
	select {
	case l.failures <- err:
	default:
	}
}

func (l *listener) drop(pos location.Position) {
	telemetry.EventsDropped.WithLabelValues(l.provider, telemetry.DropReasonDetached).Inc()
	l.logger.Debug("dropping location update, consumer is not receiving", slog.String("position", pos.String()))
}
