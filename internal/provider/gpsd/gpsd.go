// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsd provides high accuracy positions pushed by a local gpsd daemon.
package gpsd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/geoflow/internal/gpspoll"
	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
)

const (
	name        = "gpsd"
	DefaultHost = "localhost"
	DefaultPort = "2947"
)

// Provider streams TPV reports of a gpsd WATCH session to its listeners.
type Provider struct {
	client *gpspoll.Client
	logger *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	watch    *gpspoll.Watch
	removed  chan struct{}
	fastest  time.Duration
	lastEmit time.Time
}

// New returns a Provider for the gpsd daemon at host:port.
func New(host, port string, log *logger.Logger) (*Provider, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	return &Provider{
		client:   gpspoll.New(host, port),
		logger:   log.With(slog.String("provider", name)),
		sessions: make(map[string]*session),
	}, nil
}

func (p *Provider) Name() string {
	return name
}

// Addr returns the address of the gpsd daemon.
func (p *Provider) Addr() string {
	return p.client.Addr
}

// RequestUpdates opens a WATCH session. Reports without at least a 2D fix are delivered as
// empty results. Reports arriving faster than req.FastestInterval are skipped.
func (p *Provider) RequestUpdates(ctx context.Context, req location.Request, l location.Listener) (location.Handle, error) {
	handle := location.NewHandle()
	sess := &session{
		removed: make(chan struct{}),
		fastest: req.FastestInterval,
	}

	watch, err := p.client.Watch(ctx, func(fix gpspoll.Fix) {
		if !sess.lastEmit.IsZero() && time.Since(sess.lastEmit) < sess.fastest {
			return
		}
		sess.lastEmit = time.Now()
		l.OnLocationResult(p.result(fix))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch gpsd at %s: %w", p.client.Addr, err)
	}
	sess.watch = watch

	p.mu.Lock()
	p.sessions[handle.ID()] = sess
	p.mu.Unlock()

	go func() {
		select {
		case <-sess.removed:
		case <-watch.Done():
			if err := watch.Err(); err != nil {
				p.logger.Warn("gpsd watch ended", logger.Err(err))
				l.OnFailure(fmt.Errorf("gpsd watch ended: %w", err))
			}
		}
	}()

	p.logger.Debug("gpsd watch started", slog.String("addr", p.client.Addr))
	return handle, nil
}

// RemoveUpdates closes the WATCH session of the given handle. Unknown handles are ignored.
func (p *Provider) RemoveUpdates(handle location.Handle) error {
	if handle == nil {
		return nil
	}
	p.mu.Lock()
	sess, ok := p.sessions[handle.ID()]
	delete(p.sessions, handle.ID())
	p.mu.Unlock()
	if !ok {
		return nil
	}

	close(sess.removed)
	if err := sess.watch.Close(); err != nil {
		return fmt.Errorf("failed to close gpsd watch: %w", err)
	}
	p.logger.Debug("gpsd watch closed")
	return nil
}

func (p *Provider) result(fix gpspoll.Fix) location.Result {
	if !fix.Has2DFix() {
		return location.NewResult()
	}
	at := fix.Time
	if at.IsZero() {
		at = time.Now()
	}
	return location.NewResult(location.Position{
		Lat:      location.Truncate(fix.Lat, location.TruncPrecision),
		Lon:      location.Truncate(fix.Lon, location.TruncPrecision),
		Alt:      fix.Alt,
		Accuracy: fix.Acc,
		Time:     at,
		Source:   name,
	})
}
