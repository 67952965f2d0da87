// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package testhelper

import (
	"context"
	"sync"

	"github.com/wneessen/geoflow/internal/location"
)

// FakeProvider is a location.Provider that records its registrations and lets tests push
// results to the registered listeners.
type FakeProvider struct {
	// StartErr makes RequestUpdates fail synchronously.
	StartErr error
	// AsyncErr is reported through Listener.OnFailure right after a successful start.
	AsyncErr error
	// HoldStart makes RequestUpdates block until its context is done and fail with the
	// context error, like a dial that is still in progress.
	HoldStart bool
	// HoldRemove blocks RemoveUpdates until the channel is closed.
	HoldRemove chan struct{}

	mu        sync.Mutex
	starts    int
	stops     int
	requests  []location.Request
	listeners map[location.Handle]location.Listener
	started   chan struct{}
	starting  chan struct{}
	removing  chan struct{}
}

// NewFakeProvider returns an initialized FakeProvider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		listeners: make(map[location.Handle]location.Listener),
		started:   make(chan struct{}, 64),
		starting:  make(chan struct{}, 64),
		removing:  make(chan struct{}, 64),
	}
}

func (p *FakeProvider) Name() string {
	return "fake"
}

func (p *FakeProvider) RequestUpdates(ctx context.Context, req location.Request, l location.Listener) (location.Handle, error) {
	notify(p.starting)
	if p.HoldStart {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.StartErr != nil {
		return nil, p.StartErr
	}

	handle := location.NewHandle()
	p.mu.Lock()
	p.starts++
	p.requests = append(p.requests, req)
	p.listeners[handle] = l
	p.mu.Unlock()

	if p.AsyncErr != nil {
		l.OnFailure(p.AsyncErr)
	}
	notify(p.started)
	return handle, nil
}

func (p *FakeProvider) RemoveUpdates(h location.Handle) error {
	notify(p.removing)
	if p.HoldRemove != nil {
		<-p.HoldRemove
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.listeners[h]; !ok {
		return nil
	}
	delete(p.listeners, h)
	p.stops++
	return nil
}

// Push delivers the result to every active registration.
func (p *FakeProvider) Push(r location.Result) {
	p.mu.Lock()
	listeners := make([]location.Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l.OnLocationResult(r)
	}
}

// PushPosition delivers a single position to every active registration.
func (p *FakeProvider) PushPosition(lat, lon float64) {
	p.Push(location.NewResult(location.Position{Lat: lat, Lon: lon, Source: p.Name()}))
}

// Started returns a channel that receives a value for every successful start.
func (p *FakeProvider) Started() <-chan struct{} {
	return p.started
}

// Starting returns a channel that receives a value whenever RequestUpdates is entered.
func (p *FakeProvider) Starting() <-chan struct{} {
	return p.starting
}

// Removing returns a channel that receives a value whenever RemoveUpdates is entered.
func (p *FakeProvider) Removing() <-chan struct{} {
	return p.removing
}

// Starts returns the number of successful RequestUpdates calls.
func (p *FakeProvider) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

// Stops returns the number of registrations that were removed.
func (p *FakeProvider) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// Active returns the number of live registrations.
func (p *FakeProvider) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// Requests returns the requests of all successful starts.
func (p *FakeProvider) Requests() []location.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]location.Request(nil), p.requests...)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
