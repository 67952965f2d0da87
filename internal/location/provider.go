// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrProviderStartFailed is reported when a provider refuses to start producing updates.
	ErrProviderStartFailed = errors.New("location provider failed to start updates")

	// ErrSourceClosed is returned when collecting from a source that already failed.
	ErrSourceClosed = errors.New("location source is closed")

	// ErrSourceBusy is returned when a source already holds a live provider registration.
	ErrSourceBusy = errors.New("location source already has an active registration")
)

// Handle is an opaque token for one active registration with a Provider.
type Handle interface {
	ID() string
}

type token struct {
	id string
}

func (t *token) ID() string {
	return t.id
}

// NewHandle returns a new unique Handle. Handles are comparable and can be used as map keys.
func NewHandle() Handle {
	return &token{id: uuid.NewString()}
}

// Listener receives the pushes of a Provider registration. Providers may call it from any
// goroutine.
type Listener interface {
	// OnLocationResult is called for every batch of positions the provider produces.
	OnLocationResult(Result)
	// OnFailure is called if the provider fails to start after RequestUpdates returned.
	OnFailure(error)
}

// Provider defines the interface for push-based location providers.
type Provider interface {
	Name() string
	// RequestUpdates starts producing updates for req and delivers them to l until
	// RemoveUpdates is called with the returned Handle.
	RequestUpdates(ctx context.Context, req Request, l Listener) (Handle, error)
	// RemoveUpdates stops the registration. It is safe to call more than once.
	RemoveUpdates(h Handle) error
}

// StartError wraps the reason a provider refused to start.
type StartError struct {
	Provider string
	Err      error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrProviderStartFailed, e.Provider, e.Err)
}

func (e *StartError) Unwrap() []error {
	return []error{ErrProviderStartFailed, e.Err}
}

// NewStartError returns a StartError for the named provider.
func NewStartError(provider string, err error) *StartError {
	return &StartError{Provider: provider, Err: err}
}

// ListenerFuncs adapts plain functions to the Listener interface.
type ListenerFuncs struct {
	Result  func(Result)
	Failure func(error)
}

func (l ListenerFuncs) OnLocationResult(r Result) {
	if l.Result != nil {
		l.Result(r)
	}
}

func (l ListenerFuncs) OnFailure(err error) {
	if l.Failure != nil {
		l.Failure(err)
	}
}
