// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package settings verifies that the system is able to serve a location request before the
// tracker asks a provider for updates.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
)

const (
	minBackoff = time.Second
	maxBackoff = time.Second * 30
)

var (
	// ErrPermissionDenied is returned if the process lacks the rights to use a location source.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrServiceDisabled is returned if a required location service is not available.
	ErrServiceDisabled = errors.New("location service disabled")
)

// Checker verifies one precondition of a location request.
type Checker interface {
	Check(ctx context.Context, req location.Request) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, req location.Request) error

func (f CheckerFunc) Check(ctx context.Context, req location.Request) error {
	return f(ctx, req)
}

// Resolver runs a set of Checkers against a location request.
type Resolver struct {
	checkers []Checker
	logger   *logger.Logger
}

// New returns a Resolver. Nil checkers are ignored.
func New(log *logger.Logger, checkers ...Checker) (*Resolver, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	resolver := &Resolver{logger: log}
	for _, checker := range checkers {
		if checker != nil {
			resolver.checkers = append(resolver.checkers, checker)
		}
	}
	return resolver, nil
}

// Check validates req and runs every checker. The first failing checker determines the error.
func (r *Resolver) Check(ctx context.Context, req location.Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid location request: %w", err)
	}
	for _, checker := range r.checkers {
		if err := checker.Check(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// Resolvable reports whether err can go away without changing the request, e.g. because
// the user grants a permission or starts a service.
func Resolvable(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrServiceDisabled)
}

// WaitSatisfied blocks until Check succeeds. Resolvable failures are retried with an
// exponential backoff, any other failure is returned right away.
func (r *Resolver) WaitSatisfied(ctx context.Context, req location.Request) error {
	backoff := minBackoff
	for {
		err := r.Check(ctx, req)
		if err == nil {
			return nil
		}
		if !Resolvable(err) {
			return err
		}
		r.logger.Warn("location settings not satisfied, waiting for the user", logger.Err(err),
			slog.Duration("retry_in", backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
