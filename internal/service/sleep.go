// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geoflow/internal/lifecycle"
	"github.com/wneessen/geoflow/internal/logger"
)

const (
	loginManager     = "org.freedesktop.login1.Manager"
	prepareForSleep  = "PrepareForSleep"
	signalBufferSize = 8

	// resume events closer together than this many seconds count as one
	debounceWindow = 2

	busRetryDelay      = 10 * time.Second
	reconnectDelay     = 2 * time.Second
	networkWakeupDelay = 10 * time.Second
)

// monitorSleepResume follows logind's PrepareForSleep signal until ctx is done. A lost or
// unavailable system bus is retried.
func (s *Service) monitorSleepResume(ctx context.Context) {
	var lastResumeUnix int64
	for {
		conn, signals, err := subscribeSleepSignal()
		if err != nil {
			s.logger.Debug("sleep monitoring unavailable", logger.Err(err))
			if !delay(ctx, busRetryDelay) {
				return
			}
			continue
		}
		s.logger.Debug("subscribed to dbus signal", slog.String("interface", loginManager),
			slog.String("member", prepareForSleep))

		s.watchSleepSignal(ctx, signals, &lastResumeUnix)
		conn.RemoveSignal(signals)
		if err = conn.Close(); err != nil {
			s.logger.Error("failed to close system bus connection", logger.Err(err))
		}
		if !delay(ctx, reconnectDelay) {
			return
		}
	}
}

// subscribeSleepSignal connects to the system bus and routes PrepareForSleep signals into the
// returned channel.
func subscribeSleepSignal() (*dbus.Conn, chan *dbus.Signal, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	if err = conn.AddMatchSignal(dbus.WithMatchInterface(loginManager),
		dbus.WithMatchMember(prepareForSleep)); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s.%s: %w", loginManager, prepareForSleep, err)
	}
	signals := make(chan *dbus.Signal, signalBufferSize)
	conn.Signal(signals)
	return conn, signals, nil
}

// watchSleepSignal returns when ctx is done or the bus closed the signal channel.
func (s *Service) watchSleepSignal(ctx context.Context, signals chan *dbus.Signal, lastResumeUnix *int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case sgn, ok := <-signals:
			if !ok {
				return
			}
			s.processSleepSignal(ctx, sgn, lastResumeUnix)
		}
	}
}

// delay waits for d and reports false if ctx ended first.
func delay(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// processSleepSignal pauses location updates when the system goes to sleep and resumes them
// after wake-up.
func (s *Service) processSleepSignal(ctx context.Context, sgn *dbus.Signal, lastResumeUnix *int64) {
	if len(sgn.Body) != 1 {
		return
	}
	sleeping, ok := sgn.Body[0].(bool)
	if !ok {
		return
	}
	if sleeping {
		s.handleSleepEvent()
		return
	}
	s.handleResumeEvent(ctx, lastResumeUnix)
}

// handleSleepEvent pauses active location updates. Updates that were paused by the user
// stay paused after wake-up.
func (s *Service) handleSleepEvent() {
	if s.State() != lifecycle.Active {
		return
	}
	s.sleepLock.Lock()
	s.sleepPaused = true
	s.sleepLock.Unlock()

	s.logger.Debug("system is going to sleep, pausing location updates")
	s.Pause()
}

// handleResumeEvent resumes the location updates that were paused by handleSleepEvent. Multiple
// consecutive resume events are debounced and the system gets time to bring the network up.
func (s *Service) handleResumeEvent(ctx context.Context, lastResumeUnix *int64) {
	now := time.Now().Unix()

	if now-atomic.LoadInt64(lastResumeUnix) < debounceWindow {
		return
	}
	atomic.StoreInt64(lastResumeUnix, now)

	s.sleepLock.Lock()
	paused := s.sleepPaused
	s.sleepPaused = false
	s.sleepLock.Unlock()
	if !paused {
		return
	}

	// the network needs a moment after wake-up
	if !delay(ctx, s.wakeupDelay) {
		return
	}

	s.logger.Debug("resuming from sleep, restarting location updates")
	s.Resume()
}
