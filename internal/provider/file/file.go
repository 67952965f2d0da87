// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package file provides a static position read from a local file.
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
)

const (
	name = "file"

	// Accuracy is the accuracy we assume for positions from a geolocation file. The user wrote
	// them down, so we consider them the most accurate data available.
	Accuracy = 5

	defaultInterval = time.Second * 10
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// Provider reads a "lat,lon" pair from a file and reports it on every request interval.
// Lines starting with # are ignored.
type Provider struct {
	path   string
	logger *logger.Logger

	mu         sync.Mutex
	schedulers map[string]gocron.Scheduler
}

// New returns a Provider for the file at path.
func New(path string, log *logger.Logger) (*Provider, error) {
	if path == "" {
		return nil, errors.New("geolocation file path is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Provider{
		path:       path,
		logger:     log.With(slog.String("provider", name)),
		schedulers: make(map[string]gocron.Scheduler),
	}, nil
}

func (p *Provider) Name() string {
	return name
}

// Path returns the path of the geolocation file.
func (p *Provider) Path() string {
	return p.path
}

// RequestUpdates schedules a read of the geolocation file every req.Interval, starting right
// away. A file that cannot be read at this point fails the request.
func (p *Provider) RequestUpdates(ctx context.Context, req location.Request, l location.Listener) (location.Handle, error) {
	if _, err := os.Stat(p.path); err != nil {
		return nil, fmt.Errorf("failed to access geolocation file: %w", err)
	}

	interval := req.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(context.Context) {
			l.OnLocationResult(p.read())
		}),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithName("geolocation file reader"),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("failed to create geolocation file job: %w", err)
	}

	handle := location.NewHandle()
	p.mu.Lock()
	p.schedulers[handle.ID()] = scheduler
	p.mu.Unlock()

	scheduler.Start()
	p.logger.Debug("geolocation file polling started", slog.String("path", p.path),
		slog.Duration("interval", interval))
	return handle, nil
}

// RemoveUpdates stops polling for the given handle and waits for a running read to finish.
func (p *Provider) RemoveUpdates(handle location.Handle) error {
	if handle == nil {
		return nil
	}
	p.mu.Lock()
	scheduler, ok := p.schedulers[handle.ID()]
	delete(p.schedulers, handle.ID())
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	return nil
}

// read returns the position of the file. Unreadable or malformed files produce an empty
// result.
func (p *Provider) read() location.Result {
	lat, lon, err := p.readFile()
	if err != nil {
		p.logger.Warn("failed to read geolocation file", logger.Err(err))
		return location.NewResult()
	}
	return location.NewResult(location.Position{
		Lat:      lat,
		Lon:      lon,
		Accuracy: Accuracy,
		Time:     time.Now(),
		Source:   name,
	})
}

// readFile reads geolocation data from the file at the configured path.
func (p *Provider) readFile() (lat, lon float64, err error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}
		coords := strings.Split(line, ",")
		if len(coords) != 2 {
			continue
		}
		lat, err = strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
		if err != nil {
			continue
		}
		lon, err = strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
		if err != nil {
			continue
		}
		return lat, lon, nil
	}
	return 0, 0, ErrNoCoordinates
}
