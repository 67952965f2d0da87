// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ichnaea provides network based positions from an ichnaea compatible geolocation API
// such as beacondb.
package ichnaea

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/wneessen/geoflow/internal/http"
	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
)

const (
	DefaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout   = time.Second * 5
	name            = "ichnaea"

	// MinInterval protects the public API from being queried too often.
	MinInterval = time.Second * 30
)

type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

type apiRequest struct {
	ConsiderIP   bool              `json:"considerIp"`
	Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
}

// Provider looks up the position of the visible wifi access points.
type Provider struct {
	endpoint string
	http     *http.Client
	scanner  Scanner
	logger   *logger.Logger

	mu         sync.Mutex
	schedulers map[string]gocron.Scheduler
}

// New returns a Provider querying endpoint. A nil scanner makes lookups rely on the IP
// address only.
func New(endpoint string, client *http.Client, scanner Scanner, log *logger.Logger) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Provider{
		endpoint:   endpoint,
		http:       client,
		scanner:    scanner,
		logger:     log.With(slog.String("provider", name)),
		schedulers: make(map[string]gocron.Scheduler),
	}, nil
}

func (p *Provider) Name() string {
	return name
}

// RequestUpdates schedules a lookup every req.Interval (at least MinInterval), starting right
// away. Failed lookups are reported as empty results.
func (p *Provider) RequestUpdates(ctx context.Context, req location.Request, l location.Listener) (location.Handle, error) {
	interval := max(req.Interval, MinInterval)
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			l.OnLocationResult(p.lookup(ctx))
		}),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithName("ichnaea geolocation lookup"),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("failed to create geolocation lookup job: %w", err)
	}

	handle := location.NewHandle()
	p.mu.Lock()
	p.schedulers[handle.ID()] = scheduler
	p.mu.Unlock()

	scheduler.Start()
	p.logger.Debug("geolocation lookups started", slog.String("endpoint", p.endpoint),
		slog.Duration("interval", interval))
	return handle, nil
}

// RemoveUpdates stops the lookups of the given handle and waits for a running lookup.
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

func (p *Provider) lookup(ctx context.Context) location.Result {
	lat, lon, acc, err := p.locate(ctx)
	if err != nil {
		p.logger.Warn("geolocation lookup failed", logger.Err(err))
		return location.NewResult()
	}
	return location.NewResult(location.Position{
		Lat:      lat,
		Lon:      lon,
		Accuracy: acc,
		Time:     time.Now(),
		Source:   name,
	})
}

func (p *Provider) locate(ctx context.Context) (lat, lon, acc float64, err error) {
	req := apiRequest{ConsiderIP: true}
	if p.scanner != nil {
		aps, err := p.scanner.AccessPoints()
		if err != nil {
			p.logger.Debug("wifi scan failed, falling back to IP based lookup", logger.Err(err))
		}
		req.Accesspoints = aps
	}

	bodyBuffer := bytes.NewBuffer(nil)
	if err = json.NewEncoder(bodyBuffer).Encode(req); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to encode wifi list to JSON: %w", err)
	}

	ctxHttp, cancelHttp := context.WithTimeout(ctx, lookupTimeout)
	defer cancelHttp()
	result := new(APIResult)
	if _, err = p.http.Post(ctxHttp, p.endpoint, result, bodyBuffer,
		map[string]string{"Content-Type": "application/json"}); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	return location.Truncate(result.Location.Latitude, location.TruncPrecision),
		location.Truncate(result.Location.Longitude, location.TruncPrecision),
		location.Truncate(result.Accuracy, location.TruncPrecision), nil
}
