// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vorlif/spreak"

	"github.com/wneessen/geoflow/internal/config"
	"github.com/wneessen/geoflow/internal/consumer"
	"github.com/wneessen/geoflow/internal/geocode"
	"github.com/wneessen/geoflow/internal/geocode/nominatim"
	"github.com/wneessen/geoflow/internal/http"
	"github.com/wneessen/geoflow/internal/i18n"
	"github.com/wneessen/geoflow/internal/lifecycle"
	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/presenter"
	"github.com/wneessen/geoflow/internal/settings"
	"github.com/wneessen/geoflow/internal/share"
	"github.com/wneessen/geoflow/internal/source"
	"github.com/wneessen/geoflow/internal/telemetry"
	"github.com/wneessen/geoflow/internal/template"
	"github.com/wneessen/geoflow/internal/tracker"
	"github.com/wneessen/geoflow/internal/webmap"
)

const (
	hostName = "location-updates"

	// retryDelay is the pause between a failed provider start and the next attempt.
	retryDelay = time.Second * 10

	cacheHitTTL  = time.Hour * 24
	cacheMissTTL = time.Minute * 10
)

// Service wires the location provider, the shared position stream and the reaction sinks
// together and ties the stream to the lifecycle of the process.
type Service struct {
	config    *config.Config
	logger    *logger.Logger
	request   location.Request
	provider  checkedProvider
	resolver  *settings.Resolver
	tracker   *tracker.Tracker
	presenter *presenter.Presenter
	web       *webmap.Server
	closers   []io.Closer

	hostLock sync.RWMutex
	host     *lifecycle.Host

	// sleepPaused is set while updates are paused because the system went to sleep.
	sleepPaused bool
	sleepLock   sync.Mutex

	output      io.Writer
	retryDelay  time.Duration
	wakeupDelay time.Duration
	SignalSrc   signalSource
}

// Option configures a Service.
type Option func(*Service)

// WithOutput sets the writer the waybar lines are printed to. It defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Service) {
		s.output = w
	}
}

// New creates the Service described by conf.
func New(conf *config.Config, log *logger.Logger, t *spreak.Localizer, opts ...Option) (*Service, error) {
	if conf == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if t == nil {
		return nil, errors.New("localizer is required")
	}

	service := &Service{
		config:      conf,
		logger:      log,
		output:      os.Stdout,
		retryDelay:  retryDelay,
		wakeupDelay: networkWakeupDelay,
		SignalSrc:   stdLibSignalSource{},
	}
	for _, opt := range opts {
		opt(service)
	}

	req, err := conf.Request()
	if err != nil {
		return nil, err
	}
	service.request = req

	lang := i18n.Tag(conf.Locale)
	tpls, err := template.New(conf, t, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	var presenterOpts []presenter.Option
	if !conf.Geocoder.Disable {
		coder, err := nominatim.New(http.New(log), lang, conf.Geocoder.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create geocoder: %w", err)
		}
		presenterOpts = append(presenterOpts,
			presenter.WithGeocoder(geocode.NewCache(coder, cacheHitTTL, cacheMissTTL)))
	}
	if service.presenter, err = presenter.New(tpls, service.output, log, presenterOpts...); err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}

	provider, err := service.selectProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to create location provider: %w", err)
	}
	service.provider = provider

	checkers := []settings.Checker{provider}
	if conf.Location.CheckGeoClue {
		checkers = append(checkers, settings.NewGeoClue())
	}
	if service.resolver, err = settings.New(log, checkers...); err != nil {
		return nil, fmt.Errorf("failed to create settings resolver: %w", err)
	}

	service.tracker, err = tracker.New(provider, log,
		tracker.WithSourceOptions(source.WithRequest(req)),
		tracker.WithShareOptions(share.WithGracePeriod(conf.Location.GracePeriod)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	if conf.Web.Listen != "" {
		if service.web, err = webmap.New(service.tracker, log); err != nil {
			return nil, fmt.Errorf("failed to create web map: %w", err)
		}
	}

	return service, nil
}

// Run starts location updates and the sinks and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	telemetry.Register(prometheus.DefaultRegisterer)

	host, err := lifecycle.New(ctx, hostName, s.trackLocation, s.logger,
		lifecycle.WithErrorHandler(func(err error) { s.recover(ctx, err) }))
	if err != nil {
		return fmt.Errorf("failed to create lifecycle host: %w", err)
	}
	s.hostLock.Lock()
	s.host = host
	s.hostLock.Unlock()

	var wg sync.WaitGroup
	wg.Go(func() { s.presenter.Run(ctx, s.config.Intervals.Output) })
	if s.web != nil {
		wg.Go(func() {
			if err := s.web.ListenAndServe(ctx, s.config.Web.Listen); err != nil {
				s.logger.Error("web map stopped", logger.Err(err))
			}
		})
	}
	wg.Go(func() { s.monitorSleepResume(ctx) })

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	wg.Go(func() {
		defer s.SignalSrc.Stop(sigChan)
		s.HandleSignals(ctx, sigChan)
	})

	if err = host.Resume(); err != nil {
		return fmt.Errorf("failed to start location updates: %w", err)
	}
	s.logger.Info("location updates started", slog.String("provider", s.provider.Name()),
		slog.Duration("interval", s.request.Interval), slog.String("priority", s.request.Priority.String()))

	<-ctx.Done()
	host.Close()
	wg.Wait()
	s.tracker.Close()

	var errs []error
	for _, closer := range s.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// Pause stops location updates until Resume is called.
func (s *Service) Pause() {
	host := s.lifecycleHost()
	if host == nil {
		return
	}
	host.Pause()
	s.logger.Info("location updates paused")
}

// Resume restarts location updates.
func (s *Service) Resume() {
	host := s.lifecycleHost()
	if host == nil {
		return
	}
	if err := host.Resume(); err != nil {
		s.logger.Error("failed to resume location updates", logger.Err(err))
		return
	}
	s.logger.Info("location updates resumed")
}

// State returns the lifecycle state of the location updates.
func (s *Service) State() lifecycle.State {
	host := s.lifecycleHost()
	if host == nil {
		return lifecycle.Inactive
	}
	return host.State()
}

func (s *Service) lifecycleHost() *lifecycle.Host {
	s.hostLock.RLock()
	defer s.hostLock.RUnlock()
	return s.host
}

// trackLocation waits until the location settings are satisfied and then feeds the
// presenter with distinct positions until ctx is cancelled or the stream fails.
func (s *Service) trackLocation(ctx context.Context) error {
	if err := s.resolver.WaitSatisfied(ctx, s.request); err != nil {
		return fmt.Errorf("location settings not satisfied: %w", err)
	}
	loop, err := consumer.New(s.tracker, s.presenter, s.logger)
	if err != nil {
		return err
	}
	return loop.Run(ctx)
}

// recover handles a failed location job. A failed provider start leaves the shared stream
// terminal, so a fresh one is built and the job is restarted after retryDelay, unless the
// updates were paused in the meantime.
func (s *Service) recover(ctx context.Context, err error) {
	var startErr *location.StartError
	if errors.As(err, &startErr) {
		s.logger.Error("location provider failed to start", slog.String("provider", startErr.Provider),
			logger.Err(startErr.Err))
	}
	if err = s.tracker.Retry(); err != nil {
		s.logger.Error("failed to reset location stream", logger.Err(err))
		return
	}

	if !delay(ctx, s.retryDelay) {
		return
	}

	host := s.lifecycleHost()
	if host == nil || host.State() != lifecycle.Active || host.Running() {
		return
	}
	if err = host.Restart(); err != nil {
		s.logger.Error("failed to restart location updates", logger.Err(err))
	}
}
