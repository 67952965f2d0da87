// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package presenter renders the current position marker as waybar JSON lines.
package presenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"github.com/wneessen/geoflow/internal/geocode"
	"github.com/wneessen/geoflow/internal/job"
	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/template"
	"github.com/wneessen/geoflow/internal/vartype"
)

const (
	MarkerIcon = "📍"

	ClassWaiting = "waiting"
	ClassHigh    = "accuracy-high"
	ClassMedium  = "accuracy-medium"
	ClassLow     = "accuracy-low"

	highAccuracyLimit   = 25  // meters
	mediumAccuracyLimit = 500 // meters

	geocodeTimeout = time.Second * 15
)

type outputData struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip"`
	Class   string `json:"class"`
}

// TemplateContext is the data the text and tooltip templates are executed with.
type TemplateContext struct {
	Title     string
	Icon      string
	Latitude  float64
	Longitude float64
	Altitude  float64
	Accuracy  float64
	Source    string
	// Place is the reverse geocoded address of the marker. It is empty until the lookup
	// finished or if no geocoder is configured.
	Place geocode.Place

	// Moved is the distance in meters between the current and the previous marker.
	Moved       float64
	UpdateTime  time.Time
	SunriseTime time.Time
	SunsetTime  time.Time
	IsDaytime   bool
}

// Presenter keeps a single "You are here" marker and prints it as a waybar JSON line
// whenever it moves or the periodic refresh fires.
type Presenter struct {
	templates *template.Templates
	logger    *logger.Logger
	geocoder  geocode.Geocoder

	writeLock sync.Mutex
	output    io.Writer

	markerLock sync.RWMutex
	marker     vartype.Variable[location.Position]
	moved      float64
	place      geocode.Place
}

// Option configures a Presenter.
type Option func(*Presenter)

// WithGeocoder makes the Presenter resolve the address of every new marker.
func WithGeocoder(g geocode.Geocoder) Option {
	return func(p *Presenter) {
		p.geocoder = g
	}
}

// New returns a Presenter printing to out.
func New(tpls *template.Templates, out io.Writer, log *logger.Logger, opts ...Option) (*Presenter, error) {
	if tpls == nil {
		return nil, errors.New("templates are required")
	}
	if out == nil {
		return nil, errors.New("output writer is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	presenter := &Presenter{
		templates: tpls,
		logger:    log,
		output:    out,
	}
	for _, opt := range opts {
		opt(presenter)
	}
	return presenter, nil
}

func (p *Presenter) Name() string {
	return "waybar"
}

// OnDistinctPosition replaces the current marker with pos and prints it. With a geocoder the
// marker is printed again once its address is known.
func (p *Presenter) OnDistinctPosition(pos location.Position) {
	p.markerLock.Lock()
	if prev, ok := p.marker.Get(); ok {
		p.moved = prev.DistanceTo(pos)
	}
	p.marker.Set(pos)
	p.place = geocode.Place{}
	p.markerLock.Unlock()

	p.Render()
	if p.geocoder != nil {
		go p.resolvePlace(pos)
	}
}

// resolvePlace looks up the address of pos. The result is dropped if the marker moved on
// in the meantime.
func (p *Presenter) resolvePlace(pos location.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), geocodeTimeout)
	defer cancel()
	place, err := p.geocoder.Reverse(ctx, pos)
	if err != nil {
		p.logger.Warn("failed to resolve address of marker", logger.Err(err))
		return
	}

	p.markerLock.Lock()
	current, ok := p.marker.Get()
	if !ok || !current.Equal(pos) {
		p.markerLock.Unlock()
		return
	}
	p.place = place
	p.markerLock.Unlock()

	p.Render()
}

// Marker returns the current marker position. It is unset until the first position arrived.
func (p *Presenter) Marker() vartype.Variable[location.Position] {
	p.markerLock.RLock()
	defer p.markerLock.RUnlock()
	return p.marker
}

// Run re-renders the current marker every interval until ctx is cancelled, so relative
// times in the output stay fresh.
func (p *Presenter) Run(ctx context.Context, interval time.Duration) {
	job.New(interval, func(context.Context) { p.Render() }, job.WithImmediateStart()).Start(ctx)
}

// Render prints the current marker. Without a marker a waiting line is printed.
func (p *Presenter) Render() {
	p.markerLock.RLock()
	pos, ok := p.marker.Get()
	moved := p.moved
	place := p.place
	p.markerLock.RUnlock()

	output := outputData{
		Text:    p.templates.Localize("waiting"),
		Tooltip: p.templates.Localize("waiting"),
		Class:   ClassWaiting,
	}
	if ok {
		var err error
		tplCtx := p.BuildContext(pos, moved, time.Now())
		tplCtx.Place = place
		if output, err = p.renderMarker(tplCtx); err != nil {
			p.logger.Error("failed to render marker", logger.Err(err))
			return
		}
	}

	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	if err := json.NewEncoder(p.output).Encode(output); err != nil {
		p.logger.Error("failed to encode marker output", logger.Err(err))
	}
}

// BuildContext returns the template context for a marker at pos.
func (p *Presenter) BuildContext(pos location.Position, moved float64, now time.Time) TemplateContext {
	rise, set := sunrise.SunriseSunset(pos.Lat, pos.Lon, now.Year(), now.Month(), now.Day())
	updated := pos.Time
	if updated.IsZero() {
		updated = now
	}
	return TemplateContext{
		Title:       p.templates.Localize("title"),
		Icon:        MarkerIcon,
		Latitude:    pos.Lat,
		Longitude:   pos.Lon,
		Altitude:    pos.Alt,
		Accuracy:    pos.Accuracy,
		Source:      pos.Source,
		Moved:       moved,
		UpdateTime:  updated,
		SunriseTime: rise,
		SunsetTime:  set,
		IsDaytime:   now.After(rise) && now.Before(set),
	}
}

func (p *Presenter) renderMarker(ctx TemplateContext) (outputData, error) {
	textBuf := bytes.NewBuffer(nil)
	if err := p.templates.Text.Execute(textBuf, ctx); err != nil {
		return outputData{}, fmt.Errorf("failed to render text template: %w", err)
	}
	tooltipBuf := bytes.NewBuffer(nil)
	if err := p.templates.Tooltip.Execute(tooltipBuf, ctx); err != nil {
		return outputData{}, fmt.Errorf("failed to render tooltip template: %w", err)
	}
	return outputData{
		Text:    textBuf.String(),
		Tooltip: tooltipBuf.String(),
		Class:   accuracyClass(ctx.Accuracy),
	}, nil
}

func accuracyClass(acc float64) string {
	switch {
	case acc <= 0:
		return ClassLow
	case acc <= highAccuracyLimit:
		return ClassHigh
	case acc <= mediumAccuracyLimit:
		return ClassMedium
	default:
		return ClassLow
	}
}
