// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/share"
	"github.com/wneessen/geoflow/internal/telemetry"
)

// Sink reacts to distinct positions, e.g. by moving a map marker.
type Sink interface {
	Name() string
	OnDistinctPosition(location.Position)
}

// Subscriber is implemented by everything positions can be subscribed from.
type Subscriber interface {
	Subscribe(ctx context.Context) *share.Subscription[location.Position]
}

// Loop subscribes to a position stream and calls its Sink once per distinct position.
type Loop struct {
	stream Subscriber
	sink   Sink
	logger *logger.Logger
}

// New returns a new consumer Loop.
func New(stream Subscriber, sink Sink, log *logger.Logger) (*Loop, error) {
	if stream == nil {
		return nil, errors.New("position stream is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Loop{
		stream: stream,
		sink:   sink,
		logger: log.With(slog.String("sink", sink.Name())),
	}, nil
}

// Run attaches to the stream and delivers distinct positions to the sink until ctx is
// cancelled or the stream ends. Absent values and consecutive duplicates are skipped. Run
// detaches before it returns. It returns the error the stream failed with, if any.
func (l *Loop) Run(ctx context.Context) error {
	sub := l.stream.Subscribe(ctx)
	defer sub.Unsubscribe()

	var filter Distinct
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-sub.C():
			if !ok {
				return sub.Err()
			}
			pos, isSet := v.Get()
			if !isSet || !filter.Next(pos) {
				continue
			}
			l.logger.Debug("received distinct position", slog.Float64("lat", pos.Lat),
				slog.Float64("lon", pos.Lon))
			telemetry.DistinctPositions.WithLabelValues(l.sink.Name()).Inc()
			l.sink.OnDistinctPosition(pos)
		}
	}
}

// Distinct suppresses consecutive duplicate positions.
type Distinct struct {
	last     location.Position
	haveLast bool
}

// Next reports whether pos differs from the previously accepted position and remembers it.
func (d *Distinct) Next(pos location.Position) bool {
	if d.haveLast && d.last.Equal(pos) {
		return false
	}
	d.last = pos
	d.haveLast = true
	return true
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(location.Position)

func (f SinkFunc) Name() string {
	return "func"
}

func (f SinkFunc) OnDistinctPosition(pos location.Position) {
	f(pos)
}
