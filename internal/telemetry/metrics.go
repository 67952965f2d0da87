// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geoflow"

var (
	// ProviderStarts counts successful location provider registrations.
	ProviderStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_starts_total",
			Help:      "Total number of successful location update registrations",
		},
		[]string{"provider"},
	)

	// ProviderStops counts removed location provider registrations.
	ProviderStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_stops_total",
			Help:      "Total number of removed location update registrations",
		},
		[]string{"provider"},
	)

	// ProviderStartFailures counts providers refusing to start.
	ProviderStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_start_failures_total",
			Help:      "Total number of location providers that failed to start",
		},
		[]string{"provider"},
	)

	// PositionsEmitted counts positions forwarded by the update source.
	PositionsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_emitted_total",
			Help:      "Total number of positions forwarded to a consumer",
		},
		[]string{"provider"},
	)

	// EventsDropped counts provider pushes that were not forwarded.
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of provider pushes that were dropped",
		},
		[]string{"provider", "reason"},
	)

	// Observers tracks the number of observers attached to shared streams.
	Observers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Number of observers attached to shared location streams",
		},
	)

	// DistinctPositions counts reactions triggered by consumer loops.
	DistinctPositions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distinct_positions_total",
			Help:      "Total number of distinct positions delivered to a sink",
		},
		[]string{"sink"},
	)

	once sync.Once
)

const (
	DropReasonEmpty    = "empty"
	DropReasonDetached = "detached"
)

// Register registers all metrics with the given registerer. It only registers once, further
// calls are no-ops.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		reg.MustRegister(ProviderStarts, ProviderStops, ProviderStartFailures, PositionsEmitted,
			EventsDropped, Observers, DistinctPositions)
	})
}
