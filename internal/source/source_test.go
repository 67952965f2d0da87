// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package source_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/source"
	"github.com/wneessen/geoflow/internal/testhelper"
)

const waitTimeout = time.Second * 2

func newSource(t *testing.T, p location.Provider, opts ...source.Option) *source.Source {
	t.Helper()
	src, err := source.New(p, logger.Wrap(slogt.New(t)), opts...)
	require.NoError(t, err)
	return src
}

// collect runs Collect in the background and forwards positions and the final error.
func collect(ctx context.Context, stream *source.Stream) (<-chan location.Position, <-chan error) {
	positions := make(chan location.Position, 16)
	errs := make(chan error, 1)
	go func() {
		errs <- stream.Collect(ctx, func(p location.Position) {
			positions <- p
		})
	}()
	return positions, errs
}

func waitStarted(t *testing.T, p *testhelper.FakeProvider) {
	t.Helper()
	select {
	case <-p.Started():
	case <-time.After(waitTimeout):
		t.Fatal("provider was not started")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := source.New(nil, logger.Wrap(slogt.New(t)))
	require.Error(t, err)

	_, err = source.New(testhelper.NewFakeProvider(), nil)
	require.ErrorContains(t, err, "logger is required")

	_, err = source.New(testhelper.NewFakeProvider(), logger.Wrap(slogt.New(t)),
		source.WithRequest(location.Request{}))
	require.ErrorContains(t, err, "invalid location request")
}

func TestStream_Collect_coldStart(t *testing.T) {
	t.Parallel()

	p := testhelper.NewFakeProvider()
	src := newSource(t, p)
	stream := src.Open()

	// Opening alone must not register with the provider.
	require.Zero(t, p.Starts())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, errs := collect(ctx, stream)
	waitStarted(t, p)

	require.Equal(t, 1, p.Starts())
	require.Equal(t, []location.Request{location.DefaultRequest()}, p.Requests())

	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)
	require.Equal(t, 1, p.Stops())
}

func TestStream_Collect_forwardsPositions(t *testing.T) {
	t.Parallel()

	p := testhelper.NewFakeProvider()
	stream := newSource(t, p).Open()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	positions, errs := collect(ctx, stream)
	waitStarted(t, p)

	p.Push(location.NewResult(location.Position{Lat: 1, Lon: 1}, location.Position{Lat: 2, Lon: 2}))
	p.Push(location.NewResult())
	p.PushPosition(3, 3)

	first := <-positions
	require.Equal(t, 2.0, first.Lat, "only the most recent position of a batch is forwarded")
	second := <-positions
	require.Equal(t, 3.0, second.Lat, "empty batches are dropped")

	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)
	require.Empty(t, positions)
}

func TestStream_Collect_stopsOnCancelBeforeEvent(t *testing.T) {
	t.Parallel()

	p := testhelper.NewFakeProvider()
	stream := newSource(t, p).Open()

	ctx, cancel := context.WithCancel(context.Background())
	_, errs := collect(ctx, stream)
	waitStarted(t, p)
	cancel()

	require.ErrorIs(t, <-errs, context.Canceled)
	require.Equal(t, 1, p.Starts())
	require.Equal(t, 1, p.Stops())
	require.Zero(t, p.Active())
}

func TestStream_Collect_cancelledBeforeStart(t *testing.T) {
	t.Parallel()

	p := testhelper.NewFakeProvider()
	stream := newSource(t, p).Open()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := stream.Collect(ctx, func(location.Position) {})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, p.Starts())
	require.Zero(t, p.Stops())
}

func TestStream_Collect_cancelledDuringStart(t *testing.T) {
	t.Parallel()

	p := testhelper.NewFakeProvider()
	p.HoldStart = true
	src := newSource(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	_, errs := collect(ctx, src.Open())
	select {
	case <-p.Starting():
	case <-time.After(waitTimeout):
		t.Fatal("provider start was not attempted")
	}
	cancel()

	err := <-errs
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, location.ErrProviderStartFailed)
	require.NoError(t, src.Err())

	// The source is still usable for the next consumer.
	p.HoldStart = false
	ctx, cancel = context.WithCancel(context.Background())
	positions, errs := collect(ctx, src.Open())
	waitStarted(t, p)
	p.PushPosition(3, 4)
	select {
	case pos := <-positions:
		require.Equal(t, 3.0, pos.Lat)
	case <-time.After(waitTimeout):
		t.Fatal("no position received")
	}
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)
	require.Equal(t, 1, p.Starts())
	require.Equal(t, 1, p.Stops())
}

func TestStream_Collect_startFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("permission revoked")
	p := testhelper.NewFakeProvider()
	p.StartErr = cause
	src := newSource(t, p)

	var got int
	err := src.Open().Collect(context.Background(), func(location.Position) { got++ })
	require.ErrorIs(t, err, location.ErrProviderStartFailed)
	require.ErrorIs(t, err, cause)

	var startErr *location.StartError
	require.ErrorAs(t, err, &startErr)
	require.Equal(t, "fake", startErr.Provider)

	require.Zero(t, got)
	require.Zero(t, p.Stops(), "a failed start must not be followed by a stop")

	// The source stays closed, even if the provider would start now.
	p.StartErr = nil
	err = src.Open().Collect(context.Background(), func(location.Position) {})
	require.ErrorIs(t, err, location.ErrSourceClosed)
	require.ErrorIs(t, err, cause)
	require.Zero(t, p.Starts())
	require.ErrorIs(t, src.Err(), location.ErrProviderStartFailed)
}

func TestStream_Collect_asyncStartFailure(t *testing.T) {
	t.Parallel()

	p := testhelper.NewFakeProvider()
	p.AsyncErr = errors.New("location service disabled")
	stream := newSource(t, p).Open()

	var got int
	err := stream.Collect(context.Background(), func(location.Position) { got++ })
	require.ErrorIs(t, err, location.ErrProviderStartFailed)
	require.Zero(t, got)
	require.Equal(t, 1, p.Starts())
	require.Equal(t, 1, p.Stops())
}

func TestStream_Collect_singleRegistration(t *testing.T) {
	t.Parallel()

	p := testhelper.NewFakeProvider()
	src := newSource(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	_, errs := collect(ctx, src.Open())
	waitStarted(t, p)

	err := src.Open().Collect(context.Background(), func(location.Position) {})
	require.ErrorIs(t, err, location.ErrSourceBusy)
	require.Equal(t, 1, p.Starts())

	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	// A new activation after the previous one ended gets a fresh registration.
	ctx, cancel = context.WithCancel(context.Background())
	_, errs = collect(ctx, src.Open())
	waitStarted(t, p)
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)
	require.Equal(t, 2, p.Starts())
	require.Equal(t, 2, p.Stops())
}

func TestStream_Collect_pushDuringDetach(t *testing.T) {
	t.Parallel()

	p := testhelper.NewFakeProvider()
	stream := newSource(t, p, source.WithBufferSize(1)).Open()

	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		errs <- stream.Collect(ctx, func(location.Position) {
			<-block
		})
	}()
	waitStarted(t, p)

	// Pushes racing with a slow and then detaching consumer must never block or panic.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			p.PushPosition(float64(i%90), 1)
		}
	}()
	wg.Wait()

	cancel()
	close(block)
	require.ErrorIs(t, <-errs, context.Canceled)
	require.Equal(t, 1, p.Stops())
}
