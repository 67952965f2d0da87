// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/settings"
)

const (
	tpv3D   = `{"class":"TPV","mode":3,"time":"2025-11-24T10:44:41.000Z","lat":51.1234567,"lon":7.1234567,"alt":75.0,"eph":4.5}`
	tpvNone = `{"class":"TPV","mode":1,"time":"2025-11-24T10:44:42.000Z"}`
)

func startMockGPSD(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	conns := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String(), conns
}

func accept(t *testing.T, conns <-chan net.Conn) (net.Conn, *bufio.Reader) {
	t.Helper()
	select {
	case conn := <-conns:
		t.Cleanup(func() { _ = conn.Close() })
		reader := bufio.NewReader(conn)
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(line, `?WATCH={"enable":true`), "unexpected command: %s", line)
		return conn, reader
	case <-time.After(time.Second * 2):
		t.Fatal("no connection to mock gpsd")
	}
	return nil, nil
}

func newProvider(t *testing.T, addr string) *Provider {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, err := New(host, port, logger.Wrap(slogt.New(t)))
	require.NoError(t, err)
	return p
}

type recorder struct {
	results  chan location.Result
	failures chan error
}

func newRecorder() *recorder {
	return &recorder{results: make(chan location.Result, 10), failures: make(chan error, 1)}
}

func (r *recorder) OnLocationResult(res location.Result) { r.results <- res }
func (r *recorder) OnFailure(err error)                  { r.failures <- err }

func (r *recorder) next(t *testing.T) location.Result {
	t.Helper()
	select {
	case res := <-r.results:
		return res
	case <-time.After(time.Second * 2):
		t.Fatal("no result received")
	}
	return location.Result{}
}

func TestNew(t *testing.T) {
	_, err := New("", "", nil)
	require.Error(t, err)

	p, err := New("", "", logger.Wrap(slogt.New(t)))
	require.NoError(t, err)
	require.Equal(t, "localhost:2947", p.Addr())
	require.Equal(t, "gpsd", p.Name())
}

func TestProvider_RequestUpdates(t *testing.T) {
	addr, conns := startMockGPSD(t)
	p := newProvider(t, addr)
	rec := newRecorder()

	handle, err := p.RequestUpdates(t.Context(), location.Request{Interval: time.Second}, rec)
	require.NoError(t, err)
	conn, reader := accept(t, conns)

	_, err = fmt.Fprintln(conn, tpv3D)
	require.NoError(t, err)
	pos, ok := rec.next(t).LastLocation()
	require.True(t, ok)
	require.Equal(t, 51.123456, pos.Lat)
	require.Equal(t, 7.123456, pos.Lon)
	require.Equal(t, 4.5, pos.Accuracy)
	require.Equal(t, "gpsd", pos.Source)
	require.True(t, pos.Time.Equal(time.Date(2025, 11, 24, 10, 44, 41, 0, time.UTC)))

	_, err = fmt.Fprintln(conn, tpvNone)
	require.NoError(t, err)
	_, ok = rec.next(t).LastLocation()
	require.False(t, ok, "a report without fix must be an empty result")

	require.NoError(t, p.RemoveUpdates(handle))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, `"enable":false`)
	require.NoError(t, p.RemoveUpdates(handle), "remove must be idempotent")

	select {
	case err = <-rec.failures:
		t.Fatalf("unexpected failure after remove: %s", err)
	default:
	}
}

func TestProvider_RequestUpdates_throttle(t *testing.T) {
	addr, conns := startMockGPSD(t)
	p := newProvider(t, addr)
	rec := newRecorder()

	handle, err := p.RequestUpdates(t.Context(), location.Request{FastestInterval: time.Hour}, rec)
	require.NoError(t, err)
	defer func() { _ = p.RemoveUpdates(handle) }()
	conn, _ := accept(t, conns)

	for range 3 {
		_, err = fmt.Fprintln(conn, tpv3D)
		require.NoError(t, err)
	}
	rec.next(t)
	require.Never(t, func() bool { return len(rec.results) > 0 }, time.Millisecond*200, time.Millisecond*20)
}

func TestProvider_RequestUpdates_watchEnds(t *testing.T) {
	addr, conns := startMockGPSD(t)
	p := newProvider(t, addr)
	rec := newRecorder()

	handle, err := p.RequestUpdates(t.Context(), location.Request{}, rec)
	require.NoError(t, err)
	defer func() { _ = p.RemoveUpdates(handle) }()
	conn, _ := accept(t, conns)
	require.NoError(t, conn.Close())

	select {
	case err = <-rec.failures:
		require.ErrorContains(t, err, "gpsd watch ended")
	case <-time.After(time.Second * 2):
		t.Fatal("expected a failure once gpsd closed the connection")
	}
}

func TestProvider_RequestUpdates_unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := newProvider(t, addr)
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	_, err = p.RequestUpdates(ctx, location.Request{}, newRecorder())
	require.Error(t, err)
}

func TestProvider_Check(t *testing.T) {
	addr, _ := startMockGPSD(t)
	require.NoError(t, newProvider(t, addr).Check(t.Context(), location.DefaultRequest()))

	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	closed := ln.Addr().String()
	require.NoError(t, ln.Close())
	require.ErrorIs(t, newProvider(t, closed).Check(t.Context(), location.DefaultRequest()), settings.ErrServiceDisabled)
}
