// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package webmap_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/testhelper"
	"github.com/wneessen/geoflow/internal/tracker"
	"github.com/wneessen/geoflow/internal/webmap"
)

const waitTimeout = time.Second * 2

type positionMessage struct {
	Type    string                 `json:"type"`
	Payload webmap.PositionPayload `json:"payload"`
}

func newServer(t *testing.T) (*testhelper.FakeProvider, *webmap.Server, *httptest.Server) {
	t.Helper()
	log := logger.Wrap(slogt.New(t))
	p := testhelper.NewFakeProvider()
	tr, err := tracker.New(p, log)
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	s, err := webmap.New(tr, log)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return p, s, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readPosition(t *testing.T, conn *websocket.Conn) positionMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	var msg positionMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
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
	_, err := webmap.New(nil, logger.Wrap(slogt.New(t)))
	require.ErrorContains(t, err, "location stream is required")

	tr, err := tracker.New(testhelper.NewFakeProvider(), logger.Wrap(slogt.New(t)))
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	_, err = webmap.New(tr, nil)
	require.ErrorContains(t, err, "logger is required")
}

func TestServer_index(t *testing.T) {
	_, _, srv := newServer(t)
	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "leaflet")
}

func TestServer_metrics(t *testing.T) {
	_, _, srv := newServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_websocket(t *testing.T) {
	t.Run("a client receives distinct positions", func(t *testing.T) {
		p, s, srv := newServer(t)
		conn := dial(t, srv)
		waitStarted(t, p)
		require.Eventually(t, func() bool { return s.Clients() == 1 }, waitTimeout, time.Millisecond*10)

		p.PushPosition(52.52, 13.405)
		p.PushPosition(52.52, 13.405)
		p.PushPosition(48.8566, 2.3522)

		msg := readPosition(t, conn)
		require.Equal(t, "position", msg.Type)
		require.Equal(t, 52.52, msg.Payload.Lat)
		require.Equal(t, "fake", msg.Payload.Source)
		msg = readPosition(t, conn)
		require.Equal(t, 48.8566, msg.Payload.Lat, "duplicates must be suppressed")
	})
	t.Run("clients share one provider registration", func(t *testing.T) {
		p, s, srv := newServer(t)
		first := dial(t, srv)
		waitStarted(t, p)
		p.PushPosition(52.52, 13.405)
		require.Equal(t, 52.52, readPosition(t, first).Payload.Lat)

		second := dial(t, srv)
		msg := readPosition(t, second)
		require.Equal(t, 52.52, msg.Payload.Lat, "a late client must receive the cached position")
		require.Equal(t, 1, p.Starts())
		require.Equal(t, 2, s.Clients())

		_ = first.Close()
		_ = second.Close()
		require.Eventually(t, func() bool { return p.Active() == 0 }, waitTimeout, time.Millisecond*10,
			"the registration must be removed after the last client left")
		require.Eventually(t, func() bool { return s.Clients() == 0 }, waitTimeout, time.Millisecond*10)
	})
}

func TestServer_position(t *testing.T) {
	p, _, srv := newServer(t)
	resp, err := http.Get(srv.URL + "/api/position")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn := dial(t, srv)
	waitStarted(t, p)
	p.PushPosition(40.7185, -74.0025)
	_ = readPosition(t, conn)

	resp, err = http.Get(srv.URL + "/api/position")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pos webmap.PositionPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pos))
	require.Equal(t, 40.7185, pos.Lat)
	require.Equal(t, -74.0025, pos.Lon)
}

func TestServer_origin(t *testing.T) {
	_, _, srv := newServer(t)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(u, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
