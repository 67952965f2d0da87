// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"
)

const (
	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
	watchTimeout          = time.Second * 2

	watchEnable  = `?WATCH={"enable":true,"json":true}`
	watchDisable = `?WATCH={"enable":false}`
)

// ErrNoFix is returned by Poll if gpsd closed the stream before reporting a TPV.
var ErrNoFix = errors.New("no TPV response received from GPSd")

// Client is a minimal GPSd client
type Client struct {
	Addr string
}

// Fix represents a single GPS fix from gpsd.
type Fix struct {
	Lat  float64
	Lon  float64
	Alt  float64
	Acc  float64
	Mode int
	Time time.Time
}

type report struct {
	Class string `json:"class"`
}

// tpvReport extends the TPV report of go-gpsd with the horizontal error estimate that newer
// gpsd releases send. Time is decoded as RFC 3339 regardless of the go-gpsd field type.
type tpvReport struct {
	gpsd.TPVReport
	Eph  float64   `json:"eph"`
	Time time.Time `json:"time"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr: net.JoinHostPort(host, port),
	}
}

// Poll connects to gpsd, enables a WATCH and returns the first TPV report. The connection is
// closed before returning.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var zero Fix

	conn, err := c.dial(ctx)
	if err != nil {
		return zero, err
	}
	defer func() {
		_ = conn.Close()
	}()

	// Respect context deadline if present, otherwise we add a safety net so we don't hang
	// forever if ctx has no deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(watchTimeout))
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		fix, ok := decodeTPV(scanner.Bytes())
		if !ok {
			continue
		}
		return fix, nil
	}

	if err = scanner.Err(); err != nil {
		return zero, fmt.Errorf("failed to scan GPSd response: %w", err)
	}
	return zero, ErrNoFix
}

// Watch connects to gpsd and calls fn for every TPV report until the returned Watch is closed
// or the connection ends. fn is called from the reading goroutine and must not call Close.
func (c *Client) Watch(ctx context.Context, fn func(Fix)) (*Watch, error) {
	if fn == nil {
		return nil, errors.New("gpspoll: watch callback is required")
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	w := &Watch{
		conn: conn,
		done: make(chan struct{}),
	}
	go w.read(fn)
	return w, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("gpspoll: dial gpsd: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(watchTimeout))
	if _, err = fmt.Fprint(conn, watchEnable+"\n"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gpspoll: write WATCH: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

// Watch is a running gpsd WATCH session.
type Watch struct {
	conn   net.Conn
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.Mutex
	err    error
}

// Done returns a channel that is closed once the session ended.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Err returns the reason the session ended. It is nil after Close and io.EOF if gpsd closed
// the connection.
func (w *Watch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close disables the watch, closes the connection and waits for the reading goroutine. It is
// safe to call Close more than once.
func (w *Watch) Close() error {
	var err error
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		_ = w.conn.SetWriteDeadline(time.Now().Add(watchTimeout))
		_, _ = fmt.Fprint(w.conn, watchDisable+"\n")
		err = w.conn.Close()
		<-w.done
	})
	return err
}

func (w *Watch) read(fn func(Fix)) {
	defer close(w.done)

	scanner := bufio.NewScanner(w.conn)
	for scanner.Scan() {
		fix, ok := decodeTPV(scanner.Bytes())
		if !ok {
			continue
		}
		fn(fix)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.err = scanner.Err()
	if w.err == nil {
		w.err = io.EOF
	}
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= int(gpsd.Mode2D)
}

// decodeTPV returns the fix of a gpsd JSON line. Lines of any other class are skipped.
func decodeTPV(line []byte) (Fix, bool) {
	var rep report
	if err := json.Unmarshal(line, &rep); err != nil || rep.Class != "TPV" {
		return Fix{}, false
	}
	var tpv tpvReport
	if err := json.Unmarshal(line, &tpv); err != nil {
		return Fix{}, false
	}
	return Fix{
		Lat:  tpv.Lat,
		Lon:  tpv.Lon,
		Alt:  tpv.Alt,
		Acc:  horizontalAccuracyMeters(tpv),
		Mode: int(tpv.Mode),
		Time: tpv.Time,
	}, true
}

func horizontalAccuracyMeters(tpv tpvReport) float64 {
	switch {
	case tpv.Eph > 0:
		return tpv.Eph
	case tpv.Epx > 0 && tpv.Epy > 0:
		// sqrt(epx² + epy²)
		return math.Hypot(tpv.Epx, tpv.Epy)
	default:
		return horizontalAccuracyFallback(tpv)
	}
}

func horizontalAccuracyFallback(tpv tpvReport) float64 {
	switch tpv.Mode {
	case gpsd.Mode3D:
		return fallbackAccuracy3DFix
	case gpsd.Mode2D:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
