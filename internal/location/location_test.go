// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestPosition_Equal(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Position
		equal bool
	}{
		{"same coordinates", Position{Lat: 1, Lon: 1}, Position{Lat: 1, Lon: 1}, true},
		{"metadata is ignored", Position{Lat: 1, Lon: 1, Accuracy: 5, Source: "a"},
			Position{Lat: 1, Lon: 1, Accuracy: 50, Time: time.Now(), Source: "b"}, true},
		{"latitude differs", Position{Lat: 1, Lon: 1}, Position{Lat: 2, Lon: 1}, false},
		{"longitude differs", Position{Lat: 1, Lon: 1}, Position{Lat: 1, Lon: 2}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.a.Equal(tc.b) != tc.equal {
				t.Errorf("expected Equal to be %t", tc.equal)
			}
		})
	}
}

func TestPosition_Valid(t *testing.T) {
	tests := []struct {
		name  string
		pos   Position
		valid bool
	}{
		{"null island", Position{}, true},
		{"regular position", Position{Lat: 51.0, Lon: 7.0}, true},
		{"latitude out of range", Position{Lat: 91, Lon: 0}, false},
		{"longitude out of range", Position{Lat: 0, Lon: -181}, false},
		{"NaN latitude", Position{Lat: math.NaN(), Lon: 0}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.pos.Valid() != tc.valid {
				t.Errorf("expected Valid to be %t", tc.valid)
			}
		})
	}
}

func TestPosition_DistanceTo(t *testing.T) {
	t.Run("same position has no distance", func(t *testing.T) {
		p := Position{Lat: 51, Lon: 7}
		if d := p.DistanceTo(p); d != 0 {
			t.Errorf("expected distance to be 0, got %f", d)
		}
	})
	t.Run("one degree of latitude", func(t *testing.T) {
		a, b := Position{Lat: 0, Lon: 0}, Position{Lat: 1, Lon: 0}
		want := EarthRadius * math.Pi / 180
		if d := a.DistanceTo(b); math.Abs(d-want) > 1 {
			t.Errorf("expected distance to be %f, got %f", want, d)
		}
	})
}

func TestTruncate(t *testing.T) {
	if got := Truncate(51.1234567891, 4); got != 51.1234 {
		t.Errorf("expected truncated value to be 51.1234, got %f", got)
	}
	if got := Truncate(51.1234567891, TruncPrecision); got != 51.123456 {
		t.Errorf("expected coordinate precision to be micro degrees, got %.10f", got)
	}
}

func TestResult_LastLocation(t *testing.T) {
	t.Run("empty batch has no location", func(t *testing.T) {
		if _, ok := NewResult().LastLocation(); ok {
			t.Error("expected empty batch to have no location")
		}
	})
	t.Run("most recent element is returned", func(t *testing.T) {
		res := NewResult(Position{Lat: 1, Lon: 1}, Position{Lat: 2, Lon: 2})
		pos, ok := res.LastLocation()
		if !ok {
			t.Fatal("expected batch to have a location")
		}
		if pos.Lat != 2 || pos.Lon != 2 {
			t.Errorf("expected last location to be 2,2, got %s", pos)
		}
	})
	t.Run("invalid trailing element is skipped", func(t *testing.T) {
		res := NewResult(Position{Lat: 1, Lon: 1}, Position{Lat: 100, Lon: 2})
		pos, ok := res.LastLocation()
		if !ok {
			t.Fatal("expected batch to have a location")
		}
		if pos.Lat != 1 {
			t.Errorf("expected last valid location to be 1,1, got %s", pos)
		}
	})
}

func TestRequest(t *testing.T) {
	t.Run("default request", func(t *testing.T) {
		req := DefaultRequest()
		if req.Interval != time.Second*10 {
			t.Errorf("expected interval to be 10s, got %s", req.Interval)
		}
		if req.FastestInterval != time.Second*5 {
			t.Errorf("expected fastest interval to be 5s, got %s", req.FastestInterval)
		}
		if req.Priority != HighAccuracy {
			t.Errorf("expected priority to be %s, got %s", HighAccuracy, req.Priority)
		}
		if err := req.Validate(); err != nil {
			t.Errorf("expected default request to be valid: %s", err)
		}
	})
	t.Run("invalid requests", func(t *testing.T) {
		tests := []struct {
			name string
			req  Request
		}{
			{"zero interval", Request{Interval: 0, FastestInterval: time.Second}},
			{"fastest above interval", Request{Interval: time.Second, FastestInterval: time.Minute}},
			{"unknown priority", Request{Interval: time.Second, FastestInterval: time.Second, Priority: 42}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				if err := tc.req.Validate(); err == nil {
					t.Error("expected request validation to fail")
				}
			})
		}
	})
}

func TestParsePriority(t *testing.T) {
	prio, err := ParsePriority(" High_Accuracy ")
	if err != nil {
		t.Fatalf("failed to parse priority: %s", err)
	}
	if prio != HighAccuracy {
		t.Errorf("expected priority to be %s, got %s", HighAccuracy, prio)
	}
	if _, err = ParsePriority("invalid"); err == nil {
		t.Error("expected parsing of invalid priority to fail")
	}
}

func TestStartError(t *testing.T) {
	cause := errors.New("permission revoked")
	err := NewStartError("gpsd", cause)
	if !errors.Is(err, ErrProviderStartFailed) {
		t.Error("expected error to match ErrProviderStartFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to match its cause")
	}
	if !strings.Contains(err.Error(), "gpsd") {
		t.Errorf("expected error message to contain provider name, got %q", err)
	}
}

func TestNewHandle(t *testing.T) {
	a, b := NewHandle(), NewHandle()
	if a == b {
		t.Error("expected handles to be distinct")
	}
	if a.ID() == "" {
		t.Error("expected handle ID to be non-empty")
	}
}
