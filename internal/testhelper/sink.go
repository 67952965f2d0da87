// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package testhelper

import (
	"sync"

	"github.com/wneessen/geoflow/internal/location"
)

// RecordingSink records every position it receives.
type RecordingSink struct {
	mu        sync.Mutex
	positions []location.Position
	received  chan location.Position
}

// NewRecordingSink returns an initialized RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{received: make(chan location.Position, 64)}
}

func (s *RecordingSink) Name() string {
	return "recording"
}

func (s *RecordingSink) OnDistinctPosition(pos location.Position) {
	s.mu.Lock()
	s.positions = append(s.positions, pos)
	s.mu.Unlock()
	select {
	case s.received <- pos:
	default:
	}
}

// Received returns a channel that receives every recorded position.
func (s *RecordingSink) Received() <-chan location.Position {
	return s.received
}

// Positions returns a copy of all recorded positions.
func (s *RecordingSink) Positions() []location.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]location.Position(nil), s.positions...)
}
