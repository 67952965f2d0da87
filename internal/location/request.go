// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultInterval        = time.Second * 10
	DefaultFastestInterval = time.Second * 5
)

// Priority describes the accuracy/power trade-off a Request asks for.
type Priority int

const (
	HighAccuracy Priority = iota
	BalancedPowerAccuracy
	LowPower
	Passive
)

var priorityNames = map[Priority]string{
	HighAccuracy:          "high_accuracy",
	BalancedPowerAccuracy: "balanced_power_accuracy",
	LowPower:              "low_power",
	Passive:               "passive",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority returns the Priority for the given name.
func ParsePriority(name string) (Priority, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for prio, prioName := range priorityNames {
		if prioName == name {
			return prio, nil
		}
	}
	return HighAccuracy, fmt.Errorf("unknown location priority: %q", name)
}

// Request holds the parameters a Provider uses to produce location updates.
type Request struct {
	// Interval is the desired interval between updates.
	Interval time.Duration
	// FastestInterval is the lower bound; updates are never delivered faster than this.
	FastestInterval time.Duration
	Priority        Priority
}

// DefaultRequest returns the request used by the update source unless configured otherwise:
// 10s desired, 5s fastest, high accuracy.
func DefaultRequest() Request {
	return Request{
		Interval:        DefaultInterval,
		FastestInterval: DefaultFastestInterval,
		Priority:        HighAccuracy,
	}
}

// Validate checks that the request intervals are usable.
func (r Request) Validate() error {
	if r.Interval <= 0 {
		return fmt.Errorf("invalid update interval: %s", r.Interval)
	}
	if r.FastestInterval <= 0 || r.FastestInterval > r.Interval {
		return fmt.Errorf("invalid fastest update interval: %s", r.FastestInterval)
	}
	if _, ok := priorityNames[r.Priority]; !ok {
		return fmt.Errorf("invalid priority: %s", r.Priority)
	}
	return nil
}
