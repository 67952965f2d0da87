// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geocode resolves the place a position points to.
package geocode

import (
	"context"
	"strings"

	"github.com/wneessen/geoflow/internal/location"
)

// Place is the reverse geocoded address of a position. Found is false if the geocoder knows
// nothing about the position.
type Place struct {
	Found       bool
	DisplayName string
	Country     string
	State       string
	City        string
	District    string
	Suburb      string
	Postcode    string
	Street      string
	HouseNumber string
}

// Label returns a short human-readable label like "Friedrichstraße 67, Berlin".
func (p Place) Label() string {
	if !p.Found {
		return ""
	}
	street := strings.TrimSpace(p.Street + " " + p.HouseNumber)
	var parts []string
	if street != "" {
		parts = append(parts, street)
	}
	switch {
	case p.City != "":
		parts = append(parts, p.City)
	case p.State != "":
		parts = append(parts, p.State)
	}
	if len(parts) == 0 {
		return p.DisplayName
	}
	return strings.Join(parts, ", ")
}

type Geocoder interface {
	Name() string
	Reverse(ctx context.Context, pos location.Position) (Place, error)
}
