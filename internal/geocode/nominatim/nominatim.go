// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package nominatim reverse geocodes positions with the OpenStreetMap Nominatim API.
package nominatim

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/geoflow/internal/geocode"
	"github.com/wneessen/geoflow/internal/http"
	"github.com/wneessen/geoflow/internal/location"
)

const (
	DefaultEndpoint = "https://nominatim.openstreetmap.org/reverse"
	APITimeout      = time.Second * 10
	name            = "osm-nominatim"
)

type Nominatim struct {
	endpoint string
	http     *http.Client
	lang     language.Tag
}

type reverseResult struct {
	Error       string  `json:"error"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
}

type address struct {
	HouseNumber  string `json:"house_number"`
	Road         string `json:"road"`
	Suburb       string `json:"suburb"`
	CityDistrict string `json:"city_district"`
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	State        string `json:"state"`
	Postcode     string `json:"postcode"`
	Country      string `json:"country"`
}

// New returns a Nominatim geocoder. An empty endpoint uses the public OpenStreetMap instance.
func New(client *http.Client, lang language.Tag, endpoint string) (*Nominatim, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Nominatim{
		endpoint: endpoint,
		http:     client,
		lang:     lang,
	}, nil
}

func (n *Nominatim) Name() string {
	return name
}

func (n *Nominatim) Reverse(ctx context.Context, pos location.Position) (geocode.Place, error) {
	var result reverseResult

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", fmt.Sprintf("%f", pos.Lat))
	query.Set("lon", fmt.Sprintf("%f", pos.Lon))
	query.Set("accept-language", n.lang.String())

	if _, err := n.http.GetWithTimeout(ctx, n.endpoint, &result, query, nil, APITimeout); err != nil {
		return geocode.Place{}, fmt.Errorf("failed to fetch reverse address details from Nominatim API: %w", err)
	}

	// Nominatim answers unknown positions (e.g. open sea) with an error message
	if result.Error != "" {
		return geocode.Place{}, nil
	}

	place := geocode.Place{
		Found:       true,
		DisplayName: result.DisplayName,
		Country:     result.Address.Country,
		State:       result.Address.State,
		City:        result.Address.City,
		District:    result.Address.CityDistrict,
		Suburb:      result.Address.Suburb,
		Postcode:    result.Address.Postcode,
		Street:      result.Address.Road,
		HouseNumber: result.Address.HouseNumber,
	}
	if place.City == "" {
		place.City = result.Address.Town
	}
	if place.City == "" {
		place.City = result.Address.Village
	}
	return place, nil
}
