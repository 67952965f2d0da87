// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"

	"github.com/wneessen/geoflow/internal/config"
	"github.com/wneessen/geoflow/internal/http"
	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/provider/file"
	"github.com/wneessen/geoflow/internal/provider/gpsd"
	"github.com/wneessen/geoflow/internal/provider/ichnaea"
	"github.com/wneessen/geoflow/internal/settings"
)

// checkedProvider is a location provider that can verify its own preconditions.
type checkedProvider interface {
	location.Provider
	settings.Checker
}

// selectProvider creates the single location provider selected in the config.
func (s *Service) selectProvider() (checkedProvider, error) {
	var provider checkedProvider
	var err error

	switch s.config.Location.Provider {
	case config.ProviderGPSD:
		provider, err = gpsd.New(s.config.GPSD.Host, s.config.GPSD.Port, s.logger)
	case config.ProviderFile:
		provider, err = file.New(s.config.File.Path, s.logger)
	case config.ProviderIchnaea:
		var scanner ichnaea.Scanner
		if !s.config.Ichnaea.DisableWifi {
			wifi, wifiErr := ichnaea.NewWifiScanner()
			if wifiErr != nil {
				s.logger.Warn("wifi scanning not available, using IP based lookups only", logger.Err(wifiErr))
			} else {
				scanner = wifi
				s.closers = append(s.closers, wifi)
			}
		}
		provider, err = ichnaea.New(s.config.Ichnaea.Endpoint, http.New(s.logger), scanner, s.logger)
	default:
		return nil, fmt.Errorf("unsupported location provider: %s", s.config.Location.Provider)
	}
	if err != nil {
		return nil, err
	}
	return provider, nil
}
