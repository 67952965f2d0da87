// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"fmt"
	"strings"

	"github.com/mdlayher/wifi"
)

// WirelessNetwork is a single access point as reported to the geolocation API.
type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

// Scanner lists the wireless access points in range.
type Scanner interface {
	AccessPoints() ([]WirelessNetwork, error)
}

// WifiScanner scans access points through nl80211.
type WifiScanner struct {
	client *wifi.Client
}

// NewWifiScanner returns a WifiScanner. It fails if nl80211 is not available.
func NewWifiScanner() (*WifiScanner, error) {
	client, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create wifi client: %w", err)
	}
	return &WifiScanner{client: client}, nil
}

// AccessPoints returns the access points seen by all station interfaces. Hidden networks
// and networks that opted out of mapping (suffix _nomap) are skipped.
func (s *WifiScanner) AccessPoints() ([]WirelessNetwork, error) {
	var checkIfaces []*wifi.Interface
	var list []WirelessNetwork

	ifaces, err := s.client.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		checkIfaces = append(checkIfaces, iface)
	}
	if len(checkIfaces) == 0 {
		return nil, nil
	}

	for _, iface := range checkIfaces {
		aps, err := s.client.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}

	return list, nil
}

// Close releases the nl80211 connection.
func (s *WifiScanner) Close() error {
	return s.client.Close()
}
