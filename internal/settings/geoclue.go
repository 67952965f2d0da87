// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geoflow/internal/location"
)

const (
	DBusListNamesAddress            = "org.freedesktop.DBus.ListNames"
	DBusListActivatableNamesAddress = "org.freedesktop.DBus.ListActivatableNames"
	GeoClueDBusName                 = "org.freedesktop.GeoClue2"
)

// GeoClue checks that the GeoClue location service is running or activatable on the system
// bus. A system without GeoClue has location services turned off.
type GeoClue struct {
	listNames func(ctx context.Context) ([]string, error)
}

// NewGeoClue returns a GeoClue checker that queries the system bus.
func NewGeoClue() *GeoClue {
	return &GeoClue{listNames: systemBusNames}
}

func (g *GeoClue) Check(ctx context.Context, _ location.Request) error {
	names, err := g.listNames(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceDisabled, err)
	}
	for _, name := range names {
		if strings.EqualFold(name, GeoClueDBusName) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not available on the system bus", ErrServiceDisabled, GeoClueDBusName)
}

func systemBusNames(ctx context.Context) (list []string, err error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close system bus: %w", closeErr))
		}
	}()

	for _, method := range []string{DBusListNamesAddress, DBusListActivatableNamesAddress} {
		var names []string
		if err = conn.BusObject().CallWithContext(ctx, method, 0).Store(&names); err != nil {
			return nil, fmt.Errorf("failed to call %s: %w", method, err)
		}
		list = append(list, names...)
	}
	return list, nil
}
