// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"

	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/settings"
)

// Check verifies that the endpoint is usable and, if a scanner is configured, that the process
// may scan for access points. Other scan failures are tolerated since lookups fall back to
// the IP address.
func (p *Provider) Check(context.Context, location.Request) error {
	u, err := url.Parse(p.endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: invalid geolocation endpoint %q", settings.ErrServiceDisabled, p.endpoint)
	}
	if p.scanner == nil {
		return nil
	}
	if _, err = p.scanner.AccessPoints(); errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", settings.ErrPermissionDenied, err)
	}
	return nil
}
