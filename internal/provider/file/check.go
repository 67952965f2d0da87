// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/settings"
)

// Check verifies that the geolocation file exists and is readable.
func (p *Provider) Check(context.Context, location.Request) error {
	file, err := os.Open(p.path)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", settings.ErrPermissionDenied, err)
	case err != nil:
		return fmt.Errorf("%w: %w", settings.ErrServiceDisabled, err)
	}
	return file.Close()
}
