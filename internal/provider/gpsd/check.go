// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wneessen/geoflow/internal/location"
	"github.com/wneessen/geoflow/internal/settings"
)

const checkTimeout = time.Second * 2

// Check verifies that the gpsd daemon accepts connections.
func (p *Provider) Check(ctx context.Context, _ location.Request) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", p.client.Addr)
	if err != nil {
		return fmt.Errorf("%w: gpsd is not reachable at %s: %w", settings.ErrServiceDisabled, p.client.Addr, err)
	}
	_ = conn.Close()
	return nil
}
