package service

import (
	"context"
	"net/netip"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgkeeper/internal/kernel"
)

// WG is the WireGuard control surface the service programs.
// Implemented by kernel.WG; tests substitute fakes.
type WG interface {
	Device(ctx context.Context) (*wgtypes.Device, error)
	Apply(ctx context.Context, u kernel.Update) error
}

// Router programs host routes and source-based policy rules.
// Implemented by kernel.Router.
type Router interface {
	AddHostRoute(addr netip.Addr) error
	ChangeRule(addr netip.Addr, table uint32, enable bool) error
}
