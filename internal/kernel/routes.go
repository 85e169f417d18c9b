package kernel

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Router programs the rtnetlink side of a client tunnel: the /32 host route
// out of the managed interface and the source-based policy rule used by the
// double-VPN toggle.
type Router struct {
	linkIndex int
}

// NewRouter binds route operations to the managed interface's kernel index.
func NewRouter(linkIndex int) *Router {
	return &Router{linkIndex: linkIndex}
}

// InterfaceIndex resolves a link name to its kernel index.
func InterfaceIndex(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("find interface %q: %w", name, err)
	}
	return link.Attrs().Index, nil
}

// AddHostRoute installs a main-table /32 unicast route for addr out of the
// managed interface. Returns ErrExists if the route is already present.
func (r *Router) AddHostRoute(addr netip.Addr) error {
	route := netlink.Route{
		LinkIndex: r.linkIndex,
		Dst:       hostIPNet(addr),
		Scope:     netlink.SCOPE_LINK,
		Protocol:  unix.RTPROT_BOOT,
		Type:      unix.RTN_UNICAST,
		Table:     unix.RT_TABLE_MAIN,
	}
	if err := netlink.RouteAdd(&route); err != nil {
		return fmt.Errorf("add host route %s: %w", addr, classify(err))
	}
	return nil
}

func hostIPNet(addr netip.Addr) *net.IPNet {
	return &net.IPNet{IP: addr.AsSlice(), Mask: net.CIDRMask(32, 32)}
}
