package kernel

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Update describes one SetDevice call against the managed interface.
//
// With ReplacePeers set, the kernel atomically swaps its whole peer set for
// the one given here; otherwise peers are merged in incrementally.
type Update struct {
	ReplacePeers bool
	Peers        []PeerUpdate
}

// PeerUpdate is a single peer entry inside an Update.
type PeerUpdate struct {
	PublicKey wgtypes.Key
	// AllowedIP, when valid, replaces the peer's allowed-IPs with this
	// single prefix. Every config owns exactly one /32.
	AllowedIP netip.Prefix
	Remove    bool
}

// WG drives the WireGuard device over generic netlink via wgctrl.
// It is not safe for concurrent use; callers serialize externally.
type WG struct {
	client *wgctrl.Client
	iface  string
}

// OpenWG opens a wgctrl handle bound to the named interface. The interface
// must already exist; its lifecycle is not managed here.
func OpenWG(iface string) (*WG, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("open wireguard control socket: %w", err)
	}
	if _, err := client.Device(iface); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("inspect wireguard interface %q: %w", iface, classify(err))
	}
	return &WG{client: client, iface: iface}, nil
}

func (w *WG) Close() error {
	if w == nil || w.client == nil {
		return nil
	}
	return w.client.Close()
}

// Device dumps the current device state: keys, listen port and the full
// peer list with per-peer counters and allowed-IPs.
func (w *WG) Device(_ context.Context) (*wgtypes.Device, error) {
	dev, err := w.client.Device(w.iface)
	if err != nil {
		return nil, fmt.Errorf("get wireguard device %q: %w", w.iface, classify(err))
	}
	return dev, nil
}

// Apply issues a SetDevice with the given peer updates.
func (w *WG) Apply(_ context.Context, u Update) error {
	cfg := wgtypes.Config{
		ReplacePeers: u.ReplacePeers,
		Peers:        make([]wgtypes.PeerConfig, 0, len(u.Peers)),
	}
	for _, p := range u.Peers {
		pc := wgtypes.PeerConfig{PublicKey: p.PublicKey, Remove: p.Remove}
		if p.AllowedIP.IsValid() {
			pc.ReplaceAllowedIPs = true
			pc.AllowedIPs = []net.IPNet{prefixToIPNet(p.AllowedIP)}
		}
		cfg.Peers = append(cfg.Peers, pc)
	}
	if err := w.client.ConfigureDevice(w.iface, cfg); err != nil {
		return fmt.Errorf("configure wireguard device %q: %w", w.iface, classify(err))
	}
	return nil
}

func prefixToIPNet(pref netip.Prefix) net.IPNet {
	bits := 32
	if pref.Addr().Is6() {
		bits = 128
	}
	return net.IPNet{IP: pref.Addr().AsSlice(), Mask: net.CIDRMask(pref.Bits(), bits)}
}
