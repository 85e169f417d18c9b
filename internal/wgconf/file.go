// Package wgconf renders client-side WireGuard configuration files.
package wgconf

import (
	"fmt"
	"net/netip"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// clientListenPort is fixed in every emitted config.
const clientListenPort = 51820

// privateKeyPlaceholder is emitted when the client supplied only a public
// key and the server never learned the private half.
const privateKeyPlaceholder = "<INSERT PRIVATE KEY>"

// ServerInfo is the peer section of an emitted config.
type ServerInfo struct {
	// Endpoint is the externally reachable host:port of the server.
	Endpoint string
	// PublicKey is the server interface key, base64-encoded.
	PublicKey string
}

// Render emits the client config for a tunnel address. The field order and
// the absence of a trailing newline are part of the format; clients paste
// this verbatim into wg-quick.
func Render(ip netip.Addr, priv *wgtypes.Key, server ServerInfo) string {
	privKey := privateKeyPlaceholder
	if priv != nil {
		privKey = priv.String()
	}
	return fmt.Sprintf(`[Interface]
Address = %s
PrivateKey = %s
ListenPort = %d

[Peer]
PublicKey = %s
Endpoint = %s
AllowedIPs = 0.0.0.0/0, ::/0`,
		ip, privKey, clientListenPort, server.PublicKey, server.Endpoint)
}
