// Package pairing issues and verifies the short tokens a client presents in
// chat to claim ownership of a tunnel address.
package pairing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrInvalidToken covers every verification failure: bad encoding,
	// wrong length, or MAC mismatch. Callers get no finer detail.
	ErrInvalidToken = errors.New("invalid pair token")
	// ErrInvalidSecret is returned when the configured signing secret is
	// empty.
	ErrInvalidSecret = errors.New("invalid pair secret")
)

// Codec signs IPv4 addresses into opaque tokens with HMAC-SHA256.
// Tokens carry no expiry; possession of a valid token proves the holder
// was handed it by the server.
type Codec struct {
	secret []byte
}

func New(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidSecret
	}
	c := &Codec{secret: make([]byte, len(secret))}
	copy(c.secret, secret)
	return c, nil
}

// Token encodes ip into a signed, URL-safe token.
func (c *Codec) Token(ip netip.Addr) (string, error) {
	if !ip.Is4() {
		return "", fmt.Errorf("pair token for %s: ipv4 address required", ip)
	}
	addr := ip.As4()
	payload := append(addr[:], c.sum(addr[:])...)
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Verify recovers the IPv4 address from a token produced by Token.
// Any modification of the token fails with ErrInvalidToken.
func (c *Codec) Verify(token string) (netip.Addr, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return netip.Addr{}, ErrInvalidToken
	}
	if len(raw) != 4+sha256.Size {
		return netip.Addr{}, ErrInvalidToken
	}
	if !hmac.Equal(raw[4:], c.sum(raw[:4])) {
		return netip.Addr{}, ErrInvalidToken
	}
	return netip.AddrFrom4([4]byte(raw[:4])), nil
}

func (c *Codec) sum(addr []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(addr)
	return mac.Sum(nil)
}
