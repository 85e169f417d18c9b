// Package ippool hands out client tunnel addresses from a configured IPv4
// CIDR. It is a plain forward cursor: removed configs keep their addresses,
// so nothing is ever returned to the pool. On startup the service advances
// the cursor past every address it has handed out before (deleted configs
// included), which keeps the allocation order stable across restarts.
package ippool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// ErrExhausted is returned once every host address of the range was used.
var ErrExhausted = errors.New("ip pool exhausted")

// Pool is a single cursor over the host addresses of an IPv4 prefix.
// Not safe for concurrent use; the service serializes access.
type Pool struct {
	next uint32
	last uint32
	done bool
}

// New builds a pool over the host addresses of cidr, i.e. excluding the
// network and broadcast addresses. Prefixes of /31 and longer hold no host
// addresses and allocate nothing.
func New(cidr netip.Prefix) (*Pool, error) {
	if !cidr.IsValid() || !cidr.Addr().Is4() {
		return nil, fmt.Errorf("client range %s: ipv4 prefix required", cidr)
	}
	cidr = cidr.Masked()
	if cidr.Bits() >= 31 {
		return &Pool{done: true}, nil
	}
	base := addrToUint32(cidr.Addr())
	size := uint32(1) << (32 - cidr.Bits())
	return &Pool{next: base + 1, last: base + size - 2}, nil
}

// Allocate returns the next unused host address.
func (p *Pool) Allocate() (netip.Addr, error) {
	if p.done {
		return netip.Addr{}, ErrExhausted
	}
	addr := uint32ToAddr(p.next)
	if p.next == p.last {
		p.done = true
	} else {
		p.next++
	}
	return addr, nil
}

// Advance discards n addresses from the front of the pool. Used at startup
// to skip the region already handed out in earlier runs.
func (p *Pool) Advance(n int) {
	for range n {
		if _, err := p.Allocate(); err != nil {
			return
		}
	}
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
