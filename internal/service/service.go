// Package service composes the store, the kernel control surfaces and the
// address allocator into the domain operations of the control plane. It is
// the single place authorization is enforced.
package service

import (
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"wgkeeper/internal/ippool"
	"wgkeeper/internal/pairing"
	"wgkeeper/internal/store"
	"wgkeeper/internal/wgconf"
)

var (
	// ErrInvalidKey is returned when a client-supplied key is not a valid
	// base64 32-byte key.
	ErrInvalidKey = errors.New("invalid key")
	// ErrIPPoolExhausted is returned when the client range has no
	// addresses left.
	ErrIPPoolExhausted = errors.New("ip pool exhausted")
	// ErrClientAlreadyExists is returned when a config with the same
	// public key exists.
	ErrClientAlreadyExists = errors.New("client with this key already exists")
	// ErrNotFound is returned for missing configs, users or requests.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied is returned when the caller is neither the owner
	// nor an admin.
	ErrAccessDenied = errors.New("access denied")
)

// Service is the VPN control engine. One instance owns the managed
// interface's peer set for the lifetime of the process.
type Service struct {
	store *store.Store

	// mu guards the kernel handles and the allocator cursor together:
	// every operation that changes the peer set also consumes an address,
	// so a single lock avoids ordering hazards between the two.
	mu     sync.Mutex
	wg     WG
	router Router
	pool   *ippool.Pool

	dvpnTable uint32
	server    wgconf.ServerInfo
	pairing   *pairing.Codec
	tracer    trace.Tracer
}

// Params collects the service dependencies. Production wiring builds the
// kernel-backed implementations; tests inject fakes.
type Params struct {
	Store  *store.Store
	WG     WG
	Router Router
	Pool   *ippool.Pool

	// DVPNTable is the routing table double-VPN rules steer into.
	DVPNTable uint32
	// Endpoint is the externally reachable host:port of the server.
	Endpoint string
	// PublicKey is the managed interface's public key, base64-encoded.
	PublicKey string
	// Secret signs pair tokens.
	Secret []byte
}

func New(p Params) (*Service, error) {
	if p.Store == nil || p.WG == nil || p.Router == nil || p.Pool == nil {
		return nil, fmt.Errorf("service: missing dependency")
	}
	codec, err := pairing.New(p.Secret)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:     p.Store,
		wg:        p.WG,
		router:    p.Router,
		pool:      p.Pool,
		dvpnTable: p.DVPNTable,
		server:    wgconf.ServerInfo{Endpoint: p.Endpoint, PublicKey: p.PublicKey},
		pairing:   codec,
		tracer:    otel.Tracer("wgkeeper/service"),
	}, nil
}

// ServerInfo returns the endpoint and public key clients put in their
// config's peer section.
func (s *Service) ServerInfo() wgconf.ServerInfo {
	return s.server
}

// translate maps store sentinels onto the service's error kinds.
func translate(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrConfigExists), errors.Is(err, store.ErrKeyExists):
		return ErrClientAlreadyExists
	}
	return err
}
