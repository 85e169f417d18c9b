package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgkeeper/internal/kernel"
	"wgkeeper/internal/store"
	"wgkeeper/internal/wgconf"
)

// NewConfig creates a peer entry for user. When pubKey is non-empty it must
// be a base64 32-byte key and the server stores no private half; otherwise
// a fresh X25519 pair is generated.
//
// The store commit happens before the kernel peer add: if the process dies
// in between, the next Init reinstalls the peer. A failed route install
// after the peer add is logged and tolerated for the same reason.
func (s *Service) NewConfig(ctx context.Context, user User, name, pubKey string) (uuid.UUID, error) {
	ctx, span := s.tracer.Start(ctx, "service.NewConfig")
	defer span.End()

	pub, priv, err := resolveKeys(pubKey)
	if err != nil {
		return uuid.UUID{}, err
	}

	if err := s.store.AddKey(ctx, store.Key{PublicKey: pub, PrivateKey: priv, UserID: user.ID}); err != nil {
		return uuid.UUID{}, translate(err)
	}

	s.mu.Lock()
	ip, err := s.pool.Allocate()
	s.mu.Unlock()
	if err != nil {
		return uuid.UUID{}, ErrIPPoolExhausted
	}

	id := uuid.New()
	cfg := store.Config{
		ID:         id,
		UserID:     user.ID,
		IP:         ip,
		PublicKey:  pub,
		PrivateKey: priv,
		Name:       name,
	}
	if err := s.store.AddConfig(ctx, cfg); err != nil {
		return uuid.UUID{}, translate(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.wg.Apply(ctx, kernel.Update{Peers: []kernel.PeerUpdate{{
		PublicKey: pub,
		AllowedIP: netip.PrefixFrom(ip, 32),
	}}})
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("add peer: %w", err)
	}
	if err := s.router.AddHostRoute(ip); err != nil && !errors.Is(err, kernel.ErrExists) {
		slog.Warn("host route install failed", "ip", ip, "err", err)
	}

	return id, nil
}

// ParseKey decodes a client-supplied base64 public key. Anything that is
// not a base64 32-byte value is ErrInvalidKey.
func ParseKey(pubKey string) (wgtypes.Key, error) {
	raw, err := base64.StdEncoding.DecodeString(pubKey)
	if err != nil {
		return wgtypes.Key{}, ErrInvalidKey
	}
	pub, err := wgtypes.NewKey(raw)
	if err != nil {
		return wgtypes.Key{}, ErrInvalidKey
	}
	return pub, nil
}

func resolveKeys(pubKey string) (wgtypes.Key, *wgtypes.Key, error) {
	if pubKey != "" {
		pub, err := ParseKey(pubKey)
		if err != nil {
			return wgtypes.Key{}, nil, err
		}
		return pub, nil, nil
	}
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return wgtypes.Key{}, nil, fmt.Errorf("generate key pair: %w", err)
	}
	return priv.PublicKey(), &priv, nil
}

// RemoveConfig soft-deletes the config and removes its kernel peer.
// The host route is left behind; it is harmless with the peer gone and is
// not reinstalled for deleted configs.
func (s *Service) RemoveConfig(ctx context.Context, user User, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "service.RemoveConfig")
	defer span.End()

	cfg, err := s.store.Config(ctx, id)
	if err != nil {
		return translate(err)
	}
	if err := authorize(user, cfg); err != nil {
		return err
	}

	if err := s.store.RemoveConfig(ctx, cfg.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.wg.Apply(ctx, kernel.Update{Peers: []kernel.PeerUpdate{{
		PublicKey: cfg.PublicKey,
		Remove:    true,
	}}})
	if err != nil {
		return fmt.Errorf("remove peer: %w", err)
	}
	return nil
}

// Config returns one config with its traffic totals, owner or admin only.
func (s *Service) Config(ctx context.Context, user User, id uuid.UUID) (store.FullConfig, error) {
	ctx, span := s.tracer.Start(ctx, "service.Config")
	defer span.End()

	full, err := s.store.ConfigWithStats(ctx, id)
	if err != nil {
		return store.FullConfig{}, translate(err)
	}
	if err := authorize(user, full.Config); err != nil {
		return store.FullConfig{}, err
	}
	return full, nil
}

// Configs lists the non-deleted configs owned by a user.
func (s *Service) Configs(ctx context.Context, userID uuid.UUID) ([]store.Config, error) {
	ctx, span := s.tracer.Start(ctx, "service.Configs")
	defer span.End()
	return s.store.ConfigsByUser(ctx, userID)
}

// RenameConfig updates a config's display name, owner or admin only.
func (s *Service) RenameConfig(ctx context.Context, user User, id uuid.UUID, name string) error {
	ctx, span := s.tracer.Start(ctx, "service.RenameConfig")
	defer span.End()

	cfg, err := s.store.Config(ctx, id)
	if err != nil {
		return translate(err)
	}
	if err := authorize(user, cfg); err != nil {
		return err
	}
	return s.store.RenameConfig(ctx, cfg.ID, name)
}

// RenderConfig emits the client-side config file for a stored config.
func (s *Service) RenderConfig(cfg store.Config) string {
	return wgconf.Render(cfg.IP, cfg.PrivateKey, s.server)
}

// authorize admits the config's owner and admins; everyone else is denied.
func authorize(user User, cfg store.Config) error {
	if cfg.UserID == user.ID || user.IsAdmin() {
		return nil
	}
	return ErrAccessDenied
}
