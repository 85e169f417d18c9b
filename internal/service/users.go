package service

import (
	"context"
	"net/netip"
	"slices"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgkeeper/internal/store"
)

// User is a resolved caller identity.
type User struct {
	ID    uuid.UUID
	Roles []uuid.UUID
}

// IsAdmin reports membership in the well-known admin role.
func (u User) IsAdmin() bool {
	return slices.Contains(u.Roles, RoleAdmin)
}

// UserOf resolves a chat identity to a user with roles loaded.
func (s *Service) UserOf(ctx context.Context, telegramID int64) (User, error) {
	ctx, span := s.tracer.Start(ctx, "service.UserOf")
	defer span.End()

	id, err := s.store.UserID(ctx, telegramID)
	if err != nil {
		return User{}, translate(err)
	}
	roles, err := s.store.UserRoles(ctx, id)
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Roles: roles}, nil
}

// UserByIP resolves the owner of the config behind a tunnel address.
// Frontends reachable only over the tunnel use the source address as the
// caller identity.
func (s *Service) UserByIP(ctx context.Context, ip netip.Addr) (User, error) {
	ctx, span := s.tracer.Start(ctx, "service.UserByIP")
	defer span.End()

	cfg, err := s.store.ConfigByIP(ctx, ip)
	if err != nil {
		return User{}, translate(err)
	}
	roles, err := s.store.UserRoles(ctx, cfg.UserID)
	if err != nil {
		return User{}, err
	}
	return User{ID: cfg.UserID, Roles: roles}, nil
}

// RegisterUser creates a user for a chat identity on first contact.
// Re-registering an already-known identity changes nothing.
func (s *Service) RegisterUser(ctx context.Context, telegramID int64) error {
	ctx, span := s.tracer.Start(ctx, "service.RegisterUser")
	defer span.End()
	return s.store.AddUser(ctx, uuid.New(), telegramID)
}

// AddAdmin grants the admin role; only admins may call it.
func (s *Service) AddAdmin(ctx context.Context, caller User, target uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "service.AddAdmin")
	defer span.End()

	if !caller.IsAdmin() {
		return ErrAccessDenied
	}
	return s.store.AddUserRole(ctx, target, RoleAdmin)
}

// RemoveAdmin revokes the admin role; only admins may call it.
func (s *Service) RemoveAdmin(ctx context.Context, caller User, target uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "service.RemoveAdmin")
	defer span.End()

	if !caller.IsAdmin() {
		return ErrAccessDenied
	}
	return s.store.RemoveUserRole(ctx, target, RoleAdmin)
}

// Bootstrap seeds the admin role and unconditionally grants it to the
// configured operator chat id. Called once at startup, before any frontend
// is reachable.
func (s *Service) Bootstrap(ctx context.Context, adminTelegramID int64) error {
	ctx, span := s.tracer.Start(ctx, "service.Bootstrap")
	defer span.End()

	if err := s.store.EnsureRole(ctx, RoleAdmin); err != nil {
		return err
	}
	if err := s.store.AddUser(ctx, uuid.New(), adminTelegramID); err != nil {
		return err
	}
	id, err := s.store.UserID(ctx, adminTelegramID)
	if err != nil {
		return translate(err)
	}
	return s.store.AddUserRole(ctx, id, RoleAdmin)
}

// PairCode issues a signed token binding ip to this server. Handing the
// token to a chat identity lets it claim the tunnel via CreateAssociation.
func (s *Service) PairCode(ip netip.Addr) (string, error) {
	return s.pairing.Token(ip)
}

// CreateAssociation verifies a pair token and binds the chat identity to
// the owner of the tunnel address inside.
func (s *Service) CreateAssociation(ctx context.Context, token string, telegramID int64) error {
	ctx, span := s.tracer.Start(ctx, "service.CreateAssociation")
	defer span.End()

	ip, err := s.pairing.Verify(token)
	if err != nil {
		return err
	}
	cfg, err := s.store.ConfigByIP(ctx, ip)
	if err != nil {
		return translate(err)
	}
	return s.store.AddIntegration(ctx, cfg.UserID, telegramID)
}

// AssociationExists reports whether the chat identity owns the config
// behind ip.
func (s *Service) AssociationExists(ctx context.Context, ip netip.Addr, telegramID int64) (bool, error) {
	cfg, err := s.store.ConfigByIP(ctx, ip)
	if err != nil {
		if translate(err) == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return s.store.HasIntegration(ctx, cfg.UserID, telegramID)
}

// Keys lists the caller's stored key pairs.
func (s *Service) Keys(ctx context.Context, user User) ([]store.Key, error) {
	ctx, span := s.tracer.Start(ctx, "service.Keys")
	defer span.End()
	return s.store.Keys(ctx, user.ID)
}

// Key loads one key by its public half, owner or admin only.
func (s *Service) Key(ctx context.Context, user User, pub wgtypes.Key) (store.Key, error) {
	ctx, span := s.tracer.Start(ctx, "service.Key")
	defer span.End()

	k, err := s.store.Key(ctx, pub)
	if err != nil {
		return store.Key{}, translate(err)
	}
	if k.UserID != user.ID && !user.IsAdmin() {
		return store.Key{}, ErrAccessDenied
	}
	return k, nil
}
