package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"wgkeeper/internal/kernel"
)

// Init is the startup reconciliation: it forces the kernel to match the
// store regardless of what peer set the interface held before.
//
// Route and rule restores are best-effort per entry; the authoritative
// convergence point is the single replace-peers update at the end, which
// atomically swaps the kernel peer set for the desired one.
func (s *Service) Init(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "service.Init")
	defer span.End()

	configs, err := s.store.Configs(ctx)
	if err != nil {
		return fmt.Errorf("load configs: %w", err)
	}

	peers := make([]kernel.PeerUpdate, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Deleted {
			continue
		}
		peers = append(peers, kernel.PeerUpdate{
			PublicKey: cfg.PublicKey,
			AllowedIP: netip.PrefixFrom(cfg.IP, 32),
		})
		s.restoreRouting(ctx, cfg.IP)
	}

	// The cursor is advanced past every address ever handed out, deleted
	// configs included, matching the original allocation order.
	count, err := s.store.ConfigsCount(ctx)
	if err != nil {
		return fmt.Errorf("count configs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.Advance(count)

	if err := s.wg.Apply(ctx, kernel.Update{ReplacePeers: true, Peers: peers}); err != nil {
		return fmt.Errorf("replace peer set: %w", err)
	}
	return nil
}

// restoreRouting reinstalls the host route and re-applies the persisted
// double-VPN rule state for one address. Warm-restart collisions
// (route/rule already present, rule already absent) are expected and only
// logged at debug level; real failures are logged and skipped.
func (s *Service) restoreRouting(ctx context.Context, ip netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.router.AddHostRoute(ip); err != nil {
		if errors.Is(err, kernel.ErrExists) {
			slog.Debug("host route already present", "ip", ip)
		} else {
			slog.Warn("restore host route failed", "ip", ip, "err", err)
		}
	}

	enabled, err := s.store.PeerSettings(ctx, ip)
	if err != nil {
		slog.Warn("load peer settings failed", "ip", ip, "err", err)
		return
	}
	if err := s.router.ChangeRule(ip, s.dvpnTable, enabled); err != nil {
		if errors.Is(err, kernel.ErrExists) || errors.Is(err, kernel.ErrNotFound) {
			slog.Debug("source rule already in desired state", "ip", ip, "enabled", enabled)
		} else {
			slog.Warn("restore source rule failed", "ip", ip, "err", err)
		}
	}
}

// ChangeSettings toggles the double-VPN path for a tunnel address: the flag
// is persisted, then the source rule is installed or removed. Re-applying
// the current state is a no-op.
func (s *Service) ChangeSettings(ctx context.Context, ip netip.Addr, doubleVPN bool) error {
	ctx, span := s.tracer.Start(ctx, "service.ChangeSettings")
	defer span.End()

	if err := s.store.SetPeerSettings(ctx, ip, doubleVPN); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.router.ChangeRule(ip, s.dvpnTable, doubleVPN)
	if doubleVPN && errors.Is(err, kernel.ErrExists) {
		return nil
	}
	if !doubleVPN && errors.Is(err, kernel.ErrNotFound) {
		return nil
	}
	return err
}

// DoubleVPN reports the persisted double-VPN flag for a tunnel address.
func (s *Service) DoubleVPN(ctx context.Context, ip netip.Addr) (bool, error) {
	return s.store.PeerSettings(ctx, ip)
}
