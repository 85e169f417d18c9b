package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// UpdatePeerStats applies one sampling cycle's deltas in a single
// transaction. Totals only ever grow; the worker never emits negative
// deltas.
func (s *Store) UpdatePeerStats(ctx context.Context, deltas []StatsDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, d := range deltas {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO stats_v2(key, tx, rx) VALUES(?, ?, ?)
				 ON CONFLICT(key) DO UPDATE SET
				 tx = tx + excluded.tx,
				 rx = rx + excluded.rx`,
				d.PublicKey[:], int64(d.TX), int64(d.RX))
			if err != nil {
				return fmt.Errorf("upsert stats for %s: %w", d.PublicKey, err)
			}
		}
		return nil
	})
}

// PeerStats reads the totals for one key; never-sampled keys report zero.
func (s *Store) PeerStats(ctx context.Context, key wgtypes.Key) (Stats, error) {
	var tx, rx sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT tx, rx FROM stats_v2 WHERE key = ?`, key[:]).Scan(&tx, &rx)
	if err != nil && err != sql.ErrNoRows {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return Stats{PublicKey: key, TX: uint64(tx.Int64), RX: uint64(rx.Int64)}, nil
}

// SetPeerSettings persists the double-VPN flag for a tunnel address.
func (s *Store) SetPeerSettings(ctx context.Context, addr netip.Addr, doubleVPN bool) error {
	flag := 0
	if doubleVPN {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO peer_settings(addr, double_vpn) VALUES(?, ?)
		 ON CONFLICT(addr) DO UPDATE SET double_vpn = excluded.double_vpn`,
		addrToInt(addr), flag)
	if err != nil {
		return fmt.Errorf("upsert peer settings: %w", err)
	}
	return nil
}

// PeerSettings reads the double-VPN flag; unknown addresses default to off.
func (s *Store) PeerSettings(ctx context.Context, addr netip.Addr) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx,
		`SELECT double_vpn FROM peer_settings WHERE addr = ?`, addrToInt(addr)).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query peer settings: %w", err)
	}
	return flag != 0, nil
}
