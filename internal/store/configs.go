package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Config is one per-device peer entry.
type Config struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	IP         netip.Addr
	PublicKey  wgtypes.Key
	PrivateKey *wgtypes.Key
	Name       string
	Deleted    bool
}

// Stats are the accumulated byte totals for one public key.
type Stats struct {
	PublicKey wgtypes.Key
	TX        uint64
	RX        uint64
}

// FullConfig is a config joined with its traffic totals.
type FullConfig struct {
	Config Config
	Stats  Stats
}

// StatsDelta is one increment emitted by the stats worker.
type StatsDelta struct {
	PublicKey wgtypes.Key
	TX        uint64
	RX        uint64
}

const configColumns = `configs.id, configs.user_id, configs.key, configs.name, configs.deleted, ips.addr, keys.priv_key`

const configJoin = `FROM configs
INNER JOIN ips ON ips.config_id = configs.id
LEFT JOIN keys ON keys.key = configs.key AND keys.user_id = configs.user_id`

func scanConfig(row interface{ Scan(...any) error }) (Config, error) {
	var (
		id, userID, key []byte
		name            string
		deleted         int
		addr            int64
		privKey         []byte
	)
	if err := row.Scan(&id, &userID, &key, &name, &deleted, &addr, &privKey); err != nil {
		return Config{}, err
	}
	cfg := Config{Name: name, Deleted: deleted != 0, IP: intToAddr(addr)}
	var err error
	if cfg.ID, err = scanID(id); err != nil {
		return Config{}, err
	}
	if cfg.UserID, err = scanID(userID); err != nil {
		return Config{}, err
	}
	if cfg.PublicKey, err = scanKey(key); err != nil {
		return Config{}, err
	}
	if cfg.PrivateKey, err = scanOptionalKey(privKey); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AddConfig inserts the config and its address assignment in one
// transaction. A public-key collision yields ErrConfigExists.
func (s *Store) AddConfig(ctx context.Context, cfg Config) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO configs(id, user_id, key, name) VALUES(?, ?, ?, ?)`,
			cfg.ID[:], cfg.UserID[:], cfg.PublicKey[:], cfg.Name)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConfigExists
			}
			return fmt.Errorf("insert config: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ips(config_id, addr) VALUES(?, ?)`,
			cfg.ID[:], addrToInt(cfg.IP))
		if err != nil {
			return fmt.Errorf("insert ip assignment: %w", err)
		}
		return nil
	})
}

// Config loads one config by id, deleted or not.
func (s *Store) Config(ctx context.Context, id uuid.UUID) (Config, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` `+configJoin+` WHERE configs.id = ?`, id[:])
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, ErrNotFound
	}
	if err != nil {
		return Config{}, fmt.Errorf("query config: %w", err)
	}
	return cfg, nil
}

// ConfigByIP loads the non-deleted config that owns addr.
func (s *Store) ConfigByIP(ctx context.Context, addr netip.Addr) (Config, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` `+configJoin+` WHERE ips.addr = ? AND configs.deleted = 0`,
		addrToInt(addr))
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, ErrNotFound
	}
	if err != nil {
		return Config{}, fmt.Errorf("query config by ip: %w", err)
	}
	return cfg, nil
}

// ConfigWithStats loads a non-deleted config joined with its totals.
// Configs never sampled by the stats worker report zero totals.
func (s *Store) ConfigWithStats(ctx context.Context, id uuid.UUID) (FullConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+`, stats_v2.tx, stats_v2.rx
		`+configJoin+`
		LEFT JOIN stats_v2 ON stats_v2.key = configs.key
		WHERE configs.id = ? AND configs.deleted = 0`, id[:])

	var (
		cid, userID, key []byte
		name             string
		deleted          int
		addr             int64
		privKey          []byte
		tx, rx           sql.NullInt64
	)
	err := row.Scan(&cid, &userID, &key, &name, &deleted, &addr, &privKey, &tx, &rx)
	if errors.Is(err, sql.ErrNoRows) {
		return FullConfig{}, ErrNotFound
	}
	if err != nil {
		return FullConfig{}, fmt.Errorf("query config with stats: %w", err)
	}

	cfg := Config{Name: name, Deleted: deleted != 0, IP: intToAddr(addr)}
	if cfg.ID, err = scanID(cid); err != nil {
		return FullConfig{}, err
	}
	if cfg.UserID, err = scanID(userID); err != nil {
		return FullConfig{}, err
	}
	if cfg.PublicKey, err = scanKey(key); err != nil {
		return FullConfig{}, err
	}
	if cfg.PrivateKey, err = scanOptionalKey(privKey); err != nil {
		return FullConfig{}, err
	}
	return FullConfig{
		Config: cfg,
		Stats:  Stats{PublicKey: cfg.PublicKey, TX: uint64(tx.Int64), RX: uint64(rx.Int64)},
	}, nil
}

// Configs returns every config, deleted ones included. Init uses this to
// rebuild the kernel peer set and to advance the allocator cursor.
func (s *Store) Configs(ctx context.Context) ([]Config, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+configColumns+` `+configJoin)
	if err != nil {
		return nil, fmt.Errorf("query configs: %w", err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config row: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config rows: %w", err)
	}
	return out, nil
}

// ConfigsByUser returns the user's non-deleted configs.
func (s *Store) ConfigsByUser(ctx context.Context, userID uuid.UUID) ([]Config, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+configColumns+` `+configJoin+` WHERE configs.user_id = ? AND configs.deleted = 0`,
		userID[:])
	if err != nil {
		return nil, fmt.Errorf("query user configs: %w", err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config row: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config rows: %w", err)
	}
	return out, nil
}

// ConfigsCount counts all configs ever created, deleted ones included.
// The allocator cursor is advanced by exactly this amount on startup.
func (s *Store) ConfigsCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM configs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count configs: %w", err)
	}
	return count, nil
}

// RemoveConfig soft-deletes a config. The address assignment and key rows
// stay behind for history.
func (s *Store) RemoveConfig(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE configs SET deleted = 1 WHERE id = ?`, id[:]); err != nil {
		return fmt.Errorf("mark config deleted: %w", err)
	}
	return nil
}

// RenameConfig updates the display name.
func (s *Store) RenameConfig(ctx context.Context, id uuid.UUID, name string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE configs SET name = ? WHERE id = ?`, name, id[:]); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
