// Package store persists users, keys, configs, address assignments and
// traffic counters in SQLite. It returns raw rows; authorization decisions
// live in the service layer.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
	sqlite "modernc.org/sqlite"
)

// sqliteConstraintUnique is the SQLite extended result code for a UNIQUE
// constraint violation.
const sqliteConstraintUnique = 2067

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConfigExists is returned when a config insert collides with an
	// existing public key.
	ErrConfigExists = errors.New("store: client with this key already exists")
	// ErrKeyExists is returned when a key insert collides with a stored
	// public key.
	ErrKeyExists = errors.New("store: key already exists")
	// ErrInvalidKeyData is returned when a stored key column is not 32
	// bytes long.
	ErrInvalidKeyData = errors.New("store: invalid key data")
	// ErrInvalidIDData is returned when a stored id column is not a valid
	// 16-byte identifier.
	ErrInvalidIDData = errors.New("store: invalid id data")
)

// Store wraps the shared connection pool. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies migrations before
// anything else touches it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// isUniqueViolation reports whether err is the driver's UNIQUE constraint
// failure (extended code 2067).
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqliteConstraintUnique
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Addresses are stored as 32-bit big-endian integers.

func addrToInt(a netip.Addr) int64 {
	b := a.As4()
	return int64(binary.BigEndian.Uint32(b[:]))
}

func intToAddr(v int64) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return netip.AddrFrom4(b)
}

func scanID(b []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.UUID{}, ErrInvalidIDData
	}
	return id, nil
}

func scanKey(b []byte) (wgtypes.Key, error) {
	key, err := wgtypes.NewKey(b)
	if err != nil {
		return wgtypes.Key{}, ErrInvalidKeyData
	}
	return key, nil
}

func scanOptionalKey(b []byte) (*wgtypes.Key, error) {
	if b == nil {
		return nil, nil
	}
	key, err := scanKey(b)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
