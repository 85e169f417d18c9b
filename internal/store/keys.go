package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Key is a stored key pair. PrivateKey is nil when the client supplied only
// the public half.
type Key struct {
	PublicKey  wgtypes.Key
	PrivateKey *wgtypes.Key
	Name       string
	UserID     uuid.UUID
}

// AddKey stores a key pair for a user. A public-key collision yields
// ErrKeyExists.
func (s *Store) AddKey(ctx context.Context, k Key) error {
	var priv []byte
	if k.PrivateKey != nil {
		priv = k.PrivateKey[:]
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keys(key, priv_key, name, user_id) VALUES(?, ?, ?, ?)`,
		k.PublicKey[:], priv, k.Name, k.UserID[:])
	if err != nil {
		if isUniqueViolation(err) {
			return ErrKeyExists
		}
		return fmt.Errorf("insert key: %w", err)
	}
	return nil
}

// Key loads one key by its public half.
func (s *Store) Key(ctx context.Context, pub wgtypes.Key) (Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, priv_key, name, user_id FROM keys WHERE key = ?`, pub[:])
	k, err := scanKeyRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, ErrNotFound
	}
	if err != nil {
		return Key{}, fmt.Errorf("query key: %w", err)
	}
	return k, nil
}

// Keys lists all keys owned by a user.
func (s *Store) Keys(ctx context.Context, userID uuid.UUID) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, priv_key, name, user_id FROM keys WHERE user_id = ?`, userID[:])
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var out []Key
	for rows.Next() {
		k, err := scanKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key rows: %w", err)
	}
	return out, nil
}

func scanKeyRow(row interface{ Scan(...any) error }) (Key, error) {
	var (
		pub, priv, userID []byte
		name              string
	)
	if err := row.Scan(&pub, &priv, &name, &userID); err != nil {
		return Key{}, err
	}
	k := Key{Name: name}
	var err error
	if k.PublicKey, err = scanKey(pub); err != nil {
		return Key{}, err
	}
	if k.PrivateKey, err = scanOptionalKey(priv); err != nil {
		return Key{}, err
	}
	if k.UserID, err = scanID(userID); err != nil {
		return Key{}, err
	}
	return k, nil
}
