package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AddUser creates a user for a chat identity on first contact. An
// already-integrated chat id leaves the store unchanged: the user row is
// only written when the chat is new, so repeated registration cannot pile
// up users without an integration.
func (s *Store) AddUser(ctx context.Context, id uuid.UUID, telegramID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users(id)
			 SELECT ? WHERE NOT EXISTS (SELECT 1 FROM integrations WHERE telegram_id = ?)`,
			id[:], telegramID); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO integrations(user_id, telegram_id) VALUES(?, ?)
			 ON CONFLICT(telegram_id) DO NOTHING`, id[:], telegramID); err != nil {
			return fmt.Errorf("insert integration: %w", err)
		}
		return nil
	})
}

// AddIntegration binds an existing user to a chat identity.
func (s *Store) AddIntegration(ctx context.Context, userID uuid.UUID, telegramID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO integrations(user_id, telegram_id) VALUES(?, ?)
		 ON CONFLICT(telegram_id) DO NOTHING`, userID[:], telegramID); err != nil {
		return fmt.Errorf("insert integration: %w", err)
	}
	return nil
}

// HasIntegration reports whether userID is bound to telegramID.
func (s *Store) HasIntegration(ctx context.Context, userID uuid.UUID, telegramID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM integrations WHERE user_id = ? AND telegram_id = ?`,
		userID[:], telegramID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query integration: %w", err)
	}
	return count > 0, nil
}

// UserID resolves a chat identity to its user.
func (s *Store) UserID(ctx context.Context, telegramID int64) (uuid.UUID, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM integrations WHERE telegram_id = ?`, telegramID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.UUID{}, ErrNotFound
	}
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("query integration: %w", err)
	}
	return scanID(raw)
}

// UserRoles lists the role ids held by a user.
func (s *Store) UserRoles(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_id FROM user_roles WHERE user_id = ?`, userID[:])
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan role row: %w", err)
		}
		id, err := scanID(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role rows: %w", err)
	}
	return out, nil
}

// EnsureRole inserts a role row if missing.
func (s *Store) EnsureRole(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO roles(id) VALUES(?) ON CONFLICT(id) DO NOTHING`, id[:]); err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

// AddUserRole grants a role; granting an already-held role is a no-op.
func (s *Store) AddUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles(user_id, role_id) VALUES(?, ?)
		 ON CONFLICT(user_id, role_id) DO NOTHING`, userID[:], roleID[:]); err != nil {
		return fmt.Errorf("insert user role: %w", err)
	}
	return nil
}

// RemoveUserRole revokes a role; revoking an absent role is a no-op.
func (s *Store) RemoveUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`,
		userID[:], roleID[:]); err != nil {
		return fmt.Errorf("delete user role: %w", err)
	}
	return nil
}
