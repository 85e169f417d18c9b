package store

import "fmt"

// Migrations run in order inside one transaction each; user_version tracks
// the last applied index.
var migrations = []string{
	`
CREATE TABLE users (
	id BLOB PRIMARY KEY
);

CREATE TABLE integrations (
	user_id     BLOB NOT NULL REFERENCES users(id),
	telegram_id INTEGER NOT NULL UNIQUE
);

CREATE TABLE roles (
	id BLOB PRIMARY KEY
);

CREATE TABLE user_roles (
	user_id BLOB NOT NULL,
	role_id BLOB NOT NULL,
	PRIMARY KEY (user_id, role_id)
);

CREATE TABLE keys (
	key      BLOB PRIMARY KEY,
	priv_key BLOB,
	name     TEXT NOT NULL DEFAULT '',
	user_id  BLOB NOT NULL
);

CREATE TABLE configs (
	id      BLOB PRIMARY KEY,
	user_id BLOB NOT NULL,
	key     BLOB NOT NULL UNIQUE,
	name    TEXT NOT NULL DEFAULT '',
	deleted INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE ips (
	config_id BLOB PRIMARY KEY,
	addr      INTEGER NOT NULL
);

CREATE TABLE stats_v2 (
	key BLOB PRIMARY KEY,
	tx  INTEGER NOT NULL DEFAULT 0,
	rx  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE requests (
	id          BLOB PRIMARY KEY,
	telegram_id INTEGER,
	status      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE peer_settings (
	addr       INTEGER PRIMARY KEY,
	double_vpn INTEGER NOT NULL DEFAULT 0
);
`,
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		// PRAGMA does not support placeholders.
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bump schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
