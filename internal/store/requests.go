package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Request statuses as persisted; unknown values map to RequestUnknown.
const (
	RequestPending  = 0
	RequestApproved = 1
	RequestDeclined = 2
	RequestUnknown  = -1
)

// Request is one entry in the config-request workflow.
type Request struct {
	ID         uuid.UUID
	TelegramID *int64
	Status     int
}

func normalizeStatus(v int) int {
	switch v {
	case RequestPending, RequestApproved, RequestDeclined:
		return v
	}
	return RequestUnknown
}

// AddRequest inserts a new pending request.
func (s *Store) AddRequest(ctx context.Context, r Request) error {
	var tid any
	if r.TelegramID != nil {
		tid = *r.TelegramID
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(id, telegram_id, status) VALUES(?, ?, ?)`,
		r.ID[:], tid, r.Status); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// Request loads one request by id.
func (s *Store) Request(ctx context.Context, id uuid.UUID) (Request, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, status FROM requests WHERE id = ?`, id[:])
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("query request: %w", err)
	}
	return r, nil
}

// Requests lists every request.
func (s *Store) Requests(ctx context.Context) ([]Request, error) {
	return s.queryRequests(ctx, `SELECT id, telegram_id, status FROM requests`)
}

// RequestsByTelegramID lists the requests filed from one chat identity.
func (s *Store) RequestsByTelegramID(ctx context.Context, telegramID int64) ([]Request, error) {
	return s.queryRequests(ctx,
		`SELECT id, telegram_id, status FROM requests WHERE telegram_id = ?`, telegramID)
}

// SetRequestStatus moves a request to a new status.
func (s *Store) SetRequestStatus(ctx context.Context, id uuid.UUID, status int) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE requests SET status = ? WHERE id = ?`, status, id[:]); err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	return nil
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request rows: %w", err)
	}
	return out, nil
}

func scanRequest(row interface{ Scan(...any) error }) (Request, error) {
	var (
		raw    []byte
		tid    sql.NullInt64
		status int
	)
	if err := row.Scan(&raw, &tid, &status); err != nil {
		return Request{}, err
	}
	r := Request{Status: normalizeStatus(status)}
	var err error
	if r.ID, err = scanID(raw); err != nil {
		return Request{}, err
	}
	if tid.Valid {
		v := tid.Int64
		r.TelegramID = &v
	}
	return r, nil
}
