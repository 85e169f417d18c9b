package service

import (
	"context"

	"github.com/google/uuid"

	"wgkeeper/internal/store"
)

// RequestConfig files a pending config request from a chat identity.
func (s *Service) RequestConfig(ctx context.Context, telegramID int64) (uuid.UUID, error) {
	ctx, span := s.tracer.Start(ctx, "service.RequestConfig")
	defer span.End()

	id := uuid.New()
	err := s.store.AddRequest(ctx, store.Request{
		ID:         id,
		TelegramID: &telegramID,
		Status:     store.RequestPending,
	})
	if err != nil {
		return uuid.UUID{}, err
	}
	return id, nil
}

// Requests lists every request; admin only.
func (s *Service) Requests(ctx context.Context, caller User) ([]store.Request, error) {
	ctx, span := s.tracer.Start(ctx, "service.Requests")
	defer span.End()

	if !caller.IsAdmin() {
		return nil, ErrAccessDenied
	}
	return s.store.Requests(ctx)
}

// RequestsByChat lists the requests filed from one chat identity.
func (s *Service) RequestsByChat(ctx context.Context, telegramID int64) ([]store.Request, error) {
	return s.store.RequestsByTelegramID(ctx, telegramID)
}

// ApproveRequest marks a request approved; admin only. Settled requests
// can be re-settled; the last decision wins.
func (s *Service) ApproveRequest(ctx context.Context, caller User, id uuid.UUID) error {
	return s.settleRequest(ctx, caller, id, store.RequestApproved)
}

// DeclineRequest marks a request declined; admin only.
func (s *Service) DeclineRequest(ctx context.Context, caller User, id uuid.UUID) error {
	return s.settleRequest(ctx, caller, id, store.RequestDeclined)
}

func (s *Service) settleRequest(ctx context.Context, caller User, id uuid.UUID, status int) error {
	ctx, span := s.tracer.Start(ctx, "service.settleRequest")
	defer span.End()

	if !caller.IsAdmin() {
		return ErrAccessDenied
	}
	if _, err := s.store.Request(ctx, id); err != nil {
		return translate(err)
	}
	return s.store.SetRequestStatus(ctx, id, status)
}
