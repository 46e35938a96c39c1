package users

import (
	"context"

	"github.com/samber/lo"
)

// Service provides business logic for user operations
type Service struct {
	storage Storage
}

// NewService creates a new user service
func NewService(storage Storage) *Service {
	return &Service{
		storage: storage,
	}
}

func (s *Service) GetUser(ctx context.Context, userID int64) (*User, error) {
	return s.storage.GetUser(ctx, GetCriteria{ID: &userID})
}

// Deactivate снимает флаг доступа к контенту. Подписочные поля
// (tier, даты) остаются как есть для истории.
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	_, err := s.storage.UpdateUser(ctx, GetCriteria{
		ID: &userID,
	}, UpdateParams{
		IsActive: lo.ToPtr(false),
	})
	return err
}
