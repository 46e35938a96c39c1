package users

import (
	"time"

	"gazeta-billing/internal/stories/plans"
)

type User struct {
	ID                int64
	Email             string
	SubscriptionTier  plans.Tier
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	IsActive          bool
	TrialUsed         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Критерии для получения пользователя
type GetCriteria struct {
	ID    *int64
	Email *string
}

// Параметры для обновления подписочных полей пользователя.
// Остальными полями владеет внешняя система аккаунтов.
type UpdateParams struct {
	SubscriptionTier  *plans.Tier
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	IsActive          *bool
	TrialUsed         *bool
}
