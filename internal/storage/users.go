package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"gazeta-billing/internal/stories/plans"
	"gazeta-billing/internal/stories/users"
)

const usersTable = "users"

var userRowFields = fields(userRow{})

type userRow struct {
	ID                int64      `db:"id"`
	Email             string     `db:"email"`
	SubscriptionTier  string     `db:"subscription_tier"`
	SubscriptionStart *time.Time `db:"subscription_start"`
	SubscriptionEnd   *time.Time `db:"subscription_end"`
	IsActive          bool       `db:"is_active"`
	TrialUsed         bool       `db:"trial_used"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

func (u userRow) ToModel() *users.User {
	return &users.User{
		ID:                u.ID,
		Email:             u.Email,
		SubscriptionTier:  plans.Tier(u.SubscriptionTier),
		SubscriptionStart: u.SubscriptionStart,
		SubscriptionEnd:   u.SubscriptionEnd,
		IsActive:          u.IsActive,
		TrialUsed:         u.TrialUsed,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

func (s *storageImpl) CreateUser(ctx context.Context, user users.User) (*users.User, error) {
	tier := user.SubscriptionTier
	if tier == "" {
		tier = plans.TierNone
	}

	params := map[string]interface{}{
		"email":              user.Email,
		"subscription_tier":  string(tier),
		"subscription_start": user.SubscriptionStart,
		"subscription_end":   user.SubscriptionEnd,
		"is_active":          user.IsActive,
		"trial_used":         user.TrialUsed,
		"created_at":         s.now(),
		"updated_at":         s.now(),
	}

	q, args, err := s.stmpBuilder().
		Insert(usersTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("result.LastInsertId: %w", err)
	}

	return s.GetUser(ctx, users.GetCriteria{ID: &id})
}

func (s *storageImpl) GetUser(ctx context.Context, criteria users.GetCriteria) (*users.User, error) {
	query := s.stmpBuilder().
		Select(userRowFields).
		From(usersTable).
		Limit(1)

	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.Email != nil {
		query = query.Where(sq.Eq{"email": *criteria.Email})
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var u userRow
	err = s.db.GetContext(ctx, &u, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return u.ToModel(), nil
}

func (s *storageImpl) UpdateUser(ctx context.Context, criteria users.GetCriteria, params users.UpdateParams) (*users.User, error) {
	query := s.stmpBuilder().
		Update(usersTable).
		Set("updated_at", s.now())

	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.Email != nil {
		query = query.Where(sq.Eq{"email": *criteria.Email})
	}

	if params.SubscriptionTier != nil {
		query = query.Set("subscription_tier", string(*params.SubscriptionTier))
	}
	if params.SubscriptionStart != nil {
		query = query.Set("subscription_start", *params.SubscriptionStart)
	}
	if params.SubscriptionEnd != nil {
		query = query.Set("subscription_end", *params.SubscriptionEnd)
	}
	if params.IsActive != nil {
		query = query.Set("is_active", *params.IsActive)
	}
	if params.TrialUsed != nil {
		query = query.Set("trial_used", *params.TrialUsed)
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	return s.GetUser(ctx, criteria)
}

// ListLapsedActiveUsers возвращает активных пользователей, чья подписка
// уже закончилась. Используется воркером деактивации.
func (s *storageImpl) ListLapsedActiveUsers(ctx context.Context) ([]*users.User, error) {
	q, args, err := s.stmpBuilder().
		Select(userRowFields).
		From(usersTable).
		Where(sq.Eq{"is_active": true}).
		Where(sq.NotEq{"subscription_end": nil}).
		Where(sq.Lt{"subscription_end": s.now()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*users.User, 0, len(rows))
	for _, u := range rows {
		result = append(result, u.ToModel())
	}

	return result, nil
}
