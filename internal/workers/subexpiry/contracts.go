package subexpiry

import (
	"context"

	"gazeta-billing/internal/stories/users"
)

type (
	// Storage provides database operations
	Storage interface {
		ListLapsedActiveUsers(ctx context.Context) ([]*users.User, error)
	}

	// Deactivator closes content access for a user.
	Deactivator interface {
		Deactivate(ctx context.Context, userID int64) error
	}
)
