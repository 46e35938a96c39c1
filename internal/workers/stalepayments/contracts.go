package stalepayments

import (
	"context"

	"gazeta-billing/internal/stories/billing"
)

type (
	// Storage provides database operations
	Storage interface {
		ListPayments(ctx context.Context, criteria billing.ListCriteria) ([]*billing.Payment, error)
		TransitionPayment(ctx context.Context, criteria billing.GetCriteria, from billing.Status, params billing.UpdateParams) (bool, error)
	}
)
