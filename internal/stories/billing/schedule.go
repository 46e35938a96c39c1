package billing

import (
	"time"

	"gazeta-billing/internal/stories/plans"
)

// NextPeriodEnd computes the new subscription end date after paying for
// durationDays. If the current subscription has not expired yet, the new
// period stacks on top of it, so paying early never wastes remaining days.
// The result is always after now.
func NextPeriodEnd(currentEnd *time.Time, durationDays int, now time.Time) time.Time {
	from := now
	if currentEnd != nil && currentEnd.After(now) {
		from = *currentEnd
	}
	return from.AddDate(0, 0, durationDays)
}

// Extension is the subscription credit a paid payment grants. The end
// date is computed from the user's current state inside the same
// transaction that finalizes the payment, so concurrent extensions for
// one user never read a stale end.
type Extension struct {
	UserID       int64
	Tier         plans.Tier
	DurationDays int
	Now          time.Time
}
