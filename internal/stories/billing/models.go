package billing

import (
	"time"

	"gazeta-billing/internal/stories/plans"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether the status can never change again.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusFailed
}

// Payment tracks one provider invoice from issuance to its terminal outcome.
// Rows are never deleted, they stay for reconciliation.
type Payment struct {
	ID            int64
	UserID        int64
	PlanID        string
	Tier          plans.Tier
	DurationDays  int
	Amount        float64
	Currency      string
	ExternalID    string
	InvoiceID     string
	InvoiceURL    string
	Status        Status
	PaymentMethod *string
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Критерии для получения платежа
type GetCriteria struct {
	ID         *int64
	ExternalID *string
	InvoiceID  *string
}

// Критерии для списка платежей
type ListCriteria struct {
	UserID       *int64
	Status       *Status
	CreatedUntil *time.Time
	Limit        int
	Offset       int
}

type UpdateParams struct {
	Status        *Status
	PaymentMethod *string
	PaidAt        *time.Time
}

// InvoiceStatus is the provider-reported state of an invoice, already
// normalized by the provider client.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceExpired InvoiceStatus = "expired"
	InvoiceFailed  InvoiceStatus = "failed"
	InvoiceUnknown InvoiceStatus = "unknown"
)

// Invoice is what the provider returns on creation.
type Invoice struct {
	InvoiceID  string
	PaymentURL string
}

// InvoiceState is what the provider reports about an existing invoice,
// whether pushed through a webhook or pulled through a status fetch.
type InvoiceState struct {
	Status        InvoiceStatus
	PaymentMethod *string
	PaidAt        *time.Time
}

// FinalizeOutcome describes what Finalize actually did.
type FinalizeOutcome string

const (
	// OutcomeApplied — this call won the transition out of pending.
	OutcomeApplied FinalizeOutcome = "applied"
	// OutcomeAlreadyFinal — the payment was already terminal with a
	// matching state; a normal no-op, not an error.
	OutcomeAlreadyFinal FinalizeOutcome = "already_final"
	// OutcomeStillPending — the provider reports the invoice unresolved.
	OutcomeStillPending FinalizeOutcome = "still_pending"
	// OutcomeAnomaly — the provider reports paid for a payment that is
	// already expired/failed locally. Logged, never applied.
	OutcomeAnomaly FinalizeOutcome = "anomaly"
	// OutcomeIgnored — an unrecognized provider status; nothing touched.
	OutcomeIgnored FinalizeOutcome = "ignored"
)

type FinalizeResult struct {
	Outcome FinalizeOutcome
	Payment *Payment
}

type IssueResult struct {
	PaymentID  int64
	PaymentURL string
}

type VerifyResult struct {
	Status          Status
	SubscriptionEnd *time.Time
}
