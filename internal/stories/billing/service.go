package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"gazeta-billing/internal/metrics"
	"gazeta-billing/internal/stories/plans"
	"gazeta-billing/internal/stories/users"
)

var (
	ErrPlanNotFound     = errors.New("plan not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrNotOwner         = errors.New("payment belongs to another user")
	ErrTrialAlreadyUsed = errors.New("trial already used")
)

// Service drives the payment lifecycle: invoice issuance, finalization
// from provider events and subscription extension.
type Service struct {
	storage   Storage
	provider  InvoiceProvider
	catalog   *plans.Catalog
	notifier  Notifier
	logger    *slog.Logger
	trialDays int
	now       func() time.Time
}

// NewService creates a new billing service
func NewService(storage Storage, provider InvoiceProvider, catalog *plans.Catalog, notifier Notifier, trialDays int, logger *slog.Logger) *Service {
	return &Service{
		storage:   storage,
		provider:  provider,
		catalog:   catalog,
		notifier:  notifier,
		logger:    logger,
		trialDays: trialDays,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock. Used in tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueInvoice resolves the plan, creates an invoice with the provider and
// persists a pending payment. The provider is called first: if it fails,
// no local row is created and the error goes back to the caller as is.
// Retrying here would risk a user-visible double charge, so retries are
// the caller's explicit choice.
func (s *Service) IssueInvoice(ctx context.Context, userID int64, planID string) (*IssueResult, error) {
	s.logger.Info("Issuing invoice", "user_id", userID, "plan_id", planID)

	plan := s.catalog.Get(planID)
	if plan == nil {
		s.logger.Error("Unknown plan requested", "plan_id", planID, "user_id", userID)
		return nil, ErrPlanNotFound
	}

	user, err := s.storage.GetUser(ctx, users.GetCriteria{ID: &userID})
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	// Корреляционный ключ: уникален для каждой попытки оплаты
	externalID := fmt.Sprintf("%d-%d", userID, s.now().UnixNano())
	description := fmt.Sprintf("Подписка «%s» на %d дн.", plan.Name, plan.DurationDays)

	invoice, err := s.provider.CreateInvoice(ctx, externalID, plan.Price, plan.Currency, user.Email, description)
	if err != nil {
		s.logger.Error("Failed to create invoice with provider",
			"error", err,
			"user_id", userID,
			"plan_id", planID,
			"external_id", externalID,
		)
		return nil, errors.Wrap(err, "create invoice")
	}

	created, err := s.storage.CreatePayment(ctx, Payment{
		UserID:       userID,
		PlanID:       plan.ID,
		Tier:         plan.Tier,
		DurationDays: plan.DurationDays,
		Amount:       plan.Price,
		Currency:     plan.Currency,
		ExternalID:   externalID,
		InvoiceID:    invoice.InvoiceID,
		InvoiceURL:   invoice.PaymentURL,
		Status:       StatusPending,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create payment in storage")
	}

	metrics.InvoicesIssued.Inc()
	s.logger.Info("Invoice issued",
		"payment_id", created.ID,
		"invoice_id", invoice.InvoiceID,
		"external_id", externalID,
		"amount", plan.Price,
	)

	return &IssueResult{PaymentID: created.ID, PaymentURL: invoice.PaymentURL}, nil
}

// Finalize applies a provider-reported invoice state to the local payment.
// It is the single routine behind both webhook ingestion and manual
// verification, so both paths share one conditional-transition discipline.
// Losing the race to another finalizer is a normal no-op.
func (s *Service) Finalize(ctx context.Context, invoiceID string, state InvoiceState) (*FinalizeResult, error) {
	payment, err := s.storage.GetPayment(ctx, GetCriteria{InvoiceID: &invoiceID})
	if err != nil {
		return nil, errors.Wrap(err, "get payment")
	}
	if payment == nil {
		s.logger.Warn("Finalize for unknown invoice", "invoice_id", invoiceID)
		return nil, ErrPaymentNotFound
	}

	switch state.Status {
	case InvoicePaid:
		return s.finalizePaid(ctx, payment, state)
	case InvoiceExpired:
		return s.finalizeTerminal(ctx, payment, StatusExpired)
	case InvoiceFailed:
		return s.finalizeTerminal(ctx, payment, StatusFailed)
	case InvoicePending:
		return &FinalizeResult{Outcome: OutcomeStillPending, Payment: payment}, nil
	default:
		// Нераспознанный статус никогда не должен приводить к частичной
		// мутации: логируем и выходим.
		s.logger.Warn("Ignoring unrecognized provider status",
			"invoice_id", invoiceID,
			"payment_id", payment.ID,
			"provider_status", state.Status,
		)
		return &FinalizeResult{Outcome: OutcomeIgnored, Payment: payment}, nil
	}
}

func (s *Service) finalizePaid(ctx context.Context, payment *Payment, state InvoiceState) (*FinalizeResult, error) {
	if payment.Status == StatusPaid {
		// Повторная доставка уведомления — штатный случай.
		s.logger.Info("Payment already paid, duplicate delivery",
			"payment_id", payment.ID,
			"invoice_id", payment.InvoiceID,
		)
		return &FinalizeResult{Outcome: OutcomeAlreadyFinal, Payment: payment}, nil
	}
	if payment.Status.IsTerminal() {
		// Провайдер сообщает об оплате платежа, который локально уже
		// expired/failed. Применять нельзя — только сигналить оператору.
		return s.reportAnomaly(ctx, payment), nil
	}

	paidAt := s.now()
	if state.PaidAt != nil {
		paidAt = *state.PaidAt
	}

	// Переход и продление атомарны: откат возвращает платёж в pending,
	// ретрай провайдера доведёт дело до конца.
	won, err := s.storage.FinalizePaid(ctx,
		GetCriteria{ID: &payment.ID},
		UpdateParams{
			Status:        lo.ToPtr(StatusPaid),
			PaymentMethod: state.PaymentMethod,
			PaidAt:        &paidAt,
		},
		Extension{
			UserID:       payment.UserID,
			Tier:         payment.Tier,
			DurationDays: payment.DurationDays,
			Now:          s.now(),
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "finalize paid payment")
	}
	if !won {
		current, err := s.storage.GetPayment(ctx, GetCriteria{ID: &payment.ID})
		if err != nil {
			return nil, errors.Wrap(err, "reload payment")
		}
		if current != nil && current.Status != StatusPaid {
			// Гонку выиграл не конкурирующий финализатор "paid", а
			// expired/failed (например, sweep просроченных). Провайдер
			// считает платёж оплаченным — это аномалия, не no-op.
			return s.reportAnomaly(ctx, current), nil
		}
		s.logger.Info("Lost finalization race, skipping extension",
			"payment_id", payment.ID,
			"invoice_id", payment.InvoiceID,
		)
		return &FinalizeResult{Outcome: OutcomeAlreadyFinal, Payment: current}, nil
	}

	metrics.PaymentsFinalized.WithLabelValues(string(StatusPaid)).Inc()
	current, err := s.storage.GetPayment(ctx, GetCriteria{ID: &payment.ID})
	if err != nil {
		return nil, errors.Wrap(err, "reload payment")
	}

	s.logger.Info("Payment finalized and subscription extended",
		"payment_id", payment.ID,
		"user_id", payment.UserID,
		"tier", payment.Tier,
		"duration_days", payment.DurationDays,
	)
	return &FinalizeResult{Outcome: OutcomeApplied, Payment: current}, nil
}

func (s *Service) reportAnomaly(ctx context.Context, payment *Payment) *FinalizeResult {
	s.logger.Error("Provider reports paid for a terminal payment",
		"payment_id", payment.ID,
		"invoice_id", payment.InvoiceID,
		"local_status", payment.Status,
	)
	metrics.PaymentAnomalies.Inc()
	if s.notifier != nil {
		s.notifier.Alert(ctx, fmt.Sprintf(
			"Платёж #%d (invoice %s): провайдер сообщил об оплате, но локальный статус %s. Требуется ручная сверка.",
			payment.ID, payment.InvoiceID, payment.Status,
		))
	}
	return &FinalizeResult{Outcome: OutcomeAnomaly, Payment: payment}
}

func (s *Service) finalizeTerminal(ctx context.Context, payment *Payment, to Status) (*FinalizeResult, error) {
	if payment.Status.IsTerminal() {
		return &FinalizeResult{Outcome: OutcomeAlreadyFinal, Payment: payment}, nil
	}

	won, err := s.storage.TransitionPayment(ctx, GetCriteria{ID: &payment.ID}, StatusPending, UpdateParams{
		Status: &to,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "transition payment to %s", to)
	}

	current, err := s.storage.GetPayment(ctx, GetCriteria{ID: &payment.ID})
	if err != nil {
		return nil, errors.Wrap(err, "reload payment")
	}
	if !won {
		return &FinalizeResult{Outcome: OutcomeAlreadyFinal, Payment: current}, nil
	}

	metrics.PaymentsFinalized.WithLabelValues(string(to)).Inc()
	s.logger.Info("Payment finalized without extension",
		"payment_id", payment.ID,
		"invoice_id", payment.InvoiceID,
		"status", to,
	)
	return &FinalizeResult{Outcome: OutcomeApplied, Payment: current}, nil
}

// Verify is the pull-based fallback for when no webhook arrived. The
// caller must own the payment. A still-pending invoice yields a pending
// result, not an error, so clients can keep polling.
func (s *Service) Verify(ctx context.Context, callerUserID int64, invoiceID string) (*VerifyResult, error) {
	payment, err := s.storage.GetPayment(ctx, GetCriteria{InvoiceID: &invoiceID})
	if err != nil {
		return nil, errors.Wrap(err, "get payment")
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if payment.UserID != callerUserID {
		s.logger.Warn("Verify attempt on foreign payment",
			"payment_id", payment.ID,
			"owner_id", payment.UserID,
			"caller_id", callerUserID,
		)
		return nil, ErrNotOwner
	}

	if payment.Status == StatusPaid {
		// Идемпотентный повтор — возвращаем текущий конец подписки.
		return s.paidResult(ctx, payment)
	}
	if payment.Status.IsTerminal() {
		return &VerifyResult{Status: payment.Status}, nil
	}

	state, err := s.provider.GetInvoiceStatus(ctx, payment.InvoiceID)
	if err != nil {
		s.logger.Error("Failed to fetch invoice status from provider",
			"error", err,
			"payment_id", payment.ID,
			"invoice_id", payment.InvoiceID,
		)
		return nil, errors.Wrap(err, "get invoice status")
	}

	result, err := s.Finalize(ctx, payment.InvoiceID, *state)
	if err != nil {
		return nil, err
	}

	switch {
	case result.Payment.Status == StatusPaid:
		return s.paidResult(ctx, result.Payment)
	case result.Outcome == OutcomeStillPending || result.Outcome == OutcomeIgnored:
		return &VerifyResult{Status: StatusPending}, nil
	default:
		return &VerifyResult{Status: result.Payment.Status}, nil
	}
}

func (s *Service) paidResult(ctx context.Context, payment *Payment) (*VerifyResult, error) {
	user, err := s.storage.GetUser(ctx, users.GetCriteria{ID: &payment.UserID})
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	result := &VerifyResult{Status: StatusPaid}
	if user != nil {
		result.SubscriptionEnd = user.SubscriptionEnd
	}
	return result, nil
}

// StartTrial activates the one-shot trial period. The trial flag only
// ever goes false -> true.
func (s *Service) StartTrial(ctx context.Context, userID int64) (*users.User, error) {
	user, err := s.storage.GetUser(ctx, users.GetCriteria{ID: &userID})
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.TrialUsed {
		return nil, ErrTrialAlreadyUsed
	}

	now := s.now()
	end := now.AddDate(0, 0, s.trialDays)

	updated, err := s.storage.UpdateUser(ctx, users.GetCriteria{ID: &userID}, users.UpdateParams{
		SubscriptionTier:  lo.ToPtr(plans.TierTrial),
		SubscriptionStart: &now,
		SubscriptionEnd:   &end,
		IsActive:          lo.ToPtr(true),
		TrialUsed:         lo.ToPtr(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "update user")
	}

	s.logger.Info("Trial activated", "user_id", userID, "trial_days", s.trialDays, "ends_at", end)
	return updated, nil
}

// ListPayments returns the user's payment history, newest first.
func (s *Service) ListPayments(ctx context.Context, criteria ListCriteria) ([]*Payment, error) {
	return s.storage.ListPayments(ctx, criteria)
}
