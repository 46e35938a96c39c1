package billing

import (
	"context"

	"gazeta-billing/internal/stories/users"
)

type (
	// Storage provides database operations for payments and the
	// subscription fields of users.
	Storage interface {
		CreatePayment(ctx context.Context, payment Payment) (*Payment, error)
		GetPayment(ctx context.Context, criteria GetCriteria) (*Payment, error)
		ListPayments(ctx context.Context, criteria ListCriteria) ([]*Payment, error)
		// TransitionPayment выполняет условный переход статуса: обновление
		// применяется только если текущий статус равен from. Возвращает
		// false если перехода не случилось (кто-то успел раньше).
		TransitionPayment(ctx context.Context, criteria GetCriteria, from Status, params UpdateParams) (bool, error)
		// FinalizePaid атомарно переводит платёж из pending и применяет
		// продление подписки в одной транзакции: либо обе записи, либо
		// ни одной. Проигрыш условного перехода — false без мутаций.
		FinalizePaid(ctx context.Context, criteria GetCriteria, params UpdateParams, ext Extension) (bool, error)

		GetUser(ctx context.Context, criteria users.GetCriteria) (*users.User, error)
		UpdateUser(ctx context.Context, criteria users.GetCriteria, params users.UpdateParams) (*users.User, error)
	}

	// InvoiceProvider is the external payment provider.
	InvoiceProvider interface {
		CreateInvoice(ctx context.Context, externalID string, amount float64, currency, payerEmail, description string) (*Invoice, error)
		GetInvoiceStatus(ctx context.Context, invoiceID string) (*InvoiceState, error)
	}

	// Notifier delivers operator alerts. May be a no-op.
	Notifier interface {
		Alert(ctx context.Context, text string)
	}
)
