package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"gazeta-billing/internal/infra/sqlite3"
	"gazeta-billing/internal/stories/billing"
	"gazeta-billing/internal/stories/plans"
)

const paymentsTable = "payments"

var paymentRowFields = fields(paymentRow{})

type paymentRow struct {
	ID            int64      `db:"id"`
	UserID        int64      `db:"user_id"`
	PlanID        string     `db:"plan_id"`
	Tier          string     `db:"tier"`
	DurationDays  int        `db:"duration_days"`
	Amount        float64    `db:"amount"`
	Currency      string     `db:"currency"`
	ExternalID    string     `db:"external_id"`
	InvoiceID     string     `db:"invoice_id"`
	InvoiceURL    string     `db:"invoice_url"`
	Status        string     `db:"status"`
	PaymentMethod *string    `db:"payment_method"`
	PaidAt        *time.Time `db:"paid_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func (p paymentRow) ToModel() *billing.Payment {
	return &billing.Payment{
		ID:            p.ID,
		UserID:        p.UserID,
		PlanID:        p.PlanID,
		Tier:          plans.Tier(p.Tier),
		DurationDays:  p.DurationDays,
		Amount:        p.Amount,
		Currency:      p.Currency,
		ExternalID:    p.ExternalID,
		InvoiceID:     p.InvoiceID,
		InvoiceURL:    p.InvoiceURL,
		Status:        billing.Status(p.Status),
		PaymentMethod: p.PaymentMethod,
		PaidAt:        p.PaidAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (s *storageImpl) CreatePayment(ctx context.Context, paymentEntity billing.Payment) (*billing.Payment, error) {
	params := map[string]interface{}{
		"user_id":        paymentEntity.UserID,
		"plan_id":        paymentEntity.PlanID,
		"tier":           string(paymentEntity.Tier),
		"duration_days":  paymentEntity.DurationDays,
		"amount":         paymentEntity.Amount,
		"currency":       paymentEntity.Currency,
		"external_id":    paymentEntity.ExternalID,
		"invoice_id":     paymentEntity.InvoiceID,
		"invoice_url":    paymentEntity.InvoiceURL,
		"status":         string(paymentEntity.Status),
		"payment_method": paymentEntity.PaymentMethod,
		"paid_at":        paymentEntity.PaidAt,
		"created_at":     s.now(),
		"updated_at":     s.now(),
	}

	q, args, err := s.stmpBuilder().
		Insert(paymentsTable).
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

	return s.GetPayment(ctx, billing.GetCriteria{ID: &id})
}

func applyPaymentCriteria(query sq.SelectBuilder, criteria billing.GetCriteria) sq.SelectBuilder {
	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.ExternalID != nil {
		query = query.Where(sq.Eq{"external_id": *criteria.ExternalID})
	}
	if criteria.InvoiceID != nil {
		query = query.Where(sq.Eq{"invoice_id": *criteria.InvoiceID})
	}
	return query
}

func (s *storageImpl) GetPayment(ctx context.Context, criteria billing.GetCriteria) (*billing.Payment, error) {
	query := applyPaymentCriteria(s.stmpBuilder().
		Select(paymentRowFields).
		From(paymentsTable).
		Limit(1), criteria)

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var p paymentRow
	err = s.db.GetContext(ctx, &p, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return p.ToModel(), nil
}

func (s *storageImpl) buildTransition(criteria billing.GetCriteria, from billing.Status, params billing.UpdateParams) (string, []interface{}, error) {
	query := s.stmpBuilder().
		Update(paymentsTable).
		Set("updated_at", s.now()).
		Where(sq.Eq{"status": string(from)})

	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.ExternalID != nil {
		query = query.Where(sq.Eq{"external_id": *criteria.ExternalID})
	}
	if criteria.InvoiceID != nil {
		query = query.Where(sq.Eq{"invoice_id": *criteria.InvoiceID})
	}

	if params.Status != nil {
		query = query.Set("status", string(*params.Status))
	}
	if params.PaymentMethod != nil {
		query = query.Set("payment_method", *params.PaymentMethod)
	}
	if params.PaidAt != nil {
		query = query.Set("paid_at", *params.PaidAt)
	}

	return query.ToSql()
}

// TransitionPayment применяет params только если текущий статус равен from.
// Это единственный путь вывода платежа из pending: два конкурирующих
// финализатора дают ровно одного победителя, проигравший получает false.
func (s *storageImpl) TransitionPayment(ctx context.Context, criteria billing.GetCriteria, from billing.Status, params billing.UpdateParams) (bool, error) {
	q, args, err := s.buildTransition(criteria, from, params)
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("db.ExecContext: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("result.RowsAffected: %w", err)
	}

	return affected == 1, nil
}

// FinalizePaid выполняет переход pending→... и продление подписки в одной
// транзакции. Запись платежа идёт первой: она берёт write-lock SQLite до
// чтения пользователя, поэтому конкурирующие финализации платежей одного
// пользователя сериализуются и не теряют продления. Откат транзакции
// возвращает платёж в pending — провайдер доставит уведомление повторно.
func (s *storageImpl) FinalizePaid(ctx context.Context, criteria billing.GetCriteria, params billing.UpdateParams, ext billing.Extension) (bool, error) {
	won := false

	err := sqlite3.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		q, args, err := s.buildTransition(criteria, billing.StatusPending, params)
		if err != nil {
			return fmt.Errorf("build sql query: %w", err)
		}

		result, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("result.RowsAffected: %w", err)
		}
		if affected != 1 {
			// Проигрыш гонки: транзакция коммитится пустой
			return nil
		}

		q, args, err = s.stmpBuilder().
			Select(userRowFields).
			From(usersTable).
			Where(sq.Eq{"id": ext.UserID}).
			Limit(1).
			ToSql()
		if err != nil {
			return fmt.Errorf("build sql query: %w", err)
		}

		var u userRow
		if err := tx.GetContext(ctx, &u, q, args...); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("user not found: %d", ext.UserID)
			}
			return fmt.Errorf("tx.GetContext: %w", err)
		}

		newEnd := billing.NextPeriodEnd(u.SubscriptionEnd, ext.DurationDays, ext.Now)

		// При стекинге окно начинается там же, где и раньше; иначе — с
		// текущего момента
		start := ext.Now
		if u.SubscriptionStart != nil && u.SubscriptionEnd != nil && u.SubscriptionEnd.After(ext.Now) {
			start = *u.SubscriptionStart
		}

		q, args, err = s.stmpBuilder().
			Update(usersTable).
			Set("subscription_tier", string(ext.Tier)).
			Set("subscription_start", start).
			Set("subscription_end", newEnd).
			Set("is_active", true).
			Set("trial_used", true).
			Set("updated_at", s.now()).
			Where(sq.Eq{"id": ext.UserID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build sql query: %w", err)
		}

		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}

		won = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return won, nil
}

func (s *storageImpl) ListPayments(ctx context.Context, criteria billing.ListCriteria) ([]*billing.Payment, error) {
	query := s.stmpBuilder().
		Select(paymentRowFields).
		From(paymentsTable)

	if criteria.UserID != nil {
		query = query.Where(sq.Eq{"user_id": *criteria.UserID})
	}
	if criteria.Status != nil {
		query = query.Where(sq.Eq{"status": string(*criteria.Status)})
	}
	if criteria.CreatedUntil != nil {
		query = query.Where(sq.Lt{"created_at": *criteria.CreatedUntil})
	}

	if criteria.Limit > 0 {
		query = query.Limit(uint64(criteria.Limit))
	}
	if criteria.Offset > 0 {
		query = query.Offset(uint64(criteria.Offset))
	}

	query = query.OrderBy("created_at DESC")

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []paymentRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*billing.Payment, 0, len(rows))
	for _, p := range rows {
		result = append(result, p.ToModel())
	}

	return result, nil
}
