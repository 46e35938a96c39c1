package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/lo"

	"gazeta-billing/internal/stories/billing"
	"gazeta-billing/internal/stories/plans"
	"gazeta-billing/internal/stories/users"
)

func newTestStorage(t *testing.T) *storageImpl {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := New(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func createTestUser(t *testing.T, s *storageImpl) *users.User {
	t.Helper()

	user, err := s.CreateUser(context.Background(), users.User{Email: "reader@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func createPendingPayment(t *testing.T, s *storageImpl, userID int64, suffix string) *billing.Payment {
	t.Helper()

	payment, err := s.CreatePayment(context.Background(), billing.Payment{
		UserID:       userID,
		PlanID:       "monthly",
		Tier:         plans.TierMonthly,
		DurationDays: 30,
		Amount:       299,
		Currency:     "RUB",
		ExternalID:   "ext-" + suffix,
		InvoiceID:    "inv-" + suffix,
		InvoiceURL:   "https://pay.example.com/" + suffix,
		Status:       billing.StatusPending,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return payment
}

func TestPaymentTransition(t *testing.T) {
	t.Run("first transition wins, second loses", func(t *testing.T) {
		s := newTestStorage(t)
		user := createTestUser(t, s)
		payment := createPendingPayment(t, s, user.ID, "1")

		paidAt := time.Now().UTC().Truncate(time.Second)
		won, err := s.TransitionPayment(context.Background(),
			billing.GetCriteria{ID: &payment.ID},
			billing.StatusPending,
			billing.UpdateParams{
				Status:        lo.ToPtr(billing.StatusPaid),
				PaymentMethod: lo.ToPtr("bank_card"),
				PaidAt:        &paidAt,
			},
		)
		if err != nil {
			t.Fatalf("first transition: %v", err)
		}
		if !won {
			t.Fatal("first transition must win")
		}

		// Повторный переход того же платежа — гонка, проигравший получает false
		won, err = s.TransitionPayment(context.Background(),
			billing.GetCriteria{ID: &payment.ID},
			billing.StatusPending,
			billing.UpdateParams{Status: lo.ToPtr(billing.StatusExpired)},
		)
		if err != nil {
			t.Fatalf("second transition: %v", err)
		}
		if won {
			t.Fatal("second transition must lose")
		}

		current, err := s.GetPayment(context.Background(), billing.GetCriteria{ID: &payment.ID})
		if err != nil {
			t.Fatalf("get payment: %v", err)
		}
		if current.Status != billing.StatusPaid {
			t.Errorf("status = %s, want paid", current.Status)
		}
		if current.PaymentMethod == nil || *current.PaymentMethod != "bank_card" {
			t.Errorf("payment method = %v, want bank_card", current.PaymentMethod)
		}
		if current.PaidAt == nil {
			t.Error("paid_at not persisted")
		}
	})

	t.Run("transition by invoice id", func(t *testing.T) {
		s := newTestStorage(t)
		user := createTestUser(t, s)
		payment := createPendingPayment(t, s, user.ID, "2")

		won, err := s.TransitionPayment(context.Background(),
			billing.GetCriteria{InvoiceID: &payment.InvoiceID},
			billing.StatusPending,
			billing.UpdateParams{Status: lo.ToPtr(billing.StatusFailed)},
		)
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if !won {
			t.Fatal("transition by invoice id must win")
		}
	})

	t.Run("transition of missing payment loses quietly", func(t *testing.T) {
		s := newTestStorage(t)

		won, err := s.TransitionPayment(context.Background(),
			billing.GetCriteria{ID: lo.ToPtr(int64(999))},
			billing.StatusPending,
			billing.UpdateParams{Status: lo.ToPtr(billing.StatusExpired)},
		)
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if won {
			t.Fatal("transition of a missing payment must not win")
		}
	})
}

func TestFinalizePaid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	extension := func(userID int64) billing.Extension {
		return billing.Extension{
			UserID:       userID,
			Tier:         plans.TierMonthly,
			DurationDays: 30,
			Now:          now,
		}
	}
	paidParams := billing.UpdateParams{
		Status:        lo.ToPtr(billing.StatusPaid),
		PaymentMethod: lo.ToPtr("bank_card"),
		PaidAt:        &now,
	}

	t.Run("transition and extension commit together", func(t *testing.T) {
		s := newTestStorage(t)
		user := createTestUser(t, s)
		payment := createPendingPayment(t, s, user.ID, "1")

		won, err := s.FinalizePaid(context.Background(),
			billing.GetCriteria{ID: &payment.ID}, paidParams, extension(user.ID))
		if err != nil {
			t.Fatalf("FinalizePaid: %v", err)
		}
		if !won {
			t.Fatal("first finalization must win")
		}

		current, _ := s.GetPayment(context.Background(), billing.GetCriteria{ID: &payment.ID})
		if current.Status != billing.StatusPaid {
			t.Errorf("payment status = %s, want paid", current.Status)
		}

		updated, _ := s.GetUser(context.Background(), users.GetCriteria{ID: &user.ID})
		wantEnd := now.AddDate(0, 0, 30)
		if updated.SubscriptionEnd == nil || !updated.SubscriptionEnd.Equal(wantEnd) {
			t.Errorf("subscription end = %v, want %v", updated.SubscriptionEnd, wantEnd)
		}
		if updated.SubscriptionTier != plans.TierMonthly || !updated.IsActive || !updated.TrialUsed {
			t.Errorf("unexpected user state: %+v", updated)
		}
	})

	t.Run("losing the transition leaves the user untouched", func(t *testing.T) {
		s := newTestStorage(t)
		user := createTestUser(t, s)
		payment := createPendingPayment(t, s, user.ID, "1")

		if _, err := s.TransitionPayment(context.Background(),
			billing.GetCriteria{ID: &payment.ID},
			billing.StatusPending,
			billing.UpdateParams{Status: lo.ToPtr(billing.StatusExpired)},
		); err != nil {
			t.Fatalf("expire: %v", err)
		}

		won, err := s.FinalizePaid(context.Background(),
			billing.GetCriteria{ID: &payment.ID}, paidParams, extension(user.ID))
		if err != nil {
			t.Fatalf("FinalizePaid: %v", err)
		}
		if won {
			t.Fatal("finalization of an expired payment must lose")
		}

		updated, _ := s.GetUser(context.Background(), users.GetCriteria{ID: &user.ID})
		if updated.SubscriptionEnd != nil || updated.IsActive {
			t.Errorf("losing finalization mutated the user: %+v", updated)
		}
	})

	t.Run("two payments stack exactly two extensions", func(t *testing.T) {
		s := newTestStorage(t)
		user := createTestUser(t, s)
		first := createPendingPayment(t, s, user.ID, "1")
		second := createPendingPayment(t, s, user.ID, "2")

		for _, p := range []*billing.Payment{first, second} {
			won, err := s.FinalizePaid(context.Background(),
				billing.GetCriteria{ID: &p.ID}, paidParams, extension(user.ID))
			if err != nil {
				t.Fatalf("FinalizePaid %d: %v", p.ID, err)
			}
			if !won {
				t.Fatalf("finalization of payment %d must win", p.ID)
			}
		}

		updated, _ := s.GetUser(context.Background(), users.GetCriteria{ID: &user.ID})
		wantEnd := now.AddDate(0, 0, 60)
		if updated.SubscriptionEnd == nil || !updated.SubscriptionEnd.Equal(wantEnd) {
			t.Errorf("subscription end = %v, want %v: one extension was lost", updated.SubscriptionEnd, wantEnd)
		}
	})

	t.Run("failed extension rolls the payment back to pending", func(t *testing.T) {
		s := newTestStorage(t)
		user := createTestUser(t, s)
		payment := createPendingPayment(t, s, user.ID, "1")

		_, err := s.FinalizePaid(context.Background(),
			billing.GetCriteria{ID: &payment.ID}, paidParams, extension(999))
		if err == nil {
			t.Fatal("expected error for a missing user")
		}

		current, _ := s.GetPayment(context.Background(), billing.GetCriteria{ID: &payment.ID})
		if current.Status != billing.StatusPending {
			t.Fatalf("payment status = %s, want pending after rollback", current.Status)
		}
	})
}

func TestGetPayment(t *testing.T) {
	s := newTestStorage(t)
	user := createTestUser(t, s)
	payment := createPendingPayment(t, s, user.ID, "1")

	byInvoice, err := s.GetPayment(context.Background(), billing.GetCriteria{InvoiceID: &payment.InvoiceID})
	if err != nil {
		t.Fatalf("get by invoice: %v", err)
	}
	if byInvoice == nil || byInvoice.ID != payment.ID {
		t.Errorf("get by invoice = %+v, want id %d", byInvoice, payment.ID)
	}

	byExternal, err := s.GetPayment(context.Background(), billing.GetCriteria{ExternalID: &payment.ExternalID})
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if byExternal == nil || byExternal.ID != payment.ID {
		t.Errorf("get by external id = %+v, want id %d", byExternal, payment.ID)
	}

	missing, err := s.GetPayment(context.Background(), billing.GetCriteria{InvoiceID: lo.ToPtr("inv-nobody")})
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing payment = %+v, want nil", missing)
	}
}

func TestListPayments(t *testing.T) {
	s := newTestStorage(t)
	user := createTestUser(t, s)
	first := createPendingPayment(t, s, user.ID, "1")
	second := createPendingPayment(t, s, user.ID, "2")

	if _, err := s.TransitionPayment(context.Background(),
		billing.GetCriteria{ID: &second.ID},
		billing.StatusPending,
		billing.UpdateParams{Status: lo.ToPtr(billing.StatusPaid)},
	); err != nil {
		t.Fatalf("transition: %v", err)
	}

	all, err := s.ListPayments(context.Background(), billing.ListCriteria{UserID: &user.ID})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list all = %d payments, want 2", len(all))
	}

	pending, err := s.ListPayments(context.Background(), billing.ListCriteria{
		UserID: &user.ID,
		Status: lo.ToPtr(billing.StatusPending),
	})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("list pending = %+v, want only payment %d", pending, first.ID)
	}

	cutoff := time.Now().UTC().Add(-time.Hour)
	stale, err := s.ListPayments(context.Background(), billing.ListCriteria{CreatedUntil: &cutoff})
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("list stale = %d payments, want 0 for fresh rows", len(stale))
	}
}

func TestUserSubscriptionUpdate(t *testing.T) {
	s := newTestStorage(t)
	user := createTestUser(t, s)

	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 0, 30)

	updated, err := s.UpdateUser(context.Background(), users.GetCriteria{ID: &user.ID}, users.UpdateParams{
		SubscriptionTier:  lo.ToPtr(plans.TierMonthly),
		SubscriptionStart: &start,
		SubscriptionEnd:   &end,
		IsActive:          lo.ToPtr(true),
		TrialUsed:         lo.ToPtr(true),
	})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if updated.SubscriptionTier != plans.TierMonthly || !updated.IsActive || !updated.TrialUsed {
		t.Errorf("unexpected user state: %+v", updated)
	}
	if updated.SubscriptionEnd == nil || !updated.SubscriptionEnd.Equal(end) {
		t.Errorf("subscription end = %v, want %v", updated.SubscriptionEnd, end)
	}
}

func TestListLapsedActiveUsers(t *testing.T) {
	s := newTestStorage(t)
	lapsed := createTestUser(t, s)

	active, err := s.CreateUser(context.Background(), users.User{Email: "active@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.AddDate(0, 0, 10)

	for _, u := range []struct {
		id  int64
		end time.Time
	}{
		{lapsed.ID, past},
		{active.ID, future},
	} {
		if _, err := s.UpdateUser(context.Background(), users.GetCriteria{ID: &u.id}, users.UpdateParams{
			SubscriptionTier: lo.ToPtr(plans.TierMonthly),
			SubscriptionEnd:  &u.end,
			IsActive:         lo.ToPtr(true),
		}); err != nil {
			t.Fatalf("update user %d: %v", u.id, err)
		}
	}

	got, err := s.ListLapsedActiveUsers(context.Background())
	if err != nil {
		t.Fatalf("list lapsed: %v", err)
	}
	if len(got) != 1 || got[0].ID != lapsed.ID {
		t.Fatalf("lapsed = %+v, want only user %d", got, lapsed.ID)
	}
}
