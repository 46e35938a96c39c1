package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gazeta-billing/internal/stories/users"
)

// MockStorage - потокобезопасное in-memory хранилище для тестов.
// Реализует тот же контракт условного перехода, что и SQL-хранилище.
type MockStorage struct {
	mu            sync.Mutex
	Payments      map[int64]*Payment
	Users         map[int64]*users.User
	nextPaymentID int64
}

func NewMockStorage() *MockStorage {
	return &MockStorage{
		Payments: make(map[int64]*Payment),
		Users:    make(map[int64]*users.User),
	}
}

func (m *MockStorage) AddUser(user users.User) *users.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.ID == 0 {
		user.ID = int64(len(m.Users) + 1)
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	stored := user
	m.Users[user.ID] = &stored
	return &user
}

func (m *MockStorage) CreatePayment(_ context.Context, payment Payment) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPaymentID++
	payment.ID = m.nextPaymentID
	payment.CreatedAt = time.Now().UTC()
	payment.UpdatedAt = payment.CreatedAt
	stored := payment
	m.Payments[payment.ID] = &stored

	result := payment
	return &result, nil
}

func (m *MockStorage) GetPayment(_ context.Context, criteria GetCriteria) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findPayment(criteria)
	if p == nil {
		return nil, nil
	}
	result := *p
	return &result, nil
}

func (m *MockStorage) ListPayments(_ context.Context, criteria ListCriteria) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Payment
	for _, p := range m.Payments {
		if criteria.UserID != nil && p.UserID != *criteria.UserID {
			continue
		}
		if criteria.Status != nil && p.Status != *criteria.Status {
			continue
		}
		if criteria.CreatedUntil != nil && !p.CreatedAt.Before(*criteria.CreatedUntil) {
			continue
		}
		copied := *p
		result = append(result, &copied)
	}
	return result, nil
}

func (m *MockStorage) TransitionPayment(_ context.Context, criteria GetCriteria, from Status, params UpdateParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findPayment(criteria)
	if p == nil || p.Status != from {
		return false, nil
	}

	if params.Status != nil {
		p.Status = *params.Status
	}
	if params.PaymentMethod != nil {
		p.PaymentMethod = params.PaymentMethod
	}
	if params.PaidAt != nil {
		p.PaidAt = params.PaidAt
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

// FinalizePaid повторяет контракт SQL-хранилища: переход и продление под
// одним замком, либо обе мутации, либо ни одной.
func (m *MockStorage) FinalizePaid(_ context.Context, criteria GetCriteria, params UpdateParams, ext Extension) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findPayment(criteria)
	if p == nil || p.Status != StatusPending {
		return false, nil
	}

	u, ok := m.Users[ext.UserID]
	if !ok {
		// Транзакция откатывается: платёж остаётся pending
		return false, fmt.Errorf("user not found: %d", ext.UserID)
	}

	if params.Status != nil {
		p.Status = *params.Status
	}
	if params.PaymentMethod != nil {
		p.PaymentMethod = params.PaymentMethod
	}
	if params.PaidAt != nil {
		p.PaidAt = params.PaidAt
	}
	p.UpdatedAt = time.Now().UTC()

	newEnd := NextPeriodEnd(u.SubscriptionEnd, ext.DurationDays, ext.Now)
	start := ext.Now
	if u.SubscriptionStart != nil && u.SubscriptionEnd != nil && u.SubscriptionEnd.After(ext.Now) {
		start = *u.SubscriptionStart
	}

	u.SubscriptionTier = ext.Tier
	u.SubscriptionStart = &start
	u.SubscriptionEnd = &newEnd
	u.IsActive = true
	u.TrialUsed = true
	u.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (m *MockStorage) GetUser(_ context.Context, criteria users.GetCriteria) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if criteria.ID == nil {
		return nil, fmt.Errorf("mock storage: user criteria without id")
	}
	u, ok := m.Users[*criteria.ID]
	if !ok {
		return nil, nil
	}
	result := *u
	return &result, nil
}

func (m *MockStorage) UpdateUser(_ context.Context, criteria users.GetCriteria, params users.UpdateParams) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if criteria.ID == nil {
		return nil, fmt.Errorf("mock storage: user criteria without id")
	}
	u, ok := m.Users[*criteria.ID]
	if !ok {
		return nil, nil
	}

	if params.SubscriptionTier != nil {
		u.SubscriptionTier = *params.SubscriptionTier
	}
	if params.SubscriptionStart != nil {
		u.SubscriptionStart = params.SubscriptionStart
	}
	if params.SubscriptionEnd != nil {
		u.SubscriptionEnd = params.SubscriptionEnd
	}
	if params.IsActive != nil {
		u.IsActive = *params.IsActive
	}
	if params.TrialUsed != nil {
		u.TrialUsed = *params.TrialUsed
	}
	u.UpdatedAt = time.Now().UTC()

	result := *u
	return &result, nil
}

func (m *MockStorage) CreateUser(_ context.Context, user users.User) (*users.User, error) {
	return m.AddUser(user), nil
}

func (m *MockStorage) ListLapsedActiveUsers(_ context.Context) ([]*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var result []*users.User
	for _, u := range m.Users {
		if u.IsActive && u.SubscriptionEnd != nil && u.SubscriptionEnd.Before(now) {
			copied := *u
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *MockStorage) findPayment(criteria GetCriteria) *Payment {
	for _, p := range m.Payments {
		if criteria.ID != nil && p.ID != *criteria.ID {
			continue
		}
		if criteria.ExternalID != nil && p.ExternalID != *criteria.ExternalID {
			continue
		}
		if criteria.InvoiceID != nil && p.InvoiceID != *criteria.InvoiceID {
			continue
		}
		return p
	}
	return nil
}

// MockProvider - мок внешнего платёжного провайдера
type MockProvider struct {
	mu          sync.Mutex
	CreateErr   error
	StatusErr   error
	State       InvoiceState
	CreateCalls int
	StatusCalls int
}

func (p *MockProvider) CreateInvoice(_ context.Context, externalID string, _ float64, _, _, _ string) (*Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CreateCalls++
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	return &Invoice{
		InvoiceID:  "inv-" + externalID,
		PaymentURL: "https://pay.example.com/" + externalID,
	}, nil
}

func (p *MockProvider) GetInvoiceStatus(_ context.Context, _ string) (*InvoiceState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.StatusCalls++
	if p.StatusErr != nil {
		return nil, p.StatusErr
	}
	state := p.State
	return &state, nil
}

// MockNotifier запоминает отправленные алерты
type MockNotifier struct {
	mu     sync.Mutex
	Alerts []string
}

func (n *MockNotifier) Alert(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Alerts = append(n.Alerts, text)
}

func (n *MockNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Alerts)
}
