package yookassa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rvinnie/yookassa-sdk-go/yookassa"
	yoocommon "github.com/rvinnie/yookassa-sdk-go/yookassa/common"
	yoopayment "github.com/rvinnie/yookassa-sdk-go/yookassa/payment"
	"golang.org/x/time/rate"

	"gazeta-billing/internal/stories/billing"
)

// Client wraps the YooKassa SDK behind the billing.InvoiceProvider
// contract. Calls are rate limited so a verification storm cannot
// exhaust the provider quota.
type Client struct {
	client    *yookassa.Client
	logger    *slog.Logger
	limiter   *rate.Limiter
	returnURL string
	timeout   time.Duration
	mock      bool
}

type Config struct {
	ShopID    string
	SecretKey string
	ReturnURL string
	Timeout   time.Duration
	Mock      bool
	RateRPS   float64
	RateBurst int
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		client:    yookassa.NewClient(cfg.ShopID, cfg.SecretKey),
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		returnURL: cfg.ReturnURL,
		timeout:   timeout,
		mock:      cfg.Mock,
	}, nil
}

// callWithTimeout ограничивает время вызова SDK: у самого SDK дедлайнов
// нет, а зависший провайдер не должен держать запрос вечно. По истечении
// дедлайна возвращается ошибка, результат опоздавшего вызова
// выбрасывается — вызывающий обязан считать операцию неуспешной.
func (c *Client) callWithTimeout(ctx context.Context, fn func() (*yoopayment.Payment, error)) (*yoopayment.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type callResult struct {
		payment *yoopayment.Payment
		err     error
	}

	done := make(chan callResult, 1)
	go func() {
		p, err := fn()
		done <- callResult{payment: p, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("provider call: %w", ctx.Err())
	case r := <-done:
		return r.payment, r.err
	}
}

// CreateInvoice creates a payable invoice with YooKassa and returns the
// provider id plus the page the payer must be redirected to.
func (c *Client) CreateInvoice(ctx context.Context, externalID string, amount float64, currency, payerEmail, description string) (*billing.Invoice, error) {
	if c.mock {
		invoiceID := fmt.Sprintf("mock-%s", uuid.New().String())
		c.logger.Info("Mock mode: issuing fake invoice", "invoice_id", invoiceID, "external_id", externalID)
		return &billing.Invoice{
			InvoiceID:  invoiceID,
			PaymentURL: c.returnURL,
		}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiting: %w", err)
	}

	c.logger.Info("Creating invoice in YooKassa", "amount", amount, "external_id", externalID)

	// Ключ идемпотентности для провайдера: защищает от дублей на сетевых
	// ретраях внутри SDK
	idempotenceKey := fmt.Sprintf("%s_%d", uuid.New().String(), time.Now().Unix())

	payment := &yoopayment.Payment{
		Amount: &yoocommon.Amount{
			Value:    fmt.Sprintf("%.2f", amount),
			Currency: currency,
		},
		Confirmation: &yoopayment.Redirect{
			Type:      yoopayment.TypeRedirect,
			ReturnURL: c.returnURL,
		},
		Description: description,
		Metadata: map[string]string{
			"external_id": externalID,
			"payer_email": payerEmail,
		},
		Capture: true,
	}

	paymentHandler := yookassa.NewPaymentHandler(c.client).WithIdempotencyKey(idempotenceKey)
	result, err := c.callWithTimeout(ctx, func() (*yoopayment.Payment, error) {
		return paymentHandler.CreatePayment(payment)
	})
	if err != nil {
		c.logger.Error("Failed to create invoice in YooKassa", "error", err, "external_id", externalID)
		return nil, fmt.Errorf("create payment: %w", err)
	}

	paymentURL := extractPaymentURL(result)
	if paymentURL == "" {
		c.logger.Warn("No confirmation URL in YooKassa response", "invoice_id", result.ID)
	}

	c.logger.Info("Invoice created in YooKassa",
		"invoice_id", result.ID,
		"status", result.Status,
		"external_id", externalID,
	)

	return &billing.Invoice{
		InvoiceID:  result.ID,
		PaymentURL: paymentURL,
	}, nil
}

// GetInvoiceStatus fetches the live invoice state from YooKassa.
func (c *Client) GetInvoiceStatus(ctx context.Context, invoiceID string) (*billing.InvoiceState, error) {
	if c.mock {
		now := time.Now().UTC()
		return &billing.InvoiceState{
			Status: billing.InvoicePaid,
			PaidAt: &now,
		}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiting: %w", err)
	}

	c.logger.Info("Fetching invoice status from YooKassa", "invoice_id", invoiceID)

	paymentHandler := yookassa.NewPaymentHandler(c.client)
	result, err := c.callWithTimeout(ctx, func() (*yoopayment.Payment, error) {
		return paymentHandler.FindPayment(invoiceID)
	})
	if err != nil {
		c.logger.Error("Failed to fetch invoice status", "error", err, "invoice_id", invoiceID)
		return nil, fmt.Errorf("find payment: %w", err)
	}

	state := mapPayment(result)
	c.logger.Info("Invoice status fetched",
		"invoice_id", invoiceID,
		"provider_status", result.Status,
		"status", state.Status,
	)
	return state, nil
}

func mapPayment(p *yoopayment.Payment) *billing.InvoiceState {
	return &billing.InvoiceState{
		Status:        MapStatus(string(p.Status), cancellationReason(p)),
		PaymentMethod: paymentMethodType(p),
		PaidAt:        p.CapturedAt,
	}
}

// paymentMethodType вытаскивает код способа оплаты. PaymentMethoder в SDK
// пустой интерфейс, при анмаршалинге ответа туда попадает map.
func paymentMethodType(p *yoopayment.Payment) *string {
	if p.PaymentMethod == nil {
		return nil
	}
	if m, ok := p.PaymentMethod.(map[string]interface{}); ok {
		if t, ok := m["type"].(string); ok && t != "" {
			return &t
		}
	}
	return nil
}

func cancellationReason(p *yoopayment.Payment) string {
	if p.CancellationDetails == nil {
		return ""
	}
	return string(p.CancellationDetails.Reason)
}

// MapStatus normalizes a YooKassa payment status. A cancellation caused
// by the payer never confirming maps to expired, every other
// cancellation is a failure.
func MapStatus(providerStatus, cancellationReason string) billing.InvoiceStatus {
	switch yoopayment.Status(providerStatus) {
	case yoopayment.Pending, yoopayment.WaitingForCapture:
		return billing.InvoicePending
	case yoopayment.Succeeded:
		return billing.InvoicePaid
	case yoopayment.Canceled:
		// Таймауты инвойса (expired_on_confirmation, expired_on_capture)
		// отличаем от отказов вроде expired_card.
		if strings.HasPrefix(cancellationReason, "expired_on_") {
			return billing.InvoiceExpired
		}
		return billing.InvoiceFailed
	default:
		return billing.InvoiceUnknown
	}
}

// extractPaymentURL извлекает URL для оплаты из YooKassa confirmation
func extractPaymentURL(payment *yoopayment.Payment) string {
	if payment.Confirmation == nil {
		return ""
	}

	// SDK использует interface{} для Confirmation, нужно type assertion
	if redirect, ok := payment.Confirmation.(*yoopayment.Redirect); ok {
		return redirect.ConfirmationURL
	}

	if confMap, ok := payment.Confirmation.(map[string]interface{}); ok {
		if url, exists := confMap["confirmation_url"].(string); exists {
			return url
		}
	}

	return ""
}
