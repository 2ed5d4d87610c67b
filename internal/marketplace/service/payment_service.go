package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/config"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/repository"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/shared/gateway"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderSettlement is the callback surface into the order pipeline. Wired
// after construction to break the service cycle.
type OrderSettlement interface {
	PaymentCompleted(ctx context.Context, invoiceID string) error
	PaymentRefunded(ctx context.Context, invoiceID string) error
}

// methodRate is the gateway cost model for one payment method.
type methodRate struct {
	percent decimal.Decimal
	fixed   decimal.Decimal
}

// methodRates carries the negotiated acquiring costs per method.
// bank_transfer is a flat fee with no percentage component.
var methodRates = map[string]methodRate{
	entity.PaymentMethodMada:         {percent: decimal.NewFromFloat(0.010), fixed: decimal.NewFromFloat(0.50)},
	entity.PaymentMethodCard:         {percent: decimal.NewFromFloat(0.022), fixed: decimal.NewFromFloat(0.75)},
	entity.PaymentMethodApplePay:     {percent: decimal.NewFromFloat(0.022), fixed: decimal.NewFromFloat(0.75)},
	entity.PaymentMethodSTCPay:       {percent: decimal.NewFromFloat(0.0175), fixed: decimal.NewFromFloat(0.50)},
	entity.PaymentMethodBankTransfer: {percent: decimal.Zero, fixed: decimal.NewFromFloat(5.00)},
}

// paymentPlatformFeeRate is the platform's cut of each collected payment,
// separate from the order-level platform fee.
var paymentPlatformFeeRate = decimal.NewFromFloat(0.005)

// PaymentService owns payment attempts, refunds, provider webhooks and
// settlement reconciliation. Gateway calls always run outside database
// transactions and under the client's bounded timeout.
type PaymentService struct {
	payments   *repository.PaymentRepository
	invoices   *repository.InvoiceRepository
	gateway    PaymentGateway
	provider   string
	rdb        *redis.Client
	settlement OrderSettlement
	cfg        *config.MarketplaceConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewPaymentService(payments *repository.PaymentRepository, invoices *repository.InvoiceRepository, gw PaymentGateway, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		payments: payments,
		invoices: invoices,
		gateway:  gw,
		provider: cfg.Gateways.Payment.Provider,
		rdb:      rdb,
		cfg:      &cfg.Marketplace,
		logger:   logger,
		now:      time.Now,
	}
}

// SetCompletionNotifier wires the order pipeline callback.
func (s *PaymentService) SetCompletionNotifier(n OrderSettlement) {
	s.settlement = n
}

func (s *PaymentService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Payment, int64, error) {
	return s.payments.FindAll(ctx, page, pageSize, filters)
}

func (s *PaymentService) Get(ctx context.Context, paymentID string) (*entity.Payment, error) {
	p, err := s.payments.FindByID(ctx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "payment"}
	}
	return p, err
}

// Initiate opens a payment attempt against a payable invoice. One in-flight
// attempt per invoice; fees, risk score and the 3DS flag are fixed here.
func (s *PaymentService) Initiate(ctx context.Context, invoiceID, customerID, method string) (*entity.Payment, error) {
	if _, ok := methodRates[method]; !ok {
		return nil, validationf("unsupported payment method %q", method)
	}

	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "invoice"}
	}
	if err != nil {
		return nil, err
	}
	if inv.CustomerID != customerID {
		return nil, &AuthorizationError{Message: "invoice does not belong to customer"}
	}
	if !inv.Payable() {
		return nil, conflictf(CodeNotPayable, "invoice is %s and cannot be paid", inv.Status)
	}

	if _, err := s.payments.FindInFlight(ctx, invoiceID); err == nil {
		return nil, conflictf(CodePaymentInFlight, "invoice already has a payment in flight")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	amount := inv.TotalAmount
	gatewayFee := computeGatewayFee(method, amount)
	platformFee := amount.Mul(paymentPlatformFeeRate).Round(2)
	score := assessRisk(amount, method, now)

	p := &entity.Payment{
		ID:               uuid.NewString(),
		PaymentReference: "PAY-" + uuid.NewString(),
		InvoiceID:        inv.ID,
		OrderID:          inv.OrderID,
		CustomerID:       customerID,
		Type:             entity.PaymentTypePayment,
		Amount:           amount,
		Currency:         inv.Currency,
		Method:           method,
		Provider:         s.provider,
		Status:           entity.PaymentStatusPending,
		GatewayFee:       gatewayFee,
		PlatformFee:      platformFee,
		NetAmount:        amount.Sub(gatewayFee).Sub(platformFee),
		RiskScore:        score,
		RequiresThreeDS:  s.requiresThreeDS(method, amount, score),
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("payment initiated",
		zap.String("payment_id", p.ID),
		zap.String("invoice_id", inv.ID),
		zap.String("method", method),
		zap.String("amount", amount.StringFixed(2)),
		zap.Float64("risk_score", score),
		zap.Bool("requires_3ds", p.RequiresThreeDS),
	)
	return p, nil
}

// Process executes a pending payment attempt. The processing transition
// commits before the gateway call, so a crash mid-charge leaves a processing
// row for webhook or reconciliation resolution, never a silent retry.
func (s *PaymentService) Process(ctx context.Context, paymentID, customerID string) (*entity.Payment, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.CustomerID != customerID {
		return nil, &AuthorizationError{Message: "payment does not belong to customer"}
	}
	if p.Status != entity.PaymentStatusPending {
		return nil, conflictf(CodeInvalidTransition, "payment is %s, only pending payments can be processed", p.Status)
	}

	now := s.now()
	p.Status = entity.PaymentStatusProcessing
	p.ProcessedAt = &now
	if err := s.payments.Update(ctx, p); err != nil {
		return nil, err
	}

	if s.gateway == nil {
		return nil, &ExternalFailure{Op: "charge payment", Err: errors.New("no payment gateway configured")}
	}

	result, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		Reference:   p.PaymentReference,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Method:      p.Method,
		CustomerID:  p.CustomerID,
		Description: "Invoice " + p.InvoiceID,
		ThreeDS:     p.RequiresThreeDS,
	})
	if err != nil {
		code := "gateway_error"
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline exceeded") {
			code = "gateway_timeout"
		}
		return s.failPayment(ctx, p, code, err.Error())
	}
	if !result.Success {
		p.ProviderTransactionID = result.TransactionID
		return s.failPayment(ctx, p, result.FailureCode, result.FailureMessage)
	}

	p.ProviderTransactionID = result.TransactionID
	return s.completePayment(ctx, p)
}

// HandleWebhook processes one provider callback. The raw payload is always
// appended to the payment's webhook log, including replays and late
// deliveries against terminal payments.
func (s *PaymentService) HandleWebhook(ctx context.Context, provider string, payload []byte) (*entity.Payment, error) {
	event, err := parseWebhook(provider, payload)
	if err != nil {
		return nil, err
	}

	p, err := s.payments.FindByReference(ctx, event.Reference)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "payment"}
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	p.WebhookData = entity.AppendWebhookRecord(p.WebhookData, entity.WebhookRecord{
		Provider:   provider,
		EventID:    event.ID,
		Payload:    json.RawMessage(payload),
		ReceivedAt: now,
	})

	if s.seenEvent(ctx, provider, event.ID) {
		err := s.payments.Update(ctx, p)
		return p, err
	}

	switch event.Status {
	case "paid", "captured", "completed", "succeeded":
		if p.Status == entity.PaymentStatusCompleted {
			return p, s.payments.Update(ctx, p)
		}
		if !p.InFlight() {
			s.logger.Warn("success webhook for terminal payment",
				zap.String("payment_id", p.ID),
				zap.String("status", p.Status),
			)
			return p, s.payments.Update(ctx, p)
		}
		return s.completePayment(ctx, p)
	case "failed", "declined", "expired":
		if !p.InFlight() {
			return p, s.payments.Update(ctx, p)
		}
		return s.failPayment(ctx, p, "provider_"+event.Status, "reported by "+provider+" webhook")
	default:
		// Unrecognized event types are logged but kept.
		s.logger.Info("unhandled webhook status",
			zap.String("provider", provider),
			zap.String("status", event.Status),
		)
		return p, s.payments.Update(ctx, p)
	}
}

// Refund takes a full or partial refund against a completed payment. The
// gateway refund runs first; the ledger rows are written only after the
// provider confirms, so the books never show money the provider kept.
func (s *PaymentService) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (*entity.Payment, error) {
	source, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !source.Refundable(amount) {
		return nil, conflictf(CodeNotRefundable, "payment cannot be refunded for %s", amount.StringFixed(2))
	}
	if s.gateway == nil {
		return nil, &ExternalFailure{Op: "refund payment", Err: errors.New("no payment gateway configured")}
	}

	result, err := s.gateway.Refund(ctx, source.ProviderTransactionID, amount)
	if err != nil {
		return nil, &ExternalFailure{Op: "refund payment", Err: err}
	}
	if !result.Success {
		return nil, &ExternalFailure{Op: "refund payment", Err: errors.New("provider declined the refund")}
	}

	now := s.now()

	// The refund's type and the source's new status are settled by the
	// ledger under the source row's lock, not from the view read above.
	refund := &entity.Payment{
		ID:                    uuid.NewString(),
		PaymentReference:      "REF-" + uuid.NewString(),
		InvoiceID:             source.InvoiceID,
		OrderID:               source.OrderID,
		CustomerID:            source.CustomerID,
		SourcePaymentID:       &source.ID,
		Amount:                amount,
		Currency:              source.Currency,
		Method:                source.Method,
		Provider:              source.Provider,
		ProviderTransactionID: result.RefundID,
		Status:                entity.PaymentStatusCompleted,
		RefundReason:          reason,
		CompletedAt:           &now,
	}

	source, err = s.payments.CreateRefund(ctx, refund)
	if err != nil {
		// The provider refunded but the ledger write failed; reconciliation
		// surfaces the gap.
		s.logger.Error("refund ledger write failed after provider confirmation",
			zap.String("payment_id", paymentID),
			zap.String("refund_id", result.RefundID),
			zap.Error(err),
		)
		if errors.Is(err, repository.ErrRefundBound) {
			return nil, conflictf(CodeNotRefundable, "refund of %s exceeds the refundable amount", amount.StringFixed(2))
		}
		return nil, err
	}

	s.logger.Info("payment refunded",
		zap.String("payment_id", source.ID),
		zap.String("refund_payment_id", refund.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.Bool("full", source.Status == entity.PaymentStatusRefunded),
	)

	if source.Status == entity.PaymentStatusRefunded && s.settlement != nil {
		if err := s.settlement.PaymentRefunded(ctx, source.InvoiceID); err != nil {
			s.logger.Error("refund propagation failed",
				zap.String("invoice_id", source.InvoiceID), zap.Error(err))
		}
	}
	return refund, nil
}

// SettlementEntry is one line of a provider settlement file.
type SettlementEntry struct {
	Reference           string          `json:"reference"`
	Amount              decimal.Decimal `json:"amount"`
	SettlementReference string          `json:"settlement_reference"`
}

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	Matched       int      `json:"matched"`
	Discrepancies []string `json:"discrepancies"`
	Unknown       []string `json:"unknown"`
}

// Reconcile matches settlement entries against completed payments. Amount
// mismatches and unknown references are reported, never silently fixed.
func (s *PaymentService) Reconcile(ctx context.Context, entries []SettlementEntry) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	now := s.now()

	for _, e := range entries {
		p, err := s.payments.FindByReference(ctx, e.Reference)
		if errors.Is(err, repository.ErrNotFound) {
			report.Unknown = append(report.Unknown, e.Reference)
			continue
		}
		if err != nil {
			return nil, err
		}

		if p.Status != entity.PaymentStatusCompleted &&
			p.Status != entity.PaymentStatusRefunded &&
			p.Status != entity.PaymentStatusPartiallyRefunded {
			report.Discrepancies = append(report.Discrepancies,
				e.Reference+": settled but payment is "+p.Status)
			continue
		}
		if !p.Amount.Equal(e.Amount) {
			report.Discrepancies = append(report.Discrepancies,
				e.Reference+": amount "+e.Amount.StringFixed(2)+" does not match "+p.Amount.StringFixed(2))
			continue
		}
		if p.Reconciled {
			report.Matched++
			continue
		}

		if err := s.payments.MarkReconciled(ctx, p.ID, e.SettlementReference, now); err != nil {
			return nil, err
		}
		report.Matched++
	}

	s.logger.Info("reconciliation run",
		zap.Int("matched", report.Matched),
		zap.Int("discrepancies", len(report.Discrepancies)),
		zap.Int("unknown", len(report.Unknown)),
	)
	return report, nil
}

func (s *PaymentService) completePayment(ctx context.Context, p *entity.Payment) (*entity.Payment, error) {
	now := s.now()
	p.Status = entity.PaymentStatusCompleted
	p.CompletedAt = &now
	p.FailureCode = ""
	p.FailureMessage = ""
	if err := s.payments.Update(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("payment completed",
		zap.String("payment_id", p.ID),
		zap.String("invoice_id", p.InvoiceID),
		zap.String("transaction_id", p.ProviderTransactionID),
	)

	if s.settlement != nil {
		if err := s.settlement.PaymentCompleted(ctx, p.InvoiceID); err != nil {
			// The payment itself is committed; settlement propagation is
			// retried by the next webhook delivery or manual replay.
			s.logger.Error("settlement propagation failed",
				zap.String("invoice_id", p.InvoiceID), zap.Error(err))
		}
	}
	return p, nil
}

func (s *PaymentService) failPayment(ctx context.Context, p *entity.Payment, code, message string) (*entity.Payment, error) {
	now := s.now()
	p.Status = entity.PaymentStatusFailed
	p.FailedAt = &now
	p.FailureCode = code
	if len(message) > 500 {
		message = message[:500]
	}
	p.FailureMessage = message
	if err := s.payments.Update(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Warn("payment failed",
		zap.String("payment_id", p.ID),
		zap.String("failure_code", code),
	)
	return p, nil
}

// seenEvent marks the provider event as processed; true means a replay.
// Without redis every delivery is treated as first, which is safe because
// the status handlers are idempotent.
func (s *PaymentService) seenEvent(ctx context.Context, provider, eventID string) bool {
	if s.rdb == nil || eventID == "" {
		return false
	}
	key := "webhook:" + provider + ":" + eventID
	ok, err := s.rdb.SetNX(ctx, key, 1, 24*time.Hour).Result()
	if err != nil {
		s.logger.Warn("webhook dedupe check failed", zap.Error(err))
		return false
	}
	return !ok
}

func (s *PaymentService) requiresThreeDS(method string, amount decimal.Decimal, score float64) bool {
	if method != entity.PaymentMethodCard && method != entity.PaymentMethodApplePay {
		return false
	}
	floor := decimal.NewFromFloat(s.cfg.ThreeDSAmountFloor)
	return amount.GreaterThan(floor) || score > s.cfg.ThreeDSRiskFloor
}

// computeGatewayFee applies the method's cost model, rounded half-up.
func computeGatewayFee(method string, amount decimal.Decimal) decimal.Decimal {
	rate := methodRates[method]
	return amount.Mul(rate.percent).Add(rate.fixed).Round(2)
}

// assessRisk scores a payment attempt in [0, 1]. The inputs are amount,
// method and local time of day; the score is fixed at initiation. The
// factors accumulate in tenths so the score stays an exact decimal.
func assessRisk(amount decimal.Decimal, method string, now time.Time) float64 {
	tenths := 1
	if amount.GreaterThan(decimal.NewFromInt(5000)) {
		tenths += 3
	}
	if amount.GreaterThan(decimal.NewFromInt(10000)) {
		tenths += 2
	}
	if h := now.Hour(); h < 6 {
		tenths += 2
	}
	if method == entity.PaymentMethodCard {
		tenths += 1
	}
	if tenths > 10 {
		tenths = 10
	}
	return float64(tenths) / 10
}

// webhookEvent is the provider-neutral view of one callback.
type webhookEvent struct {
	ID        string
	Reference string
	Status    string
}

// parseWebhook extracts the event identity, payment reference and status
// from a provider payload. A payload with no resolvable reference is a hard
// error; it can never be applied to a payment.
func parseWebhook(provider string, payload []byte) (*webhookEvent, error) {
	switch provider {
	case "moyasar":
		var body struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Metadata struct {
				PaymentRef string `json:"payment_ref"`
			} `json:"metadata"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, validationf("malformed moyasar payload: %v", err)
		}
		if body.Metadata.PaymentRef == "" {
			return nil, validationf("moyasar payload has no payment reference")
		}
		return &webhookEvent{ID: body.ID, Reference: body.Metadata.PaymentRef, Status: body.Status}, nil

	case "tap":
		var body struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			Reference struct {
				Order string `json:"order"`
			} `json:"reference"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, validationf("malformed tap payload: %v", err)
		}
		if body.Reference.Order == "" {
			return nil, validationf("tap payload has no payment reference")
		}
		return &webhookEvent{ID: body.ID, Reference: body.Reference.Order, Status: strings.ToLower(body.Status)}, nil

	default:
		return nil, validationf("unknown webhook provider %q", provider)
	}
}
