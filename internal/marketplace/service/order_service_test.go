package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/config"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/repository"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/testutil"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/shared/gateway"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakePaymentGateway answers charges and refunds deterministically.
type fakePaymentGateway struct {
	chargeErr   error
	declineCode string
	chargeCalls int
	refundCalls int
}

func (f *fakePaymentGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	f.chargeCalls++
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	if f.declineCode != "" {
		return &gateway.ChargeResult{Success: false, FailureCode: f.declineCode, FailureMessage: "declined"}, nil
	}
	return &gateway.ChargeResult{Success: true, TransactionID: "tx-fake-001"}, nil
}

func (f *fakePaymentGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*gateway.RefundResult, error) {
	f.refundCalls++
	return &gateway.RefundResult{Success: true, RefundID: "rf-fake-001"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Marketplace: config.MarketplaceConfig{
			PlatformFeeRate:    0.05,
			VATRate:            0.15,
			RequestExpiry:      168 * time.Hour,
			BidExpiry:          72 * time.Hour,
			PaymentDue:         72 * time.Hour,
			OverdueCancelAfter: 168 * time.Hour,
			AutoCompleteAfter:  72 * time.Hour,
			InvoiceDue:         72 * time.Hour,
			InvoiceCancelAfter: 720 * time.Hour,
			SweepInterval:      5 * time.Minute,
			ThreeDSAmountFloor: 1000,
			ThreeDSRiskFloor:   0.5,
		},
		Gateways: config.GatewaysConfig{
			Payment: config.PaymentGatewayConfig{Provider: "moyasar"},
		},
	}
}

func setupPipeline(t *testing.T, gw *fakePaymentGateway) (*Services, *repository.Repositories, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svcs := NewServices(repos, nil, Gateways{Payment: gw}, testConfig(), zap.NewNop())
	return svcs, repos, db
}

func seedRequestWithBid(t *testing.T, db *gorm.DB, requestID, bidID string) {
	t.Helper()
	expires := time.Now().Add(24 * time.Hour)
	req := &entity.PartRequest{
		ID:         requestID,
		CustomerID: "cust-001",
		Title:      "Alternator",
		Currency:   "SAR",
		Status:     entity.RequestStatusActive,
		ExpiresAt:  &expires,
	}
	if err := db.Create(req).Error; err != nil {
		t.Fatalf("Failed to seed request: %v", err)
	}
	bid := &entity.Bid{
		ID:            bidID,
		PartRequestID: requestID,
		MerchantID:    "merch-001",
		Amount:        decimal.NewFromInt(200),
		Currency:      "SAR",
		DeliveryCost:  decimal.NewFromInt(20),
		DeliveryDays:  3,
		Status:        entity.BidStatusPending,
		ExpiresAt:     &expires,
	}
	if err := db.Create(bid).Error; err != nil {
		t.Fatalf("Failed to seed bid: %v", err)
	}
}

func TestAcceptBidCreatesOrderAndInvoice(t *testing.T) {
	svcs, repos, db := setupPipeline(t, &fakePaymentGateway{})
	ctx := context.Background()

	seedRequestWithBid(t, db, "req-100", "bid-100")

	order, err := svcs.Order.AcceptBid(ctx, "bid-100", "cust-001")
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}

	if order.Status != entity.OrderStatusPendingPayment {
		t.Errorf("Expected pending_payment, got %s", order.Status)
	}
	if got := order.TotalAmount.StringFixed(2); got != "263.00" {
		t.Errorf("Expected total 263.00, got %s", got)
	}
	if order.PaymentDueAt == nil {
		t.Error("Expected payment_due_at to be set")
	}

	inv, err := repos.Invoice.FindByOrderID(ctx, order.ID)
	if err != nil {
		t.Fatalf("Expected invoice for order: %v", err)
	}
	if !inv.TotalAmount.Equal(order.TotalAmount) {
		t.Errorf("Invoice total %s != order total %s", inv.TotalAmount, order.TotalAmount)
	}
	if inv.Status != entity.InvoiceStatusSent {
		t.Errorf("Expected invoice sent, got %s", inv.Status)
	}
	if len(inv.LineItems) != 2 {
		t.Errorf("Expected 2 line items, got %d", len(inv.LineItems))
	}

	// A retry resumes instead of failing and never creates a second order.
	again, err := svcs.Order.AcceptBid(ctx, "bid-100", "cust-001")
	if err != nil {
		t.Fatalf("Repeated AcceptBid failed: %v", err)
	}
	if again.ID != order.ID {
		t.Errorf("Expected same order on retry, got %s and %s", order.ID, again.ID)
	}

	var orderCount int64
	db.Model(&entity.Order{}).Where("bid_id = ?", "bid-100").Count(&orderCount)
	if orderCount != 1 {
		t.Errorf("Expected exactly one order, got %d", orderCount)
	}
}

func TestInvoiceHistoryRecordsDraftThenSent(t *testing.T) {
	svcs, repos, db := setupPipeline(t, &fakePaymentGateway{})
	ctx := context.Background()

	seedRequestWithBid(t, db, "req-180", "bid-180")
	order, err := svcs.Order.AcceptBid(ctx, "bid-180", "cust-001")
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}

	inv, err := repos.Invoice.FindByOrderID(ctx, order.ID)
	if err != nil {
		t.Fatalf("Invoice lookup failed: %v", err)
	}
	if inv.Status != entity.InvoiceStatusSent {
		t.Fatalf("Expected sent invoice, got %s", inv.Status)
	}
	if inv.SentAt == nil {
		t.Error("Expected sent_at to be set")
	}

	history := entity.DecodeStatusHistory(inv.StatusHistory)
	if len(history) != 2 {
		t.Fatalf("Expected 2 history records, got %d", len(history))
	}
	if history[0].To != entity.InvoiceStatusDraft {
		t.Errorf("Expected first record to land in draft, got %+v", history[0])
	}
	if history[1].From != entity.InvoiceStatusDraft || history[1].To != entity.InvoiceStatusSent {
		t.Errorf("Expected draft to sent record, got %+v", history[1])
	}
}

func TestPaymentFlowSettlesOrder(t *testing.T) {
	gw := &fakePaymentGateway{}
	svcs, repos, db := setupPipeline(t, gw)
	ctx := context.Background()

	seedRequestWithBid(t, db, "req-110", "bid-110")
	order, err := svcs.Order.AcceptBid(ctx, "bid-110", "cust-001")
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	inv, err := repos.Invoice.FindByOrderID(ctx, order.ID)
	if err != nil {
		t.Fatalf("Invoice lookup failed: %v", err)
	}

	p, err := svcs.Payment.Initiate(ctx, inv.ID, "cust-001", entity.PaymentMethodMada)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if !p.Amount.Equal(inv.TotalAmount) {
		t.Errorf("Expected payment amount %s, got %s", inv.TotalAmount, p.Amount)
	}
	// mada 263.00: 1% + 0.50 = 3.13
	if got := p.GatewayFee.StringFixed(2); got != "3.13" {
		t.Errorf("Expected gateway fee 3.13, got %s", got)
	}

	// A second attempt while one is in flight is refused.
	_, err = svcs.Payment.Initiate(ctx, inv.ID, "cust-001", entity.PaymentMethodMada)
	var conflict *StateConflictError
	if !errors.As(err, &conflict) || conflict.Code != CodePaymentInFlight {
		t.Errorf("Expected payment_in_flight conflict, got %v", err)
	}

	done, err := svcs.Payment.Process(ctx, p.ID, "cust-001")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if done.Status != entity.PaymentStatusCompleted {
		t.Errorf("Expected completed, got %s", done.Status)
	}
	if gw.chargeCalls != 1 {
		t.Errorf("Expected 1 charge call, got %d", gw.chargeCalls)
	}

	inv, _ = repos.Invoice.FindByID(ctx, inv.ID)
	if inv.Status != entity.InvoiceStatusPaid {
		t.Errorf("Expected invoice paid, got %s", inv.Status)
	}

	order2, _ := repos.Order.FindByID(ctx, order.ID)
	if order2.Status != entity.OrderStatusPaymentConfirmed {
		t.Errorf("Expected payment_confirmed, got %s", order2.Status)
	}
	if order2.PaidAt == nil {
		t.Error("Expected paid_at to be set")
	}

	// The settled invoice cannot be paid again.
	_, err = svcs.Payment.Initiate(ctx, inv.ID, "cust-001", entity.PaymentMethodMada)
	if !errors.As(err, &conflict) || conflict.Code != CodeNotPayable {
		t.Errorf("Expected not_payable conflict, got %v", err)
	}
}

func TestPaymentGatewayTimeoutFailsAttempt(t *testing.T) {
	gw := &fakePaymentGateway{chargeErr: context.DeadlineExceeded}
	svcs, repos, db := setupPipeline(t, gw)
	ctx := context.Background()

	seedRequestWithBid(t, db, "req-120", "bid-120")
	order, err := svcs.Order.AcceptBid(ctx, "bid-120", "cust-001")
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	inv, _ := repos.Invoice.FindByOrderID(ctx, order.ID)

	p, err := svcs.Payment.Initiate(ctx, inv.ID, "cust-001", entity.PaymentMethodCard)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	failed, err := svcs.Payment.Process(ctx, p.ID, "cust-001")
	if err != nil {
		t.Fatalf("Process should record the failure, got error: %v", err)
	}
	if failed.Status != entity.PaymentStatusFailed {
		t.Errorf("Expected failed, got %s", failed.Status)
	}
	if failed.FailureCode != "gateway_timeout" {
		t.Errorf("Expected gateway_timeout, got %s", failed.FailureCode)
	}

	// The invoice is untouched and a fresh attempt is allowed.
	inv, _ = repos.Invoice.FindByID(ctx, inv.ID)
	if inv.Status == entity.InvoiceStatusPaid {
		t.Error("Invoice must not be paid after a failed charge")
	}
	if _, err := svcs.Payment.Initiate(ctx, inv.ID, "cust-001", entity.PaymentMethodMada); err != nil {
		t.Errorf("Expected fresh attempt after failure, got %v", err)
	}
}

func TestPaymentDeclinedByProvider(t *testing.T) {
	gw := &fakePaymentGateway{declineCode: "insufficient_funds"}
	svcs, repos, db := setupPipeline(t, gw)
	ctx := context.Background()

	seedRequestWithBid(t, db, "req-125", "bid-125")
	order, err := svcs.Order.AcceptBid(ctx, "bid-125", "cust-001")
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	inv, _ := repos.Invoice.FindByOrderID(ctx, order.ID)

	p, _ := svcs.Payment.Initiate(ctx, inv.ID, "cust-001", entity.PaymentMethodMada)
	failed, err := svcs.Payment.Process(ctx, p.ID, "cust-001")
	if err != nil {
		t.Fatalf("Process should record the decline, got error: %v", err)
	}
	if failed.Status != entity.PaymentStatusFailed {
		t.Errorf("Expected failed, got %s", failed.Status)
	}
	if failed.FailureCode != "insufficient_funds" {
		t.Errorf("Expected provider failure code, got %s", failed.FailureCode)
	}
}

func TestRefundFullAmount(t *testing.T) {
	gw := &fakePaymentGateway{}
	svcs, repos, db := setupPipeline(t, gw)
	ctx := context.Background()

	seedRequestWithBid(t, db, "req-130", "bid-130")
	order, err := svcs.Order.AcceptBid(ctx, "bid-130", "cust-001")
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	inv, _ := repos.Invoice.FindByOrderID(ctx, order.ID)

	p, _ := svcs.Payment.Initiate(ctx, inv.ID, "cust-001", entity.PaymentMethodMada)
	if _, err := svcs.Payment.Process(ctx, p.ID, "cust-001"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	refund, err := svcs.Payment.Refund(ctx, p.ID, inv.TotalAmount, "defective part")
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refund.Type != entity.PaymentTypeRefund {
		t.Errorf("Expected full refund type, got %s", refund.Type)
	}
	if gw.refundCalls != 1 {
		t.Errorf("Expected 1 refund call, got %d", gw.refundCalls)
	}

	source, _ := repos.Payment.FindByID(ctx, p.ID)
	if source.Status != entity.PaymentStatusRefunded {
		t.Errorf("Expected source refunded, got %s", source.Status)
	}
	if !source.RefundedAmount.Equal(source.Amount) {
		t.Errorf("Expected refunded_amount %s, got %s", source.Amount, source.RefundedAmount)
	}

	inv, _ = repos.Invoice.FindByID(ctx, inv.ID)
	if inv.Status != entity.InvoiceStatusRefunded {
		t.Errorf("Expected invoice refunded, got %s", inv.Status)
	}

	// A second refund against the drained payment is refused.
	_, err = svcs.Payment.Refund(ctx, p.ID, decimal.NewFromInt(1), "again")
	var conflict *StateConflictError
	if !errors.As(err, &conflict) || conflict.Code != CodeNotRefundable {
		t.Errorf("Expected not_refundable conflict, got %v", err)
	}
}

func TestRefundPartialKeepsInvoicePaid(t *testing.T) {
	gw := &fakePaymentGateway{}
	svcs, repos, db := setupPipeline(t, gw)
	ctx := context.Background()

	seedRequestWithBid(t, db, "req-140", "bid-140")
	order, err := svcs.Order.AcceptBid(ctx, "bid-140", "cust-001")
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	inv, _ := repos.Invoice.FindByOrderID(ctx, order.ID)

	p, _ := svcs.Payment.Initiate(ctx, inv.ID, "cust-001", entity.PaymentMethodMada)
	if _, err := svcs.Payment.Process(ctx, p.ID, "cust-001"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	refund, err := svcs.Payment.Refund(ctx, p.ID, decimal.NewFromInt(50), "late delivery credit")
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refund.Type != entity.PaymentTypePartialRefund {
		t.Errorf("Expected partial refund type, got %s", refund.Type)
	}

	source, _ := repos.Payment.FindByID(ctx, p.ID)
	if source.Status != entity.PaymentStatusPartiallyRefunded {
		t.Errorf("Expected partially_refunded, got %s", source.Status)
	}

	inv, _ = repos.Invoice.FindByID(ctx, inv.ID)
	if inv.Status != entity.InvoiceStatusPaid {
		t.Errorf("Expected invoice still paid, got %s", inv.Status)
	}
}

func TestWebhookCompletesAndReplaysIdempotently(t *testing.T) {
	gw := &fakePaymentGateway{}
	svcs, repos, db := setupPipeline(t, gw)
	ctx := context.Background()

	seedRequestWithBid(t, db, "req-150", "bid-150")
	order, err := svcs.Order.AcceptBid(ctx, "bid-150", "cust-001")
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	inv, _ := repos.Invoice.FindByOrderID(ctx, order.ID)

	p, _ := svcs.Payment.Initiate(ctx, inv.ID, "cust-001", entity.PaymentMethodMada)

	payload := []byte(`{"id":"evt_100","status":"paid","metadata":{"payment_ref":"` + p.PaymentReference + `"}}`)
	done, err := svcs.Payment.HandleWebhook(ctx, "moyasar", payload)
	if err != nil {
		t.Fatalf("HandleWebhook failed: %v", err)
	}
	if done.Status != entity.PaymentStatusCompleted {
		t.Errorf("Expected completed, got %s", done.Status)
	}

	inv, _ = repos.Invoice.FindByID(ctx, inv.ID)
	if inv.Status != entity.InvoiceStatusPaid {
		t.Errorf("Expected invoice paid, got %s", inv.Status)
	}

	// Replay: no state change, but the delivery is still recorded.
	replayed, err := svcs.Payment.HandleWebhook(ctx, "moyasar", payload)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if replayed.Status != entity.PaymentStatusCompleted {
		t.Errorf("Expected completed after replay, got %s", replayed.Status)
	}

	stored, _ := repos.Payment.FindByID(ctx, p.ID)
	records := entity.DecodeWebhookHistory(stored.WebhookData)
	if len(records) != 2 {
		t.Errorf("Expected 2 webhook records, got %d", len(records))
	}
}

func TestWebhookUnknownReference(t *testing.T) {
	svcs, _, _ := setupPipeline(t, &fakePaymentGateway{})
	ctx := context.Background()

	payload := []byte(`{"id":"evt_x","status":"paid","metadata":{"payment_ref":"PAY-missing"}}`)
	_, err := svcs.Payment.HandleWebhook(ctx, "moyasar", payload)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestReconcileSettlementFile(t *testing.T) {
	gw := &fakePaymentGateway{}
	svcs, repos, db := setupPipeline(t, gw)
	ctx := context.Background()

	seedRequestWithBid(t, db, "req-160", "bid-160")
	order, err := svcs.Order.AcceptBid(ctx, "bid-160", "cust-001")
	if err != nil {
		t.Fatalf("AcceptBid failed: %v", err)
	}
	inv, _ := repos.Invoice.FindByOrderID(ctx, order.ID)
	p, _ := svcs.Payment.Initiate(ctx, inv.ID, "cust-001", entity.PaymentMethodMada)
	if _, err := svcs.Payment.Process(ctx, p.ID, "cust-001"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	report, err := svcs.Payment.Reconcile(ctx, []SettlementEntry{
		{Reference: p.PaymentReference, Amount: p.Amount, SettlementReference: "SETTLE-001"},
		{Reference: p.PaymentReference, Amount: p.Amount, SettlementReference: "SETTLE-001"}, // repeat is matched, not duplicated
		{Reference: "PAY-unknown", Amount: decimal.NewFromInt(10), SettlementReference: "SETTLE-001"},
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Matched != 2 {
		t.Errorf("Expected 2 matched, got %d", report.Matched)
	}
	if len(report.Unknown) != 1 {
		t.Errorf("Expected 1 unknown entry, got %d", len(report.Unknown))
	}

	stored, _ := repos.Payment.FindByID(ctx, p.ID)
	if !stored.Reconciled {
		t.Error("Expected payment marked reconciled")
	}
	if stored.SettlementReference != "SETTLE-001" {
		t.Errorf("Expected settlement reference recorded, got %q", stored.SettlementReference)
	}
}
