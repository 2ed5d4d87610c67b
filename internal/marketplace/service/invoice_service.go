package service

import (
	"context"
	"errors"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/config"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/repository"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/shared/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService owns the invoice lifecycle and the tax-authority submission
// sub-state machine. Submission failures never block payment collection.
type InvoiceService struct {
	invoices  *repository.InvoiceRepository
	tax       TaxAuthorityGateway
	notifier  NotificationGateway
	directory MerchantDirectory
	cfg       *config.MarketplaceConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewInvoiceService(invoices *repository.InvoiceRepository, tax TaxAuthorityGateway, notifier NotificationGateway, directory MerchantDirectory, cfg *config.Config, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		invoices:  invoices,
		tax:       tax,
		notifier:  notifier,
		directory: directory,
		cfg:       &cfg.Marketplace,
		logger:    logger,
		now:       time.Now,
	}
}

// EnsureForOrder returns the order's invoice, issuing it on first call.
// The unique index on invoices.order_id backs the 1:1 guarantee; callers may
// retry freely.
func (s *InvoiceService) EnsureForOrder(ctx context.Context, order *entity.Order) (*entity.Invoice, error) {
	existing, err := s.invoices.FindByOrderID(ctx, order.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return s.createFromOrder(ctx, order)
}

// createFromOrder issues the invoice with its line items and sends it in the
// same breath. The financial fields copy the order's frozen breakdown.
func (s *InvoiceService) createFromOrder(ctx context.Context, order *entity.Order) (*entity.Invoice, error) {
	now := s.now()
	number, err := s.invoices.NextInvoiceNumber(ctx, now)
	if err != nil {
		return nil, err
	}

	dueDate := order.PaymentDueAt
	if dueDate == nil {
		t := now.Add(s.cfg.InvoiceDue)
		dueDate = &t
	}

	invoiceID := uuid.NewString()
	lines := []entity.InvoiceLineItem{
		{
			ID:          uuid.NewString(),
			InvoiceID:   invoiceID,
			Description: "Vehicle part (order " + order.OrderNumber + ")",
			Quantity:    1,
			UnitPrice:   order.PartCost,
			TotalPrice:  order.PartCost,
			SortOrder:   0,
		},
	}
	if order.DeliveryCost.IsPositive() {
		lines = append(lines, entity.InvoiceLineItem{
			ID:          uuid.NewString(),
			InvoiceID:   invoiceID,
			Description: "Delivery",
			Quantity:    1,
			UnitPrice:   order.DeliveryCost,
			TotalPrice:  order.DeliveryCost,
			SortOrder:   1,
		})
	}

	// The invoice passes through draft on its way out so the history
	// carries both states even though issuance and send are one write.
	history := entity.AppendStatusChange(nil, entity.StatusChange{
		To:        entity.InvoiceStatusDraft,
		Note:      "issued from order " + order.OrderNumber,
		ChangedAt: now,
	})
	history = entity.AppendStatusChange(history, entity.StatusChange{
		From:      entity.InvoiceStatusDraft,
		To:        entity.InvoiceStatusSent,
		Note:      "sent to customer",
		ChangedAt: now,
	})

	inv := &entity.Invoice{
		ID:            invoiceID,
		InvoiceNumber: number,
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		MerchantID:    order.MerchantID,
		Subtotal:      order.PartCost,
		TaxAmount:     order.TaxAmount,
		PlatformFee:   order.PlatformFee,
		DeliveryFee:   order.DeliveryCost,
		Currency:      order.Currency,
		Status:        entity.InvoiceStatusSent,
		InvoiceDate:   now,
		DueDate:       dueDate,
		SentAt:        &now,
		ZatcaStatus:   entity.ZatcaStatusPending,
		LineItems:     lines,
		StatusHistory: history,
		EmailHistory: entity.AppendEmailRecord(nil, entity.EmailRecord{
			Recipient: order.CustomerID,
			Template:  "invoice_issued",
			SentAt:    now,
		}),
	}
	inv.RecalculateTotal()

	if !inv.TotalAmount.Equal(order.TotalAmount) {
		return nil, &IntegrityViolation{Message: "invoice total does not match order total"}
	}

	if err := s.invoices.Create(ctx, inv); err != nil {
		// A concurrent issuer won the order_id race.
		if existing, findErr := s.invoices.FindByOrderID(ctx, order.ID); findErr == nil {
			return existing, nil
		}
		return nil, err
	}

	s.logger.Info("invoice issued",
		zap.String("invoice_id", inv.ID),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("order_id", order.ID),
	)
	notifyAsync(s.logger, s.notifier, order.CustomerID, "invoice_issued", map[string]interface{}{
		"invoice_id":     inv.ID,
		"invoice_number": inv.InvoiceNumber,
		"total":          inv.TotalAmount.StringFixed(2),
		"due_date":       dueDate,
	})

	s.submitAsync(inv.ID)
	return inv, nil
}

func (s *InvoiceService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Invoice, int64, error) {
	return s.invoices.FindAll(ctx, page, pageSize, filters)
}

func (s *InvoiceService) Get(ctx context.Context, invoiceID string) (*entity.Invoice, error) {
	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "invoice"}
	}
	return inv, err
}

// Resend emails the invoice to the customer again and records the send.
func (s *InvoiceService) Resend(ctx context.Context, invoiceID, merchantID string) (*entity.Invoice, error) {
	inv, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.MerchantID != merchantID {
		return nil, &AuthorizationError{Message: "invoice does not belong to merchant"}
	}
	if inv.Status == entity.InvoiceStatusCancelled || inv.Status == entity.InvoiceStatusRefunded {
		return nil, conflictf(CodeInvalidTransition, "invoice is %s and cannot be resent", inv.Status)
	}

	now := s.now()
	inv.EmailHistory = entity.AppendEmailRecord(inv.EmailHistory, entity.EmailRecord{
		Recipient: inv.CustomerID,
		Template:  "invoice_reminder",
		SentAt:    now,
	})
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}

	notifyAsync(s.logger, s.notifier, inv.CustomerID, "invoice_reminder", map[string]interface{}{
		"invoice_id":     inv.ID,
		"invoice_number": inv.InvoiceNumber,
	})
	return inv, nil
}

// MarkViewed records the customer opening the invoice. Repeat views are
// no-ops once past sent.
func (s *InvoiceService) MarkViewed(ctx context.Context, invoiceID, customerID string) (*entity.Invoice, error) {
	inv, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.CustomerID != customerID {
		return nil, &AuthorizationError{Message: "invoice does not belong to customer"}
	}
	if inv.Status != entity.InvoiceStatusSent {
		return inv, nil
	}

	now := s.now()
	inv.ViewedAt = &now
	if err := s.applyTransition(ctx, inv, entity.InvoiceStatusViewed, "opened by customer", now); err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkPaid settles the invoice. Already-paid invoices return unchanged so
// webhook redelivery stays idempotent.
func (s *InvoiceService) MarkPaid(ctx context.Context, invoiceID string) (*entity.Invoice, error) {
	inv, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == entity.InvoiceStatusPaid {
		return inv, nil
	}
	if !inv.CanTransition(entity.InvoiceStatusPaid) {
		return nil, conflictf(CodeInvalidTransition, "cannot move invoice from %s to paid", inv.Status)
	}

	now := s.now()
	inv.PaidAt = &now
	if err := s.applyTransition(ctx, inv, entity.InvoiceStatusPaid, "payment completed", now); err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkRefunded moves a paid invoice to refunded. Idempotent.
func (s *InvoiceService) MarkRefunded(ctx context.Context, invoiceID string) (*entity.Invoice, error) {
	inv, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == entity.InvoiceStatusRefunded {
		return inv, nil
	}
	if !inv.CanTransition(entity.InvoiceStatusRefunded) {
		return nil, conflictf(CodeInvalidTransition, "cannot move invoice from %s to refunded", inv.Status)
	}
	if err := s.applyTransition(ctx, inv, entity.InvoiceStatusRefunded, "payment refunded", s.now()); err != nil {
		return nil, err
	}
	return inv, nil
}

// Cancel voids an unpaid invoice.
func (s *InvoiceService) Cancel(ctx context.Context, invoiceID, merchantID, reason string) (*entity.Invoice, error) {
	inv, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.MerchantID != merchantID {
		return nil, &AuthorizationError{Message: "invoice does not belong to merchant"}
	}
	if !inv.CanTransition(entity.InvoiceStatusCancelled) {
		return nil, conflictf(CodeInvalidTransition, "cannot cancel invoice in %s", inv.Status)
	}
	if err := s.applyTransition(ctx, inv, entity.InvoiceStatusCancelled, reason, s.now()); err != nil {
		return nil, err
	}
	return inv, nil
}

// ApplyDiscount reduces the invoice total before payment. The discount can
// never push the total negative.
func (s *InvoiceService) ApplyDiscount(ctx context.Context, invoiceID, merchantID string, amount decimal.Decimal) (*entity.Invoice, error) {
	if !amount.IsPositive() {
		return nil, validationf("discount must be positive")
	}

	inv, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.MerchantID != merchantID {
		return nil, &AuthorizationError{Message: "invoice does not belong to merchant"}
	}
	if !inv.Payable() && inv.Status != entity.InvoiceStatusDraft {
		return nil, conflictf(CodeInvalidTransition, "invoice is %s, discounts apply before payment only", inv.Status)
	}

	newDiscount := inv.DiscountAmount.Add(amount).Round(2)
	gross := inv.Subtotal.Add(inv.DeliveryFee).Add(inv.PlatformFee).Add(inv.TaxAmount)
	if newDiscount.GreaterThan(gross) {
		return nil, validationf("discount exceeds invoice total")
	}

	inv.DiscountAmount = newDiscount
	inv.RecalculateTotal()
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// SubmitToZatca submits the invoice for clearance. VAT-unregistered merchants
// are skipped and the invoice stays in zatca pending.
func (s *InvoiceService) SubmitToZatca(ctx context.Context, invoiceID string) (*entity.Invoice, error) {
	inv, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.ZatcaStatus != entity.ZatcaStatusPending {
		return inv, nil
	}
	if s.tax == nil || s.directory == nil {
		return inv, nil
	}

	vat, err := s.directory.VATNumber(ctx, inv.MerchantID)
	if err != nil {
		return nil, &ExternalFailure{Op: "resolve merchant vat number", Err: err}
	}
	if vat == "" {
		return inv, nil
	}

	doc := gateway.InvoiceDocument{
		InvoiceNumber: inv.InvoiceNumber,
		SellerVAT:     vat,
		IssuedAt:      inv.InvoiceDate,
		Currency:      inv.Currency,
		Subtotal:      inv.Subtotal,
		TaxAmount:     inv.TaxAmount,
		TotalAmount:   inv.TotalAmount,
	}
	for _, line := range inv.LineItems {
		doc.Lines = append(doc.Lines, gateway.DocumentLine{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.TotalPrice,
		})
	}

	result, err := s.tax.Submit(ctx, doc)
	if err != nil {
		return nil, &ExternalFailure{Op: "submit invoice to tax authority", Err: err}
	}

	now := s.now()
	inv.ZatcaReference = result.Reference
	inv.ZatcaSubmittedAt = &now
	switch result.Status {
	case "approved":
		inv.ZatcaStatus = entity.ZatcaStatusApproved
	case "rejected":
		inv.ZatcaStatus = entity.ZatcaStatusRejected
	default:
		inv.ZatcaStatus = entity.ZatcaStatusSubmitted
	}
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}

	s.logger.Info("invoice submitted for clearance",
		zap.String("invoice_id", inv.ID),
		zap.String("zatca_status", inv.ZatcaStatus),
		zap.String("zatca_reference", inv.ZatcaReference),
	)
	return inv, nil
}

// PollZatca polls submitted invoices for a clearance decision. A rejection is
// recorded as a compliance flag; the invoice itself stays payable.
func (s *InvoiceService) PollZatca(ctx context.Context, limit int) (int, error) {
	if s.tax == nil {
		return 0, nil
	}
	invoices, err := s.invoices.FindSubmittedForPolling(ctx, limit)
	if err != nil {
		return 0, err
	}

	var resolved int
	for i := range invoices {
		inv := &invoices[i]
		status, err := s.tax.CheckStatus(ctx, inv.ZatcaReference)
		if err != nil {
			s.logger.Warn("clearance status check failed",
				zap.String("invoice_id", inv.ID), zap.Error(err))
			continue
		}
		switch status {
		case "approved":
			inv.ZatcaStatus = entity.ZatcaStatusApproved
		case "rejected":
			inv.ZatcaStatus = entity.ZatcaStatusRejected
		default:
			continue
		}
		if err := s.invoices.Update(ctx, inv); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

// SweepOverdue flags due invoices as overdue and cancels those overdue past
// the cancellation window.
func (s *InvoiceService) SweepOverdue(ctx context.Context) (overdue, cancelled int64, err error) {
	now := s.now()
	overdue, err = s.invoices.MarkOverdue(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	cancelled, err = s.invoices.CancelLongOverdue(ctx, now.Add(-s.cfg.InvoiceCancelAfter), now)
	if err != nil {
		return overdue, 0, err
	}
	return overdue, cancelled, nil
}

// submitAsync fires the first clearance attempt without holding the request.
func (s *InvoiceService) submitAsync(invoiceID string) {
	if s.tax == nil || s.directory == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.SubmitToZatca(ctx, invoiceID); err != nil {
			s.logger.Warn("initial clearance submission failed",
				zap.String("invoice_id", invoiceID), zap.Error(err))
		}
	}()
}

func (s *InvoiceService) applyTransition(ctx context.Context, inv *entity.Invoice, target, note string, now time.Time) error {
	if !inv.CanTransition(target) {
		return conflictf(CodeInvalidTransition, "cannot move invoice from %s to %s", inv.Status, target)
	}
	inv.StatusHistory = entity.AppendStatusChange(inv.StatusHistory, entity.StatusChange{
		From:      inv.Status,
		To:        target,
		Note:      note,
		ChangedAt: now,
	})
	inv.Status = target
	return s.invoices.Update(ctx, inv)
}
