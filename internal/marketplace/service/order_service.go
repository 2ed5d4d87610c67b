package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/config"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderService orchestrates the settlement pipeline: it is the only caller
// that crosses aggregate boundaries. Bid acceptance, order derivation and
// invoice issuance run through here in a fixed sequence.
type OrderService struct {
	orders   *repository.OrderRepository
	requests *repository.PartRequestRepository
	bids     *BidService
	invoices *InvoiceService
	fees     *FeeCalculator
	notifier NotificationGateway
	cfg      *config.MarketplaceConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrderService(orders *repository.OrderRepository, requests *repository.PartRequestRepository, bids *BidService, invoices *InvoiceService, fees *FeeCalculator, notifier NotificationGateway, cfg *config.Config, logger *zap.Logger) *OrderService {
	return &OrderService{
		orders:   orders,
		requests: requests,
		bids:     bids,
		invoices: invoices,
		fees:     fees,
		notifier: notifier,
		cfg:      &cfg.Marketplace,
		logger:   logger,
		now:      time.Now,
	}
}

// AcceptBid runs the full acceptance flow: the atomic bid transition, then
// idempotent order creation, then invoice issuance. The bid transition commits
// first; a crash between steps is healed by retrying AcceptBid, which finds
// the bid already accepted and resumes from the order step.
func (s *OrderService) AcceptBid(ctx context.Context, bidID, customerID string) (*entity.Order, error) {
	bid, err := s.bids.accept(ctx, bidID, customerID)
	if err != nil {
		// A retry after a crash finds the bid accepted and the request
		// closed; resume order creation instead of failing the caller.
		var conflict *StateConflictError
		if errors.As(err, &conflict) && conflict.Code == CodeNotAcceptable {
			if prior, priorErr := s.resumeAccepted(ctx, bidID, customerID); priorErr == nil {
				return prior, nil
			}
		}
		return nil, err
	}

	return s.OnBidAccepted(ctx, bid, customerID)
}

// resumeAccepted returns the order for a bid this customer already accepted,
// creating it if the earlier attempt crashed before the order step.
func (s *OrderService) resumeAccepted(ctx context.Context, bidID, customerID string) (*entity.Order, error) {
	bid, err := s.bids.bids.FindByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.Status != entity.BidStatusAccepted {
		return nil, fmt.Errorf("bid %s is not accepted", bidID)
	}
	req, err := s.requests.FindByID(ctx, bid.PartRequestID)
	if err != nil {
		return nil, err
	}
	if req.CustomerID != customerID {
		return nil, &AuthorizationError{Message: "request does not belong to customer"}
	}
	return s.OnBidAccepted(ctx, bid, customerID)
}

// OnBidAccepted derives the order from the winning bid. The unique index on
// orders.bid_id makes this idempotent: a concurrent or repeated call returns
// the already-created order. The invoice is ensured afterwards.
func (s *OrderService) OnBidAccepted(ctx context.Context, bid *entity.Bid, customerID string) (*entity.Order, error) {
	if existing, err := s.orders.FindByBidID(ctx, bid.ID); err == nil {
		if _, invErr := s.invoices.EnsureForOrder(ctx, existing); invErr != nil {
			s.logger.Error("invoice issuance failed on retry",
				zap.String("order_id", existing.ID), zap.Error(invErr))
		}
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	amounts := s.fees.ComputeOrderAmounts(bid)
	now := s.now()
	dueAt := now.Add(s.cfg.PaymentDue)
	estimated := now.AddDate(0, 0, bid.DeliveryDays)

	order := &entity.Order{
		ID:            uuid.NewString(),
		PartRequestID: bid.PartRequestID,
		BidID:         bid.ID,
		CustomerID:    customerID,
		MerchantID:    bid.MerchantID,
		PartCost:      amounts.PartCost,
		DeliveryCost:  amounts.DeliveryCost,
		PlatformFee:   amounts.PlatformFee,
		TaxAmount:     amounts.TaxAmount,
		TotalAmount:   amounts.Total,
		Currency:      bid.Currency,
		Status:        entity.OrderStatusPendingPayment,
		PaymentDueAt:  &dueAt,
		EstimatedDate: &estimated,
		StatusHistory: entity.AppendStatusChange(nil, entity.StatusChange{
			To:        entity.OrderStatusPendingPayment,
			Note:      "order created from accepted bid",
			ChangedAt: now,
		}),
	}

	if err := s.createWithNumber(ctx, order, now); err != nil {
		// Lost the race on bid_id: another worker created the order.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if existing, findErr := s.orders.FindByBidID(ctx, bid.ID); findErr == nil {
				order = existing
			} else {
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	if !order.TotalConsistent() {
		return nil, &IntegrityViolation{Message: "order total does not match its components"}
	}

	if _, err := s.invoices.EnsureForOrder(ctx, order); err != nil {
		// The order is committed; the invoice can be ensured on retry or
		// by the sweeper. Never unwind the order here.
		s.logger.Error("invoice issuance failed",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("bid_id", bid.ID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	notifyAsync(s.logger, s.notifier, customerID, "order_created", map[string]interface{}{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total":        order.TotalAmount.StringFixed(2),
		"due_at":       dueAt,
	})
	return order, nil
}

// createWithNumber assigns a sequential order number and inserts. A collision
// on the number index gets one retry with a random suffix; a collision on
// bid_id is surfaced to the caller as gorm.ErrDuplicatedKey.
func (s *OrderService) createWithNumber(ctx context.Context, order *entity.Order, now time.Time) error {
	number, err := s.orders.NextOrderNumber(ctx, now)
	if err != nil {
		return err
	}
	order.OrderNumber = number

	err = s.orders.Create(ctx, order)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	if _, findErr := s.orders.FindByBidID(ctx, order.BidID); findErr == nil {
		return gorm.ErrDuplicatedKey
	}

	order.OrderNumber = fmt.Sprintf("%s-%s", number, uuid.NewString()[:4])
	return s.orders.Create(ctx, order)
}

func (s *OrderService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Order, int64, error) {
	return s.orders.FindAll(ctx, page, pageSize, filters)
}

func (s *OrderService) Get(ctx context.Context, orderID string) (*entity.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "order"}
	}
	return order, err
}

// History returns the parsed status history for an order.
func (s *OrderService) History(ctx context.Context, orderID string) ([]entity.StatusChange, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return entity.DecodeStatusHistory(order.StatusHistory), nil
}

// MarkAsProcessing moves a paid order into fulfilment. Merchant only.
func (s *OrderService) MarkAsProcessing(ctx context.Context, orderID, merchantID string) (*entity.Order, error) {
	return s.transition(ctx, orderID, entity.OrderStatusProcessing, actorMerchant, merchantID, "", nil)
}

// MarkAsShipped records carrier details and moves the order to shipped.
func (s *OrderService) MarkAsShipped(ctx context.Context, orderID, merchantID, carrier, trackingNumber string) (*entity.Order, error) {
	if carrier == "" {
		return nil, validationf("carrier is required")
	}
	return s.transition(ctx, orderID, entity.OrderStatusShipped, actorMerchant, merchantID, "", func(o *entity.Order, now time.Time) {
		o.Carrier = carrier
		o.TrackingNumber = trackingNumber
		o.ShippedAt = &now
	})
}

// MarkAsDelivered records delivery; the auto-complete window starts here.
func (s *OrderService) MarkAsDelivered(ctx context.Context, orderID, merchantID string) (*entity.Order, error) {
	return s.transition(ctx, orderID, entity.OrderStatusDelivered, actorMerchant, merchantID, "", func(o *entity.Order, now time.Time) {
		o.DeliveredAt = &now
	})
}

// Complete closes a delivered order on the customer's confirmation.
func (s *OrderService) Complete(ctx context.Context, orderID, customerID string) (*entity.Order, error) {
	return s.transition(ctx, orderID, entity.OrderStatusCompleted, actorCustomer, customerID, "", func(o *entity.Order, now time.Time) {
		o.CompletedAt = &now
	})
}

// Cancel abandons a non-terminal order. Either party may cancel before
// shipment; the reason is recorded on the order.
func (s *OrderService) Cancel(ctx context.Context, orderID, actorID, reason string) (*entity.Order, error) {
	if reason == "" {
		reason = "cancelled by user"
	}
	return s.transition(ctx, orderID, entity.OrderStatusCancelled, actorEither, actorID, reason, func(o *entity.Order, now time.Time) {
		o.CancelledAt = &now
		o.CancellationReason = reason
	})
}

// Rate records the customer's rating on a completed or delivered order.
func (s *OrderService) Rate(ctx context.Context, orderID, customerID string, rating int, comment string) (*entity.Order, error) {
	if rating < 1 || rating > 5 {
		return nil, validationf("rating must be between 1 and 5")
	}

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, &AuthorizationError{Message: "order does not belong to customer"}
	}
	if order.Status != entity.OrderStatusDelivered && order.Status != entity.OrderStatusCompleted {
		return nil, conflictf(CodeInvalidTransition, "order is %s, only delivered or completed orders can be rated", order.Status)
	}
	if order.Rating != nil {
		return nil, conflictf(CodeInvalidTransition, "order is already rated")
	}

	order.Rating = &rating
	order.RatingComment = comment
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// PaymentCompleted propagates a completed payment: the invoice goes to paid
// and the order to payment_confirmed. Both steps are idempotent so webhook
// redelivery is harmless.
func (s *OrderService) PaymentCompleted(ctx context.Context, invoiceID string) error {
	invoice, err := s.invoices.MarkPaid(ctx, invoiceID)
	if err != nil {
		return err
	}

	order, err := s.orders.FindByID(ctx, invoice.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "order"}
	}
	if err != nil {
		return err
	}
	if order.Status != entity.OrderStatusPendingPayment {
		return nil
	}

	now := s.now()
	order.PaidAt = &now
	if err := s.applyTransition(ctx, order, entity.OrderStatusPaymentConfirmed, "payment completed", now); err != nil {
		return err
	}

	notifyAsync(s.logger, s.notifier, order.MerchantID, "order_paid", map[string]interface{}{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
	})
	return nil
}

// PaymentRefunded propagates a full refund: the invoice goes to refunded and
// the order to refunded where its state machine allows.
func (s *OrderService) PaymentRefunded(ctx context.Context, invoiceID string) error {
	invoice, err := s.invoices.MarkRefunded(ctx, invoiceID)
	if err != nil {
		return err
	}

	order, err := s.orders.FindByID(ctx, invoice.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "order"}
	}
	if err != nil {
		return err
	}
	if !order.CanTransition(entity.OrderStatusRefunded) {
		return nil
	}
	return s.applyTransition(ctx, order, entity.OrderStatusRefunded, "payment refunded", s.now())
}

// SweepOverdue cancels unpaid orders past the grace window and completes
// delivered orders past the confirmation window.
func (s *OrderService) SweepOverdue(ctx context.Context) (cancelled, completed int64, err error) {
	now := s.now()

	cancelled, err = s.orders.CancelOverdue(ctx, now.Add(-s.cfg.OverdueCancelAfter), now, "payment overdue — automatically cancelled")
	if err != nil {
		return 0, 0, err
	}

	completed, err = s.orders.AutoComplete(ctx, now.Add(-s.cfg.AutoCompleteAfter), now)
	if err != nil {
		return cancelled, 0, err
	}
	return cancelled, completed, nil
}

type actorRole int

const (
	actorCustomer actorRole = iota
	actorMerchant
	actorEither
)

// transition loads the order, enforces ownership and the transition table,
// applies the mutation and appends the history record in one save.
func (s *OrderService) transition(ctx context.Context, orderID string, target string, role actorRole, actorID, note string, mutate func(*entity.Order, time.Time)) (*entity.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch role {
	case actorCustomer:
		if order.CustomerID != actorID {
			return nil, &AuthorizationError{Message: "order does not belong to customer"}
		}
	case actorMerchant:
		if order.MerchantID != actorID {
			return nil, &AuthorizationError{Message: "order does not belong to merchant"}
		}
	case actorEither:
		if order.CustomerID != actorID && order.MerchantID != actorID {
			return nil, &AuthorizationError{Message: "order does not belong to user"}
		}
	}

	if !order.CanTransition(target) {
		return nil, conflictf(CodeInvalidTransition, "cannot move order from %s to %s", order.Status, target)
	}

	now := s.now()
	if mutate != nil {
		mutate(order, now)
	}
	if err := s.applyTransition(ctx, order, target, note, now); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) applyTransition(ctx context.Context, order *entity.Order, target, note string, now time.Time) error {
	if !order.CanTransition(target) {
		return conflictf(CodeInvalidTransition, "cannot move order from %s to %s", order.Status, target)
	}
	order.StatusHistory = entity.AppendStatusChange(order.StatusHistory, entity.StatusChange{
		From:      order.Status,
		To:        target,
		Note:      note,
		ChangedAt: now,
	})
	order.Status = target
	return s.orders.Update(ctx, order)
}
