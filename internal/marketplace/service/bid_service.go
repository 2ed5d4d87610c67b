package service

import (
	"context"
	"errors"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/config"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BidService owns the part-request and bid lifecycle up to acceptance.
// Acceptance itself is orchestrated by OrderService so the downstream
// order creation happens in one place.
type BidService struct {
	requests *repository.PartRequestRepository
	bids     *repository.BidRepository
	notifier NotificationGateway
	vehicles VehicleOwnership
	cfg      *config.MarketplaceConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewBidService(requests *repository.PartRequestRepository, bids *repository.BidRepository, notifier NotificationGateway, vehicles VehicleOwnership, cfg *config.Config, logger *zap.Logger) *BidService {
	return &BidService{
		requests: requests,
		bids:     bids,
		notifier: notifier,
		vehicles: vehicles,
		cfg:      &cfg.Marketplace,
		logger:   logger,
		now:      time.Now,
	}
}

type CreateRequestInput struct {
	Title       string           `json:"title" binding:"required"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Brand       string           `json:"brand"`
	Condition   string           `json:"condition"`
	VehicleID   *string          `json:"vehicle_id"`
	BudgetMin   *decimal.Decimal `json:"budget_min"`
	BudgetMax   *decimal.Decimal `json:"budget_max"`
	Urgency     string           `json:"urgency"`
	ExpiresAt   *time.Time       `json:"expires_at"`
}

// CreateRequest opens a draft part request for the customer.
func (s *BidService) CreateRequest(ctx context.Context, customerID string, input CreateRequestInput) (*entity.PartRequest, error) {
	if input.Title == "" {
		return nil, validationf("title is required")
	}
	if input.BudgetMin != nil && input.BudgetMin.IsNegative() {
		return nil, validationf("budget_min must not be negative")
	}
	if input.BudgetMin != nil && input.BudgetMax != nil && input.BudgetMax.LessThan(*input.BudgetMin) {
		return nil, validationf("budget_max must be at least budget_min")
	}

	if input.VehicleID != nil && s.vehicles != nil {
		owner, err := s.vehicles.IsOwner(ctx, *input.VehicleID, customerID)
		if err != nil {
			return nil, &ExternalFailure{Op: "verify vehicle ownership", Err: err}
		}
		if !owner {
			return nil, &AuthorizationError{Message: "vehicle does not belong to customer"}
		}
	}

	now := s.now()
	expiresAt := input.ExpiresAt
	if expiresAt == nil {
		t := now.Add(s.cfg.RequestExpiry)
		expiresAt = &t
	} else if expiresAt.Before(now) {
		return nil, validationf("expires_at must be in the future")
	}

	condition := input.Condition
	if condition == "" {
		condition = "any"
	}
	urgency := input.Urgency
	if urgency == "" {
		urgency = "normal"
	}

	req := &entity.PartRequest{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Brand:       input.Brand,
		Condition:   condition,
		VehicleID:   input.VehicleID,
		BudgetMin:   input.BudgetMin,
		BudgetMax:   input.BudgetMax,
		Currency:    "SAR",
		Urgency:     urgency,
		Status:      entity.RequestStatusDraft,
		ExpiresAt:   expiresAt,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("part request created",
		zap.String("request_id", req.ID),
		zap.String("customer_id", customerID),
	)
	return req, nil
}

// PublishRequest moves a draft request to active so merchants can bid.
func (s *BidService) PublishRequest(ctx context.Context, requestID, customerID string) (*entity.PartRequest, error) {
	req, err := s.getOwnedRequest(ctx, requestID, customerID)
	if err != nil {
		return nil, err
	}
	if req.Status != entity.RequestStatusDraft {
		return nil, conflictf(CodeInvalidTransition, "request is %s, only draft requests can be published", req.Status)
	}

	req.Status = entity.RequestStatusActive
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// CancelRequest withdraws a request. Closed requests already have a winner
// and cannot be cancelled.
func (s *BidService) CancelRequest(ctx context.Context, requestID, customerID string) (*entity.PartRequest, error) {
	req, err := s.getOwnedRequest(ctx, requestID, customerID)
	if err != nil {
		return nil, err
	}
	if req.Status == entity.RequestStatusClosed || req.Status == entity.RequestStatusCancelled {
		return nil, conflictf(CodeInvalidTransition, "request is %s and cannot be cancelled", req.Status)
	}

	req.Status = entity.RequestStatusCancelled
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *BidService) ListRequests(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.PartRequest, int64, error) {
	return s.requests.FindAll(ctx, page, pageSize, filters)
}

func (s *BidService) GetRequest(ctx context.Context, requestID string) (*entity.PartRequest, error) {
	req, err := s.requests.FindByIDWithBids(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "part request"}
	}
	return req, err
}

type SubmitBidInput struct {
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	DeliveryCost   decimal.Decimal `json:"delivery_cost"`
	DeliveryDays   int             `json:"delivery_days"`
	WarrantyMonths int             `json:"warranty_months"`
	Notes          string          `json:"notes"`
	ExpiresAt      *time.Time      `json:"expires_at"`
}

// SubmitBid places a merchant's offer on an active request. One bid per
// merchant per request; the combined amount must fit the budget range.
func (s *BidService) SubmitBid(ctx context.Context, requestID, merchantID string, input SubmitBidInput) (*entity.Bid, error) {
	if !input.Amount.IsPositive() {
		return nil, validationf("amount must be positive")
	}
	if input.DeliveryCost.IsNegative() {
		return nil, validationf("delivery_cost must not be negative")
	}
	if input.DeliveryDays < 0 {
		return nil, validationf("delivery_days must not be negative")
	}

	req, err := s.requests.FindByID(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "part request"}
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !req.AcceptsBids(now) {
		return nil, conflictf(CodeNotAcceptingBids, "request is not accepting bids")
	}
	if req.CustomerID == merchantID {
		return nil, validationf("cannot bid on your own request")
	}

	total := input.Amount.Add(input.DeliveryCost)
	if !req.WithinBudget(total) {
		return nil, validationf("bid total %s is outside the request budget", total.StringFixed(2))
	}

	exists, err := s.bids.ExistsForMerchant(ctx, merchantID, requestID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, conflictf(CodeDuplicateBid, "merchant already bid on this request")
	}

	expiresAt := input.ExpiresAt
	if expiresAt == nil {
		t := now.Add(s.cfg.BidExpiry)
		expiresAt = &t
	} else if expiresAt.Before(now) {
		return nil, validationf("expires_at must be in the future")
	}

	deliveryDays := input.DeliveryDays
	if deliveryDays == 0 {
		deliveryDays = 3
	}

	bid := &entity.Bid{
		ID:             uuid.NewString(),
		PartRequestID:  requestID,
		MerchantID:     merchantID,
		Amount:         input.Amount.Round(2),
		Currency:       req.Currency,
		DeliveryCost:   input.DeliveryCost.Round(2),
		DeliveryDays:   deliveryDays,
		WarrantyMonths: input.WarrantyMonths,
		Notes:          input.Notes,
		Status:         entity.BidStatusPending,
		ExpiresAt:      expiresAt,
	}
	if err := s.bids.Create(ctx, bid); err != nil {
		return nil, err
	}

	s.logger.Info("bid submitted",
		zap.String("bid_id", bid.ID),
		zap.String("request_id", requestID),
		zap.String("merchant_id", merchantID),
		zap.String("amount", bid.Amount.StringFixed(2)),
	)
	notifyAsync(s.logger, s.notifier, req.CustomerID, "bid_received", map[string]interface{}{
		"request_id": requestID,
		"bid_id":     bid.ID,
		"amount":     bid.Total().StringFixed(2),
	})
	return bid, nil
}

// WithdrawBid lets the bidding merchant retract a still-pending bid.
func (s *BidService) WithdrawBid(ctx context.Context, bidID, merchantID string) (*entity.Bid, error) {
	bid, err := s.bids.FindByID(ctx, bidID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "bid"}
	}
	if err != nil {
		return nil, err
	}
	if bid.MerchantID != merchantID {
		return nil, &AuthorizationError{Message: "bid does not belong to merchant"}
	}
	if bid.Status != entity.BidStatusPending {
		return nil, conflictf(CodeInvalidTransition, "bid is %s, only pending bids can be withdrawn", bid.Status)
	}

	bid.Status = entity.BidStatusWithdrawn
	if err := s.bids.Update(ctx, bid); err != nil {
		return nil, err
	}
	return bid, nil
}

// RejectBid lets the request owner decline a pending bid with a reason.
func (s *BidService) RejectBid(ctx context.Context, bidID, customerID, reason string) (*entity.Bid, error) {
	bid, err := s.bids.FindByID(ctx, bidID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "bid"}
	}
	if err != nil {
		return nil, err
	}

	req, err := s.requests.FindByID(ctx, bid.PartRequestID)
	if err != nil {
		return nil, err
	}
	if req.CustomerID != customerID {
		return nil, &AuthorizationError{Message: "request does not belong to customer"}
	}
	if bid.Status != entity.BidStatusPending {
		return nil, conflictf(CodeInvalidTransition, "bid is %s, only pending bids can be rejected", bid.Status)
	}

	bid.Status = entity.BidStatusRejected
	bid.RejectionReason = reason
	if err := s.bids.Update(ctx, bid); err != nil {
		return nil, err
	}

	notifyAsync(s.logger, s.notifier, bid.MerchantID, "bid_rejected", map[string]interface{}{
		"bid_id": bid.ID,
		"reason": reason,
	})
	return bid, nil
}

func (s *BidService) ListBidsByRequest(ctx context.Context, requestID string) ([]entity.Bid, error) {
	return s.bids.FindByRequest(ctx, requestID)
}

func (s *BidService) ListBidsByMerchant(ctx context.Context, merchantID string, page, pageSize int, status string) ([]entity.Bid, int64, error) {
	return s.bids.FindByMerchant(ctx, merchantID, page, pageSize, status)
}

// accept runs the atomic acceptance transition and notifies both sides.
// Callers map the repository sentinels before this returns to handlers.
func (s *BidService) accept(ctx context.Context, bidID, customerID string) (*entity.Bid, error) {
	bid, err := s.bids.Accept(ctx, bidID, customerID, s.now())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, &NotFoundError{Resource: "bid"}
	case errors.Is(err, repository.ErrNotOwner):
		return nil, &AuthorizationError{Message: "request does not belong to customer"}
	case errors.Is(err, repository.ErrNotAcceptable):
		return nil, conflictf(CodeNotAcceptable, "bid can no longer be accepted")
	case err != nil:
		return nil, err
	}

	notifyAsync(s.logger, s.notifier, bid.MerchantID, "bid_accepted", map[string]interface{}{
		"bid_id":     bid.ID,
		"request_id": bid.PartRequestID,
	})
	return bid, nil
}

// SweepExpired expires overdue requests and bids. Both statements carry their
// status precondition, so concurrent sweepers are harmless.
func (s *BidService) SweepExpired(ctx context.Context) (requests, bids int64, err error) {
	now := s.now()
	requests, err = s.requests.ExpireActive(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	bids, err = s.bids.ExpirePending(ctx, now)
	if err != nil {
		return requests, 0, err
	}
	return requests, bids, nil
}

func (s *BidService) getOwnedRequest(ctx context.Context, requestID, customerID string) (*entity.PartRequest, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "part request"}
	}
	if err != nil {
		return nil, err
	}
	if req.CustomerID != customerID {
		return nil, &AuthorizationError{Message: "request does not belong to customer"}
	}
	return req, nil
}
