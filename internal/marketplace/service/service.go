package service

import (
	"context"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/config"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/repository"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/shared/gateway"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentGateway is the charge/refund contract of one payment provider.
// Tests substitute a deterministic fake.
type PaymentGateway interface {
	Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*gateway.RefundResult, error)
}

// TaxAuthorityGateway is the e-invoicing clearance contract.
type TaxAuthorityGateway interface {
	Submit(ctx context.Context, doc gateway.InvoiceDocument) (*gateway.SubmissionResult, error)
	CheckStatus(ctx context.Context, reference string) (string, error)
}

// NotificationGateway delivers templated notifications, at-least-once.
// The core never awaits delivery confirmation.
type NotificationGateway interface {
	Notify(ctx context.Context, recipientID, template string, data map[string]interface{}) error
}

// MerchantDirectory resolves merchant tax registration.
type MerchantDirectory interface {
	VATNumber(ctx context.Context, merchantID string) (string, error)
}

// VehicleOwnership validates vehicle references on part requests.
type VehicleOwnership interface {
	IsOwner(ctx context.Context, vehicleID, customerID string) (bool, error)
}

// Gateways bundles the outbound collaborators.
type Gateways struct {
	Payment   PaymentGateway
	Tax       TaxAuthorityGateway
	Notifier  NotificationGateway
	Directory MerchantDirectory
	Vehicles  VehicleOwnership
}

// Services bundles the marketplace services.
type Services struct {
	Fees    *FeeCalculator
	Bid     *BidService
	Order   *OrderService
	Invoice *InvoiceService
	Payment *PaymentService
}

func NewServices(repos *repository.Repositories, rdb *redis.Client, gw Gateways, cfg *config.Config, logger *zap.Logger) *Services {
	fees := NewFeeCalculator(cfg.Marketplace.PlatformFeeRate, cfg.Marketplace.VATRate)

	bidSvc := NewBidService(repos.PartRequest, repos.Bid, gw.Notifier, gw.Vehicles, cfg, logger)
	invoiceSvc := NewInvoiceService(repos.Invoice, gw.Tax, gw.Notifier, gw.Directory, cfg, logger)
	orderSvc := NewOrderService(repos.Order, repos.PartRequest, bidSvc, invoiceSvc, fees, gw.Notifier, cfg, logger)
	paymentSvc := NewPaymentService(repos.Payment, repos.Invoice, gw.Payment, rdb, cfg, logger)
	paymentSvc.SetCompletionNotifier(orderSvc)

	return &Services{
		Fees:    fees,
		Bid:     bidSvc,
		Order:   orderSvc,
		Invoice: invoiceSvc,
		Payment: paymentSvc,
	}
}

// notifyAsync fires a notification without blocking the request; a failed
// delivery never rolls back the committed state change that triggered it.
func notifyAsync(logger *zap.Logger, n NotificationGateway, recipientID, template string, data map[string]interface{}) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.Notify(ctx, recipientID, template, data); err != nil {
			logger.Warn("notification delivery failed",
				zap.String("template", template),
				zap.String("recipient", recipientID),
				zap.Error(err),
			)
		}
	}()
}
