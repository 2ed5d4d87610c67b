package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Order is derived 1:1 from an accepted bid. The unique index on bid_id is
// what makes order creation idempotent under retries.
type Order struct {
	ID          string `json:"id" gorm:"primaryKey;size:36"`
	OrderNumber string `json:"order_number" gorm:"size:32;uniqueIndex;not null"`

	PartRequestID string `json:"part_request_id" gorm:"size:36;not null;index"`
	BidID         string `json:"bid_id" gorm:"size:36;not null;uniqueIndex"`
	CustomerID    string `json:"customer_id" gorm:"size:36;not null;index"`
	MerchantID    string `json:"merchant_id" gorm:"size:36;not null;index"`

	// Monetary breakdown, fixed at creation time and never recomputed.
	PartCost     decimal.Decimal `json:"part_cost" gorm:"type:decimal(15,2);not null"`
	DeliveryCost decimal.Decimal `json:"delivery_cost" gorm:"type:decimal(15,2);not null"`
	PlatformFee  decimal.Decimal `json:"platform_fee" gorm:"type:decimal(15,2);not null"`
	TaxAmount    decimal.Decimal `json:"tax_amount" gorm:"type:decimal(15,2);not null"`
	TotalAmount  decimal.Decimal `json:"total_amount" gorm:"type:decimal(15,2);not null"`
	Currency     string          `json:"currency" gorm:"size:10;default:SAR"`

	Status        string     `json:"status" gorm:"size:20;default:pending_payment;index"`
	PaymentDueAt  *time.Time `json:"payment_due_at" gorm:"index"`
	PaidAt        *time.Time `json:"paid_at"`
	EstimatedDate *time.Time `json:"estimated_date"`

	// Delivery tracking, set when the merchant ships.
	Carrier        string     `json:"carrier" gorm:"size:100"`
	TrackingNumber string     `json:"tracking_number" gorm:"size:100"`
	ShippedAt      *time.Time `json:"shipped_at"`
	DeliveredAt    *time.Time `json:"delivered_at" gorm:"index"`
	CompletedAt    *time.Time `json:"completed_at"`

	CancelledAt        *time.Time `json:"cancelled_at"`
	CancellationReason string     `json:"cancellation_reason" gorm:"size:200"`

	Rating        *int   `json:"rating"`
	RatingComment string `json:"rating_comment" gorm:"size:500"`

	StatusHistory datatypes.JSON `json:"status_history" gorm:"type:jsonb;default:'[]'"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

const (
	OrderStatusPendingPayment   = "pending_payment"
	OrderStatusPaymentConfirmed = "payment_confirmed"
	OrderStatusProcessing       = "processing"
	OrderStatusShipped          = "shipped"
	OrderStatusDelivered        = "delivered"
	OrderStatusCompleted        = "completed"
	OrderStatusCancelled        = "cancelled"
	OrderStatusRefunded         = "refunded"
	OrderStatusDisputed         = "disputed"
)

// orderTransitions is the closed transition table for the order state machine.
// Forward edges are strict; cancelled is reachable from any non-terminal state,
// refunded/disputed only from delivered/completed.
var orderTransitions = map[string][]string{
	OrderStatusPendingPayment:   {OrderStatusPaymentConfirmed, OrderStatusCancelled},
	OrderStatusPaymentConfirmed: {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:       {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:          {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:        {OrderStatusCompleted, OrderStatusRefunded, OrderStatusDisputed},
	OrderStatusCompleted:        {OrderStatusRefunded, OrderStatusDisputed},
}

// CanTransition reports whether the order may move to the target status.
func (o *Order) CanTransition(target string) bool {
	for _, t := range orderTransitions[o.Status] {
		if t == target {
			return true
		}
	}
	return false
}

// Terminal reports whether the order has reached a final state.
func (o *Order) Terminal() bool {
	switch o.Status {
	case OrderStatusCancelled, OrderStatusRefunded, OrderStatusDisputed:
		return true
	}
	return false
}

// TotalConsistent verifies total_amount == part + delivery + fee + tax.
func (o *Order) TotalConsistent() bool {
	sum := o.PartCost.Add(o.DeliveryCost).Add(o.PlatformFee).Add(o.TaxAmount)
	return o.TotalAmount.Equal(sum)
}
