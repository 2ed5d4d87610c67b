package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Payment is one payment attempt or refund against an invoice. Refund rows
// reference their source payment via SourcePaymentID; the sum of completed
// refunds never exceeds the source amount.
type Payment struct {
	ID               string  `json:"id" gorm:"primaryKey;size:36"`
	PaymentReference string  `json:"payment_reference" gorm:"size:40;uniqueIndex;not null"`
	InvoiceID        string  `json:"invoice_id" gorm:"size:36;not null;index"`
	OrderID          string  `json:"order_id" gorm:"size:36;not null;index"`
	CustomerID       string  `json:"customer_id" gorm:"size:36;not null;index"`
	SourcePaymentID  *string `json:"source_payment_id" gorm:"size:36;index"`

	Type     string          `json:"type" gorm:"size:20;default:payment"` // payment/refund/partial_refund
	Amount   decimal.Decimal `json:"amount" gorm:"type:decimal(15,2);not null"`
	Currency string          `json:"currency" gorm:"size:10;default:SAR"`
	Method   string          `json:"method" gorm:"size:20;not null"`
	Provider string          `json:"provider" gorm:"size:30"`

	ProviderTransactionID string `json:"provider_transaction_id" gorm:"size:100;index"`

	Status string `json:"status" gorm:"size:20;default:pending;index"`

	GatewayFee  decimal.Decimal `json:"gateway_fee" gorm:"type:decimal(15,2);default:0"`
	PlatformFee decimal.Decimal `json:"platform_fee" gorm:"type:decimal(15,2);default:0"`
	NetAmount   decimal.Decimal `json:"net_amount" gorm:"type:decimal(15,2);default:0"`

	RefundedAmount decimal.Decimal `json:"refunded_amount" gorm:"type:decimal(15,2);default:0"`
	RefundReason   string          `json:"refund_reason" gorm:"size:200"`

	RiskScore       float64 `json:"risk_score" gorm:"default:0"`
	RequiresThreeDS bool    `json:"requires_3ds" gorm:"default:false"`

	FailureCode    string `json:"failure_code" gorm:"size:50"`
	FailureMessage string `json:"failure_message" gorm:"size:500"`

	Reconciled          bool       `json:"reconciled" gorm:"default:false;index"`
	ReconciledAt        *time.Time `json:"reconciled_at"`
	SettlementReference string     `json:"settlement_reference" gorm:"size:100"`

	WebhookData datatypes.JSON `json:"webhook_data" gorm:"type:jsonb;default:'[]'"`

	ProcessedAt *time.Time `json:"processed_at"`
	CompletedAt *time.Time `json:"completed_at"`
	FailedAt    *time.Time `json:"failed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

const (
	PaymentTypePayment       = "payment"
	PaymentTypeRefund        = "refund"
	PaymentTypePartialRefund = "partial_refund"
)

const (
	PaymentStatusPending           = "pending"
	PaymentStatusProcessing        = "processing"
	PaymentStatusCompleted         = "completed"
	PaymentStatusFailed            = "failed"
	PaymentStatusCancelled         = "cancelled"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
)

const (
	PaymentMethodMada         = "mada"
	PaymentMethodCard         = "card"
	PaymentMethodApplePay     = "apple_pay"
	PaymentMethodSTCPay       = "stc_pay"
	PaymentMethodBankTransfer = "bank_transfer"
)

// InFlight reports whether the payment still occupies the invoice's single
// payment slot (double-charge prevention).
func (p *Payment) InFlight() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusProcessing
}

// Refundable reports whether a refund of the given amount may be taken
// against this payment.
func (p *Payment) Refundable(amount decimal.Decimal) bool {
	if p.Type != PaymentTypePayment {
		return false
	}
	switch p.Status {
	case PaymentStatusCompleted, PaymentStatusPartiallyRefunded:
	default:
		return false
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return false
	}
	remaining := p.Amount.Sub(p.RefundedAmount)
	return amount.LessThanOrEqual(remaining)
}
