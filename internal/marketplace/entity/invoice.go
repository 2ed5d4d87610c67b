package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Invoice is 1:1 with an order. Financial fields feed a deterministic total;
// ZATCA submission runs as its own sub-state machine and never blocks payment.
type Invoice struct {
	ID            string `json:"id" gorm:"primaryKey;size:36"`
	InvoiceNumber string `json:"invoice_number" gorm:"size:32;uniqueIndex;not null"`
	OrderID       string `json:"order_id" gorm:"size:36;not null;uniqueIndex"`
	CustomerID    string `json:"customer_id" gorm:"size:36;not null;index"`
	MerchantID    string `json:"merchant_id" gorm:"size:36;not null;index"`

	Subtotal       decimal.Decimal `json:"subtotal" gorm:"type:decimal(15,2);not null"`
	TaxAmount      decimal.Decimal `json:"tax_amount" gorm:"type:decimal(15,2);default:0"`
	PlatformFee    decimal.Decimal `json:"platform_fee" gorm:"type:decimal(15,2);default:0"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee" gorm:"type:decimal(15,2);default:0"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:decimal(15,2);default:0"`
	TotalAmount    decimal.Decimal `json:"total_amount" gorm:"type:decimal(15,2);not null"`
	Currency       string          `json:"currency" gorm:"size:10;default:SAR"`

	Status      string     `json:"status" gorm:"size:20;default:draft;index"`
	InvoiceDate time.Time  `json:"invoice_date"`
	DueDate     *time.Time `json:"due_date" gorm:"index"`
	SentAt      *time.Time `json:"sent_at"`
	ViewedAt    *time.Time `json:"viewed_at"`
	PaidAt      *time.Time `json:"paid_at"`

	// Tax-authority submission state. rejected is a compliance flag only.
	ZatcaStatus      string     `json:"zatca_status" gorm:"size:20;default:pending"`
	ZatcaReference   string     `json:"zatca_reference" gorm:"size:100"`
	ZatcaSubmittedAt *time.Time `json:"zatca_submitted_at"`

	StatusHistory datatypes.JSON `json:"status_history" gorm:"type:jsonb;default:'[]'"`
	EmailHistory  datatypes.JSON `json:"email_history" gorm:"type:jsonb;default:'[]'"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	LineItems []InvoiceLineItem `json:"line_items,omitempty" gorm:"foreignKey:InvoiceID"`
}

func (Invoice) TableName() string {
	return "invoices"
}

// InvoiceLineItem is one ordered line on an invoice.
type InvoiceLineItem struct {
	ID          string          `json:"id" gorm:"primaryKey;size:36"`
	InvoiceID   string          `json:"invoice_id" gorm:"size:36;not null;index"`
	Description string          `json:"description" gorm:"size:500;not null"`
	Quantity    int             `json:"quantity" gorm:"default:1"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:decimal(15,2);not null"`
	TotalPrice  decimal.Decimal `json:"total_price" gorm:"type:decimal(15,2);not null"`
	SortOrder   int             `json:"sort_order" gorm:"default:0"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (InvoiceLineItem) TableName() string {
	return "invoice_line_items"
}

const (
	InvoiceStatusDraft     = "draft"
	InvoiceStatusSent      = "sent"
	InvoiceStatusViewed    = "viewed"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusOverdue   = "overdue"
	InvoiceStatusCancelled = "cancelled"
	InvoiceStatusRefunded  = "refunded"
)

const (
	ZatcaStatusPending   = "pending"
	ZatcaStatusSubmitted = "submitted"
	ZatcaStatusApproved  = "approved"
	ZatcaStatusRejected  = "rejected"
)

var invoiceTransitions = map[string][]string{
	InvoiceStatusDraft:   {InvoiceStatusSent},
	InvoiceStatusSent:    {InvoiceStatusViewed, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
	InvoiceStatusViewed:  {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
	InvoiceStatusOverdue: {InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusPaid:    {InvoiceStatusRefunded},
}

// CanTransition reports whether the invoice may move to the target status.
func (i *Invoice) CanTransition(target string) bool {
	for _, t := range invoiceTransitions[i.Status] {
		if t == target {
			return true
		}
	}
	return false
}

// Payable reports whether a payment may be initiated against the invoice.
func (i *Invoice) Payable() bool {
	switch i.Status {
	case InvoiceStatusSent, InvoiceStatusViewed, InvoiceStatusOverdue:
		return true
	}
	return false
}

// RecalculateTotal recomputes total_amount from the financial fields.
// Calling it twice with no intervening mutation yields the same value.
func (i *Invoice) RecalculateTotal() {
	total := i.Subtotal.
		Add(i.DeliveryFee).
		Add(i.PlatformFee).
		Add(i.TaxAmount).
		Sub(i.DiscountAmount)
	i.TotalAmount = total.Round(2)
}
