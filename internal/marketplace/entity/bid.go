package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is a merchant's priced offer against exactly one part request.
// A (merchant, part_request) pair is unique; at most one bid per request
// ever reaches accepted.
type Bid struct {
	ID            string `json:"id" gorm:"primaryKey;size:36"`
	PartRequestID string `json:"part_request_id" gorm:"size:36;not null;uniqueIndex:ux_bids_merchant_request,priority:2;index"`
	MerchantID    string `json:"merchant_id" gorm:"size:36;not null;uniqueIndex:ux_bids_merchant_request,priority:1"`

	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(15,2);not null"`
	Currency       string          `json:"currency" gorm:"size:10;default:SAR"`
	DeliveryCost   decimal.Decimal `json:"delivery_cost" gorm:"type:decimal(15,2);default:0"`
	DeliveryDays   int             `json:"delivery_days" gorm:"default:3"`
	WarrantyMonths int             `json:"warranty_months" gorm:"default:0"`
	Notes          string          `json:"notes" gorm:"type:text"`

	Status          string     `json:"status" gorm:"size:20;default:pending;index"`
	RejectionReason string     `json:"rejection_reason" gorm:"size:200"`
	ExpiresAt       *time.Time `json:"expires_at" gorm:"index"`
	AcceptedAt      *time.Time `json:"accepted_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Bid) TableName() string {
	return "bids"
}

const (
	BidStatusPending   = "pending"
	BidStatusAccepted  = "accepted"
	BidStatusRejected  = "rejected"
	BidStatusWithdrawn = "withdrawn"
	BidStatusExpired   = "expired"
)

// RejectedCompetingReason is recorded on losing bids when another bid wins.
const RejectedCompetingReason = "another bid was accepted"

// Acceptable reports whether the bid can still be accepted.
func (b *Bid) Acceptable(now time.Time) bool {
	if b.Status != BidStatusPending {
		return false
	}
	if b.ExpiresAt != nil && now.After(*b.ExpiresAt) {
		return false
	}
	return true
}

// Total is the merchant's all-in offer: part amount plus delivery.
func (b *Bid) Total() decimal.Decimal {
	return b.Amount.Add(b.DeliveryCost)
}
