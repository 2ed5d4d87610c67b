package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartRequest is a customer's open call for merchant bids on a vehicle part.
type PartRequest struct {
	ID         string `json:"id" gorm:"primaryKey;size:36"`
	CustomerID string `json:"customer_id" gorm:"size:36;not null;index"`

	Title       string  `json:"title" gorm:"size:200;not null"`
	Description string  `json:"description" gorm:"type:text"`
	Category    string  `json:"category" gorm:"size:50;index"`
	Brand       string  `json:"brand" gorm:"size:100"`
	Condition   string  `json:"condition" gorm:"size:20;default:any"` // new/used/refurbished/any
	VehicleID   *string `json:"vehicle_id" gorm:"size:36"`

	BudgetMin *decimal.Decimal `json:"budget_min" gorm:"type:decimal(15,2)"`
	BudgetMax *decimal.Decimal `json:"budget_max" gorm:"type:decimal(15,2)"`
	Currency  string           `json:"currency" gorm:"size:10;default:SAR"`
	Urgency   string           `json:"urgency" gorm:"size:20;default:normal"` // urgent/high/normal/low

	Status    string     `json:"status" gorm:"size:20;default:draft;index"`
	ExpiresAt *time.Time `json:"expires_at" gorm:"index"`

	// Aggregate bid stats, recomputed by the bid ledger on every bid mutation.
	BidCount   int              `json:"bid_count" gorm:"default:0"`
	LowestBid  *decimal.Decimal `json:"lowest_bid" gorm:"type:decimal(15,2)"`
	HighestBid *decimal.Decimal `json:"highest_bid" gorm:"type:decimal(15,2)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Bids []Bid `json:"bids,omitempty" gorm:"foreignKey:PartRequestID"`
}

func (PartRequest) TableName() string {
	return "part_requests"
}

const (
	RequestStatusDraft     = "draft"
	RequestStatusActive    = "active"
	RequestStatusClosed    = "closed"
	RequestStatusCancelled = "cancelled"
)

// AcceptsBids reports whether new bids may be placed against the request.
func (r *PartRequest) AcceptsBids(now time.Time) bool {
	if r.Status != RequestStatusActive {
		return false
	}
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return false
	}
	return true
}

// WithinBudget checks the combined bid amount against the budget range.
// A missing bound is treated as open on that side.
func (r *PartRequest) WithinBudget(total decimal.Decimal) bool {
	if r.BudgetMin != nil && total.LessThan(*r.BudgetMin) {
		return false
	}
	if r.BudgetMax != nil && total.GreaterThan(*r.BudgetMax) {
		return false
	}
	return true
}
