package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/testutil"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func seedOrder(t *testing.T, db *gorm.DB, id, number, bidID, status string) *entity.Order {
	t.Helper()
	order := &entity.Order{
		ID:            id,
		OrderNumber:   number,
		PartRequestID: "req-ord",
		BidID:         bidID,
		CustomerID:    "cust-001",
		MerchantID:    "merch-001",
		PartCost:      decimal.NewFromInt(200),
		DeliveryCost:  decimal.NewFromInt(20),
		PlatformFee:   decimal.NewFromInt(10),
		TaxAmount:     decimal.NewFromInt(33),
		TotalAmount:   decimal.NewFromInt(263),
		Currency:      "SAR",
		Status:        status,
		StatusHistory: []byte(`[]`),
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	return order
}

func TestOrderBidUniqueness(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	seedOrder(t, db, "ord-001", "ORD-20260301-0001", "bid-100", entity.OrderStatusPendingPayment)

	dup := &entity.Order{
		ID:            "ord-002",
		OrderNumber:   "ORD-20260301-0002",
		PartRequestID: "req-ord",
		BidID:         "bid-100",
		CustomerID:    "cust-001",
		MerchantID:    "merch-001",
		PartCost:      decimal.NewFromInt(200),
		DeliveryCost:  decimal.NewFromInt(20),
		PlatformFee:   decimal.NewFromInt(10),
		TaxAmount:     decimal.NewFromInt(33),
		TotalAmount:   decimal.NewFromInt(263),
		Status:        entity.OrderStatusPendingPayment,
		StatusHistory: []byte(`[]`),
	}
	if err := repo.Create(ctx, dup); !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("Expected duplicate key error for reused bid_id, got %v", err)
	}

	found, err := repo.FindByBidID(ctx, "bid-100")
	if err != nil {
		t.Fatalf("FindByBidID failed: %v", err)
	}
	if found.ID != "ord-001" {
		t.Errorf("Expected ord-001, got %s", found.ID)
	}
}

func TestNextOrderNumber(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	number, err := repo.NextOrderNumber(ctx, now)
	if err != nil {
		t.Fatalf("NextOrderNumber failed: %v", err)
	}
	if number != "ORD-20260301-0001" {
		t.Errorf("Expected ORD-20260301-0001, got %s", number)
	}

	seedOrder(t, db, "ord-010", number, "bid-110", entity.OrderStatusPendingPayment)

	number, err = repo.NextOrderNumber(ctx, now)
	if err != nil {
		t.Fatalf("NextOrderNumber failed: %v", err)
	}
	if number != "ORD-20260301-0002" {
		t.Errorf("Expected ORD-20260301-0002, got %s", number)
	}
}

func TestCancelOverdueAppendsHistory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := seedOrder(t, db, "ord-020", "ORD-20260301-0020", "bid-120", entity.OrderStatusPendingPayment)
	pastDue := time.Now().Add(-48 * time.Hour)
	db.Model(&entity.Order{}).Where("id = ?", order.ID).Update("payment_due_at", pastDue)

	// An order already paid must not be touched.
	paid := seedOrder(t, db, "ord-021", "ORD-20260301-0021", "bid-121", entity.OrderStatusPaymentConfirmed)
	db.Model(&entity.Order{}).Where("id = ?", paid.ID).Update("payment_due_at", pastDue)

	now := time.Now()
	count, err := repo.CancelOverdue(ctx, now, now, "payment overdue — automatically cancelled")
	if err != nil {
		t.Fatalf("CancelOverdue failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 cancelled order, got %d", count)
	}

	var cancelled entity.Order
	db.First(&cancelled, "id = ?", order.ID)
	if cancelled.Status != entity.OrderStatusCancelled {
		t.Errorf("Expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancelledAt == nil {
		t.Error("Expected cancelled_at to be set")
	}

	history := entity.DecodeStatusHistory(cancelled.StatusHistory)
	if len(history) != 1 {
		t.Fatalf("Expected 1 history record, got %d", len(history))
	}
	if history[0].From != entity.OrderStatusPendingPayment || history[0].To != entity.OrderStatusCancelled {
		t.Errorf("Unexpected history record: %+v", history[0])
	}
	if !strings.Contains(history[0].Note, "overdue") {
		t.Errorf("Expected overdue cancellation note, got %q", history[0].Note)
	}
	if !strings.Contains(cancelled.CancellationReason, "overdue") {
		t.Errorf("Expected overdue cancellation reason, got %q", cancelled.CancellationReason)
	}

	var untouched entity.Order
	db.First(&untouched, "id = ?", paid.ID)
	if untouched.Status != entity.OrderStatusPaymentConfirmed {
		t.Errorf("Expected paid order untouched, got %s", untouched.Status)
	}
}

func TestAutoCompleteDelivered(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := seedOrder(t, db, "ord-030", "ORD-20260301-0030", "bid-130", entity.OrderStatusDelivered)
	deliveredAt := time.Now().Add(-96 * time.Hour)
	db.Model(&entity.Order{}).Where("id = ?", order.ID).Update("delivered_at", deliveredAt)

	now := time.Now()
	count, err := repo.AutoComplete(ctx, now.Add(-72*time.Hour), now)
	if err != nil {
		t.Fatalf("AutoComplete failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 completed order, got %d", count)
	}

	var completed entity.Order
	db.First(&completed, "id = ?", order.ID)
	if completed.Status != entity.OrderStatusCompleted {
		t.Errorf("Expected completed, got %s", completed.Status)
	}
	if completed.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}
}
