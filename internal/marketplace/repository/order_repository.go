package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"gorm.io/gorm"
)

// OrderRepository owns orders persistence.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Order, int64, error) {
	var items []entity.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Order{})

	if customerID := filters["customer_id"]; customerID != "" {
		query = query.Where("customer_id = ?", customerID)
	}
	if merchantID := filters["merchant_id"]; merchantID != "" {
		query = query.Where("merchant_id = ?", merchantID)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if search := filters["search"]; search != "" {
		query = query.Where("order_number ILIKE ?", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.Order, error) {
	var order entity.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// FindByBidID returns the order derived from the given bid, if any.
func (r *OrderRepository) FindByBidID(ctx context.Context, bidID string) (*entity.Order, error) {
	var order entity.Order
	err := r.db.WithContext(ctx).Where("bid_id = ?", bidID).First(&order).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (r *OrderRepository) Create(ctx context.Context, order *entity.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) Update(ctx context.Context, order *entity.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

// NextOrderNumber generates ORD-YYYYMMDD-NNNN from today's order count.
// The caller retries with a random suffix on a unique-index collision.
func (r *OrderRepository) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	prefix := fmt.Sprintf("ORD-%s", now.Format("20060102"))
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Order{}).
		Where("order_number LIKE ?", prefix+"%").
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

// CancelOverdue cancels orders still awaiting payment past the cutoff.
// The status precondition makes the sweep idempotent and safe against
// concurrent user-driven transitions.
func (r *OrderRepository) CancelOverdue(ctx context.Context, cutoff, now time.Time, reason string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Order{}).
		Where("status = ? AND payment_due_at IS NOT NULL AND payment_due_at < ?",
			entity.OrderStatusPendingPayment, cutoff).
		Updates(map[string]interface{}{
			"status":              entity.OrderStatusCancelled,
			"cancelled_at":        now,
			"cancellation_reason": reason,
			"status_history": gorm.Expr(
				`status_history || jsonb_build_array(jsonb_build_object(
					'from', status, 'to', ?::text, 'note', ?::text, 'changed_at', ?::timestamptz))`,
				entity.OrderStatusCancelled, reason, now),
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// AutoComplete completes delivered orders past the cutoff.
func (r *OrderRepository) AutoComplete(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Order{}).
		Where("status = ? AND delivered_at IS NOT NULL AND delivered_at < ?",
			entity.OrderStatusDelivered, cutoff).
		Updates(map[string]interface{}{
			"status":       entity.OrderStatusCompleted,
			"completed_at": now,
			"status_history": gorm.Expr(
				`status_history || jsonb_build_array(jsonb_build_object(
					'from', status, 'to', ?::text, 'note', ?::text, 'changed_at', ?::timestamptz))`,
				entity.OrderStatusCompleted, "auto-completed after delivery window", now),
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
