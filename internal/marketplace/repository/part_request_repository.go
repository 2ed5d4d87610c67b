package repository

import (
	"context"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"gorm.io/gorm"
)

// PartRequestRepository owns part_requests persistence.
type PartRequestRepository struct {
	db *gorm.DB
}

func NewPartRequestRepository(db *gorm.DB) *PartRequestRepository {
	return &PartRequestRepository{db: db}
}

func (r *PartRequestRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.PartRequest, int64, error) {
	var items []entity.PartRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.PartRequest{})

	if customerID := filters["customer_id"]; customerID != "" {
		query = query.Where("customer_id = ?", customerID)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if category := filters["category"]; category != "" {
		query = query.Where("category = ?", category)
	}
	if urgency := filters["urgency"]; urgency != "" {
		query = query.Where("urgency = ?", urgency)
	}
	if search := filters["search"]; search != "" {
		query = query.Where("title ILIKE ?", "%"+search+"%")
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

func (r *PartRequestRepository) FindByID(ctx context.Context, id string) (*entity.PartRequest, error) {
	var req entity.PartRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

// FindByIDWithBids loads the request and its bids ordered by amount.
func (r *PartRequestRepository) FindByIDWithBids(ctx context.Context, id string) (*entity.PartRequest, error) {
	var req entity.PartRequest
	err := r.db.WithContext(ctx).
		Preload("Bids", func(db *gorm.DB) *gorm.DB {
			return db.Order("amount ASC")
		}).
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (r *PartRequestRepository) Create(ctx context.Context, req *entity.PartRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *PartRequestRepository) Update(ctx context.Context, req *entity.PartRequest) error {
	return r.db.WithContext(ctx).Save(req).Error
}

// ExpireActive closes active requests whose expiry has passed. The status
// precondition in the statement makes the sweep idempotent.
func (r *PartRequestRepository) ExpireActive(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.PartRequest{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", entity.RequestStatusActive, now).
		Updates(map[string]interface{}{
			"status":     entity.RequestStatusClosed,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
