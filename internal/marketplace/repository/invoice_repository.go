package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"gorm.io/gorm"
)

// InvoiceRepository owns invoices and their line items.
type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Invoice, int64, error) {
	var items []entity.Invoice
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Invoice{})

	if customerID := filters["customer_id"]; customerID != "" {
		query = query.Where("customer_id = ?", customerID)
	}
	if merchantID := filters["merchant_id"]; merchantID != "" {
		query = query.Where("merchant_id = ?", merchantID)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if zatca := filters["zatca_status"]; zatca != "" {
		query = query.Where("zatca_status = ?", zatca)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*entity.Invoice, error) {
	var inv entity.Invoice
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Where("id = ?", id).
		First(&inv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (r *InvoiceRepository) FindByOrderID(ctx context.Context, orderID string) (*entity.Invoice, error) {
	var inv entity.Invoice
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Where("order_id = ?", orderID).
		First(&inv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

// Create inserts the invoice together with its line items.
func (r *InvoiceRepository) Create(ctx context.Context, inv *entity.Invoice) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *InvoiceRepository) Update(ctx context.Context, inv *entity.Invoice) error {
	return r.db.WithContext(ctx).Omit("LineItems").Save(inv).Error
}

// NextInvoiceNumber generates INV-YYYYMM-NNNN from this month's count.
func (r *InvoiceRepository) NextInvoiceNumber(ctx context.Context, now time.Time) (string, error) {
	prefix := fmt.Sprintf("INV-%s", now.Format("200601"))
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Invoice{}).
		Where("invoice_number LIKE ?", prefix+"%").
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}

// MarkOverdue flags sent/viewed invoices whose due date has passed.
func (r *InvoiceRepository) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Invoice{}).
		Where("status IN ? AND due_date IS NOT NULL AND due_date < ?",
			[]string{entity.InvoiceStatusSent, entity.InvoiceStatusViewed}, now).
		Updates(map[string]interface{}{
			"status": entity.InvoiceStatusOverdue,
			"status_history": gorm.Expr(
				`status_history || jsonb_build_array(jsonb_build_object(
					'from', status, 'to', ?::text, 'note', ?::text, 'changed_at', ?::timestamptz))`,
				entity.InvoiceStatusOverdue, "due date passed", now),
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// CancelLongOverdue cancels invoices overdue past the cutoff.
func (r *InvoiceRepository) CancelLongOverdue(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Invoice{}).
		Where("status = ? AND due_date IS NOT NULL AND due_date < ?",
			entity.InvoiceStatusOverdue, cutoff).
		Updates(map[string]interface{}{
			"status": entity.InvoiceStatusCancelled,
			"status_history": gorm.Expr(
				`status_history || jsonb_build_array(jsonb_build_object(
					'from', status, 'to', ?::text, 'note', ?::text, 'changed_at', ?::timestamptz))`,
				entity.InvoiceStatusCancelled, "overdue beyond cancellation window", now),
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// FindSubmittedForPolling returns invoices awaiting a ZATCA decision.
func (r *InvoiceRepository) FindSubmittedForPolling(ctx context.Context, limit int) ([]entity.Invoice, error) {
	var items []entity.Invoice
	err := r.db.WithContext(ctx).
		Where("zatca_status = ? AND zatca_reference <> ''", entity.ZatcaStatusSubmitted).
		Order("zatca_submitted_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
