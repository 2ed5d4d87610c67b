package repository

import (
	"context"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentRepository owns payments persistence.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Payment, int64, error) {
	var items []entity.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Payment{})

	if invoiceID := filters["invoice_id"]; invoiceID != "" {
		query = query.Where("invoice_id = ?", invoiceID)
	}
	if customerID := filters["customer_id"]; customerID != "" {
		query = query.Where("customer_id = ?", customerID)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if ptype := filters["type"]; ptype != "" {
		query = query.Where("type = ?", ptype)
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

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*entity.Payment, error) {
	var p entity.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PaymentRepository) FindByReference(ctx context.Context, reference string) (*entity.Payment, error) {
	var p entity.Payment
	err := r.db.WithContext(ctx).Where("payment_reference = ?", reference).First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// FindInFlight returns a pending or processing payment for the invoice, if
// one exists. Used to prevent double-charging.
func (r *PaymentRepository) FindInFlight(ctx context.Context, invoiceID string) (*entity.Payment, error) {
	var p entity.Payment
	err := r.db.WithContext(ctx).
		Where("invoice_id = ? AND type = ? AND status IN ?",
			invoiceID, entity.PaymentTypePayment,
			[]string{entity.PaymentStatusPending, entity.PaymentStatusProcessing}).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, p *entity.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) Update(ctx context.Context, p *entity.Payment) error {
	return r.db.WithContext(ctx).Save(p).Error
}

// sumCompletedRefunds totals completed refund rows against a source payment.
func sumCompletedRefunds(db *gorm.DB, sourcePaymentID string) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal
	}
	err := db.
		Model(&entity.Payment{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("source_payment_id = ? AND type IN ? AND status = ?",
			sourcePaymentID,
			[]string{entity.PaymentTypeRefund, entity.PaymentTypePartialRefund},
			entity.PaymentStatusCompleted).
		Scan(&out).Error
	return out.Total, err
}

// CreateRefund inserts the refund row and settles the source payment's
// refunded amount and status in one transaction. The source row is locked
// and the bound re-checked against the refunds actually on record, so two
// concurrent refunds can never overdraw the payment between the service's
// pre-check and the write. The refund's type and the source's new status
// are derived from the locked state, not the caller's view.
func (r *PaymentRepository) CreateRefund(ctx context.Context, refund *entity.Payment) (*entity.Payment, error) {
	var source entity.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if refund.SourcePaymentID == nil {
			return ErrRefundBound
		}
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", *refund.SourcePaymentID).
			First(&source).Error; err != nil {
			return notFound(err)
		}

		refunded, err := sumCompletedRefunds(tx, source.ID)
		if err != nil {
			return err
		}
		if refund.Amount.GreaterThan(source.Amount.Sub(refunded)) {
			return ErrRefundBound
		}

		if refunded.IsZero() && refund.Amount.Equal(source.Amount) {
			refund.Type = entity.PaymentTypeRefund
		} else {
			refund.Type = entity.PaymentTypePartialRefund
		}
		if err := tx.Create(refund).Error; err != nil {
			return err
		}

		source.RefundedAmount = refunded.Add(refund.Amount)
		if source.RefundedAmount.Equal(source.Amount) {
			source.Status = entity.PaymentStatusRefunded
		} else {
			source.Status = entity.PaymentStatusPartiallyRefunded
		}
		return tx.Save(&source).Error
	})
	if err != nil {
		return nil, err
	}
	return &source, nil
}

// MarkReconciled stamps a payment with its external settlement reference.
func (r *PaymentRepository) MarkReconciled(ctx context.Context, id, settlementRef string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.Payment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"reconciled":           true,
			"reconciled_at":        now,
			"settlement_reference": settlementRef,
			"updated_at":           now,
		}).Error
}
