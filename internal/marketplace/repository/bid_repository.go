package repository

import (
	"context"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BidRepository owns bids persistence, including the cross-row acceptance
// transaction and the part-request aggregate stats.
type BidRepository struct {
	db *gorm.DB
}

func NewBidRepository(db *gorm.DB) *BidRepository {
	return &BidRepository{db: db}
}

func (r *BidRepository) FindByID(ctx context.Context, id string) (*entity.Bid, error) {
	var bid entity.Bid
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&bid).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &bid, nil
}

func (r *BidRepository) FindByRequest(ctx context.Context, requestID string) ([]entity.Bid, error) {
	var bids []entity.Bid
	err := r.db.WithContext(ctx).
		Where("part_request_id = ?", requestID).
		Order("amount ASC").
		Find(&bids).Error
	return bids, err
}

func (r *BidRepository) FindByMerchant(ctx context.Context, merchantID string, page, pageSize int, status string) ([]entity.Bid, int64, error) {
	var bids []entity.Bid
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Bid{}).Where("merchant_id = ?", merchantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&bids).Error
	return bids, total, err
}

// ExistsForMerchant reports whether the merchant already bid on the request.
func (r *BidRepository) ExistsForMerchant(ctx context.Context, merchantID, requestID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Bid{}).
		Where("merchant_id = ? AND part_request_id = ?", merchantID, requestID).
		Count(&count).Error
	return count > 0, err
}

// Create inserts the bid and recomputes the request's aggregate stats in the
// same transaction.
func (r *BidRepository) Create(ctx context.Context, bid *entity.Bid) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(bid).Error; err != nil {
			return err
		}
		return recomputeStats(tx, bid.PartRequestID)
	})
}

// Update saves a bid status change and recomputes aggregate stats.
func (r *BidRepository) Update(ctx context.Context, bid *entity.Bid) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(bid).Error; err != nil {
			return err
		}
		return recomputeStats(tx, bid.PartRequestID)
	})
}

// Accept performs the three-part acceptance transition atomically:
// the target bid becomes accepted, every other pending bid on the request is
// rejected, and the request closes. The part-request row is locked for the
// duration, so concurrent accepts on the same request serialize; the loser
// re-reads a closed request and gets ErrNotAcceptable.
func (r *BidRepository) Accept(ctx context.Context, bidID, customerID string, now time.Time) (*entity.Bid, error) {
	var accepted *entity.Bid

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bid entity.Bid
		if err := tx.Where("id = ?", bidID).First(&bid).Error; err != nil {
			return notFound(err)
		}

		var req entity.PartRequest
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", bid.PartRequestID).
			First(&req).Error; err != nil {
			return notFound(err)
		}

		if req.CustomerID != customerID {
			return ErrNotOwner
		}
		if req.Status != entity.RequestStatusActive {
			return ErrNotAcceptable
		}
		if !bid.Acceptable(now) {
			return ErrNotAcceptable
		}

		// Belt and braces: the closed-request check above already rules
		// out a second winner, but a stray accepted row is an integrity
		// breach, not a user error.
		var winners int64
		if err := tx.Model(&entity.Bid{}).
			Where("part_request_id = ? AND status = ?", req.ID, entity.BidStatusAccepted).
			Count(&winners).Error; err != nil {
			return err
		}
		if winners > 0 {
			return ErrNotAcceptable
		}

		bid.Status = entity.BidStatusAccepted
		bid.AcceptedAt = &now
		if err := tx.Save(&bid).Error; err != nil {
			return err
		}

		if err := tx.Model(&entity.Bid{}).
			Where("part_request_id = ? AND id <> ? AND status = ?",
				req.ID, bid.ID, entity.BidStatusPending).
			Updates(map[string]interface{}{
				"status":           entity.BidStatusRejected,
				"rejection_reason": entity.RejectedCompetingReason,
				"updated_at":       now,
			}).Error; err != nil {
			return err
		}

		req.Status = entity.RequestStatusClosed
		if err := tx.Save(&req).Error; err != nil {
			return err
		}

		if err := recomputeStats(tx, req.ID); err != nil {
			return err
		}

		accepted = &bid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// ExpirePending expires pending bids whose expiry has passed.
func (r *BidRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Bid{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", entity.BidStatusPending, now).
		Updates(map[string]interface{}{
			"status":     entity.BidStatusExpired,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// recomputeStats refreshes the denormalized bid stats on the part request.
// Only live offers (pending or accepted) count.
func recomputeStats(tx *gorm.DB, requestID string) error {
	var stats struct {
		Count   int64
		Lowest  *decimal.Decimal
		Highest *decimal.Decimal
	}
	err := tx.Model(&entity.Bid{}).
		Select("COUNT(*) AS count, MIN(amount) AS lowest, MAX(amount) AS highest").
		Where("part_request_id = ? AND status IN ?", requestID,
			[]string{entity.BidStatusPending, entity.BidStatusAccepted}).
		Scan(&stats).Error
	if err != nil {
		return err
	}

	return tx.Model(&entity.PartRequest{}).
		Where("id = ?", requestID).
		Updates(map[string]interface{}{
			"bid_count":   stats.Count,
			"lowest_bid":  stats.Lowest,
			"highest_bid": stats.Highest,
		}).Error
}
