package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrNotOwner and ErrNotAcceptable surface the bid-acceptance
	// preconditions checked inside the acceptance transaction.
	ErrNotOwner      = errors.New("requester does not own the part request")
	ErrNotAcceptable = errors.New("bid is not acceptable")

	// ErrRefundBound surfaces the refund-bound re-check made under the
	// source payment's row lock.
	ErrRefundBound = errors.New("refund exceeds the refundable amount")
)

// Repositories bundles the marketplace repositories.
type Repositories struct {
	PartRequest *PartRequestRepository
	Bid         *BidRepository
	Order       *OrderRepository
	Invoice     *InvoiceRepository
	Payment     *PaymentRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		PartRequest: NewPartRequestRepository(db),
		Bid:         NewBidRepository(db),
		Order:       NewOrderRepository(db),
		Invoice:     NewInvoiceRepository(db),
		Payment:     NewPaymentRepository(db),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
