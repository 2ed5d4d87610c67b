package service

import (
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/shopspring/decimal"
)

// OrderAmounts is the monetary breakdown derived from a winning bid.
type OrderAmounts struct {
	PartCost     decimal.Decimal
	DeliveryCost decimal.Decimal
	PlatformFee  decimal.Decimal
	TaxAmount    decimal.Decimal
	Total        decimal.Decimal
}

// FeeCalculator derives order amounts from a winning bid. It is pure and
// stateless; rates are fixed at construction and applied at order-creation
// time only, so historical totals never shift when configuration changes.
type FeeCalculator struct {
	platformFeeRate decimal.Decimal
	vatRate         decimal.Decimal
}

func NewFeeCalculator(platformFeeRate, vatRate float64) *FeeCalculator {
	return &FeeCalculator{
		platformFeeRate: decimal.NewFromFloat(platformFeeRate),
		vatRate:         decimal.NewFromFloat(vatRate),
	}
}

// ComputeOrderAmounts applies the fee and VAT rates to the bid.
// platform fee = part cost x rate; tax = (part + delivery) x VAT rate.
// All amounts round half-up to 2 decimal places.
func (f *FeeCalculator) ComputeOrderAmounts(bid *entity.Bid) OrderAmounts {
	partCost := bid.Amount.Round(2)
	deliveryCost := bid.DeliveryCost.Round(2)

	platformFee := partCost.Mul(f.platformFeeRate).Round(2)
	taxAmount := partCost.Add(deliveryCost).Mul(f.vatRate).Round(2)

	total := partCost.Add(deliveryCost).Add(platformFee).Add(taxAmount)

	return OrderAmounts{
		PartCost:     partCost,
		DeliveryCost: deliveryCost,
		PlatformFee:  platformFee,
		TaxAmount:    taxAmount,
		Total:        total,
	}
}
