package service

import (
	"testing"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/shopspring/decimal"
)

func TestComputeOrderAmounts(t *testing.T) {
	calc := NewFeeCalculator(0.05, 0.15)

	bid := &entity.Bid{
		Amount:       decimal.NewFromInt(200),
		DeliveryCost: decimal.NewFromInt(20),
	}

	amounts := calc.ComputeOrderAmounts(bid)

	if got := amounts.PlatformFee.StringFixed(2); got != "10.00" {
		t.Errorf("Expected platform fee 10.00, got %s", got)
	}
	if got := amounts.TaxAmount.StringFixed(2); got != "33.00" {
		t.Errorf("Expected tax 33.00, got %s", got)
	}
	if got := amounts.Total.StringFixed(2); got != "263.00" {
		t.Errorf("Expected total 263.00, got %s", got)
	}
}

func TestComputeOrderAmountsRounding(t *testing.T) {
	calc := NewFeeCalculator(0.05, 0.15)

	// 99.99 * 0.05 = 4.9995 rounds half-up to 5.00.
	bid := &entity.Bid{
		Amount:       decimal.NewFromFloat(99.99),
		DeliveryCost: decimal.Zero,
	}

	amounts := calc.ComputeOrderAmounts(bid)

	if got := amounts.PlatformFee.StringFixed(2); got != "5.00" {
		t.Errorf("Expected platform fee 5.00, got %s", got)
	}
	// 99.99 * 0.15 = 14.9985 rounds to 15.00.
	if got := amounts.TaxAmount.StringFixed(2); got != "15.00" {
		t.Errorf("Expected tax 15.00, got %s", got)
	}
}

func TestComputeOrderAmountsConsistency(t *testing.T) {
	calc := NewFeeCalculator(0.05, 0.15)

	cases := []struct{ amount, delivery float64 }{
		{200, 20},
		{0.01, 0},
		{12345.67, 89.10},
		{999.99, 0.01},
	}

	for _, tc := range cases {
		bid := &entity.Bid{
			Amount:       decimal.NewFromFloat(tc.amount),
			DeliveryCost: decimal.NewFromFloat(tc.delivery),
		}
		a := calc.ComputeOrderAmounts(bid)

		sum := a.PartCost.Add(a.DeliveryCost).Add(a.PlatformFee).Add(a.TaxAmount)
		if !a.Total.Equal(sum) {
			t.Errorf("amount=%v delivery=%v: total %s != components sum %s",
				tc.amount, tc.delivery, a.Total, sum)
		}
	}
}

func TestComputeOrderAmountsDeterministic(t *testing.T) {
	calc := NewFeeCalculator(0.05, 0.15)
	bid := &entity.Bid{
		Amount:       decimal.NewFromFloat(1234.56),
		DeliveryCost: decimal.NewFromFloat(78.90),
	}

	first := calc.ComputeOrderAmounts(bid)
	second := calc.ComputeOrderAmounts(bid)

	if !first.Total.Equal(second.Total) {
		t.Errorf("Expected identical totals, got %s and %s", first.Total, second.Total)
	}
}
