package entity

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderTransitions(t *testing.T) {
	allowed := []struct{ from, to string }{
		{OrderStatusPendingPayment, OrderStatusPaymentConfirmed},
		{OrderStatusPendingPayment, OrderStatusCancelled},
		{OrderStatusPaymentConfirmed, OrderStatusProcessing},
		{OrderStatusProcessing, OrderStatusShipped},
		{OrderStatusShipped, OrderStatusDelivered},
		{OrderStatusDelivered, OrderStatusCompleted},
		{OrderStatusDelivered, OrderStatusRefunded},
		{OrderStatusDelivered, OrderStatusDisputed},
		{OrderStatusCompleted, OrderStatusRefunded},
	}
	for _, tc := range allowed {
		o := &Order{Status: tc.from}
		if !o.CanTransition(tc.to) {
			t.Errorf("Expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to string }{
		{OrderStatusPendingPayment, OrderStatusShipped},
		{OrderStatusPendingPayment, OrderStatusCompleted},
		{OrderStatusShipped, OrderStatusProcessing},
		{OrderStatusCompleted, OrderStatusCancelled},
		{OrderStatusCancelled, OrderStatusPendingPayment},
		{OrderStatusRefunded, OrderStatusCompleted},
		{OrderStatusShipped, OrderStatusRefunded},
	}
	for _, tc := range forbidden {
		o := &Order{Status: tc.from}
		if o.CanTransition(tc.to) {
			t.Errorf("Expected %s -> %s to be forbidden", tc.from, tc.to)
		}
	}
}

func TestOrderTerminal(t *testing.T) {
	for _, status := range []string{OrderStatusCancelled, OrderStatusRefunded, OrderStatusDisputed} {
		o := &Order{Status: status}
		if !o.Terminal() {
			t.Errorf("Expected %s to be terminal", status)
		}
	}
	for _, status := range []string{OrderStatusPendingPayment, OrderStatusDelivered, OrderStatusCompleted} {
		o := &Order{Status: status}
		if o.Terminal() {
			t.Errorf("Expected %s to be non-terminal", status)
		}
	}
}

func TestOrderTotalConsistent(t *testing.T) {
	o := &Order{
		PartCost:     decimal.NewFromInt(200),
		DeliveryCost: decimal.NewFromInt(20),
		PlatformFee:  decimal.NewFromInt(10),
		TaxAmount:    decimal.NewFromInt(33),
		TotalAmount:  decimal.NewFromInt(263),
	}
	if !o.TotalConsistent() {
		t.Error("Expected consistent total")
	}

	o.TotalAmount = decimal.NewFromInt(262)
	if o.TotalConsistent() {
		t.Error("Expected inconsistent total to be detected")
	}
}
