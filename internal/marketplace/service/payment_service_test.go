package service

import (
	"testing"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/shopspring/decimal"
)

func TestComputeGatewayFee(t *testing.T) {
	cases := []struct {
		method string
		amount int64
		want   string
	}{
		{entity.PaymentMethodMada, 1000, "10.50"},         // 1% + 0.50
		{entity.PaymentMethodCard, 1000, "22.75"},         // 2.2% + 0.75
		{entity.PaymentMethodApplePay, 1000, "22.75"},     // same as card
		{entity.PaymentMethodSTCPay, 1000, "18.00"},       // 1.75% + 0.50
		{entity.PaymentMethodBankTransfer, 1000, "5.00"},  // flat
		{entity.PaymentMethodBankTransfer, 50000, "5.00"}, // flat regardless of amount
	}

	for _, tc := range cases {
		got := computeGatewayFee(tc.method, decimal.NewFromInt(tc.amount))
		if got.StringFixed(2) != tc.want {
			t.Errorf("%s on %d: expected %s, got %s", tc.method, tc.amount, tc.want, got.StringFixed(2))
		}
	}
}

func TestAssessRisk(t *testing.T) {
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	night := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		amount int64
		method string
		at     time.Time
		want   float64
	}{
		{"small daytime mada", 100, entity.PaymentMethodMada, noon, 0.1},
		{"large amount", 6000, entity.PaymentMethodMada, noon, 0.4},
		{"very large amount", 12000, entity.PaymentMethodMada, noon, 0.6},
		{"night card", 100, entity.PaymentMethodCard, night, 0.4},
		{"worst case clamps", 20000, entity.PaymentMethodCard, night, 0.9},
	}

	for _, tc := range cases {
		got := assessRisk(decimal.NewFromInt(tc.amount), tc.method, tc.at)
		if got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestAssessRiskClamped(t *testing.T) {
	night := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	got := assessRisk(decimal.NewFromInt(1000000), entity.PaymentMethodCard, night)
	if got > 1.0 {
		t.Errorf("Expected score clamped to 1.0, got %v", got)
	}
}

func TestParseWebhookMoyasar(t *testing.T) {
	payload := []byte(`{"id":"evt_1","status":"paid","metadata":{"payment_ref":"PAY-abc"}}`)
	event, err := parseWebhook("moyasar", payload)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event.ID != "evt_1" || event.Reference != "PAY-abc" || event.Status != "paid" {
		t.Errorf("Unexpected event: %+v", event)
	}
}

func TestParseWebhookTap(t *testing.T) {
	payload := []byte(`{"id":"chg_9","status":"CAPTURED","reference":{"order":"PAY-xyz"}}`)
	event, err := parseWebhook("tap", payload)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if event.Reference != "PAY-xyz" {
		t.Errorf("Expected reference PAY-xyz, got %s", event.Reference)
	}
	if event.Status != "captured" {
		t.Errorf("Expected lowercased status, got %s", event.Status)
	}
}

func TestParseWebhookMissingReference(t *testing.T) {
	if _, err := parseWebhook("moyasar", []byte(`{"id":"evt_2","status":"paid","metadata":{}}`)); err == nil {
		t.Error("Expected error for moyasar payload without reference")
	}
	if _, err := parseWebhook("tap", []byte(`{"id":"chg_2","status":"CAPTURED","reference":{}}`)); err == nil {
		t.Error("Expected error for tap payload without reference")
	}
}

func TestParseWebhookUnknownProvider(t *testing.T) {
	if _, err := parseWebhook("stripe", []byte(`{}`)); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestPaymentRefundable(t *testing.T) {
	p := &entity.Payment{
		Type:           entity.PaymentTypePayment,
		Status:         entity.PaymentStatusCompleted,
		Amount:         decimal.NewFromInt(100),
		RefundedAmount: decimal.NewFromInt(30),
	}

	if !p.Refundable(decimal.NewFromInt(70)) {
		t.Error("Expected remaining amount to be refundable")
	}
	if p.Refundable(decimal.NewFromInt(71)) {
		t.Error("Expected over-refund to be rejected")
	}
	if p.Refundable(decimal.Zero) {
		t.Error("Expected zero refund to be rejected")
	}

	refundRow := &entity.Payment{Type: entity.PaymentTypeRefund, Status: entity.PaymentStatusCompleted, Amount: decimal.NewFromInt(10)}
	if refundRow.Refundable(decimal.NewFromInt(5)) {
		t.Error("Expected refund rows to not be refundable")
	}
}
