package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/config"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/repository"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/service"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/testutil"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/middleware"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/shared/gateway"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stubGateway struct{}

func (stubGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	return &gateway.ChargeResult{Success: true, TransactionID: "tx-stub"}, nil
}

func (stubGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*gateway.RefundResult, error) {
	return &gateway.RefundResult{Success: true, RefundID: "rf-stub"}, nil
}

func setupMarketplaceTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	cfg := &config.Config{
		Marketplace: config.MarketplaceConfig{
			PlatformFeeRate:    0.05,
			VATRate:            0.15,
			RequestExpiry:      168 * time.Hour,
			BidExpiry:          72 * time.Hour,
			PaymentDue:         72 * time.Hour,
			ThreeDSAmountFloor: 1000,
			ThreeDSRiskFloor:   0.5,
		},
		Gateways: config.GatewaysConfig{
			Payment: config.PaymentGatewayConfig{Provider: "moyasar"},
		},
	}

	repos := repository.NewRepositories(db)
	svcs := service.NewServices(repos, nil, service.Gateways{Payment: stubGateway{}}, cfg, zap.NewNop())
	h := NewHandlers(svcs)

	api := testutil.AuthGroup(router, "/api/v1")
	api.POST("/part-requests", h.PartRequest.Create)
	api.GET("/part-requests/:id", h.PartRequest.Get)
	api.POST("/part-requests/:id/publish", h.PartRequest.Publish)
	api.POST("/part-requests/:id/bids", h.Bid.Submit)
	api.POST("/bids/:id/accept", h.Bid.Accept)
	api.GET("/orders/:id", h.Order.Get)
	api.GET("/invoices", h.Invoice.List)
	api.POST("/invoices/:id/payments", h.Payment.Initiate)
	api.POST("/payments/:id/process", h.Payment.Process)
	api.POST("/payments/:id/refund", middleware.RequireRole("finance"), h.Payment.Refund)
	router.POST("/webhooks/payments/:provider", h.Payment.Webhook)

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func TestMarketplaceSettlementFlow(t *testing.T) {
	env := setupMarketplaceTest(t)
	customer := testutil.CustomerToken("cust-001")
	merchant := testutil.MerchantToken("merch-001")

	// Customer opens and publishes a request.
	w := testutil.DoRequest(env.Router, "POST", "/api/v1/part-requests", map[string]interface{}{
		"title":    "Turbocharger",
		"category": "engine",
	}, customer)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	requestID := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/part-requests/"+requestID+"/publish", nil, customer)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Merchant bids.
	w = testutil.DoRequest(env.Router, "POST", "/api/v1/part-requests/"+requestID+"/bids", map[string]interface{}{
		"amount":        200,
		"delivery_cost": 20,
		"delivery_days": 3,
	}, merchant)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	bidID := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)

	// Customer accepts; the response is the derived order.
	w = testutil.DoRequest(env.Router, "POST", "/api/v1/bids/"+bidID+"/accept", nil, customer)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	orderData := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if orderData["total_amount"] != "263" && orderData["total_amount"] != "263.00" {
		t.Errorf("Expected total 263, got %v", orderData["total_amount"])
	}
	orderID := orderData["id"].(string)

	// The invoice was issued alongside the order.
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/invoices?customer_id=cust-001", nil, customer)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	items := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("Expected 1 invoice, got %d", len(items))
	}
	invoiceID := items[0].(map[string]interface{})["id"].(string)

	// Customer pays.
	w = testutil.DoRequest(env.Router, "POST", "/api/v1/invoices/"+invoiceID+"/payments", map[string]interface{}{
		"method": "mada",
	}, customer)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	paymentID := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/payments/"+paymentID+"/process", nil, customer)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// The order reflects the settlement.
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/orders/"+orderID, nil, customer)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	orderData = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if orderData["status"] != "payment_confirmed" {
		t.Errorf("Expected payment_confirmed, got %v", orderData["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupMarketplaceTest(t)

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/part-requests", map[string]interface{}{
		"title": "No token",
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

func TestAcceptConflictEnvelope(t *testing.T) {
	env := setupMarketplaceTest(t)
	customer := testutil.CustomerToken("cust-001")
	other := testutil.CustomerToken("cust-other")
	merchant := testutil.MerchantToken("merch-001")

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/part-requests", map[string]interface{}{
		"title": "Suspension kit",
	}, customer)
	requestID := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)
	testutil.DoRequest(env.Router, "POST", "/api/v1/part-requests/"+requestID+"/publish", nil, customer)

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/part-requests/"+requestID+"/bids", map[string]interface{}{
		"amount": 300,
	}, merchant)
	bidID := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)

	// Only the request owner may accept.
	w = testutil.DoRequest(env.Router, "POST", "/api/v1/bids/"+bidID+"/accept", nil, other)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-owner, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRefundRequiresFinanceRole(t *testing.T) {
	env := setupMarketplaceTest(t)
	body := map[string]interface{}{"amount": 10, "reason": "damaged part"}

	customer := testutil.CustomerToken("cust-001")
	w := testutil.DoRequest(env.Router, "POST", "/api/v1/payments/pay-900/refund", body, customer)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for customer, got %d: %s", w.Code, w.Body.String())
	}

	// A finance identity clears the role gate; the unknown payment is the
	// next check to fire.
	finance := testutil.GenerateTestToken("fin-001", "Test Finance", "fin-001@test.com", []string{"finance"})
	w = testutil.DoRequest(env.Router, "POST", "/api/v1/payments/pay-900/refund", body, finance)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for finance on unknown payment, got %d: %s", w.Code, w.Body.String())
	}
}
