package handler

import (
	"io"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// PaymentHandler serves payment attempts, refunds, provider webhooks and
// reconciliation uploads.
type PaymentHandler struct {
	svc *service.PaymentService
}

func NewPaymentHandler(svc *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// Initiate POST /api/v1/invoices/:id/payments
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var input struct {
		Method string `json:"method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	p, err := h.svc.Initiate(c.Request.Context(), c.Param("id"), GetUserID(c), input.Method)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, p)
}

// Process POST /api/v1/payments/:id/process
func (h *PaymentHandler) Process(c *gin.Context) {
	p, err := h.svc.Process(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, p)
}

// List GET /api/v1/payments
func (h *PaymentHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"invoice_id":  c.Query("invoice_id"),
		"customer_id": c.Query("customer_id"),
		"status":      c.Query("status"),
		"type":        c.Query("type"),
	}

	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ListResponse{
		Items:      items,
		Pagination: NewPagination(page, pageSize, total),
	})
}

// Get GET /api/v1/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, p)
}

// Refund POST /api/v1/payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	var input struct {
		Amount decimal.Decimal `json:"amount" binding:"required"`
		Reason string          `json:"reason"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	refund, err := h.svc.Refund(c.Request.Context(), c.Param("id"), input.Amount, input.Reason)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, refund)
}

// Webhook POST /webhooks/payments/:provider
// The raw body is passed through untouched; parsing is provider-specific.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		BadRequest(c, "cannot read payload")
		return
	}

	p, err := h.svc.HandleWebhook(c.Request.Context(), c.Param("provider"), payload)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{
		"payment_id": p.ID,
		"status":     p.Status,
	})
}

// Reconcile POST /api/v1/payments/reconcile
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	var input struct {
		Entries []service.SettlementEntry `json:"entries" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	report, err := h.svc.Reconcile(c.Request.Context(), input.Entries)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, report)
}
