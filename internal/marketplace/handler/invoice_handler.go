package handler

import (
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// InvoiceHandler serves the invoice routes.
type InvoiceHandler struct {
	svc *service.InvoiceService
}

func NewInvoiceHandler(svc *service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{svc: svc}
}

// List GET /api/v1/invoices
func (h *InvoiceHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"customer_id":  c.Query("customer_id"),
		"merchant_id":  c.Query("merchant_id"),
		"status":       c.Query("status"),
		"zatca_status": c.Query("zatca_status"),
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

// Get GET /api/v1/invoices/:id
func (h *InvoiceHandler) Get(c *gin.Context) {
	inv, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, inv)
}

// Resend POST /api/v1/invoices/:id/resend
func (h *InvoiceHandler) Resend(c *gin.Context) {
	inv, err := h.svc.Resend(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, inv)
}

// MarkViewed POST /api/v1/invoices/:id/view
func (h *InvoiceHandler) MarkViewed(c *gin.Context) {
	inv, err := h.svc.MarkViewed(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, inv)
}

// Cancel POST /api/v1/invoices/:id/cancel
func (h *InvoiceHandler) Cancel(c *gin.Context) {
	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&input)

	inv, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), GetUserID(c), input.Reason)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, inv)
}

// ApplyDiscount POST /api/v1/invoices/:id/discount
func (h *InvoiceHandler) ApplyDiscount(c *gin.Context) {
	var input struct {
		Amount decimal.Decimal `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	inv, err := h.svc.ApplyDiscount(c.Request.Context(), c.Param("id"), GetUserID(c), input.Amount)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, inv)
}

// SubmitToZatca POST /api/v1/invoices/:id/zatca/submit
func (h *InvoiceHandler) SubmitToZatca(c *gin.Context) {
	inv, err := h.svc.SubmitToZatca(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{
		"invoice_id":      inv.ID,
		"zatca_status":    inv.ZatcaStatus,
		"zatca_reference": inv.ZatcaReference,
	})
}
