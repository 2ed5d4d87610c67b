package handler

import (
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/service"
	"github.com/gin-gonic/gin"
)

// OrderHandler serves the order fulfilment routes.
type OrderHandler struct {
	svc *service.OrderService
}

func NewOrderHandler(svc *service.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// List GET /api/v1/orders
func (h *OrderHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"customer_id": c.Query("customer_id"),
		"merchant_id": c.Query("merchant_id"),
		"status":      c.Query("status"),
		"search":      c.Query("search"),
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

// Get GET /api/v1/orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// History GET /api/v1/orders/:id/history
func (h *OrderHandler) History(c *gin.Context) {
	history, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": history})
}

// MarkProcessing POST /api/v1/orders/:id/processing
func (h *OrderHandler) MarkProcessing(c *gin.Context) {
	order, err := h.svc.MarkAsProcessing(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// Ship POST /api/v1/orders/:id/ship
func (h *OrderHandler) Ship(c *gin.Context) {
	var input struct {
		Carrier        string `json:"carrier" binding:"required"`
		TrackingNumber string `json:"tracking_number"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	order, err := h.svc.MarkAsShipped(c.Request.Context(), c.Param("id"), GetUserID(c), input.Carrier, input.TrackingNumber)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// Deliver POST /api/v1/orders/:id/deliver
func (h *OrderHandler) Deliver(c *gin.Context) {
	order, err := h.svc.MarkAsDelivered(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// Complete POST /api/v1/orders/:id/complete
func (h *OrderHandler) Complete(c *gin.Context) {
	order, err := h.svc.Complete(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// Cancel POST /api/v1/orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&input)

	order, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), GetUserID(c), input.Reason)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// Rate POST /api/v1/orders/:id/rate
func (h *OrderHandler) Rate(c *gin.Context) {
	var input struct {
		Rating  int    `json:"rating" binding:"required"`
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	order, err := h.svc.Rate(c.Request.Context(), c.Param("id"), GetUserID(c), input.Rating, input.Comment)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}
