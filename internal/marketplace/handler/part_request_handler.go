package handler

import (
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/service"
	"github.com/gin-gonic/gin"
)

// PartRequestHandler serves the part-request lifecycle routes.
type PartRequestHandler struct {
	svc *service.BidService
}

func NewPartRequestHandler(svc *service.BidService) *PartRequestHandler {
	return &PartRequestHandler{svc: svc}
}

// Create POST /api/v1/part-requests
func (h *PartRequestHandler) Create(c *gin.Context) {
	var input service.CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	req, err := h.svc.CreateRequest(c.Request.Context(), GetUserID(c), input)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, req)
}

// Publish POST /api/v1/part-requests/:id/publish
func (h *PartRequestHandler) Publish(c *gin.Context) {
	req, err := h.svc.PublishRequest(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, req)
}

// Cancel POST /api/v1/part-requests/:id/cancel
func (h *PartRequestHandler) Cancel(c *gin.Context) {
	req, err := h.svc.CancelRequest(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, req)
}

// List GET /api/v1/part-requests
func (h *PartRequestHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"customer_id": c.Query("customer_id"),
		"status":      c.Query("status"),
		"category":    c.Query("category"),
		"urgency":     c.Query("urgency"),
		"search":      c.Query("search"),
	}

	items, total, err := h.svc.ListRequests(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ListResponse{
		Items:      items,
		Pagination: NewPagination(page, pageSize, total),
	})
}

// Get GET /api/v1/part-requests/:id
func (h *PartRequestHandler) Get(c *gin.Context) {
	req, err := h.svc.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, req)
}
