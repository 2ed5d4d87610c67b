package handler

import (
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/service"
	"github.com/gin-gonic/gin"
)

// BidHandler serves bid submission and resolution. Acceptance goes through
// the order service so the whole settlement chain runs from one entry point.
type BidHandler struct {
	bids   *service.BidService
	orders *service.OrderService
}

func NewBidHandler(bids *service.BidService, orders *service.OrderService) *BidHandler {
	return &BidHandler{bids: bids, orders: orders}
}

// Submit POST /api/v1/part-requests/:id/bids
func (h *BidHandler) Submit(c *gin.Context) {
	var input service.SubmitBidInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	bid, err := h.bids.SubmitBid(c.Request.Context(), c.Param("id"), GetUserID(c), input)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, bid)
}

// ListByRequest GET /api/v1/part-requests/:id/bids
func (h *BidHandler) ListByRequest(c *gin.Context) {
	bids, err := h.bids.ListBidsByRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": bids})
}

// ListMine GET /api/v1/bids
func (h *BidHandler) ListMine(c *gin.Context) {
	page, pageSize := GetPagination(c)
	bids, total, err := h.bids.ListBidsByMerchant(c.Request.Context(), GetUserID(c), page, pageSize, c.Query("status"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, ListResponse{
		Items:      bids,
		Pagination: NewPagination(page, pageSize, total),
	})
}

// Accept POST /api/v1/bids/:id/accept
// Returns the order derived from the winning bid.
func (h *BidHandler) Accept(c *gin.Context) {
	order, err := h.orders.AcceptBid(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, order)
}

// Withdraw POST /api/v1/bids/:id/withdraw
func (h *BidHandler) Withdraw(c *gin.Context) {
	bid, err := h.bids.WithdrawBid(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, bid)
}

// Reject POST /api/v1/bids/:id/reject
func (h *BidHandler) Reject(c *gin.Context) {
	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	bid, err := h.bids.RejectBid(c.Request.Context(), c.Param("id"), GetUserID(c), input.Reason)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, bid)
}
