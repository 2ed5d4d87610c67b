package handler

import (
	"errors"
	"strconv"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/service"
	"github.com/gin-gonic/gin"
)

// Handlers bundles the marketplace HTTP handlers.
type Handlers struct {
	PartRequest *PartRequestHandler
	Bid         *BidHandler
	Order       *OrderHandler
	Invoice     *InvoiceHandler
	Payment     *PaymentHandler
}

func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		PartRequest: NewPartRequestHandler(svc.Bid),
		Bid:         NewBidHandler(svc.Bid, svc.Order),
		Order:       NewOrderHandler(svc.Order),
		Invoice:     NewInvoiceHandler(svc.Invoice),
		Payment:     NewPaymentHandler(svc.Payment),
	}
}

// Response is the common envelope.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse wraps paginated collections.
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func NewPagination(page, pageSize int, total int64) *Pagination {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	return &Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      int(total),
		TotalPages: totalPages,
	}
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// Conflict carries the machine-readable conflict reason alongside the message.
func Conflict(c *gin.Context, reason, message string) {
	c.JSON(409, Response{
		Code:    40900,
		Message: message,
		Data:    gin.H{"reason": reason},
	})
}

// RespondError maps a service error onto the response envelope. Unknown
// errors surface as a bare 500; their detail stays in the server log.
func RespondError(c *gin.Context, err error) {
	var validation *service.ValidationError
	var notFound *service.NotFoundError
	var authz *service.AuthorizationError
	var conflict *service.StateConflictError
	var external *service.ExternalFailure

	switch {
	case errors.As(err, &validation):
		BadRequest(c, validation.Message)
	case errors.As(err, &notFound):
		NotFound(c, notFound.Error())
	case errors.As(err, &authz):
		Forbidden(c, authz.Message)
	case errors.As(err, &conflict):
		Conflict(c, conflict.Code, conflict.Message)
	case errors.As(err, &external):
		Error(c, 50200, "upstream service unavailable")
	default:
		InternalError(c, "internal error")
	}
}

// GetUserID returns the authenticated user from the request context.
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetPagination parses page/page_size with sane bounds.
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
