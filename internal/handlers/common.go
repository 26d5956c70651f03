package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/SerOes/instaai-sub001/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// PaginatedResponse wraps list results.
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

// SuccessResponse is used for operations without a natural resource body.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func paginated(data interface{}, total int64, page, pageSize int) PaginatedResponse {
	if pageSize < 1 {
		pageSize = 1
	}
	pages := int(total) / pageSize
	if int(total)%pageSize != 0 {
		pages++
	}
	return PaginatedResponse{Data: data, Total: total, Page: page, PageSize: pageSize, Pages: pages}
}

// respondError maps the service error types onto HTTP statuses.
func respondError(c *gin.Context, title string, err error) {
	var (
		validation *services.ValidationError
		notFound   *services.NotFoundError
		authz      *services.AuthorizationError
		transition *services.InvalidStateTransition
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: title, Message: validation.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: title, Message: notFound.Error()})
	case errors.As(err, &authz):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: title, Message: authz.Error()})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: title, Message: transition.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: title, Message: err.Error()})
	}
}

// parseIDParam reads a numeric path parameter.
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid " + name,
			Message: "must be a valid number",
		})
		return 0, false
	}
	return uint(id), true
}
