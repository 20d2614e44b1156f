package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/chat"
	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/store"
	"github.com/tunogya/tkg/pkg/window"
)

// APIResponse is the envelope of every JSON reply
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected request field
type ValidationError struct {
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ListDataResponse wraps a list with its size
type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
}

// DataResponse writes data under the given status
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// SuccessResponse writes a 200 reply
func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// ListResponse writes a list reply
func ListResponse(c echo.Context, rows interface{}, total int) error {
	return SuccessResponse(c, &ListDataResponse{Rows: rows, Total: int64(total)})
}

// BadRequestResponse writes a 400 reply
func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// ErrorResponse maps a domain error to its status and writes it
func ErrorResponse(c echo.Context, err error) error {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		return DataResponse(c, status, "Something went wrong")
	}
	return DataResponse(c, status, []ValidationError{{
		Code:    codeOf(status),
		Message: err.Error(),
	}})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, window.ErrNoChain),
		errors.Is(err, window.ErrSuperseded),
		errors.Is(err, enrich.ErrInFlight),
		errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, enrich.ErrNoProgress):
		return http.StatusUnprocessableEntity
	case errors.Is(err, chat.ErrEmptyQuestion), errors.Is(err, errBadInput):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNoModel), errors.Is(err, app.ErrNoIndex):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeOf(status int) string {
	switch status {
	case http.StatusNotFound:
		return "ERR_NOT_FOUND"
	case http.StatusConflict:
		return "ERR_CONFLICT"
	case http.StatusUnprocessableEntity:
		return "ERR_NO_PROGRESS"
	case http.StatusServiceUnavailable:
		return "ERR_UNAVAILABLE"
	default:
		return "ERR_BAD_REQUEST"
	}
}
