// internal/api/response_helpers.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/StoryMasterMCP/internal/errors"
)

// APIResponse is the uniform JSON envelope for API endpoints.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError is the uniform error payload.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper writes uniform API responses.
type ResponseHelper struct{}

// NewResponseHelper creates a response helper.
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success writes a 200 envelope.
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(http.StatusOK, response)
}

// Created writes a 201 envelope.
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(http.StatusCreated, response)
}

// Error writes an error envelope with the given status.
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: message,
	}
	if len(details) > 0 {
		apiError.Details = details[0]
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
	})
}

// BadRequest writes a 400 error.
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, "BAD_REQUEST", message, details...)
}

// NotFound writes a 404 error.
func (rh *ResponseHelper) NotFound(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusNotFound, "NOT_FOUND", message, details...)
}

// InternalError writes a 500 error.
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, details...)
}

// HandleServiceError maps AppError types onto HTTP statuses.
func (rh *ResponseHelper) HandleServiceError(c *gin.Context, err error) {
	switch {
	case apperrors.IsValidationError(err):
		rh.BadRequest(c, err.Error())
	case apperrors.IsNotFoundError(err):
		rh.NotFound(c, err.Error())
	case apperrors.IsConflictError(err):
		rh.Error(c, http.StatusConflict, "CONFLICT", err.Error())
	default:
		rh.InternalError(c, err.Error())
	}
}
