// File: internal/api/response.go
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xkilldash9x/arborist/internal/attacktree"
)

// APIError is the body of every error response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps APIError.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// respondGraphError maps graph sentinel errors onto HTTP statuses.
func respondGraphError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attacktree.ErrNodeNotFound), errors.Is(err, attacktree.ErrLinkNotFound):
		respondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, attacktree.ErrInvalidLink), errors.Is(err, attacktree.ErrEmptyLabel):
		respondError(c, http.StatusBadRequest, "invalid", err)
	default:
		respondError(c, http.StatusInternalServerError, "internal", err)
	}
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func healthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
