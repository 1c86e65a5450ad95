package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/importer"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/orders"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

// writeJSON writes the response envelope with statusCode.
func writeJSON(c *gin.Context, statusCode int, response models.APIResponse) {
	c.JSON(statusCode, response)
}

// abortJSON writes an error envelope and stops the handler chain.
func abortJSON(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, models.Error(message))
}

// mapErrorToStatus translates domain errors to HTTP status codes.
func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInvalidProduct),
		errors.Is(err, orders.ErrInvalidOrder),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, orders.ErrEmptyOrder),
		errors.Is(err, importer.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the mapped status. Internal errors are not echoed.
func writeError(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	writeJSON(c, status, models.Error(msg))
}
