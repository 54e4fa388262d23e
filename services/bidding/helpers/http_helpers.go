package helpers

import (
	"errors"
	"fmt"
	"net/http"

	"auction-tracker/internal/biddingerrors"
	model "auction-tracker/internal/models"
	"auction-tracker/utils"

	"github.com/gin-gonic/gin"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// HandleServiceError maps err to a response and logs it. Client errors are
// logged as warnings, everything else as errors.
func HandleServiceError(c *gin.Context, handlerName string, err error, ctx map[string]any) {
	status, message := MapErrorToHTTP(err)
	utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)

	if ctx == nil {
		ctx = map[string]any{}
	}
	ctx["handler"] = handlerName
	ctx["error"] = err.Error()
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": request failed", ctx)
		return
	}
	utils.Warn(handlerName+": request rejected", ctx)
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrNoBids):
		return http.StatusNotFound, "no bids found for auction"
	case errors.Is(err, biddingerrors.ErrValidation):
		return http.StatusBadRequest, "invalid request details"
	case errors.Is(err, biddingerrors.ErrAuctionNotOpen):
		return http.StatusConflict, "auction is not open for bidding"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// ParseStatusFilter reads the optional ?status= query value
func ParseStatusFilter(c *gin.Context) (*model.AuctionStatus, error) {
	raw := c.Query("status")
	if raw == "" {
		return nil, nil
	}
	status, ok := model.ParseAuctionStatus(raw)
	if !ok {
		return nil, fmt.Errorf("%w - unknown status %q", biddingerrors.ErrValidation, raw)
	}
	return &status, nil
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
