// README: Base handler utilities (JSON helpers, error mapping, request validation).
package handlers

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"dropmart/internal/http/middleware"
	"dropmart/internal/modules/allocation"
	"dropmart/internal/modules/inventory"
	"dropmart/internal/modules/order"
	"dropmart/internal/modules/pickup"
	"dropmart/internal/modules/transfer"
	"dropmart/internal/types"
)

type errorResponse struct {
	Error     string         `json:"error"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

var pinPattern = regexp.MustCompile(`^[0-9]{4,6}$`)

// RegisterValidators adds the custom binding tags used by request bodies.
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("pin", func(fl validator.FieldLevel) bool {
		return pinPattern.MatchString(fl.Field().String())
	})
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeDomainError maps service errors to status codes. Anything unknown is
// logged and answered with a generic 500.
func writeDomainError(c *gin.Context, log *zap.Logger, err error) {
	var stock *inventory.InsufficientStockError
	var illegal *order.IllegalTransitionError
	switch {
	case errors.As(err, &stock):
		writeJSON(c, http.StatusConflict, errorResponse{
			Error:   "insufficient stock",
			Details: map[string]any{"productId": stock.ProductID},
		})
	case errors.As(err, &illegal):
		writeJSON(c, http.StatusConflict, errorResponse{
			Error:   "illegal transition",
			Details: map[string]any{"from": illegal.From, "to": illegal.To, "role": illegal.Role},
		})
	case errors.Is(err, pickup.ErrVerificationFailed):
		writeError(c, http.StatusForbidden, "verification failed")
	case errors.Is(err, order.ErrForbidden):
		writeError(c, http.StatusForbidden, "forbidden")
	case errors.Is(err, types.ErrNotFound):
		writeError(c, http.StatusNotFound, "not found")
	case errors.Is(err, types.ErrConflict):
		writeJSON(c, http.StatusConflict, errorResponse{Error: "concurrent update, retry", Retryable: true})
	case errors.Is(err, order.ErrPickupRequiresVerification),
		errors.Is(err, order.ErrPickupIncomplete),
		errors.Is(err, order.ErrInvalidPayment),
		errors.Is(err, transfer.ErrIllegalStatus):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrBadRequest),
		errors.Is(err, inventory.ErrInvalidEntry),
		errors.Is(err, allocation.ErrEmptyCart),
		errors.Is(err, allocation.ErrInvalidQuantity):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		log.Error("[HTTP] unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func caller(c *gin.Context) (types.ID, order.Role) {
	return types.ID(middleware.CallerUID(c)), order.Role(middleware.CallerRole(c))
}

// ownsStore reports whether the caller may act for storeID. Vendor accounts
// are keyed by their store id.
func ownsStore(c *gin.Context, storeID types.ID) bool {
	uid, role := caller(c)
	return role == order.RoleAdmin || (role == order.RoleVendor && uid == storeID)
}
