package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"
)

// GetStatus serves the cached status snapshot with view-time ages.
func (h *Handlers) GetStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, h.Status.View())
}

// RefreshStatus forces a snapshot refresh outside the polling cadence. A
// communication failure is already folded into the view; only an expired
// authentication changes the response shape.
func (h *Handlers) RefreshStatus(c *echo.Context) error {
	if err := h.Status.Refresh(warehouseContext(c)); err != nil {
		if handled, herr := h.handleAuthExpired(c, err); handled {
			return herr
		}
		h.Log.Warn("status refresh failed", "error", err, "request_id", RequestIDFromContext(c))
	}
	return c.JSON(http.StatusOK, h.Status.View())
}
