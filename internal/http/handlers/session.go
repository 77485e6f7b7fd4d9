package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/crispab/codekvast-dashboard/internal/age"
	"github.com/crispab/codekvast-dashboard/internal/http/authn"
	"github.com/crispab/codekvast-dashboard/internal/http/viewmodels"
)

// GetSession reports the re-derived login state for this request.
func (h *Handlers) GetSession(c *echo.Context) error {
	state, ok := authn.SessionFromContext(c)
	if !ok {
		return c.JSON(http.StatusOK, viewmodels.SessionView{})
	}

	view := viewmodels.SessionView{LoggedIn: state.IsLoggedIn()}
	if identity, ok := state.Identity(); ok {
		view.Identity = &identity
	}
	if expiresAt, ok := state.ExpiresAtMillis(); ok && expiresAt != 0 {
		view.ExpiresAtMillis = expiresAt
		view.ExpiresIn = age.FormatMillis(expiresAt, time.Now())
	}
	return c.JSON(http.StatusOK, view)
}

// Logout destroys the server-side session and runs the logged-out transition.
func (h *Handlers) Logout(c *echo.Context) error {
	if err := h.Sessions.Destroy(c.Request().Context()); err != nil {
		h.Log.Error("destroying session", "error", err, "request_id", RequestIDFromContext(c))
		return echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
	if state, ok := authn.SessionFromContext(c); ok {
		state.SetLoggedOut()
	}
	return c.NoContent(http.StatusNoContent)
}
