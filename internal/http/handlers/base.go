// Package handlers implements the dashboard's JSON API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/crispab/codekvast-dashboard/internal/http/authn"
	"github.com/crispab/codekvast-dashboard/internal/http/viewmodels"
	"github.com/crispab/codekvast-dashboard/internal/methods"
	"github.com/crispab/codekvast-dashboard/internal/poll"
	"github.com/crispab/codekvast-dashboard/internal/session"
	"github.com/crispab/codekvast-dashboard/internal/status"
	"github.com/crispab/codekvast-dashboard/internal/warehouse"
)

const (
	// ContextKeyRequestID stores the per-request correlation id.
	ContextKeyRequestID = "request_id"
	// HeaderRequestID echoes the correlation id back to the caller.
	HeaderRequestID = "X-Request-Id"
	// InternalErrorCode is the machine-readable code for unexpected failures.
	InternalErrorCode = "INTERNAL_ERROR"
)

// Handlers carries the API's collaborators.
type Handlers struct {
	Log          *slog.Logger
	Sessions     *scs.SessionManager
	Warehouse    *warehouse.Client
	Status       *status.Cache
	Methods      *methods.Controller
	StatusPoller *poll.Poller
}

// New builds Handlers. A nil logger falls back to slog.Default.
func New(log *slog.Logger, sessions *scs.SessionManager, wh *warehouse.Client, st *status.Cache, mc *methods.Controller, poller *poll.Poller) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		Log:          log,
		Sessions:     sessions,
		Warehouse:    wh,
		Status:       st,
		Methods:      mc,
		StatusPoller: poller,
	}
}

// RequestID assigns a correlation id to every request and echoes it in the
// response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(ContextKeyRequestID, id)
			c.Response().Header().Set(HeaderRequestID, id)
			return next(c)
		}
	}
}

// RequestIDFromContext returns the request's correlation id, if assigned.
func RequestIDFromContext(c *echo.Context) string {
	id, _ := c.Get(ContextKeyRequestID).(string)
	return id
}

// warehouseContext returns the request context carrying the caller's bearer
// token, so the shared warehouse client acts on behalf of this session.
func warehouseContext(c *echo.Context) context.Context {
	ctx := c.Request().Context()
	cookie, err := c.Cookie(session.TokenCookie)
	if err != nil || cookie == nil || cookie.Value == "" {
		return ctx
	}
	return warehouse.ContextWithToken(ctx, cookie.Value)
}

// handleAuthExpired runs the forced-logout transition for a 401/403 from the
// warehouse and answers 401. Returns false when err is not an auth expiry.
func (h *Handlers) handleAuthExpired(c *echo.Context, err error) (bool, error) {
	if !errors.Is(err, warehouse.ErrAuthExpired) {
		return false, nil
	}
	if state, ok := authn.SessionFromContext(c); ok {
		state.SetLoggedOut()
	}
	h.Log.Warn("warehouse authentication expired", "request_id", RequestIDFromContext(c))
	return true, c.JSON(http.StatusUnauthorized, viewmodels.ErrorResponse{Error: "authentication expired"})
}
