// Package httpapp is the HTTP server wrapper around the dashboard API.
package httpapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/crispab/codekvast-dashboard/internal/http/authn"
	"github.com/crispab/codekvast-dashboard/internal/http/handlers"
	"github.com/crispab/codekvast-dashboard/internal/http/viewmodels"
)

// EchoServer is the HTTP server wrapper.
type EchoServer struct {
	h      *handlers.Handlers
	e      *echo.Echo
	srv    *http.Server
	secure bool
}

// NewEchoServer creates a new HTTP server.
func NewEchoServer(h *handlers.Handlers, secure bool) (*EchoServer, error) {
	e := echo.New()
	e.Logger = h.Log
	es := &EchoServer{h: h, e: e, secure: secure}
	e.HTTPErrorHandler = es.httpErrorHandler
	es.registerRoutes()
	return es, nil
}

func (es *EchoServer) registerRoutes() {
	es.e.Use(handlers.RequestID())
	es.e.GET("/healthz", es.handleHealthz)

	api := es.e.Group("/api")
	api.Use(echo.WrapMiddleware(es.h.Sessions.LoadAndSave))
	api.Use(authn.ResolveSession(es.h.Sessions, es.secure))

	api.GET("/session", es.h.GetSession)
	api.POST("/logout", es.h.Logout)

	authed := api.Group("")
	authed.Use(authn.RequireAuth())
	authed.GET("/status", es.h.GetStatus)
	authed.POST("/status/refresh", es.h.RefreshStatus)
	authed.GET("/poll", es.h.GetPoll)
	authed.POST("/poll", es.h.ConfigurePoll)
	authed.GET("/methods/view", es.h.GetMethodsView)
	authed.POST("/methods/search", es.h.SearchMethods)
	authed.POST("/methods/sort", es.h.SortMethods)
	authed.POST("/methods/select", es.h.SelectMethod)
	authed.POST("/methods/filter", es.h.FilterMethods)
	authed.GET("/methods/:id", es.h.GetMethodByID)
	authed.POST("/agents/select", es.h.SelectAgents)
	authed.POST("/agents/delete", es.h.DeleteAgents)
}

func (es *EchoServer) handleHealthz(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// httpErrorHandler renders errors without leaking internals. Handler-authored
// HTTPError messages pass through; anything else answers a generic payload
// whose reference correlates with the server log line.
func (es *EchoServer) httpErrorHandler(c *echo.Context, err error) {
	if r, _ := echo.UnwrapResponse(c.Response()); r != nil && r.Committed {
		return
	}

	status := httpStatusFromError(err)
	reference := handlers.RequestIDFromContext(c)

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) && status < http.StatusInternalServerError {
		message := httpErr.Message
		if message == "" {
			message = http.StatusText(status)
		}
		_ = c.JSON(status, viewmodels.ErrorResponse{Error: message})
		return
	}

	es.h.Log.Error("request failed",
		slog.String("request_id", reference),
		slog.String("path", c.Request().URL.Path),
		slog.Any("error", err),
	)
	_ = c.JSON(status, viewmodels.ErrorResponse{
		Error:     "Internal server error",
		Reference: reference,
		Code:      handlers.InternalErrorCode,
	})
}

func httpStatusFromError(err error) int {
	var coder echo.HTTPStatusCoder
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}
	return http.StatusInternalServerError
}

// Start starts the HTTP server.
func (es *EchoServer) Start(addr string) error {
	return es.e.Start(addr)
}

// StartServer starts the HTTP server with a custom http.Server.
func (es *EchoServer) StartServer(server *http.Server) error {
	if server.Handler == nil {
		server.Handler = es.e
	}
	es.srv = server
	return server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (es *EchoServer) Shutdown(ctx context.Context) error {
	if es.srv == nil {
		return nil
	}
	return es.srv.Shutdown(ctx)
}
