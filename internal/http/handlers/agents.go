package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/crispab/codekvast-dashboard/internal/http/viewmodels"
)

// SelectAgents replaces the agent selection with the given ids. Ids not in
// the current snapshot are ignored.
func (h *Handlers) SelectAgents(c *echo.Context) error {
	var req viewmodels.DeleteAgentsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "undecodable selection request")
	}
	h.Status.ClearAgentSelection()
	for _, id := range req.IDs {
		h.Status.SelectAgent(id, true)
	}
	return c.JSON(http.StatusOK, h.Status.View())
}

// DeleteAgents deletes the named agent records, or the current selection when
// the request names none, then refreshes the snapshot.
func (h *Handlers) DeleteAgents(c *echo.Context) error {
	var req viewmodels.DeleteAgentsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "undecodable delete request")
	}

	ids := req.IDs
	if len(ids) == 0 {
		ids = h.Status.SelectedAgentIDs()
	}
	if len(ids) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no agents selected")
	}

	ctx := warehouseContext(c)
	if err := h.Warehouse.DeleteAgents(ctx, ids); err != nil {
		if handled, herr := h.handleAuthExpired(c, err); handled {
			return herr
		}
		h.Log.Warn("agent delete failed", "error", err, "request_id", RequestIDFromContext(c))
		return echo.NewHTTPError(http.StatusBadGateway, "warehouse unavailable")
	}

	h.Status.ClearAgentSelection()
	if err := h.Status.Refresh(ctx); err != nil {
		h.Log.Warn("status refresh after delete failed", "error", err, "request_id", RequestIDFromContext(c))
	}
	return c.JSON(http.StatusOK, h.Status.View())
}
