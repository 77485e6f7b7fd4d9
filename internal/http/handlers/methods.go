package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v5"

	"github.com/crispab/codekvast-dashboard/internal/http/viewmodels"
	"github.com/crispab/codekvast-dashboard/internal/methods"
	"github.com/crispab/codekvast-dashboard/internal/warehouse"
)

// GetMethodsView serves the current result-set projection.
func (h *Handlers) GetMethodsView(c *echo.Context) error {
	return c.JSON(http.StatusOK, h.Methods.View())
}

// SearchMethods submits a search with the given criteria. Out-of-bounds
// criteria are rejected without touching the result set; a communication
// failure is folded into the view.
func (h *Handlers) SearchMethods(c *echo.Context) error {
	var req viewmodels.SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "undecodable search request")
	}

	h.Methods.SetCriteria(req.Criteria)
	if err := h.Methods.Submit(warehouseContext(c)); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			return echo.NewHTTPError(http.StatusBadRequest, "search criteria out of bounds")
		}
		if handled, herr := h.handleAuthExpired(c, err); handled {
			return herr
		}
		h.Log.Warn("method search failed", "error", err, "request_id", RequestIDFromContext(c))
	}
	return c.JSON(http.StatusOK, h.Methods.View())
}

// SortMethods applies a column selection; repeating the active column flips
// the direction.
func (h *Handlers) SortMethods(c *echo.Context) error {
	var req viewmodels.SortRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "undecodable sort request")
	}
	switch req.Column {
	case methods.SortBySignature, methods.SortByAge, methods.SortByCollectedDays:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown sort column")
	}
	h.Methods.SortBy(req.Column)
	return c.JSON(http.StatusOK, h.Methods.View())
}

// SelectMethod marks one record as selected; a nil id clears the selection.
func (h *Handlers) SelectMethod(c *echo.Context) error {
	var req viewmodels.SelectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "undecodable select request")
	}
	if req.ID == nil {
		h.Methods.ClearSelection()
	} else {
		h.Methods.Select(*req.ID)
	}
	return c.JSON(http.StatusOK, h.Methods.View())
}

// FilterMethods sets one client-side filter; an empty value clears it.
func (h *Handlers) FilterMethods(c *echo.Context) error {
	var req viewmodels.FilterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "undecodable filter request")
	}
	switch req.Field {
	case methods.FilterSignature, methods.FilterApplication, methods.FilterEnvironment:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown filter field")
	}
	h.Methods.SetFilter(req.Field, req.Value)
	return c.JSON(http.StatusOK, h.Methods.View())
}

// GetMethodByID serves the record-by-id detail payload.
func (h *Handlers) GetMethodByID(c *echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed method id")
	}

	detail, err := h.Warehouse.GetMethodByID(warehouseContext(c), id)
	if err != nil {
		if handled, herr := h.handleAuthExpired(c, err); handled {
			return herr
		}
		var failure *warehouse.QueryFailure
		if errors.As(err, &failure) && failure.StatusCode == http.StatusNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "no such method")
		}
		h.Log.Warn("method detail failed", "error", err, "request_id", RequestIDFromContext(c))
		return echo.NewHTTPError(http.StatusBadGateway, "warehouse unavailable")
	}
	return c.JSON(http.StatusOK, detail)
}
