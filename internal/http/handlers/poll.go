package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/crispab/codekvast-dashboard/internal/http/viewmodels"
)

// GetPoll reports the status poller's state.
func (h *Handlers) GetPoll(c *echo.Context) error {
	return c.JSON(http.StatusOK, h.pollView())
}

// ConfigurePoll starts, stops, or re-paces the status poller. Changing the
// interval restarts the cycle, so the next refresh happens immediately.
func (h *Handlers) ConfigurePoll(c *echo.Context) error {
	var req viewmodels.PollRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "undecodable poll request")
	}

	if req.IntervalSeconds != nil {
		if *req.IntervalSeconds <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "intervalSeconds must be positive")
		}
		h.StatusPoller.SetInterval(time.Duration(*req.IntervalSeconds) * time.Second)
	}
	if req.Active != nil {
		if *req.Active {
			h.StatusPoller.Start()
		} else {
			h.StatusPoller.Stop()
		}
	}
	return c.JSON(http.StatusOK, h.pollView())
}

func (h *Handlers) pollView() viewmodels.PollView {
	return viewmodels.PollView{
		Active:          h.StatusPoller.Active(),
		IntervalSeconds: int(h.StatusPoller.Interval() / time.Second),
		TickCount:       h.StatusPoller.TickCount(),
	}
}
