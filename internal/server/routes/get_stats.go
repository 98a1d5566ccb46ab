package routes

import (
	"errors"
	"net/http"

	"github.com/osintlab/threatgraph/internal/server/middleware"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/store"

	"github.com/labstack/echo/v4"
)

// GetRunStatsHandler returns the consolidation statistics of a run
func GetRunStatsHandler(c echo.Context) error {
	type getStatsParams struct {
		RunID string `param:"id" validate:"required"`
	}

	type getStatsResponse struct {
		Message string `json:"message"`
	}

	params := new(getStatsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getStatsResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getStatsResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	graphStore := c.(*middleware.AppContext).App.Store

	data, err := graphStore.GetStats(ctx, params.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getStatsResponse{
				Message: "Stats not found",
			})
		}
		logger.Error("Failed to get stats", "run_id", params.RunID, "err", err)
		return c.JSON(http.StatusInternalServerError, getStatsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSONBlob(http.StatusOK, data)
}
