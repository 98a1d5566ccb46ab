package routes

import (
	"errors"
	"net/http"

	"github.com/osintlab/threatgraph/internal/server/middleware"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/store"

	"github.com/labstack/echo/v4"
)

// GetRunHandler returns the state of a consolidation run
func GetRunHandler(c echo.Context) error {
	type getRunParams struct {
		RunID string `param:"id" validate:"required"`
	}

	type getRunResponse struct {
		Message string     `json:"message"`
		Run     *store.Run `json:"run,omitempty"`
	}

	params := new(getRunParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getRunResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getRunResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	graphStore := c.(*middleware.AppContext).App.Store

	run, err := graphStore.GetRun(ctx, params.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getRunResponse{
				Message: "Run not found",
			})
		}
		logger.Error("Failed to get run", "run_id", params.RunID, "err", err)
		return c.JSON(http.StatusInternalServerError, getRunResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getRunResponse{
		Message: "Run found",
		Run:     run,
	})
}
