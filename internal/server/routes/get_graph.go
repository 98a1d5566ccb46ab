package routes

import (
	"errors"
	"net/http"

	"github.com/osintlab/threatgraph/internal/server/middleware"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/store"

	"github.com/labstack/echo/v4"
)

// GetRunGraphHandler returns one persisted graph view of a completed run
func GetRunGraphHandler(c echo.Context) error {
	type getGraphParams struct {
		RunID string `param:"id" validate:"required"`
		View  string `query:"view"`
	}

	type getGraphResponse struct {
		Message string `json:"message"`
	}

	params := new(getGraphParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getGraphResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getGraphResponse{
			Message: "Invalid request body",
		})
	}

	view := store.GraphView(params.View)
	if params.View == "" {
		view = store.GraphViewSimple
	}
	if !store.ValidView(view) {
		return c.JSON(http.StatusBadRequest, getGraphResponse{
			Message: "Invalid graph view",
		})
	}

	ctx := c.Request().Context()
	graphStore := c.(*middleware.AppContext).App.Store

	data, err := graphStore.GetGraph(ctx, params.RunID, view)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getGraphResponse{
				Message: "Graph not found",
			})
		}
		logger.Error("Failed to get graph", "run_id", params.RunID, "view", view, "err", err)
		return c.JSON(http.StatusInternalServerError, getGraphResponse{
			Message: "Internal server error",
		})
	}

	return c.JSONBlob(http.StatusOK, data)
}
