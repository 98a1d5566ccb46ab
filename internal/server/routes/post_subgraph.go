package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/osintlab/threatgraph/internal/server/middleware"
	"github.com/osintlab/threatgraph/pkg/graph"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/store"

	"github.com/labstack/echo/v4"
)

// ExtractSubgraphHandler extracts the reachable subgraph around a root node
// from a persisted graph view
func ExtractSubgraphHandler(c echo.Context) error {
	type extractSubgraphBody struct {
		RunID        string `param:"id" validate:"required"`
		View         string `json:"view"`
		RootPKey     string `json:"root_pkey"`
		RootContains string `json:"root_contains"`
		MaxHops      int    `json:"max_hops"`
	}

	type extractSubgraphResponse struct {
		Message  string             `json:"message"`
		Subgraph *graph.SimpleGraph `json:"subgraph,omitempty"`
		Stats    *graph.GraphStats  `json:"stats,omitempty"`
	}

	data := new(extractSubgraphBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, extractSubgraphResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, extractSubgraphResponse{
			Message: "Invalid request body",
		})
	}
	if data.RootPKey == "" && data.RootContains == "" {
		return c.JSON(http.StatusBadRequest, extractSubgraphResponse{
			Message: "Either root_pkey or root_contains is required",
		})
	}

	view := store.GraphView(data.View)
	if data.View == "" {
		view = store.GraphViewSimple
	}
	if !store.ValidView(view) {
		return c.JSON(http.StatusBadRequest, extractSubgraphResponse{
			Message: "Invalid graph view",
		})
	}

	ctx := c.Request().Context()
	graphStore := c.(*middleware.AppContext).App.Store

	raw, err := graphStore.GetGraph(ctx, data.RunID, view)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, extractSubgraphResponse{
				Message: "Graph not found",
			})
		}
		logger.Error("Failed to get graph", "run_id", data.RunID, "view", view, "err", err)
		return c.JSON(http.StatusInternalServerError, extractSubgraphResponse{
			Message: "Internal server error",
		})
	}

	sg := graph.NewSimpleGraph()
	if err := json.Unmarshal(raw, sg); err != nil {
		logger.Error("Failed to parse stored graph", "run_id", data.RunID, "view", view, "err", err)
		return c.JSON(http.StatusInternalServerError, extractSubgraphResponse{
			Message: "Internal server error",
		})
	}

	rootPredicate := graph.RootByPKey(data.RootPKey)
	if data.RootPKey == "" {
		rootPredicate = graph.RootContains(data.RootContains)
	}

	subgraph := graph.ExtractReachable(sg, rootPredicate, data.MaxHops)
	stats := subgraph.Stats()

	return c.JSON(http.StatusOK, extractSubgraphResponse{
		Message:  "Subgraph extracted successfully",
		Subgraph: subgraph,
		Stats:    &stats,
	})
}
