package server

import (
	"github.com/osintlab/threatgraph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Consolidation run routes
	apiRoutes.POST("/runs", routes.CreateRunHandler)
	apiRoutes.GET("/runs/:id", routes.GetRunHandler)
	apiRoutes.GET("/runs/:id/graph", routes.GetRunGraphHandler)
	apiRoutes.GET("/runs/:id/stats", routes.GetRunStatsHandler)
	apiRoutes.POST("/runs/:id/subgraph", routes.ExtractSubgraphHandler)

	// TTP knowledge base routes
	apiRoutes.POST("/ttp/records", routes.IndexTTPRecordsHandler)
}
