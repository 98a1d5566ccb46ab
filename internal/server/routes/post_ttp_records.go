package routes

import (
	"net/http"

	"github.com/osintlab/threatgraph/internal/server/middleware"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/search"
	searchpgx "github.com/osintlab/threatgraph/pkg/search/pgx"

	"github.com/labstack/echo/v4"
)

// IndexTTPRecordsHandler embeds and stores TTP knowledge-base records
func IndexTTPRecordsHandler(c echo.Context) error {
	type indexRecordsBody struct {
		Records []search.TTPRecord `json:"records" validate:"required,min=1,dive"`
	}

	type indexRecordsResponse struct {
		Message string `json:"message"`
		Indexed int    `json:"indexed"`
		Total   int64  `json:"total,omitempty"`
	}

	data := new(indexRecordsBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, indexRecordsResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, indexRecordsResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	searcher, err := searchpgx.NewGraphDBSearcher(app.DBConn, app.AiClient)
	if err != nil {
		logger.Error("Failed to create searcher", "err", err)
		return c.JSON(http.StatusInternalServerError, indexRecordsResponse{
			Message: "Internal server error",
		})
	}

	indexed, err := searcher.IndexRecords(ctx, data.Records)
	if err != nil {
		logger.Error("Failed to index TTP records", "indexed", indexed, "err", err)
		return c.JSON(http.StatusInternalServerError, indexRecordsResponse{
			Message: "Internal server error",
			Indexed: indexed,
		})
	}

	total, err := searcher.CountRecords(ctx)
	if err != nil {
		logger.Warn("Failed to count TTP records", "err", err)
	}

	return c.JSON(http.StatusOK, indexRecordsResponse{
		Message: "Records indexed successfully",
		Indexed: indexed,
		Total:   total,
	})
}
