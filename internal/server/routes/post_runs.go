package routes

import (
	"encoding/json"
	"net/http"

	"github.com/osintlab/threatgraph/internal/queue"
	"github.com/osintlab/threatgraph/internal/server/middleware"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/store"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// CreateRunHandler creates a consolidation run and enqueues it
func CreateRunHandler(c echo.Context) error {
	type createRunBody struct {
		ArtifactKey string `json:"artifact_key" validate:"required"`
		Enhance     bool   `json:"enhance"`
	}

	type createRunResponse struct {
		Message string     `json:"message"`
		Run     *store.Run `json:"run,omitempty"`
	}

	data := new(createRunBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createRunResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createRunResponse{
			Message: "Invalid request body",
		})
	}

	runID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}

	ctx := c.Request().Context()
	graphStore := c.(*middleware.AppContext).App.Store

	run := &store.Run{
		ID:          runID,
		ArtifactKey: data.ArtifactKey,
		Status:      store.RunStatusPending,
		Enhance:     data.Enhance,
	}
	if err := graphStore.CreateRun(ctx, run); err != nil {
		logger.Error("Failed to create run", "err", err)
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}

	msg, err := json.Marshal(queue.ConsolidateMessage{
		RunID:       run.ID,
		ArtifactKey: run.ArtifactKey,
		Enhance:     run.Enhance,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}

	ch := c.(*middleware.AppContext).App.Queue
	if err := queue.PublishFIFO(ch, queue.ConsolidateQueue, msg); err != nil {
		logger.Error("Failed to publish to consolidate_queue", "err", err)
		if updateErr := graphStore.UpdateRunStatus(ctx, run.ID, store.RunStatusFailed, "failed to enqueue run"); updateErr != nil {
			logger.Warn("Failed to mark run as failed", "run_id", run.ID, "err", updateErr)
		}
		return c.JSON(http.StatusInternalServerError, createRunResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, createRunResponse{
		Message: "Run created successfully",
		Run:     run,
	})
}
