package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-backup/internal/domain"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
	"github.com/kurihiro0119/github-backup/internal/storage"
)

// DefaultRunLimit caps GET /api/v1/runs when no limit is given
const DefaultRunLimit = 20

// Handler handles API requests
type Handler struct {
	store storage.Storage
}

// NewHandler creates a new API handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		store: store,
	}
}

// GetRuns returns the most recent backup runs
// GET /api/v1/runs?limit=20
func (h *Handler) GetRuns(c *gin.Context) {
	limit := parseIntQuery(c, "limit", DefaultRunLimit)

	runs, err := h.store.GetRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetRun returns one backup run
// GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}

// GetRunTasks returns the task results of one backup run
// GET /api/v1/runs/:id/tasks?state=failed
func (h *Handler) GetRunTasks(c *gin.Context) {
	id := c.Param("id")
	state := domain.TaskState(c.Query("state"))
	if state != "" && !state.IsTerminal() {
		respondError(c, apperrors.NewBadRequestError(fmt.Sprintf("unknown task state %q: use completed or failed", state)))
		return
	}

	if _, err := h.store.GetRun(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	results, err := h.store.GetTaskResults(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	if state != "" {
		filtered := make([]domain.TaskResult, 0, len(results))
		for _, r := range results {
			if r.State == state {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"data": results,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
