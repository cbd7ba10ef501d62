// Package handler exposes the tracking services over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"growth-tracker/backend/internal/failure"
	"growth-tracker/backend/internal/snapshot/domain"
	"growth-tracker/backend/internal/tracking/batch"
	"growth-tracker/backend/internal/tracking/service"
)

// DefaultHistoryDays is used when the history request has no days parameter.
const DefaultHistoryDays = 30

// AccountService is the on-demand side of the tracker.
type AccountService interface {
	Refresh(ctx context.Context, username string) (*service.RefreshResult, error)
	GetHistory(ctx context.Context, username string, days int) ([]service.HistoryPoint, error)
	GetGrowth(ctx context.Context, username string) (*service.GrowthResult, error)
	ListTracked(ctx context.Context) ([]string, error)
}

// BatchRunner runs one batch refresh.
type BatchRunner interface {
	Run(ctx context.Context) (*batch.Result, error)
}

// Handler serves the account and job routes.
type Handler struct {
	accounts AccountService
	runner   BatchRunner
}

// New returns a Handler.
func New(accounts AccountService, runner BatchRunner) *Handler {
	return &Handler{accounts: accounts, runner: runner}
}

// Register mounts the routes on r. trigger guards the scheduled job route.
func (h *Handler) Register(r gin.IRouter, trigger gin.HandlerFunc) {
	jobs := r.Group("/internal/jobs", trigger)
	jobs.POST("/refresh", h.RunBatch)
	jobs.GET("/refresh", h.RunBatch)

	accounts := r.Group("/api/v1/accounts")
	accounts.GET("", h.ListAccounts)
	accounts.POST("/:username/refresh", h.RefreshAccount)
	accounts.GET("/:username/history", h.GetHistory)
	accounts.GET("/:username/growth", h.GetGrowth)
}

// RunBatch runs one batch refresh. The run outlives a disconnected caller; the orchestrator's run timeout bounds it.
func (h *Handler) RunBatch(c *gin.Context) {
	res, err := h.runner.Run(context.WithoutCancel(c.Request.Context()))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, batchResponse{Success: true, Result: res})
	case errors.Is(err, batch.ErrRunInProgress):
		c.AbortWithStatusJSON(http.StatusConflict, errorResponse{Error: err.Error(), Kind: "run_in_progress"})
	case errors.Is(err, batch.ErrProviderUnavailable):
		c.AbortWithStatusJSON(http.StatusBadGateway, batchResponse{Result: res, Error: err.Error()})
	case res != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, batchResponse{Result: res, Error: err.Error()})
	default:
		AbortWithError(c, err)
	}
}

// RefreshAccount fetches, stores and returns the account's current metrics and growth.
func (h *Handler) RefreshAccount(c *gin.Context) {
	res, err := h.accounts.Refresh(c.Request.Context(), c.Param("username"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRefresh(res))
}

// GetHistory returns the account's readings of the last ?days=N days (default 30).
func (h *Handler) GetHistory(c *gin.Context) {
	username := domain.NormalizeUsername(c.Param("username"))
	days := DefaultHistoryDays
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, failure.InvalidInput("history", username, "days must be an integer, got %q", raw))
			return
		}
		days = n
	}
	points, err := h.accounts.GetHistory(c.Request.Context(), username, days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toHistory(username, days, points))
}

// GetGrowth returns growth computed from stored snapshots only.
func (h *Handler) GetGrowth(c *gin.Context) {
	res, err := h.accounts.GetGrowth(c.Request.Context(), c.Param("username"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, growthResponse{
		Username:      res.Username,
		SnapshotCount: res.SnapshotCount,
		IsNewUser:     res.IsNewUser,
		Growth:        toGrowth(res.Growth),
	})
}

// ListAccounts returns every tracked username.
func (h *Handler) ListAccounts(c *gin.Context) {
	usernames, err := h.accounts.ListTracked(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if usernames == nil {
		usernames = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"usernames": usernames})
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
