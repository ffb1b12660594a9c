package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"koi-auction/internal/domain"
	"koi-auction/internal/saga"
	"koi-auction/internal/services"
	"koi-auction/pkg/logger"
)

type Repairer interface {
	RunOnce(ctx context.Context) (*services.RepairReport, error)
}

// SagaHandler exposes the saga log and lets an operator force a repair pass.
type SagaHandler struct {
	store  saga.LogStore
	repair Repairer
	log    logger.Logger
}

func NewSagaHandler(store saga.LogStore, repair Repairer, log logger.Logger) *SagaHandler {
	return &SagaHandler{
		store:  store,
		repair: repair,
		log:    log,
	}
}

func (h *SagaHandler) ListSagas(c echo.Context) error {
	state := saga.State(c.QueryParam("state"))
	if state != "" && !state.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unknown saga state"})
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	runs, err := h.store.ListRuns(c.Request().Context(), state, limit)
	if err != nil {
		h.log.Error("Failed to list saga runs", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list sagas"})
	}
	if runs == nil {
		runs = []*saga.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *SagaHandler) GetSaga(c echo.Context) error {
	run, err := h.store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(statusFor(err), map[string]string{"error": domain.ErrorMessage(err, "Failed to load saga")})
	}
	return c.JSON(http.StatusOK, run)
}

func (h *SagaHandler) Repair(c echo.Context) error {
	report, err := h.repair.RunOnce(c.Request().Context())
	if err != nil {
		h.log.Error("Manual repair pass failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Repair failed"})
	}
	return c.JSON(http.StatusOK, report)
}
