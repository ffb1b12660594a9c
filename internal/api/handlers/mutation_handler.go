package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"koi-auction/internal/api/middleware"
	"koi-auction/internal/domain"
	"koi-auction/internal/services"
	"koi-auction/pkg/logger"
)

// Flows is the set of admin mutations exposed over HTTP.
type Flows interface {
	CancelAuction(ctx context.Context, actor, auctionID string) (*services.Result, error)
	DeleteAuction(ctx context.Context, actor, auctionID string) (*services.Result, error)
	PublishAuction(ctx context.Context, actor, auctionID string) (*services.Result, error)
	VerifyWinner(ctx context.Context, actor, auctionID string) (*services.Result, error)
	UpdateKoiStatus(ctx context.Context, actor, koiID string, status domain.KoiStatus) (*services.Result, error)
}

type MutationHandler struct {
	flows  Flows
	phases *services.PhaseRegistry
	log    logger.Logger
}

type UpdateKoiStatusRequest struct {
	Status domain.KoiStatus `json:"status"`
}

func NewMutationHandler(flows Flows, phases *services.PhaseRegistry, log logger.Logger) *MutationHandler {
	return &MutationHandler{
		flows:  flows,
		phases: phases,
		log:    log,
	}
}

func (h *MutationHandler) CancelAuction(c echo.Context) error {
	res, err := h.flows.CancelAuction(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	return h.respond(c, "cancel_auction", res, err)
}

func (h *MutationHandler) DeleteAuction(c echo.Context) error {
	res, err := h.flows.DeleteAuction(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	return h.respond(c, "delete_auction", res, err)
}

func (h *MutationHandler) PublishAuction(c echo.Context) error {
	res, err := h.flows.PublishAuction(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	return h.respond(c, "publish_auction", res, err)
}

func (h *MutationHandler) VerifyWinner(c echo.Context) error {
	res, err := h.flows.VerifyWinner(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	return h.respond(c, "verify_winner", res, err)
}

func (h *MutationHandler) UpdateKoiStatus(c echo.Context) error {
	var req UpdateKoiStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	res, err := h.flows.UpdateKoiStatus(c.Request().Context(), middleware.UserID(c), c.Param("id"), req.Status)
	return h.respond(c, "update_koi_status", res, err)
}

// GetMutation reports the latest phase of a recent mutation.
func (h *MutationHandler) GetMutation(c echo.Context) error {
	status, ok := h.phases.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Mutation not found"})
	}
	return c.JSON(http.StatusOK, status)
}

func (h *MutationHandler) respond(c echo.Context, flow string, res *services.Result, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, res)
	}

	h.log.Warn("Mutation failed", "flow", flow, "user_id", middleware.UserID(c), "error", err)
	body := map[string]string{"error": domain.ErrorMessage(err, "Mutation failed")}
	if res != nil {
		body["error"] = res.Message
		body["mutation_id"] = res.MutationID
		body["outcome"] = string(res.Outcome)
		if res.SagaID != "" {
			body["saga_id"] = res.SagaID
		}
	}
	return c.JSON(statusFor(err), body)
}
