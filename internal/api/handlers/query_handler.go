package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"koi-auction/internal/domain"
	"koi-auction/internal/querycache"
	"koi-auction/pkg/logger"
)

// QueryHandler serves the dashboard's read-models straight from the query cache.
type QueryHandler struct {
	cache *querycache.Client
	log   logger.Logger
}

func NewQueryHandler(cache *querycache.Client, log logger.Logger) *QueryHandler {
	return &QueryHandler{
		cache: cache,
		log:   log,
	}
}

func (h *QueryHandler) AllAuctions(c echo.Context) error {
	return h.serve(c, domain.AllAuctionsKey())
}

func (h *QueryHandler) KoiData(c echo.Context) error {
	return h.serve(c, domain.KoiDataKey())
}

func (h *QueryHandler) Auction(c echo.Context) error {
	return h.serve(c, domain.AuctionKey(c.Param("id")))
}

func (h *QueryHandler) Koi(c echo.Context) error {
	return h.serve(c, domain.KoiKey(c.Param("id")))
}

func (h *QueryHandler) serve(c echo.Context, key domain.QueryKey) error {
	data, err := h.cache.Query(c.Request().Context(), key)
	if err != nil {
		h.log.Error("Failed to load query", "key", key.String(), "error", err)
		return c.JSON(statusFor(err), map[string]string{"error": domain.ErrorMessage(err, "Failed to load data")})
	}
	return c.JSONBlob(http.StatusOK, data)
}
