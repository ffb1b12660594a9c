package handlers

import (
	"github.com/labstack/echo/v4"

	"koi-auction/internal/api/middleware"
)

// RegisterRoutes mounts the dashboard API on api. Reads and koi edits are open
// to staff; auction mutations and saga operations need an admin.
func RegisterRoutes(api *echo.Group, jwtSecret string, q *QueryHandler, m *MutationHandler, s *SagaHandler) {
	api.Use(middleware.JWTAuth(jwtSecret))

	staff := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleStaff)
	api.GET("/queries/all-auctions", q.AllAuctions, staff)
	api.GET("/queries/koi-data", q.KoiData, staff)
	api.GET("/auctions/:id", q.Auction, staff)
	api.GET("/koi/:id", q.Koi, staff)
	api.GET("/mutations/:id", m.GetMutation, staff)
	api.PATCH("/koi/:id/status", m.UpdateKoiStatus, staff)

	admin := middleware.RequireRole(middleware.RoleAdmin)
	api.POST("/auctions/:id/cancel", m.CancelAuction, admin)
	api.DELETE("/auctions/:id", m.DeleteAuction, admin)
	api.POST("/auctions/:id/publish", m.PublishAuction, admin)
	api.POST("/auctions/:id/verify-winner", m.VerifyWinner, admin)
	api.GET("/sagas", s.ListSagas, admin)
	api.GET("/sagas/:id", s.GetSaga, admin)
	api.POST("/sagas/repair", s.Repair, admin)
}
