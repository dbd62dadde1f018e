package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/bookwell/service-booking/internal/application"
	"github.com/bookwell/service-booking/pkg/auth"
	"github.com/bookwell/service-booking/pkg/middleware"
	"github.com/bookwell/service-booking/pkg/response"
)

// Sweeper runs one expiry pass on demand.
type Sweeper interface {
	SweepOnce(ctx context.Context) (application.SweepReport, error)
}

// OutboxStats reports deferred side effects by status.
type OutboxStats interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// AdminBookingHandler handles admin HTTP requests for booking management.
type AdminBookingHandler struct {
	service *application.BookingService
	sweeper Sweeper
	outbox  OutboxStats
}

// NewAdminBookingHandler creates a new AdminBookingHandler.
func NewAdminBookingHandler(service *application.BookingService, sweeper Sweeper, outbox OutboxStats) *AdminBookingHandler {
	return &AdminBookingHandler{service: service, sweeper: sweeper, outbox: outbox}
}

// RegisterRoutes registers admin booking routes.
func (h *AdminBookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	admin := r.Group("/api/v1/admin")
	admin.Use(authMW, adminRole)
	{
		admin.GET("/bookings", h.ListBookings)
		admin.GET("/stats/bookings", h.BookingStats)
		admin.GET("/stats/outbox", h.OutboxStats)
		admin.POST("/sweeps", h.Sweep)
	}
}

// ListBookings handles GET /api/v1/admin/bookings.
func (h *AdminBookingHandler) ListBookings(c *gin.Context) {
	page, limit := parsePagination(c)

	bookings, total, err := h.service.ListAllBookings(c.Request.Context(), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, bookings, total, page, limit)
}

// BookingStats handles GET /api/v1/admin/stats/bookings.
func (h *AdminBookingHandler) BookingStats(c *gin.Context) {
	stats, err := h.service.GetBookingStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}

// OutboxStats handles GET /api/v1/admin/stats/outbox.
func (h *AdminBookingHandler) OutboxStats(c *gin.Context) {
	counts, err := h.outbox.CountByStatus(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, counts)
}

// Sweep handles POST /api/v1/admin/sweeps and runs one expiry pass immediately.
func (h *AdminBookingHandler) Sweep(c *gin.Context) {
	report, err := h.sweeper.SweepOnce(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, report)
}
