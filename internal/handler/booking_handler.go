package handler

import (
	"errors"
	"io"
	"strconv"

	"github.com/bookwell/service-booking/internal/application"
	"github.com/bookwell/service-booking/pkg/auth"
	"github.com/bookwell/service-booking/pkg/middleware"
	"github.com/bookwell/service-booking/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BookingHandler handles HTTP requests for booking operations.
type BookingHandler struct {
	service *application.BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(service *application.BookingService) *BookingHandler {
	return &BookingHandler{service: service}
}

// RegisterRoutes registers all booking routes on the given router group.
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	bookings := r.Group("/api/v1/bookings")
	bookings.Use(authMW)
	{
		bookings.POST("", middleware.RequireRole(auth.RoleCustomer), h.CreateBooking)
		bookings.GET("", h.ListBookings)
		bookings.GET("/:id", h.GetBooking)
		bookings.GET("/:id/events", h.AllowedEvents)
		bookings.POST("/:id/events/:event", h.SendEvent)
		bookings.GET("/:id/history", h.History)
	}
}

// CreateBooking handles POST /api/v1/bookings.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req application.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateBooking(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Created(c, result)
}

// ListBookings handles GET /api/v1/bookings. Customers see their own bookings, providers the ones assigned to them.
func (h *BookingHandler) ListBookings(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	role, _ := middleware.GetUserRole(c)
	page, limit := parsePagination(c)

	list := h.service.GetCustomerBookings
	if role == auth.RoleProvider {
		list = h.service.GetProviderBookings
	}
	result, err := list(c.Request.Context(), userID, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// GetBooking handles GET /api/v1/bookings/:id.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	bookingID, caller, ok := bookingRequest(c)
	if !ok {
		return
	}

	result, err := h.service.GetBooking(c.Request.Context(), bookingID, caller)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// AllowedEvents handles GET /api/v1/bookings/:id/events.
func (h *BookingHandler) AllowedEvents(c *gin.Context) {
	bookingID, caller, ok := bookingRequest(c)
	if !ok {
		return
	}

	result, err := h.service.AllowedEvents(c.Request.Context(), bookingID, caller)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// SendEvent handles POST /api/v1/bookings/:id/events/:event.
// The body is optional and carries the refund amount or dispute reason.
func (h *BookingHandler) SendEvent(c *gin.Context) {
	bookingID, caller, ok := bookingRequest(c)
	if !ok {
		return
	}

	var req application.SendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, err.Error())
		return
	}
	req.Event = c.Param("event")

	result, err := h.service.SendEvent(c.Request.Context(), bookingID, caller, req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// History handles GET /api/v1/bookings/:id/history.
func (h *BookingHandler) History(c *gin.Context) {
	bookingID, caller, ok := bookingRequest(c)
	if !ok {
		return
	}

	result, err := h.service.History(c.Request.Context(), bookingID, caller)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// bookingRequest parses the booking id and identifies the caller. It writes the error response itself.
func bookingRequest(c *gin.Context) (uuid.UUID, application.Caller, bool) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking ID")
		return uuid.Nil, application.Caller{}, false
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return uuid.Nil, application.Caller{}, false
	}
	role, _ := middleware.GetUserRole(c)

	return bookingID, application.Caller{UserID: userID, Admin: role == auth.RoleAdmin}, true
}

// parsePagination extracts page and limit query parameters with defaults.
func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return page, limit
}
