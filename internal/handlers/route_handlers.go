package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"senderos_booking/internal/services"
)

type RouteHandler struct {
	routes services.RouteStore
}

func NewRouteHandler(routes services.RouteStore) *RouteHandler {
	return &RouteHandler{routes: routes}
}

// ListRoutes handles GET /api/routes with pagination and optional filters.
// Inactive routes are hidden unless is_active is passed explicitly.
func (h *RouteHandler) ListRoutes(c echo.Context) error {
	page := 1
	if p, err := strconv.Atoi(c.QueryParam("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20
	if ps, err := strconv.Atoi(c.QueryParam("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}

	var requiresPayment, isActive *bool
	if v := c.QueryParam("requires_payment"); v != "" {
		b := v == "true"
		requiresPayment = &b
	}
	if v := c.QueryParam("is_active"); v != "" {
		b := v == "true"
		isActive = &b
	}

	routes, total, err := h.routes.List(c.Request().Context(), page, pageSize, requiresPayment, isActive)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":   total,
		"page":    page,
		"results": routes,
	})
}

// GetRoute handles GET /api/routes/:id.
func (h *RouteHandler) GetRoute(c echo.Context) error {
	route, err := h.routes.FindByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, route)
}

// GetAvailability handles GET /api/routes/:id/availability?date=YYYY-MM-DD.
// The record is created lazily, seeded with the route's max capacity.
func (h *RouteHandler) GetAvailability(c echo.Context) error {
	route, err := h.routes.FindByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}

	date, err := time.Parse("2006-01-02", c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "formato de fecha inválido, use YYYY-MM-DD")
	}

	availability, err := h.routes.GetOrCreateAvailability(c.Request().Context(), route, date)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"route_id":        route.ID,
		"date":            availability.Date.Format("2006-01-02"),
		"available_slots": availability.AvailableSlots,
		"is_available":    availability.IsAvailable,
	})
}
