package appointment

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/docstore"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleReception, auth.RoleDoctor, auth.RoleTherapist))
	staff.GET("/appointments/:id", h.GetAppointment)
	staff.POST("/appointments/:id/complete", h.CompleteAppointment)

	write := api.Group("", auth.RequireRole(auth.RoleReception))
	write.POST("/appointments", h.CreateAppointment)
	write.PUT("/appointments/:id", h.UpdateAppointment)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateAppointment(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.svc.GetAppointment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = c.Param("id")
	if err := h.svc.UpdateAppointment(c.Request().Context(), &a); err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	a, err := h.svc.Complete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func storeError(err error) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
