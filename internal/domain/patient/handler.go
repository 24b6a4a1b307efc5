package patient

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
	read := api.Group("", auth.RequireRole(auth.RoleReception, auth.RoleDoctor, auth.RoleTherapist))
	read.GET("/patients/:id", h.GetPatient)

	write := api.Group("", auth.RequireRole(auth.RoleReception))
	write.POST("/patients", h.CreatePatient)
	write.PUT("/patients/:id", h.UpdatePatient)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.PUT("/patients/:id/therapy-count", h.OverrideTherapyCount)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = c.Param("id")
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return storeError(err, "patient not found")
	}
	updated, err := h.svc.GetPatient(c.Request().Context(), p.ID)
	if err != nil {
		return storeError(err, "patient not found")
	}
	return c.JSON(http.StatusOK, updated)
}

type therapyCountRequest struct {
	Count *int64 `json:"count"`
}

func (h *Handler) OverrideTherapyCount(c echo.Context) error {
	var req therapyCountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Count == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "count is required")
	}
	id := c.Param("id")
	if err := h.svc.OverrideTherapyCount(c.Request().Context(), id, *req.Count); err != nil {
		return storeError(err, "patient not found")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return storeError(err, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func storeError(err error, notFound string) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
