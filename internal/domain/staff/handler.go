package staff

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

// RegisterRoutes mounts the staff endpoints. Accounts are managed by admins
// only and are never deleted.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/users", h.CreateUser)
	admin.GET("/users/:id", h.GetUser)
	admin.PUT("/users/:id", h.UpdateUser)
	admin.POST("/users/:id/deactivate", h.DeactivateUser)
	admin.POST("/users/:id/reactivate", h.ReactivateUser)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var u User
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateUser(c.Request().Context(), &u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetUser(c echo.Context) error {
	u, err := h.svc.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	var u User
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u.ID = c.Param("id")
	if err := h.svc.UpdateUser(c.Request().Context(), &u); err != nil {
		return storeError(err)
	}
	return h.GetUser(c)
}

func (h *Handler) DeactivateUser(c echo.Context) error {
	if err := h.svc.DeactivateUser(c.Request().Context(), c.Param("id")); err != nil {
		return storeError(err)
	}
	return h.GetUser(c)
}

func (h *Handler) ReactivateUser(c echo.Context) error {
	if err := h.svc.ReactivateUser(c.Request().Context(), c.Param("id")); err != nil {
		return storeError(err)
	}
	return h.GetUser(c)
}

func storeError(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
