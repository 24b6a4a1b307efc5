package directory

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/listings", auth.RequireRole(auth.RoleReception, auth.RoleDoctor, auth.RoleTherapist))
	g.POST("", h.Open)
	g.GET("/:id", h.Get)
	g.GET("/:id/page", h.Page)
	g.PUT("/:id/filters", h.SetFilters)
	g.PUT("/:id/search", h.SetSearch)
	g.DELETE("/:id", h.Close)
}

type openRequest struct {
	Listing string  `json:"listing"`
	Filters Filters `json:"filters"`
}

type searchRequest struct {
	Text string `json:"text"`
}

func (h *Handler) Open(c echo.Context) error {
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	s, v, err := h.registry.Open(ctx, req.Listing, auth.UserIDFromContext(ctx), auth.RoleFromContext(ctx), req.Filters)
	if s == nil {
		return listingError(err)
	}
	return viewResponse(c, http.StatusCreated, v, err)
}

func (h *Handler) Get(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) Page(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	dir, err := ParseDirection(c.QueryParam("direction"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := s.Navigate(c.Request().Context(), dir)
	return viewResponse(c, http.StatusOK, v, err)
}

func (h *Handler) SetFilters(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var filters Filters
	if err := c.Bind(&filters); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := s.SetFilters(c.Request().Context(), filters)
	if errors.Is(err, ErrUnknownFilter) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return viewResponse(c, http.StatusOK, v, err)
}

// SetSearch accepts the typed text and answers immediately. The filtered page
// is pushed on the session topic and served by Get once the debounce period
// has passed.
func (h *Handler) SetSearch(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := s.SetSearch(req.Text)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, v)
}

func (h *Handler) Close(c echo.Context) error {
	if err := h.registry.Close(c.Param("id"), auth.UserIDFromContext(c.Request().Context())); err != nil {
		return listingError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) session(c echo.Context) (*Session, error) {
	s, err := h.registry.Get(c.Param("id"), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return nil, listingError(err)
	}
	return s, nil
}

// viewResponse renders the view even when the query failed, so clients see
// the cleared page and the error instead of a bare status.
func viewResponse(c echo.Context, status int, v SessionView, err error) error {
	if err != nil {
		if errors.Is(err, ErrSearchUnsupported) || errors.Is(err, ErrUnknownFilter) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusServiceUnavailable, v)
	}
	return c.JSON(status, v)
}

func listingError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownListing), errors.Is(err, ErrUnknownFilter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
