package directory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/docstore/memstore"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	seedPatients(store, 10)
	return NewHandler(newTestRegistry(store)), echo.New(), store
}

func asUser(req *http.Request, id, role string) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), id, role))
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) SessionView {
	t.Helper()
	var v SessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func openPatients(t *testing.T, h *Handler, e *echo.Echo) SessionView {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"listing":"patients"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(req, "u1", auth.RoleReception), rec)

	if err := h.Open(c); err != nil {
		t.Fatalf("open: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	return decodeView(t, rec)
}

func TestHandler_OpenAndPage(t *testing.T) {
	h, e, _ := newTestHandler(t)
	opened := openPatients(t, h, e)
	if opened.ID == "" || len(opened.Items) != 7 || opened.IsLastPage {
		t.Fatalf("unexpected opened view %+v", opened)
	}

	req := httptest.NewRequest(http.MethodGet, "/?direction=next", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(req, "u1", auth.RoleReception), rec)
	c.SetParamNames("id")
	c.SetParamValues(opened.ID)

	if err := h.Page(c); err != nil {
		t.Fatalf("page: %v", err)
	}
	v := decodeView(t, rec)
	if v.Page != 2 || len(v.Items) != 3 || !v.IsLastPage {
		t.Errorf("unexpected page 2 %+v", v)
	}
}

func TestHandler_PageInvalidDirection(t *testing.T) {
	h, e, _ := newTestHandler(t)
	opened := openPatients(t, h, e)

	req := httptest.NewRequest(http.MethodGet, "/?direction=sideways", nil)
	c := e.NewContext(asUser(req, "u1", auth.RoleReception), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(opened.ID)

	err := h.Page(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_OtherUserCannotReadSession(t *testing.T) {
	h, e, _ := newTestHandler(t)
	opened := openPatients(t, h, e)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(asUser(req, "u2", auth.RoleReception), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(opened.ID)

	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_QueryFailureRendersErrorView(t *testing.T) {
	h, e, store := newTestHandler(t)
	opened := openPatients(t, h, e)
	store.FailNextQuery(errUnavailable)

	req := httptest.NewRequest(http.MethodGet, "/?direction=next", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(req, "u1", auth.RoleReception), rec)
	c.SetParamNames("id")
	c.SetParamValues(opened.ID)

	if err := h.Page(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	v := decodeView(t, rec)
	if v.Loading || v.Error == "" || len(v.Items) != 0 {
		t.Errorf("unexpected error view %+v", v)
	}
}

func TestHandler_SearchAccepted(t *testing.T) {
	h, e, _ := newTestHandler(t)
	opened := openPatients(t, h, e)

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"text":"pat"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(req, "u1", auth.RoleReception), rec)
	c.SetParamNames("id")
	c.SetParamValues(opened.ID)

	if err := h.SetSearch(c); err != nil {
		t.Fatalf("search: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
	if v := decodeView(t, rec); v.PendingSearch != "pat" {
		t.Errorf("expected pending search, got %+v", v)
	}
}

func TestHandler_Close(t *testing.T) {
	h, e, _ := newTestHandler(t)
	opened := openPatients(t, h, e)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(req, "u1", auth.RoleReception), rec)
	c.SetParamNames("id")
	c.SetParamValues(opened.ID)

	if err := h.Close(c); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if h.registry.Len() != 0 {
		t.Error("session must be removed")
	}
}
