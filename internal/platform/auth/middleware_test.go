package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			c := e.NewContext(req, httptest.NewRecorder())

			err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "clinic"}
	tokenStr, err := IssueToken(cfg, "user-456", RoleTherapist, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var handlerCalled bool
	handler := func(c echo.Context) error {
		handlerCalled = true
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "user-456" {
			t.Errorf("expected user_id=user-456, got %s", uid)
		}
		if role := RoleFromContext(ctx); role != RoleTherapist {
			t.Errorf("expected role therapist, got %s", role)
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := JWTMiddleware(cfg)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Error("handler was not called")
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
		Role: RoleDoctor,
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr, _ := IssueToken(JWTConfig{SigningKey: []byte("other")}, "u1", RoleDoctor, time.Hour)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_UnknownRole(t *testing.T) {
	tokenStr, _ := IssueToken(JWTConfig{SigningKey: testSigningKey}, "u1", "janitor", time.Hour)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")

	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}
	if err := JWTMiddleware(cfg)(okHandler)(c); err != nil {
		t.Errorf("expected public path to skip auth, got %v", err)
	}
}

func TestDevAuthMiddleware_DefaultsToAdmin(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		if role := RoleFromContext(c.Request().Context()); role != RoleAdmin {
			t.Errorf("expected admin, got %q", role)
		}
		return nil
	}
	if err := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_ValidatesProvidedToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	c := e.NewContext(req, httptest.NewRecorder())

	err := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_QueryTokenRoute(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, QueryTokenRoutes: []string{"/api/v1/ws"}}
	tokenStr, err := IssueToken(cfg, "user-9", RoleReception, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/ws?access_token="+tokenStr, nil), httptest.NewRecorder())
	c.SetPath("/api/v1/ws")
	handler := func(c echo.Context) error {
		if uid := UserIDFromContext(c.Request().Context()); uid != "user-9" {
			t.Errorf("expected user-9, got %q", uid)
		}
		return nil
	}
	if err := JWTMiddleware(cfg)(handler)(c); err != nil {
		t.Fatalf("expected query token to authenticate, got %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients/p1?access_token="+tokenStr, nil), httptest.NewRecorder())
	c.SetPath("/api/v1/patients/:id")
	expectStatus(t, JWTMiddleware(cfg)(okHandler)(c), http.StatusUnauthorized)
}

func TestDevAuthMiddleware_ValidatesQueryToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, QueryTokenRoutes: []string{"/api/v1/ws"}}
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/ws?access_token=garbage", nil), httptest.NewRecorder())
	c.SetPath("/api/v1/ws")

	expectStatus(t, DevAuthMiddleware(cfg)(okHandler)(c), http.StatusUnauthorized)
}
