package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SessionMiddleware(testSecret, "sid", time.Hour))
	router.GET("/whoami", func(c *gin.Context) {
		id, ok := GetSessionID(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id)
	})
	return router
}

func TestSessionMiddlewareIssuesCookieForNewVisitor(t *testing.T) {
	router := newRouter()

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	cookies := resp.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sid" || !cookies[0].HttpOnly {
		t.Fatalf("expected an http-only session cookie, got %+v", cookies)
	}
	id, err := ParseToken(testSecret, cookies[0].Value)
	if err != nil {
		t.Fatalf("issued cookie does not parse: %v", err)
	}
	if id != resp.Body.String() {
		t.Fatalf("expected cookie subject %q to match session %q", id, resp.Body.String())
	}
	if resp.Header().Get(TokenHeader) != cookies[0].Value {
		t.Fatal("expected token header to mirror the cookie")
	}
}

func TestSessionMiddlewareReusesValidCookie(t *testing.T) {
	router := newRouter()
	token, err := IssueToken(testSecret, "session-123", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: token})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Body.String() != "session-123" {
		t.Fatalf("expected session-123, got %q", resp.Body.String())
	}
	if len(resp.Result().Cookies()) != 0 {
		t.Fatal("expected no new cookie for a valid session")
	}
}

func TestSessionMiddlewareReplacesForgedCookie(t *testing.T) {
	router := newRouter()
	forged, err := IssueToken("other-secret", "session-123", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: forged})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Body.String() == "session-123" {
		t.Fatal("expected forged session to be replaced")
	}
	if len(resp.Result().Cookies()) != 1 {
		t.Fatal("expected a fresh cookie")
	}
}

func TestSessionMiddlewareAcceptsBearerToken(t *testing.T) {
	router := newRouter()
	token, err := IssueToken(testSecret, "api-client", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || resp.Body.String() != "api-client" {
		t.Fatalf("unexpected response %d %q", resp.Code, resp.Body.String())
	}
}

func TestSessionMiddlewareRejectsExpiredBearerToken(t *testing.T) {
	router := newRouter()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "api-client",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestSessionMiddlewareRejectsMalformedHeader(t *testing.T) {
	router := newRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Basic abc")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
