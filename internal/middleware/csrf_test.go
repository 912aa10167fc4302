package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func csrfHandler() http.Handler {
	return NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRF_SafeMethodSetsCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookieName {
			found = true
			if c.HttpOnly {
				t.Error("csrf cookie must be readable from the frontend")
			}
		}
	}
	if !found {
		t.Error("csrf cookie not set on safe method")
	}
}

func TestCSRF_PostWithoutToken_Forbidden(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestCSRF_PostWithMatchingToken_Allowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-1"})
	req.Header.Set(csrfHeaderName, "token-1")
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCSRF_PostWithMismatchedToken_Forbidden(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-1"})
	req.Header.Set(csrfHeaderName, "token-2")
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestCSRFTokenHandler_GeneratesAndReturnsToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/csrf-token", nil)
	rec := httptest.NewRecorder()
	NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(rec, req)

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["token"] == "" {
		t.Error("token not returned")
	}

	var cookieToken string
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookieName {
			cookieToken = c.Value
		}
	}
	if cookieToken != body["token"] {
		t.Error("cookie token and body token mismatch")
	}
}

func TestCSRFTokenHandler_ReusesExistingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	rec := httptest.NewRecorder()
	NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(rec, req)

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["token"] != "existing-token" {
		t.Errorf("token = %q, want existing-token", body["token"])
	}
}
