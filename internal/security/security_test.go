package security_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/noah-isme/beanpay/internal/security"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHeadersApplied(t *testing.T) {
	mw := security.Headers{Enable: true}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payments/success", nil))
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
	if got := rr.Header().Get("Referrer-Policy"); got != "no-referrer" {
		t.Fatalf("Referrer-Policy = %q", got)
	}
}

func TestHeadersDisabled(t *testing.T) {
	mw := security.Headers{}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rr.Header().Get("X-Content-Type-Options"); got != "" {
		t.Fatalf("expected no headers, got %q", got)
	}
}

func TestBodyLimitRejectsOversized(t *testing.T) {
	mw := security.BodyLimit{Max: 8}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/topup/intent", strings.NewReader(`{"amount":100,"productId":"bean-100"}`))
	mw.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", rr.Code)
	}
}

func TestBodyLimitPassesSmallBody(t *testing.T) {
	mw := security.BodyLimit{Max: 1024}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/topup/intent", strings.NewReader(`{"amount":100}`))
	mw.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestCSRFSkipsSafeMethods(t *testing.T) {
	mw := security.CSRF{}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payments/success", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestCSRFRequiresMatchingToken(t *testing.T) {
	mw := security.CSRF{}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/topup/intent", nil)
	mw.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("missing token: expected 403 got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/topup/intent", nil)
	req.Header.Set("X-CSRF-Token", "tok-1")
	req.AddCookie(&http.Cookie{Name: "bean_csrf", Value: "tok-2"})
	mw.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("mismatched token: expected 403 got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/topup/intent", nil)
	req.Header.Set("X-CSRF-Token", "tok-1")
	req.AddCookie(&http.Cookie{Name: "bean_csrf", Value: "tok-1"})
	mw.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("matching token: expected 200 got %d", rr.Code)
	}
}
