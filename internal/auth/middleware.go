package auth

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/beanpay/internal/common"
)

// Middleware enforces route protection: a fixed allowlist of path prefixes
// requires the platform session cookie. Browser navigations without one are
// redirected to the login entry point carrying the original path for
// post-login return; API calls receive a 401 envelope.
type Middleware struct {
	CookieName string
	Secret     []byte
	LoginURL   string
	Prefixes   []string
	ClockSkew  time.Duration
}

// Protect wraps next with the route protection policy.
func (m Middleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.protected(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		cookie, err := r.Cookie(m.CookieName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			m.deny(w, r)
			return
		}
		userID, err := m.parseToken(cookie.Value)
		if err != nil {
			m.deny(w, r)
			return
		}
		ctx := common.WithUserID(r.Context(), userID)
		ctx = common.WithSessionCookie(ctx, cookie.Value)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) protected(path string) bool {
	for _, prefix := range m.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m Middleware) parseToken(raw string) (string, error) {
	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, m.Secret),
		jwt.WithValidate(true),
	}
	if m.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(m.ClockSkew))
	}
	tok, err := jwt.Parse([]byte(raw), options...)
	if err != nil {
		return "", err
	}
	return tok.Subject(), nil
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request) {
	if common.WantsHTML(r) {
		target := m.LoginURL
		if target == "" {
			target = "/login"
		}
		returnTo := r.URL.Path
		if r.URL.RawQuery != "" {
			returnTo += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target+"?returnTo="+url.QueryEscape(returnTo), http.StatusFound)
		return
	}
	common.JSONError(w, http.StatusUnauthorized, "로그인이 필요합니다.")
}
