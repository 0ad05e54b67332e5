package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func issueCookie(t *testing.T, m *AuthMiddleware, userID uuid.UUID) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	m.SetAuthCookie(rec, userID)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("SetAuthCookie set %d cookies, want 1", len(cookies))
	}
	return cookies[0]
}

func TestAuthMiddlewarePassesUserID(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	userID := uuid.New()
	cookie := issueCookie(t, m, userID)

	if !cookie.HttpOnly || cookie.Path != "/" {
		t.Fatalf("unexpected cookie attributes %+v", cookie)
	}

	var got uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id not in context")
		}
		got = id
	})

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(cookie)
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), req)

	if got != userID {
		t.Fatalf("user id = %s, want %s", got, userID)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	foreign := NewAuthMiddleware("other-secret")

	issuedAt := time.Date(2025, 2, 25, 12, 0, 0, 0, time.UTC)
	stale := NewAuthMiddleware("test-secret")
	stale.now = func() time.Time { return issuedAt }

	userID := uuid.New()

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "no cookie"},
		{name: "other secret", cookie: issueCookie(t, foreign, userID)},
		{name: "expired", cookie: issueCookie(t, stale, userID)},
		{name: "bare uuid", cookie: &http.Cookie{Name: authCookieName, Value: userID.String()}},
		{name: "tampered id", cookie: &http.Cookie{
			Name:  authCookieName,
			Value: uuid.NewString() + issueCookie(t, m, userID).Value[36:],
		}},
		{name: "not a uuid", cookie: &http.Cookie{Name: authCookieName, Value: "42.1.sig"}},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler must not be called")
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rec := httptest.NewRecorder()

			m.Middleware(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestClearAuthCookie(t *testing.T) {
	m := NewAuthMiddleware("")
	rec := httptest.NewRecorder()
	m.ClearAuthCookie(rec)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 || cookies[0].Value != "" {
		t.Fatalf("cookie not cleared: %+v", cookies)
	}
}

func TestAuthMiddlewareWithoutSecret(t *testing.T) {
	m := NewAuthMiddleware("")
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(issueCookie(t, m, userID))
	got, ok := m.UserFromRequest(req)
	if !ok || got != userID {
		t.Fatalf("UserFromRequest = %s, %v; want %s, true", got, ok, userID)
	}

	other := NewAuthMiddleware("")
	if _, ok := other.UserFromRequest(req); ok {
		t.Fatalf("cookie accepted by middleware with another random key")
	}
}

func TestAuthMiddlewareRandomFailure(t *testing.T) {
	orig := readRandom
	readRandom = func([]byte) (int, error) { return 0, errors.New("entropy unavailable") }
	t.Cleanup(func() { readRandom = orig })

	a, b := NewAuthMiddleware(""), NewAuthMiddleware("")
	if string(a.secretKey) != fallbackSecret {
		t.Fatalf("secret key = %q, want fallback", a.secretKey)
	}

	userID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(issueCookie(t, a, userID))
	if got, ok := b.UserFromRequest(req); !ok || got != userID {
		t.Fatalf("UserFromRequest = %s, %v; want %s, true", got, ok, userID)
	}
}
