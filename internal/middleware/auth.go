// Package middleware содержит HTTP middleware сервиса cardbook.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const userIDKey contextKey = "userID"

const (
	authCookieName = "cardbook_user"
	authCookieTTL  = 365 * 24 * time.Hour

	// fallbackSecret используется, только если случайный ключ получить не удалось.
	fallbackSecret = "cardbook-local-secret"
)

var readRandom = rand.Read

// AuthMiddleware выдаёт и проверяет cookie локального пользователя.
// Значение cookie имеет вид "<uuid>.<unix-время выдачи>.<hmac>".
type AuthMiddleware struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным секретом.
// При пустом секрете генерируется случайный ключ, и cookie перестают действовать после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = randomKey()
	}

	return &AuthMiddleware{
		secretKey: key,
		ttl:       authCookieTTL,
		now:       time.Now,
	}
}

func randomKey() []byte {
	key := make([]byte, 32)
	if _, err := readRandom(key); err != nil {
		return []byte(fallbackSecret)
	}
	return key
}

// Middleware пропускает запрос дальше только с действующим cookie
// и кладёт идентификатор пользователя в контекст.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := a.UserFromRequest(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromRequest возвращает пользователя из cookie запроса, если подпись верна и срок не истёк.
func (a *AuthMiddleware) UserFromRequest(r *http.Request) (uuid.UUID, bool) {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return uuid.Nil, false
	}
	return a.verify(cookie.Value)
}

// SetAuthCookie выдаёт cookie пользователю userID.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID uuid.UUID) {
	issued := a.now()
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    a.token(userID, issued),
		Path:     "/",
		Expires:  issued.Add(a.ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearAuthCookie удаляет cookie пользователя.
func (a *AuthMiddleware) ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *AuthMiddleware) token(userID uuid.UUID, issued time.Time) string {
	payload := userID.String() + "." + strconv.FormatInt(issued.Unix(), 10)
	return payload + "." + a.mac(payload)
}

func (a *AuthMiddleware) mac(payload string) string {
	h := hmac.New(sha256.New, a.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func (a *AuthMiddleware) verify(value string) (uuid.UUID, bool) {
	i := strings.LastIndexByte(value, '.')
	if i < 0 {
		return uuid.Nil, false
	}
	payload, signature := value[:i], value[i+1:]
	if !hmac.Equal([]byte(signature), []byte(a.mac(payload))) {
		return uuid.Nil, false
	}

	rawID, rawIssued, ok := strings.Cut(payload, ".")
	if !ok {
		return uuid.Nil, false
	}
	issuedUnix, err := strconv.ParseInt(rawIssued, 10, 64)
	if err != nil {
		return uuid.Nil, false
	}
	if a.now().After(time.Unix(issuedUnix, 0).Add(a.ttl)) {
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}
