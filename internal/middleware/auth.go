// Package middleware содержит HTTP middleware сервиса Greenway.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

const (
	sessionCookieName = "gw_session"
	defaultSessionTTL = 30 * 24 * time.Hour
)

// AuthMiddleware выдаёт браузеру подписанный идентификатор сессии и проверяет его.
type AuthMiddleware struct {
	secretKey []byte
	ttl       time.Duration
}

// NewAuthMiddleware создаёт middleware с секретом подписи secret.
// Пустой секрет заменяется случайным: сессии не переживут перезапуск процесса.
func NewAuthMiddleware(secret string, ttl time.Duration) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("greenway-session-key")
		}
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	return &AuthMiddleware{
		secretKey: key,
		ttl:       ttl,
	}
}

// Middleware кладёт идентификатор сессии в контекст запроса.
// Если cookie нет или подпись не сходится, выдаётся новая сессия.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionID string
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			sessionID, _ = a.parseCookie(cookie.Value)
		}
		if sessionID == "" {
			sessionID = a.RotateSession(w)
		}

		ctx := WithSessionID(r.Context(), sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewSessionID генерирует идентификатор сессии, не записывая cookie.
func (a *AuthMiddleware) NewSessionID() string {
	return uuid.NewString()
}

// RotateSession выдаёт новый идентификатор сессии и записывает его в cookie.
func (a *AuthMiddleware) RotateSession(w http.ResponseWriter) string {
	sessionID := a.NewSessionID()
	a.SetSessionCookie(w, sessionID)
	return sessionID
}

// SetSessionCookie устанавливает cookie сессии для указанного идентификатора.
func (a *AuthMiddleware) SetSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    a.sign(sessionID),
		Path:     "/",
		Expires:  time.Now().Add(a.ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie удаляет cookie сессии в браузере.
func (a *AuthMiddleware) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *AuthMiddleware) sign(sessionID string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(sessionID))
	return sessionID + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (string, bool) {
	sessionID, signature, ok := strings.Cut(cookieValue, ".")
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", false
	}

	_, expected, _ := strings.Cut(a.sign(sessionID), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}
	return sessionID, true
}

// WithSessionID возвращает контекст с идентификатором сессии.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// GetSessionIDFromContext извлекает идентификатор сессии из контекста запроса.
func GetSessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}
