package utils

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"gorm.io/gorm"
)

type contextKey string

const (
	HostIDKey       contextKey = "hostID"
	SubscriberIDKey contextKey = "subscriberID"
)

func GetHostIDFromContext(ctx context.Context) (uint, error) {
	hostID, ok := ctx.Value(HostIDKey).(uint)
	if !ok {
		return 0, errors.New("host ID not found in context")
	}
	return hostID, nil
}

func GetSubscriberIDFromContext(ctx context.Context) (uint, error) {
	subscriberID, ok := ctx.Value(SubscriberIDKey).(uint)
	if !ok {
		return 0, errors.New("subscriber ID not found in context")
	}
	return subscriberID, nil
}

// apiKeyFromRequest accepts the key either as an X-API-Key header or as a
// Bearer token, so curl one-liners and SDK clients both work.
func apiKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	return strings.Replace(authHeader, "Bearer ", "", 1)
}

// HostAuthMiddleware resolves the host api key into the request context.
// Inactive hosts are rejected here so fan-out stops the moment a host is
// deactivated.
func HostAuthMiddleware(db *gorm.DB, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := apiKeyFromRequest(r)
		if key == "" {
			http.Error(w, "API key required", http.StatusUnauthorized)
			return
		}

		var host models.Host
		if err := db.Where("api_key = ?", key).First(&host).Error; err != nil {
			http.Error(w, "Invalid host key", http.StatusUnauthorized)
			return
		}
		if !host.Active {
			http.Error(w, "Host is deactivated", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), HostIDKey, host.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// SubscriberAuthMiddleware resolves the subscriber api key into the request
// context. Expired or inactive subscribers are rejected.
func SubscriberAuthMiddleware(db *gorm.DB, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := apiKeyFromRequest(r)
		if key == "" {
			http.Error(w, "API key required", http.StatusUnauthorized)
			return
		}

		var subscriber models.Subscriber
		if err := db.Where("api_key = ?", key).First(&subscriber).Error; err != nil {
			http.Error(w, "Invalid subscriber key", http.StatusUnauthorized)
			return
		}
		if !subscriber.Eligible(time.Now()) {
			http.Error(w, "Subscription inactive or expired", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), SubscriberIDKey, subscriber.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// JWTAuthMiddleware guards the host dashboard surface (login-session based,
// not api-key based).
func JWTAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.Replace(authHeader, "Bearer ", "", 1)

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(os.Getenv("SECRET_KEY")), nil
		})

		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		hostID, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil {
			http.Error(w, "Invalid host ID in token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), HostIDKey, uint(hostID))
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
