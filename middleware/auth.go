package middleware

import (
	"context"
	"errors"
	"fmt"
	"github.com/golang-jwt/jwt/v5"
	"loanservicing/models"
	"loanservicing/utils"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	emailKey  contextKey = "email"
	roleKey   contextKey = "role"
)

// Claims данные, которые несет JWT токен
type Claims struct {
	UserID uint        `json:"user_id"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken подписывает токен для пользователя
func GenerateToken(user *models.User, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

type LoggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *LoggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware логирует информацию о запросе и ответе
func LoggingMiddleware(metrics *utils.LedgerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Создаем обертку для ResponseWriter
			lrw := &LoggingResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Обрабатываем запрос
			next.ServeHTTP(lrw, r)

			duration := time.Since(start)
			metrics.RecordRequest(r.Method, lrw.statusCode, duration)
			utils.LogInfo(
				"Method: %s, Path: %s, Status: %d, Duration: %v",
				r.Method,
				r.URL.Path,
				lrw.statusCode,
				duration,
			)
		})
	}
}

// AuthMiddleware проверяет JWT токен и кладет пользователя и роль в контекст
func AuthMiddleware(jwtKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := ParseToken(r.Header.Get("Authorization"), jwtKey)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			// Добавляем заголовок X-User-ID
			r.Header.Set("X-User-ID", strconv.FormatUint(uint64(claims.UserID), 10))

			ctx := WithUser(r.Context(), claims.UserID, claims.Email, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseToken проверяет заголовок Authorization и возвращает claims
func ParseToken(header string, jwtKey []byte) (*Claims, error) {
	if header == "" {
		return nil, errors.New("Authorization header is required")
	}

	// Убираем префикс "Bearer " если он есть
	tokenString := strings.TrimPrefix(header, "Bearer ")

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtKey, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("Invalid token")
	}
	if claims.UserID == 0 {
		return nil, errors.New("Invalid user_id in token")
	}
	if claims.Role == "" {
		claims.Role = models.RoleCustomer
	}
	return claims, nil
}

// WithUser добавляет информацию о пользователе в контекст
func WithUser(ctx context.Context, userID uint, email string, role models.Role) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, emailKey, email)
	return context.WithValue(ctx, roleKey, role)
}

// GetUserFromContext получает информацию о пользователе из контекста
func GetUserFromContext(ctx context.Context) (uint, models.Role, error) {
	userID, ok := ctx.Value(userIDKey).(uint)
	if !ok {
		return 0, "", fmt.Errorf("user_id not found in context")
	}

	role, ok := ctx.Value(roleKey).(models.Role)
	if !ok {
		return 0, "", fmt.Errorf("role not found in context")
	}

	return userID, role, nil
}
