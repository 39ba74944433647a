package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"loanservicing/utils"
)

// RateLimit middleware для ограничения частоты запросов.
// Ставится после Auth, чтобы учитывать запросы по пользователю.
func RateLimit(limiter *utils.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := limiter.Take(rateLimitKey(c.Request, c.ClientIP()))
		setRateLimitHeaders(c.Writer.Header(), decision)

		if !decision.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
				"reset": decision.ResetAt,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RateLimitMiddleware ограничение частоты запросов для маршрутов mux
func RateLimitMiddleware(limiter *utils.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			decision := limiter.Take(rateLimitKey(r, ip))
			setRateLimitHeaders(w.Header(), decision)
			if !decision.Allowed {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey пользователь из контекста, для анонимных запросов IP
func rateLimitKey(r *http.Request, clientIP string) string {
	if userID, _, err := GetUserFromContext(r.Context()); err == nil {
		return utils.UserKey(userID)
	}
	return utils.IPKey(clientIP)
}

func setRateLimitHeaders(h http.Header, decision utils.RateDecision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	h.Set("X-RateLimit-Reset", decision.ResetAt.Format(time.RFC3339))
}

// Logger middleware для логирования запросов
func Logger(metrics *utils.LedgerMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Начало запроса
		startTime := time.Now()

		// Обработка запроса
		c.Next()

		// Время выполнения
		duration := time.Since(startTime)
		metrics.RecordRequest(c.Request.Method, c.Writer.Status(), duration)

		// Логируем информацию о запросе
		utils.LogInfo("Request: %s %s - Status: %d - Duration: %v",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			duration,
		)

		// Логируем ошибки
		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				utils.LogError("Error: %v", e)
			}
		}
	}
}

// Recovery middleware для обработки паник
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				// Логируем панику
				utils.LogError("Panic recovered: %v", err)

				// Отправляем ответ клиенту
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}

// Auth middleware для проверки JWT токена в gin
func Auth(jwtKey []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := ParseToken(c.GetHeader("Authorization"), jwtKey)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			c.Abort()
			return
		}

		ctx := WithUser(c.Request.Context(), claims.UserID, claims.Email, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CORSMiddleware middleware для CORS
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
