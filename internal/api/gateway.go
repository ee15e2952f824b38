package api

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDMiddleware stamps every response with X-Request-Id, generating
// one when the caller didn't supply it (§6 "responses include X-Request-Id").
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", id)
		c.Request.Header.Set("X-Request-Id", id)
		c.Next()
	}
}

// corsMiddleware allows an exact-match origin list via ALLOWED_ORIGINS, or
// all origins when unset.
func corsMiddleware() gin.HandlerFunc {
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Subject-Id, Idempotency-Key, X-Request-Id")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// SetupRouter wires the C10 gateway's HTTP surface (§4.9/§6).
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(), requestIDMiddleware())

	r.GET("/healthz", h.health)
	r.GET("/api/v1/stream", h.hub.Subscribe)

	protected := r.Group("/api/v1")
	protected.Use(AuthMiddleware())
	protected.Use(NewRateLimiter(120, 20).Middleware())
	{
		protected.POST("/upload/presign", h.presignUpload)

		protected.POST("/cards", requireIdempotencyKey(h.store, h.cfg.IdempotencyTTL()), h.createCard)
		protected.GET("/cards", h.listCards)
		protected.GET("/cards/:id", h.getCard)
		protected.DELETE("/cards/:id", h.deleteCard)
		protected.POST("/cards/:id/revalue", requireIdempotencyKey(h.store, h.cfg.IdempotencyTTL()), h.revalue)

		protected.GET("/executions/:id", h.getExecution)
	}

	return r
}
