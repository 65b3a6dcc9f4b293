package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger checks that a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router wires the HTTP API
type Router struct {
	Chat     *ChatHandler
	Daily    *DailyHandler
	Users    UserLookup
	Limiter  *UserRateLimiter
	Health   Pinger
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Engine builds the gin engine with every route registered
func (r Router) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestLogger(r.Logger), CORS())

	api := engine.Group("/api", RequireUser(r.Users, r.Logger))
	llm := r.Limiter.Middleware()
	{
		// Conversation routes
		api.POST("/conversations", llm, r.Chat.CreateConversation)
		api.GET("/conversations", r.Chat.ListConversations)
		api.GET("/conversations/:id", r.Chat.GetConversation)
		api.PATCH("/conversations/:id", r.Chat.UpdateConversation)
		api.DELETE("/conversations/:id", r.Chat.DeleteConversation)

		// Message routes
		api.POST("/conversations/:id/messages", llm, r.Chat.SendMessage)
		api.GET("/conversations/:id/messages", r.Chat.GetMessages)

		// Journaling routes
		api.POST("/daily/prompt", llm, r.Daily.Prompt)
		api.POST("/daily/reflection", llm, r.Daily.Reflection)
		api.GET("/patterns", llm, r.Daily.Patterns)
	}

	engine.GET("/health", func(c *gin.Context) {
		if err := r.Health.Ping(c.Request.Context()); err != nil {
			r.Logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "dbos": "enabled"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{})))

	return engine
}
