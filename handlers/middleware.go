package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	userIDKey       = "userID"
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
)

// UserLookup reports whether a user exists
type UserLookup interface {
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// CORS allows browser clients on other origins
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestLogger tags each request with an ID and logs it once it completes
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		logger.Info("request",
			zap.String("requestID", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// RequireUser authenticates "Authorization: Bearer <userId>" against known users
func RequireUser(users UserLookup, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		userID, err := uuid.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		exists, err := users.UserExists(c.Request.Context(), userID)
		if err != nil {
			logger.Error("user lookup failed", zap.String("userID", userID.String()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) uuid.UUID {
	return c.MustGet(userIDKey).(uuid.UUID)
}

// UserRateLimiter keeps one token bucket per authenticated user
type UserRateLimiter struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*visitor
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserRateLimiter creates a limiter allowing rps requests per second per
// user with the given burst
func NewUserRateLimiter(rps float64, burst int) *UserRateLimiter {
	return &UserRateLimiter{
		users:   make(map[uuid.UUID]*visitor),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 3 * time.Minute,
		now:     time.Now,
	}
}

func (rl *UserRateLimiter) limiter(userID uuid.UUID) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.users[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.users[userID] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Sweep drops buckets for users idle longer than the TTL
func (rl *UserRateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for id, v := range rl.users {
		if rl.now().Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.users, id)
		}
	}
}

// Run sweeps idle buckets every minute until ctx is done
func (rl *UserRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

// Middleware rejects requests over the caller's budget with 429. It must
// run after RequireUser.
func (rl *UserRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiter(currentUser(c)).Allow() {
			c.Header("Retry-After", "5")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please slow down"})
			return
		}
		c.Next()
	}
}
