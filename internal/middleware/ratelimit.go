package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/vox-ai-tgbot-go/internal/config"
	"golang.org/x/time/rate"
)

// Decision is the outcome of an admission check
type Decision int

const (
	Admitted Decision = iota
	GlobalLimited
	UserLimited
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case GlobalLimited:
		return "global_limited"
	default:
		return "user_limited"
	}
}

// AdmissionController gates request processing behind a global limiter and a
// per-user limiter. Both use a token-refill discipline: permits regenerate
// continuously at requests/window and never exceed the cap.
//
// Per-user limiter state lives in a TTL cache so the map stays bounded under
// many distinct users. An evicted user gets a fresh, full-capacity limiter on
// the next request.
type AdmissionController struct {
	global    *rate.Limiter
	users     *cache.Cache
	userRate  rate.Limit
	userBurst int
	ttl       time.Duration
	mu        sync.Mutex
	logger    *logrus.Logger
}

// NewAdmissionController creates an admission controller from config
func NewAdmissionController(cfg *config.RateLimitConfig, logger *logrus.Logger) *AdmissionController {
	globalRate := rate.Limit(float64(cfg.GlobalRequests) / cfg.GlobalWindow.Seconds())
	userRate := rate.Limit(float64(cfg.UserRequests) / cfg.UserWindow.Seconds())

	return &AdmissionController{
		global:    rate.NewLimiter(globalRate, cfg.GlobalRequests),
		users:     cache.New(cfg.LimiterTTL, 2*cfg.LimiterTTL),
		userRate:  userRate,
		userBurst: cfg.UserRequests,
		ttl:       cfg.LimiterTTL,
		logger:    logger,
	}
}

// Admit checks the global limiter first, then the user limiter. Each check
// atomically consumes a permit when one is available; there is no separate
// capacity probe. When the global limiter is exhausted the user limiter is
// never touched.
func (a *AdmissionController) Admit(userID int64) Decision {
	if !a.global.Allow() {
		a.logger.WithField("user_id", userID).Warn("Global rate limit exceeded")
		return GlobalLimited
	}

	if !a.userLimiter(userID).Allow() {
		a.logger.WithField("user_id", userID).Warn("User rate limit exceeded")
		return UserLimited
	}

	return Admitted
}

// Reset discards the limiter state for a user
func (a *AdmissionController) Reset(userID int64) {
	a.users.Delete(strconv.FormatInt(userID, 10))
}

// userLimiter returns the user's limiter, creating it on first use. Access
// refreshes the TTL so only idle users are evicted.
func (a *AdmissionController) userLimiter(userID int64) *rate.Limiter {
	key := strconv.FormatInt(userID, 10)

	if v, ok := a.users.Get(key); ok {
		limiter := v.(*rate.Limiter)
		a.users.Set(key, limiter, a.ttl)
		return limiter
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring the lock
	if v, ok := a.users.Get(key); ok {
		return v.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(a.userRate, a.userBurst)
	a.users.Set(key, limiter, a.ttl)
	return limiter
}
