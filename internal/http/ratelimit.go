package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	RetryAfter() time.Duration
}

type counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisLimiter is a fixed-window counter shared by every replica.
type RedisLimiter struct {
	c      counter
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisLimiter(c counter, perMin int) *RedisLimiter {
	return &RedisLimiter{c: c, limit: int64(perMin), window: time.Minute, prefix: "rl:sessions:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := time.Now().Unix() / int64(l.window/time.Second)
	n, err := l.c.Incr(ctx, l.prefix+key+":"+strconv.FormatInt(slot, 10), l.window)
	if err != nil {
		return true, err
	}
	return n <= l.limit, nil
}

func (l *RedisLimiter) RetryAfter() time.Duration { return l.window }

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter keeps a token bucket per key in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	keys    map[string]*keyLimiter
	rate    rate.Limit
	burst   int
	idleTTL time.Duration
	stopCh  chan struct{}
	stop    sync.Once
}

func NewMemoryLimiter(perMin int, cleanupInterval time.Duration) *MemoryLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	l := &MemoryLimiter{
		keys:    make(map[string]*keyLimiter),
		rate:    rate.Limit(float64(perMin) / 60.0),
		burst:   perMin,
		idleTTL: 2 * cleanupInterval,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop(cleanupInterval)
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()
	l.mu.Lock()
	kl, ok := l.keys[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.keys[key] = kl
	}
	kl.lastAccess = now
	l.mu.Unlock()
	return kl.limiter.AllowN(now, 1), nil
}

func (l *MemoryLimiter) RetryAfter() time.Duration {
	if l.rate <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Second) / float64(l.rate))
}

func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *MemoryLimiter) Stop() { l.stop.Do(func() { close(l.stopCh) }) }

func (l *MemoryLimiter) cleanupLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			l.sweep(now)
		case <-l.stopCh:
			return
		}
	}
}

func (l *MemoryLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, kl := range l.keys {
		if now.Sub(kl.lastAccess) > l.idleTTL {
			delete(l.keys, k)
		}
	}
}

func ClientIP(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(ip); err == nil && host != "" {
		return host
	}
	return ip
}

// RateLimit rejects callers over the limit with 429. Limiter errors let the
// request through.
func RateLimit(l Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ClientIP(c)
		ok, err := l.Allow(c.Request.Context(), ip)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("client_ip", ip), zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			secs := int(l.RetryAfter().Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
