package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter 为每个 key 维护一个令牌桶，长时间不活跃的 key 会被回收。
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	r        rate.Limit
	b        int
	ttl      time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	now      func() time.Time
}

func NewLimiter(r rate.Limit, burst int, ttl time.Duration) *Limiter {
	return &Limiter{
		visitors: make(map[string]*visitor),
		r:        r,
		b:        burst,
		ttl:      ttl,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Allow 消耗 key 对应桶中的一个令牌。
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.r, l.b)}
		l.visitors[key] = v
	}
	v.seen = l.now()
	l.mu.Unlock()
	return v.lim.Allow()
}

// sweep 删除超过 ttl 未访问的 key，返回剩余数量。
func (l *Limiter) sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.visitors {
		if now.Sub(v.seen) > l.ttl {
			delete(l.visitors, k)
		}
	}
	return len(l.visitors)
}

// StartGC 启动后台回收，每 interval 清理一次空闲 key，直到 Stop。
func (l *Limiter) StartGC(interval time.Duration) {
	go l.gc(interval)
}

func (l *Limiter) gc(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// Stop 停止 GC goroutine，可重复调用。
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// RateLimit 返回一个基于 IP+路由的令牌桶限速中间件，l 的生命周期由调用方负责。
func RateLimit(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !l.Allow(c.ClientIP() + "|" + route) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
