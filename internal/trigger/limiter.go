package trigger

import (
	"sync"

	"golang.org/x/time/rate"
)

// TenantLimiter — отдельный token bucket на каждого тенанта,
// чтобы шумный тенант не выбирал общий лимит.
type TenantLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewTenantLimiter: perSecond <= 0 отключает ограничение.
func NewTenantLimiter(perSecond float64, burst int) *TenantLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &TenantLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *TenantLimiter) Allow(tenantID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[tenantID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
