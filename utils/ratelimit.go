package utils

import (
	"fmt"
	"sync"
	"time"
)

// RateDecision результат учета одного запроса
type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter скользящее окно запросов на клиента API.
// Клиент - пользователь из JWT, для анонимных запросов - IP адрес.
type RateLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	limit   int
	window  time.Duration
	pruneAt time.Time
	now     func() time.Time
}

// NewRateLimiter создает новый RateLimiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// UserKey ключ учета для аутентифицированного пользователя
func UserKey(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

// IPKey ключ учета для анонимного запроса
func IPKey(ip string) string {
	return "ip:" + ip
}

// Take учитывает запрос клиента и сообщает, укладывается ли он в лимит
func (rl *RateLimiter) Take(key string) RateDecision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.pruneLocked(now)

	hits := rl.activeLocked(key, now)
	decision := RateDecision{Limit: rl.limit, ResetAt: now.Add(rl.window)}
	if len(hits) > 0 {
		decision.ResetAt = hits[0].Add(rl.window)
	}

	if len(hits) >= rl.limit {
		rl.hits[key] = hits
		return decision
	}

	hits = append(hits, now)
	rl.hits[key] = hits
	decision.Allowed = true
	decision.Remaining = rl.limit - len(hits)
	return decision
}

// Reset сбрасывает счетчик клиента
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.hits, key)
}

// Clients число клиентов с запросами в текущем окне
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.hits)
}

// activeLocked запросы клиента внутри окна
func (rl *RateLimiter) activeLocked(key string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)
	hits := rl.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(windowStart) {
		i++
	}
	return hits[i:]
}

// pruneLocked раз в окно удаляет клиентов без свежих запросов
func (rl *RateLimiter) pruneLocked(now time.Time) {
	if now.Before(rl.pruneAt) {
		return
	}
	rl.pruneAt = now.Add(rl.window)

	for key := range rl.hits {
		if len(rl.activeLocked(key, now)) == 0 {
			delete(rl.hits, key)
		}
	}
}
