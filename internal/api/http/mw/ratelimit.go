package mw

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/stores/redis"

	goredis "github.com/redis/go-redis/v9"
)

type RateLimitMiddleware struct {
	Rdb *redis.Client
	Cfg *config.RateLimitConfig
}

func NewRateLimit(cfg *config.RateLimitConfig, rdb *redis.Client) *RateLimitMiddleware {
	if cfg == nil {
		panic("rate limit config cannot be nil")
	}
	if rdb == nil {
		panic("redis client cannot be nil")
	}

	// sane defaults
	if cfg.ByIP.TTL == 0 {
		cfg.ByIP.TTL = 2 * time.Minute
	}
	if cfg.ByIP.RefillPerSec <= 0 {
		cfg.ByIP.RefillPerSec = 10
	}
	if cfg.ByIP.Burst <= 0 {
		cfg.ByIP.Burst = 20
	}

	return &RateLimitMiddleware{Rdb: rdb, Cfg: cfg}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractClientIP(r, m.Cfg.TrustedProxies)

		okIP, left := m.allow(r.Context(), "rl:ip:"+ip, time.Now(), m.Cfg.ByIP)

		w.Header().Set("X-RateLimit-Limit-IP", strconv.Itoa(m.Cfg.ByIP.Burst))
		w.Header().Set("X-RateLimit-Remaining-IP", strconv.FormatInt(left, 10))

		if !okIP {
			w.Header().Set("Retry-After", strconv.Itoa(m.calculateRetryAfter()))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// seconds until one token is back, at least 1
func (m *RateLimitMiddleware) calculateRetryAfter() int {
	if m.Cfg.ByIP.RefillPerSec <= 0 {
		return 1
	}
	sec := int(math.Ceil(1 / float64(m.Cfg.ByIP.RefillPerSec)))
	if sec < 1 {
		sec = 1
	}
	return sec
}

// --- redis token-bucket (Lua) for atomic and one query ---
var luaTokenBucket = goredis.NewScript(`
-- KEYS[1] = key
-- ARGV[1] = now_ms
-- ARGV[2] = refill_per_sec (integer)
-- ARGV[3] = burst (integer)
-- ARGV[4] = ttl_seconds
local key   = KEYS[1]
local now   = tonumber(ARGV[1])
local rate  = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl   = tonumber(ARGV[4])

-- read state
local last_ms = tonumber(redis.call('HGET', key, 'ts') or now)
local tokens  = tonumber(redis.call('HGET', key, 'tok') or burst)

-- replenish
if now > last_ms then
  local delta = (now - last_ms) / 1000.0
  tokens = math.min(burst, tokens + (delta * rate))
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tok', tokens, 'ts', now)
redis.call('EXPIRE', key, ttl)

return {allowed, math.floor(tokens)}
`)

// allow fails open: a redis outage never blocks the query surface
func (m *RateLimitMiddleware) allow(ctx context.Context, key string, now time.Time, b config.RateBucketConfig) (bool, int64) {
	ttl := int(b.TTL.Seconds())
	if ttl <= 0 {
		ttl = 120
	}

	res, err := luaTokenBucket.Run(ctx, m.Rdb, []string{key},
		now.UnixMilli(),
		b.RefillPerSec,
		b.Burst,
		ttl,
	).Result()
	if err != nil {
		return true, 0
	}

	arr, ok := res.([]any)
	if !ok || len(arr) < 2 {
		return true, 0
	}

	allowed, _ := arr[0].(int64)
	left, _ := arr[1].(int64)

	return allowed == 1, left
}

// extractClientIP honours forwarding headers only from trusted proxies;
// with no trusted list configured the left-most public forwarded address wins
func extractClientIP(r *http.Request, trusted []string) string {
	remote := remoteAddrIP(r.RemoteAddr)

	if len(trusted) > 0 && !isTrusted(remote, trusted) {
		return remote
	}

	if hops := parseXFF(r.Header.Get("X-Forwarded-For")); len(hops) > 0 {
		if len(trusted) > 0 {
			// right to left, the first hop we do not operate is the client
			for i := len(hops) - 1; i >= 0; i-- {
				if !isTrusted(hops[i], trusted) {
					return hops[i]
				}
			}
			return hops[0]
		}

		for _, h := range hops {
			if isPublicIP(h) {
				return h
			}
		}
		return hops[0]
	}

	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		if _, err := netip.ParseAddr(xrip); err == nil {
			return xrip
		}
	}

	return remote
}

func parseXFF(xff string) []string {
	out := []string{}
	for _, part := range strings.Split(xff, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

func remoteAddrIP(remoteAddr string) string {
	addr := strings.TrimSpace(remoteAddr)

	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if _, err := netip.ParseAddr(addr); err != nil {
		return "unknown"
	}
	return addr
}

func isTrusted(ip string, trusted []string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	for _, t := range trusted {
		if strings.Contains(t, "/") {
			if pfx, err := netip.ParsePrefix(t); err == nil && pfx.Contains(addr) {
				return true
			}
			continue
		}
		if other, err := netip.ParseAddr(t); err == nil && other == addr {
			return true
		}
	}
	return false
}

func isPublicIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return !(addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified() || addr.IsMulticast())
}
