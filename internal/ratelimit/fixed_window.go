// Package ratelimit counts requests per caller in fixed Redis windows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The script returns the count after increment and the window's remaining
// lifetime in milliseconds.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

const callTimeout = 2 * time.Second

// Rule is a named quota.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (r Rule) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("rate limit rule needs a name")
	}
	if r.Limit <= 0 || r.Window <= 0 {
		return fmt.Errorf("rate limit rule %s needs a positive limit and window", r.Name)
	}
	return nil
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter applies rules against a shared Redis. Redis failures deny the
// request.
type Limiter struct {
	rdb    redis.UniversalClient
	prefix string
	rules  map[string]Rule
}

func New(rdb redis.UniversalClient, prefix string, rules ...Rule) (*Limiter, error) {
	if rdb == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "supashowcase:ratelimit"
	}
	l := &Limiter{rdb: rdb, prefix: prefix, rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		l.rules[r.Name] = r
	}
	return l, nil
}

// Dial connects to addr and builds a limiter over it.
func Dial(addr, password, prefix string, rules ...Rule) (*Limiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	return New(redis.NewClient(&redis.Options{Addr: addr, Password: password}), prefix, rules...)
}

// Allow counts one request by key against the named rule. Unknown rules
// are allowed.
func (l *Limiter) Allow(ctx context.Context, rule, key string) Decision {
	if l == nil {
		return Decision{}
	}
	r, ok := l.rules[rule]
	if !ok {
		return Decision{Allowed: true}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := r.Window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%s:%d", l.prefix, r.Name, key, slot)

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	vals, err := fixedWindowScript.Run(ctx, l.rdb, []string{redisKey}, windowMs).Int64Slice()
	if err != nil || len(vals) != 2 {
		return Decision{RetryAfter: r.Window}
	}
	count, ttl := vals[0], vals[1]
	if count <= int64(r.Limit) {
		return Decision{Allowed: true, Remaining: r.Limit - int(count)}
	}
	retry := time.Duration(ttl) * time.Millisecond
	if retry <= 0 {
		retry = r.Window
	}
	return Decision{RetryAfter: retry}
}

// Close releases the Redis connection.
func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	return l.rdb.Close()
}
