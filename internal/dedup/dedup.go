// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dedup provides the in-flight guard that stops two workers, or two
// overlapping batch runs, from processing the same message at once.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a claim leaked by a crashed worker
	// blocks the message. It must exceed the slowest Process call.
	DefaultTTL = 20 * time.Minute

	// keyPrefix namespaces claim keys in Redis.
	keyPrefix = "triage:inflight:"
)

// Guard claims message IDs for exclusive processing. Every claim carries a
// token; only the holder of that token can refresh or release it.
type Guard interface {
	// Claim returns a token and true if the caller now holds the ID.
	Claim(ctx context.Context, id string) (string, bool, error)
	// Refresh extends a claim held with token, or retakes it if it
	// expired and nobody else took it. It returns false when another
	// caller holds the ID.
	Refresh(ctx context.Context, id, token string) (bool, error)
	// Release drops a claim held with token. Releasing an unclaimed ID,
	// or one held by another token, is not an error and changes nothing.
	Release(ctx context.Context, id, token string) error
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends our claim, or takes the key if it has expired.
var refreshScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if not cur then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// RedisGuard shares claims across processes.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisGuard creates a guard backed by Redis. A non-positive ttl uses
// DefaultTTL.
func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

// Claim sets the claim key to a fresh token only if it does not exist
// (SET NX PX).
func (g *RedisGuard) Claim(ctx context.Context, id string) (string, bool, error) {
	token := uuid.NewString()
	set, err := g.rdb.SetNX(ctx, keyPrefix+id, token, g.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("dedup SETNX: %w", err)
	}
	if !set {
		return "", false, nil
	}
	return token, true, nil
}

func (g *RedisGuard) Refresh(ctx context.Context, id, token string) (bool, error) {
	if token == "" {
		return false, errors.New("dedup refresh: empty token")
	}
	n, err := refreshScript.Run(ctx, g.rdb, []string{keyPrefix + id}, token, g.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("dedup refresh: %w", err)
	}
	return n == 1, nil
}

// Release deletes the claim key if it still holds token.
func (g *RedisGuard) Release(ctx context.Context, id, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, g.rdb, []string{keyPrefix + id}, token).Err(); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}

// Local holds claims in process memory. Claims never expire.
type Local struct {
	mu      sync.Mutex
	claimed map[string]string
}

// NewLocal creates an empty process-local guard.
func NewLocal() *Local {
	return &Local{claimed: make(map[string]string)}
}

func (l *Local) Claim(_ context.Context, id string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.claimed[id]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.claimed[id] = token
	return token, true, nil
}

func (l *Local) Refresh(_ context.Context, id, token string) (bool, error) {
	if token == "" {
		return false, errors.New("dedup refresh: empty token")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.claimed[id]
	if ok && cur != token {
		return false, nil
	}
	l.claimed[id] = token
	return true, nil
}

func (l *Local) Release(_ context.Context, id, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimed[id] == token {
		delete(l.claimed, id)
	}
	return nil
}
