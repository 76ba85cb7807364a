// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// cooldownKeyPrefix namespaces the cooldown keys in Redis.
const cooldownKeyPrefix = "faasflow:cooldown:"

// CooldownStore shares tripped-backend state across orchestrator instances.
// When one instance's failure-rate cutoff trips a backend, every instance
// keeps it excluded until the cooldown TTL expires. A nil *CooldownStore is
// valid and disables the feature.
type CooldownStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCooldownStore creates a Redis-backed cooldown store. TTL <= 0
// defaults to 30 seconds.
func NewCooldownStore(client *redis.Client, ttl time.Duration) *CooldownStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CooldownStore{client: client, ttl: ttl}
}

// Trip marks the backend as cooling down for the configured TTL.
func (c *CooldownStore) Trip(ctx context.Context, backendID string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Set(ctx, cooldownKeyPrefix+backendID, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to trip cooldown for %s: %w", backendID, err)
	}
	return nil
}

// Active reports whether the backend is currently cooling down. Redis
// errors are treated as "not cooling down": the in-process failure-rate
// cutoff still protects this instance, and losing the shared signal must
// not take the backend out of rotation.
func (c *CooldownStore) Active(ctx context.Context, backendID string) bool {
	if c == nil {
		return false
	}
	n, err := c.client.Exists(ctx, cooldownKeyPrefix+backendID).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// Clear removes the backend's cooldown, if any.
func (c *CooldownStore) Clear(ctx context.Context, backendID string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, cooldownKeyPrefix+backendID).Err(); err != nil {
		return fmt.Errorf("failed to clear cooldown for %s: %w", backendID, err)
	}
	return nil
}
