// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

// Package secrets resolves backend invocation credentials from AWS Secrets
// Manager. Secret values are expected to be JSON objects with string
// values and are cached with a TTL so routine failovers do not hammer the
// secrets API.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// DefaultCacheTTL is how long resolved secrets stay cached.
const DefaultCacheTTL = 5 * time.Minute

// GetSecretValueAPI is the slice of the Secrets Manager client the manager
// needs (enables testing with a fake client).
type GetSecretValueAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Manager resolves and caches secrets by ARN.
type Manager struct {
	client GetSecretValueAPI
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// Options configures a Manager.
type Options struct {
	// Region overrides the ambient AWS region.
	Region string

	// CacheTTL overrides DefaultCacheTTL.
	CacheTTL time.Duration

	// Client replaces the real Secrets Manager client. Used by tests.
	Client GetSecretValueAPI
}

// New creates a Manager, building a Secrets Manager client from the
// ambient AWS configuration unless one is supplied.
func New(ctx context.Context, opts Options) (*Manager, error) {
	client := opts.Client
	if client == nil {
		cfgOpts := []func(*config.LoadOptions) error{}
		if opts.Region != "" {
			cfgOpts = append(cfgOpts, config.WithRegion(opts.Region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = secretsmanager.NewFromConfig(cfg)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &Manager{
		client: client,
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// GetSecret fetches the secret's JSON payload, serving from cache while the
// entry is fresh.
func (m *Manager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	m.mu.RLock()
	entry, ok := m.cache[secretARN]
	m.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretARN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	var value map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &value); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object of strings: %w", maskARN(secretARN), err)
	}

	m.mu.Lock()
	m.cache[secretARN] = cacheEntry{value: value, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()

	return value, nil
}

// Invalidate drops a cached secret so the next read refetches it.
func (m *Manager) Invalidate(secretARN string) {
	m.mu.Lock()
	delete(m.cache, secretARN)
	m.mu.Unlock()
}

// maskARN keeps log lines useful without leaking the full secret name.
func maskARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 7 {
		if len(arn) > 8 {
			return arn[:8] + "..."
		}
		return arn
	}
	name := parts[6]
	if len(name) > 4 {
		name = name[:4] + "..."
	}
	return strings.Join(append(parts[:6], name), ":")
}
