// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

const testARN = "arn:aws:secretsmanager:us-east-1:123456789012:secret:faasflow/azure-key-AbCdEf"

// fakeClient returns a canned secret string and counts calls.
type fakeClient struct {
	secretString *string
	err          error
	calls        int
}

func (f *fakeClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.secretString}, nil
}

func newManager(t *testing.T, client GetSecretValueAPI, ttl time.Duration) *Manager {
	t.Helper()
	m, err := New(context.Background(), Options{Client: client, CacheTTL: ttl})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return m
}

func TestGetSecret(t *testing.T) {
	client := &fakeClient{secretString: aws.String(`{"function_key":"k-123","extra":"v"}`)}
	m := newManager(t, client, time.Minute)

	value, err := m.GetSecret(context.Background(), testARN)
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if value["function_key"] != "k-123" {
		t.Errorf("Expected function_key k-123, got %q", value["function_key"])
	}
	if value["extra"] != "v" {
		t.Errorf("Expected extra v, got %q", value["extra"])
	}
}

func TestGetSecretCaches(t *testing.T) {
	client := &fakeClient{secretString: aws.String(`{"function_key":"k-123"}`)}
	m := newManager(t, client, time.Minute)

	for i := 0; i < 5; i++ {
		if _, err := m.GetSecret(context.Background(), testARN); err != nil {
			t.Fatalf("GetSecret %d failed: %v", i, err)
		}
	}
	if client.calls != 1 {
		t.Errorf("Expected 1 API call with a warm cache, got %d", client.calls)
	}
}

func TestGetSecretCacheExpiry(t *testing.T) {
	client := &fakeClient{secretString: aws.String(`{"function_key":"k-123"}`)}
	m := newManager(t, client, 10*time.Millisecond)

	if _, err := m.GetSecret(context.Background(), testARN); err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := m.GetSecret(context.Background(), testARN); err != nil {
		t.Fatalf("GetSecret after expiry failed: %v", err)
	}

	if client.calls != 2 {
		t.Errorf("Expected a refetch after TTL expiry, got %d calls", client.calls)
	}
}

func TestInvalidate(t *testing.T) {
	client := &fakeClient{secretString: aws.String(`{"function_key":"k-123"}`)}
	m := newManager(t, client, time.Minute)

	if _, err := m.GetSecret(context.Background(), testARN); err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	m.Invalidate(testARN)
	if _, err := m.GetSecret(context.Background(), testARN); err != nil {
		t.Fatalf("GetSecret after invalidate failed: %v", err)
	}

	if client.calls != 2 {
		t.Errorf("Expected a refetch after invalidation, got %d calls", client.calls)
	}
}

func TestGetSecretAPIError(t *testing.T) {
	client := &fakeClient{err: errors.New("access denied")}
	m := newManager(t, client, time.Minute)

	_, err := m.GetSecret(context.Background(), testARN)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if strings.Contains(err.Error(), "azure-key-AbCdEf") {
		t.Errorf("Error must not leak the full secret name: %v", err)
	}
}

func TestGetSecretNoStringValue(t *testing.T) {
	client := &fakeClient{}
	m := newManager(t, client, time.Minute)

	if _, err := m.GetSecret(context.Background(), testARN); err == nil {
		t.Fatal("Expected an error for a binary-only secret")
	}
}

func TestGetSecretMalformedJSON(t *testing.T) {
	client := &fakeClient{secretString: aws.String(`just-a-plain-string`)}
	m := newManager(t, client, time.Minute)

	if _, err := m.GetSecret(context.Background(), testARN); err == nil {
		t.Fatal("Expected an error for a non-JSON secret")
	}
	if client.calls != 1 {
		t.Errorf("Expected 1 call, got %d", client.calls)
	}
}

func TestMaskARN(t *testing.T) {
	tests := []struct {
		name string
		arn  string
		want string
	}{
		{
			"full arn",
			testARN,
			"arn:aws:secretsmanager:us-east-1:123456789012:secret:faas...",
		},
		{
			"short string",
			"my-secret-name",
			"my-secre...",
		},
		{
			"tiny string",
			"key",
			"key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskARN(tt.arn); got != tt.want {
				t.Errorf("maskARN(%q) = %q, want %q", tt.arn, got, tt.want)
			}
		})
	}
}
