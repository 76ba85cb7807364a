// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSSink archives decisions to a Google Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
}

// NewGCSSink builds a sink for the given bucket using application default
// credentials.
func NewGCSSink(ctx context.Context, bucket string) (*GCSSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs archive bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket}, nil
}

// Name identifies the sink in logs.
func (s *GCSSink) Name() string { return "gcs" }

// Put writes the object.
func (s *GCSSink) Put(ctx context.Context, key string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

var _ ObjectSink = (*GCSSink)(nil)
