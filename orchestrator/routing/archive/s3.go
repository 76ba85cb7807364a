// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the slice of the S3 client the sink needs (enables
// testing with a fake client).
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives decisions to an S3 bucket. Also works against
// S3-compatible stores like MinIO when the SDK endpoint is overridden via
// the environment.
type S3Sink struct {
	client PutObjectAPI
	bucket string
}

// NewS3Sink builds a sink for the given bucket using the ambient AWS
// configuration.
func NewS3Sink(ctx context.Context, bucket, region string) (*S3Sink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 archive bucket is required")
	}
	cfgOpts := []func(*config.LoadOptions) error{}
	if region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Sink{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// NewS3SinkWithClient builds a sink around an existing client. Used by
// tests.
func NewS3SinkWithClient(client PutObjectAPI, bucket string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket}
}

// Name identifies the sink in logs.
func (s *S3Sink) Name() string { return "s3" }

// Put writes the object.
func (s *S3Sink) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

var _ ObjectSink = (*S3Sink)(nil)
