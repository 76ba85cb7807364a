// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

// Package lambda provides the AWS Lambda backend adapter. It invokes a
// Lambda function synchronously through the AWS SDK and classifies
// throttling, service faults and timeouts as retryable, request-shape
// problems as non-retryable.
package lambda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/smithy-go"

	"faasflow/platform/orchestrator/routing"
)

// InvokeAPI is the slice of the Lambda client the adapter needs (enables
// testing with a fake client).
type InvokeAPI interface {
	Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

// Adapter invokes one AWS Lambda function.
type Adapter struct {
	client       InvokeAPI
	functionName string
	qualifier    string
}

// New builds an adapter for the given backend. The backend's Endpoint is
// the function name or ARN; Settings may carry "qualifier" plus static
// credentials ("access_key_id", "secret_access_key") for environments
// without an ambient IAM role.
func New(backend routing.Backend) (*Adapter, error) {
	if backend.Endpoint == "" {
		return nil, fmt.Errorf("lambda backend %q has no function name", backend.ID)
	}

	ctx := context.Background()
	cfgOpts := []func(*config.LoadOptions) error{}
	if backend.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(backend.Region))
	}
	if ak, sk := backend.Settings["access_key_id"], backend.Settings["secret_access_key"]; ak != "" && sk != "" {
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, backend.Settings["session_token"]),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Adapter{
		client:       awslambda.NewFromConfig(cfg),
		functionName: backend.Endpoint,
		qualifier:    backend.Settings["qualifier"],
	}, nil
}

// NewWithClient builds an adapter around an existing client. Used by tests.
func NewWithClient(client InvokeAPI, functionName, qualifier string) *Adapter {
	return &Adapter{client: client, functionName: functionName, qualifier: qualifier}
}

// Invoke calls the Lambda function with the payload, enforcing the timeout
// through the context deadline.
func (a *Adapter) Invoke(ctx context.Context, payload []byte, timeout time.Duration) (*routing.InvokeResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	input := &awslambda.InvokeInput{
		FunctionName: aws.String(a.functionName),
		Payload:      payload,
	}
	if a.qualifier != "" {
		input.Qualifier = aws.String(a.qualifier)
	}

	started := time.Now()
	out, err := a.client.Invoke(ctx, input)
	elapsed := time.Since(started)

	if err != nil {
		return classifyError(err, elapsed), nil
	}

	statusCode := 0
	if out.StatusCode != 0 {
		statusCode = int(out.StatusCode)
	}

	// A FunctionError means the function ran and raised: the request
	// reached user code and was rejected, so another backend would fail
	// the same way.
	if out.FunctionError != nil {
		return &routing.InvokeResult{
			Status:     routing.StatusNonRetryableFailure,
			Body:       out.Payload,
			Elapsed:    elapsed,
			StatusCode: statusCode,
			Err:        fmt.Sprintf("function error: %s", aws.ToString(out.FunctionError)),
		}, nil
	}

	return &routing.InvokeResult{
		Status:     routing.StatusSuccess,
		Body:       out.Payload,
		Elapsed:    elapsed,
		StatusCode: statusCode,
	}, nil
}

// classifyError maps SDK errors into the shared three-way classification.
func classifyError(err error, elapsed time.Duration) *routing.InvokeResult {
	res := &routing.InvokeResult{
		Status:  routing.StatusRetryableFailure,
		Elapsed: elapsed,
		Err:     err.Error(),
	}

	if errors.Is(err, context.DeadlineExceeded) {
		res.Timeout = true
		return res
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidRequestContentException",
			"InvalidParameterValueException",
			"RequestTooLargeException",
			"UnsupportedMediaTypeException",
			"ResourceNotFoundException",
			"AccessDeniedException":
			res.Status = routing.StatusNonRetryableFailure
		}
	}
	return res
}

// Ensure Adapter implements the backend adapter capability.
var _ routing.BackendAdapter = (*Adapter)(nil)

// Factory adapts New to the adapter registry's factory signature.
func Factory(backend routing.Backend) (routing.BackendAdapter, error) {
	return New(backend)
}
