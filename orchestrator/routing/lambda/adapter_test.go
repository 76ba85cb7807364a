// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package lambda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/smithy-go"

	"faasflow/platform/orchestrator/routing"
)

// fakeInvoker returns a canned output or error and records the last input.
type fakeInvoker struct {
	out   *awslambda.InvokeOutput
	err   error
	input *awslambda.InvokeInput
}

func (f *fakeInvoker) Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeAPIError struct {
	code string
}

func (e *fakeAPIError) Error() string                 { return e.code }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestNewValidation(t *testing.T) {
	_, err := New(routing.Backend{ID: "aws-1", Kind: routing.KindAWSLambda})
	if err == nil {
		t.Fatal("Expected an error for a backend without a function name")
	}
}

func TestInvokeSuccess(t *testing.T) {
	client := &fakeInvoker{out: &awslambda.InvokeOutput{
		StatusCode: 200,
		Payload:    []byte(`{"resized":true}`),
	}}
	a := NewWithClient(client, "resize-image", "prod")

	res, err := a.Invoke(context.Background(), []byte(`{"width":100}`), time.Second)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if res.Status != routing.StatusSuccess {
		t.Errorf("Expected success, got %s", res.Status)
	}
	if string(res.Body) != `{"resized":true}` {
		t.Errorf("Unexpected body: %s", res.Body)
	}
	if res.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", res.StatusCode)
	}
	if aws.ToString(client.input.FunctionName) != "resize-image" {
		t.Errorf("Unexpected function name: %s", aws.ToString(client.input.FunctionName))
	}
	if aws.ToString(client.input.Qualifier) != "prod" {
		t.Errorf("Expected qualifier prod, got %s", aws.ToString(client.input.Qualifier))
	}
}

func TestInvokeOmitsEmptyQualifier(t *testing.T) {
	client := &fakeInvoker{out: &awslambda.InvokeOutput{StatusCode: 200}}
	a := NewWithClient(client, "resize-image", "")

	if _, err := a.Invoke(context.Background(), []byte(`{}`), time.Second); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if client.input.Qualifier != nil {
		t.Errorf("Expected no qualifier, got %s", aws.ToString(client.input.Qualifier))
	}
}

func TestInvokeFunctionErrorIsNonRetryable(t *testing.T) {
	client := &fakeInvoker{out: &awslambda.InvokeOutput{
		StatusCode:    200,
		FunctionError: aws.String("Unhandled"),
		Payload:       []byte(`{"errorMessage":"boom"}`),
	}}
	a := NewWithClient(client, "resize-image", "")

	res, err := a.Invoke(context.Background(), []byte(`{}`), time.Second)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if res.Status != routing.StatusNonRetryableFailure {
		t.Errorf("A function error must not be retried, got %s", res.Status)
	}
	if res.Err == "" {
		t.Error("Expected an error description")
	}
	if string(res.Body) != `{"errorMessage":"boom"}` {
		t.Errorf("Error payload should be preserved, got %s", res.Body)
	}
}

func TestInvokeTimeout(t *testing.T) {
	client := &fakeInvoker{err: context.DeadlineExceeded}
	a := NewWithClient(client, "resize-image", "")

	res, err := a.Invoke(context.Background(), []byte(`{}`), time.Second)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if res.Status != routing.StatusRetryableFailure {
		t.Errorf("Expected retryable failure, got %s", res.Status)
	}
	if !res.Timeout {
		t.Error("Expected the timeout flag")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus routing.StatusCategory
	}{
		{"throttled", &fakeAPIError{code: "TooManyRequestsException"}, routing.StatusRetryableFailure},
		{"service fault", &fakeAPIError{code: "ServiceException"}, routing.StatusRetryableFailure},
		{"bad payload", &fakeAPIError{code: "InvalidRequestContentException"}, routing.StatusNonRetryableFailure},
		{"payload too large", &fakeAPIError{code: "RequestTooLargeException"}, routing.StatusNonRetryableFailure},
		{"missing function", &fakeAPIError{code: "ResourceNotFoundException"}, routing.StatusNonRetryableFailure},
		{"access denied", &fakeAPIError{code: "AccessDeniedException"}, routing.StatusNonRetryableFailure},
		{"plain error", errors.New("connection reset"), routing.StatusRetryableFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := classifyError(tt.err, 10*time.Millisecond)
			if res.Status != tt.wantStatus {
				t.Errorf("Expected %s, got %s", tt.wantStatus, res.Status)
			}
			if res.Err == "" {
				t.Error("Expected an error description")
			}
		})
	}
}
