// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// BlobUploader is the slice of the Azure Blob client the sink needs
// (enables testing with a fake client).
type BlobUploader interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// AzureBlobSink archives decisions to an Azure Blob Storage container.
type AzureBlobSink struct {
	client    BlobUploader
	container string
}

// NewAzureBlobSink builds a sink for the given storage account URL and
// container using the default Azure credential chain.
func NewAzureBlobSink(accountURL, container string) (*AzureBlobSink, error) {
	if accountURL == "" || container == "" {
		return nil, fmt.Errorf("azure blob archive requires account_url and bucket")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}
	return &AzureBlobSink{client: client, container: container}, nil
}

// NewAzureBlobSinkWithClient builds a sink around an existing client. Used
// by tests.
func NewAzureBlobSinkWithClient(client BlobUploader, container string) *AzureBlobSink {
	return &AzureBlobSink{client: client, container: container}
}

// Name identifies the sink in logs.
func (s *AzureBlobSink) Name() string { return "azure-blob" }

// Put writes the blob.
func (s *AzureBlobSink) Put(ctx context.Context, key string, data []byte) error {
	contentType := "application/json"
	_, err := s.client.UploadBuffer(ctx, s.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", s.container, key, err)
	}
	return nil
}

var _ ObjectSink = (*AzureBlobSink)(nil)
