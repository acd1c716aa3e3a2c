package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/wudi/pdfimages/observability"
)

// BlobUploader is the subset of the Azure blob client used by BlobStore.
type BlobUploader interface {
	// CreateContainer returns ErrContainerExists when the container is already there.
	CreateContainer(ctx context.Context, container string) error
	Upload(ctx context.Context, container, blob string, data []byte) (string, error)
}

type azureUploader struct {
	client *azblob.Client
}

// NewAzureUploader builds an azblob client from conn.
func NewAzureUploader(conn string) (BlobUploader, error) {
	if _, err := ParseConnectionString(conn); err != nil {
		return nil, err
	}
	client, err := azblob.NewClientFromConnectionString(conn, nil)
	if err != nil {
		return nil, fmt.Errorf("azblob client: %w", err)
	}
	return &azureUploader{client: client}, nil
}

func (u *azureUploader) CreateContainer(ctx context.Context, container string) error {
	_, err := u.client.CreateContainer(ctx, container, nil)
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return ErrContainerExists
	}
	return err
}

func (u *azureUploader) Upload(ctx context.Context, container, blob string, data []byte) (string, error) {
	if _, err := u.client.UploadBuffer(ctx, container, blob, data, nil); err != nil {
		return "", err
	}
	return u.client.ServiceClient().NewContainerClient(container).NewBlockBlobClient(blob).URL(), nil
}

// BlobStore uploads into a single container, creating it on first use.
type BlobStore struct {
	uploader  BlobUploader
	container string
	logger    observability.Logger
	ensured   bool
}

func NewBlobStore(u BlobUploader, container string, logger observability.Logger) *BlobStore {
	return &BlobStore{uploader: u, container: container, logger: observability.OrNop(logger)}
}

// Put uploads data as blob name, overwriting an existing blob, and returns its URL.
// Failing to create the container is logged and the upload attempted anyway.
func (s *BlobStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if !s.ensured {
		s.ensured = true
		switch err := s.uploader.CreateContainer(ctx, s.container); {
		case err == nil:
			s.logger.Info("created container", observability.String("container", s.container))
		case errors.Is(err, ErrContainerExists):
			s.logger.Info("container already exists", observability.String("container", s.container))
		default:
			s.logger.Warn("could not create container", observability.String("container", s.container), observability.Err(err))
		}
	}

	s.logger.Info("uploading image", observability.String("blob", name))
	url, err := s.uploader.Upload(ctx, s.container, name, data)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	s.logger.Info("uploaded image", observability.String("blob", name), observability.String("url", url))
	return url, nil
}
