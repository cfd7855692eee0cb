package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Object is a downloaded blob together with the attributes ingestion cares about.
type Object struct {
	Bucket      string
	Name        string
	ContentType string
	Metadata    map[string]string
	Data        []byte
}

// URI returns the gs:// locator of the object.
func (o Object) URI() string {
	return fmt.Sprintf("gs://%s/%s", o.Bucket, o.Name)
}

// BlobStore reads and lists objects in Cloud Storage.
type BlobStore struct {
	client *storage.Client
}

// NewBlobStore wraps an existing storage client.
func NewBlobStore(client *storage.Client) *BlobStore {
	return &BlobStore{client: client}
}

// Download reads an object's bytes and its custom metadata.
func (s *BlobStore) Download(ctx context.Context, bucket, name string) (*Object, error) {
	obj := s.client.Bucket(bucket).Object(name)

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes of gs://%s/%s: %w", bucket, name, err)
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, name, err)
	}

	return &Object{
		Bucket:      bucket,
		Name:        name,
		ContentType: attrs.ContentType,
		Metadata:    attrs.Metadata,
		Data:        data,
	}, nil
}

// List returns the names of all objects under prefix.
func (s *BlobStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// SaveAtomically writes content to an object only if it doesn't already exist.
func (s *BlobStore) SaveAtomically(ctx context.Context, bucket, objectName, content string) error {
	return SaveToGCSAtomically(ctx, s.client.Bucket(bucket), objectName, content)
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not an error.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, content string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "text/plain; charset=utf-8"

	if _, err := io.Copy(writer, strings.NewReader(content)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			slog.Info("Object already exists, skipping write", "object", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}
