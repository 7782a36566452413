package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// GCS uploads artifacts to a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCS builds a GCS provider over an existing client. The client is owned
// by the caller and closed by it.
func NewGCS(client *gcs.Client, bucket, prefix string) (*GCS, error) {
	if client == nil {
		return nil, fmt.Errorf("gcs client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	return &GCS{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Save uploads data to gs://bucket/[prefix/]objectPath.
func (g *GCS) Save(ctx context.Context, objectPath, contentType string, data []byte) error {
	if strings.TrimSpace(objectPath) == "" {
		return fmt.Errorf("object path is required")
	}
	name := objectPath
	if g.prefix != "" {
		name = g.prefix + "/" + objectPath
	}
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("upload %s: %w (close: %v)", name, err, closeErr)
		}
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish upload %s: %w", name, err)
	}
	return nil
}
