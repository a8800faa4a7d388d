// Package archive copies fetched documents to object storage after they
// have been validated locally.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/entrhq/courier/pkg/logging"
)

var debugLog = logging.NewLogger("archive")

// Archiver stores a local file under an object name and returns its URI.
type Archiver interface {
	Archive(ctx context.Context, localPath, objectName string) (string, error)
}

// Nop archives nothing.
type Nop struct{}

// Archive implements Archiver.
func (Nop) Archive(ctx context.Context, localPath, objectName string) (string, error) {
	return "", nil
}

// WriterFunc opens a writer for bucket/object. Closing it finalizes the
// upload.
type WriterFunc func(ctx context.Context, bucket, object string) (io.WriteCloser, error)

// GCS uploads to a Google Cloud Storage bucket using Application Default
// Credentials.
type GCS struct {
	Bucket string
	Prefix string

	// Timeout bounds a single upload
	Timeout time.Duration

	open WriterFunc
}

// NewGCS creates an archiver for bucket. Objects are stored under prefix.
func NewGCS(bucket, prefix string) *GCS {
	return &GCS{Bucket: bucket, Prefix: prefix, Timeout: 2 * time.Minute, open: openGCSWriter}
}

// WithWriter replaces the upload transport.
func (g *GCS) WithWriter(open WriterFunc) *GCS {
	g.open = open
	return g
}

// Archive uploads localPath and returns its gs:// URI.
func (g *GCS) Archive(ctx context.Context, localPath, objectName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open file %q: %w", localPath, err)
	}
	defer f.Close()

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	object := path.Join(g.Prefix, objectName)
	w, err := g.open(ctx, g.Bucket, object)
	if err != nil {
		return "", fmt.Errorf("open object %s: %w", object, err)
	}

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	uri := fmt.Sprintf("gs://%s/%s", g.Bucket, object)
	debugLog.Infof("archived %s to %s", localPath, uri)
	return uri, nil
}

// clientWriter closes the storage client together with the object writer.
type clientWriter struct {
	*storage.Writer
	client *storage.Client
}

func (w *clientWriter) Close() error {
	err := w.Writer.Close()
	if cerr := w.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func openGCSWriter(ctx context.Context, bucket, object string) (io.WriteCloser, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType(object)
	return &clientWriter{Writer: w, client: client}, nil
}

func contentType(object string) string {
	if strings.HasSuffix(strings.ToLower(object), ".pdf") {
		return "application/pdf"
	}
	return "application/octet-stream"
}

// ParseURI splits gs://bucket/object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
