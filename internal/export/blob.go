package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/kennygrant/sanitize"

	"github.com/JakeFAU/realtime-scraper/internal/hash/sha256"
)

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// BlobSink encodes records and writes them to a BlobStore.
type BlobSink struct {
	store    BlobStore
	prefix   string
	encoding string
}

// BlobSinkOption customizes a BlobSink.
type BlobSinkOption func(*BlobSink)

// WithPrefix places generated object names under prefix.
func WithPrefix(prefix string) BlobSinkOption {
	return func(s *BlobSink) { s.prefix = strings.Trim(prefix, "/") }
}

// WithEncoding pins the encoding regardless of the config.
func WithEncoding(encoding string) BlobSinkOption {
	return func(s *BlobSink) { s.encoding = encoding }
}

// NewBlobSink wraps store.
func NewBlobSink(store BlobStore, opts ...BlobSinkOption) *BlobSink {
	s := &BlobSink{store: store, prefix: "exports"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export encodes records and stores them. The encoding comes from the sink,
// then cfg.Options["encoding"], then cfg.Format, falling back to json. The
// object name is the sanitized destination, or a content hash when no
// destination is given.
func (s *BlobSink) Export(ctx context.Context, records []map[string]any, cfg Config) (Result, error) {
	encoding := s.encoding
	if encoding == "" {
		encoding = cfg.Option("encoding", cfg.Format)
	}
	if !IsEncoding(encoding) {
		encoding = FormatJSON
	}
	encoded, err := Encode(encoding, records)
	if err != nil {
		return Result{}, err
	}
	name := s.objectName(cfg.Destination, encoded)
	if name == "" {
		return Result{}, fmt.Errorf("destination %q sanitizes to an empty name", cfg.Destination)
	}
	uri, err := s.store.PutObject(ctx, name, encoded.ContentType, bytes.NewReader(encoded.Data))
	if err != nil {
		return Result{Destination: name}, fmt.Errorf("put object %s: %w", name, err)
	}
	return Result{Success: true, Destination: uri, RecordCount: len(records)}, nil
}

func (s *BlobSink) objectName(destination string, encoded Encoded) string {
	if strings.TrimSpace(destination) != "" {
		name := strings.TrimLeft(sanitize.Path(destination), "/")
		if name == "." {
			return ""
		}
		return name
	}
	name := sha256.Short(encoded.Data, 16) + "." + encoded.Extension
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}
