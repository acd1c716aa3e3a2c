// Package storage persists extracted images to the local filesystem or to
// Azure Blob Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wudi/pdfimages/config"
	"github.com/wudi/pdfimages/observability"
)

var (
	ErrUnknownTarget       = errors.New("unknown storage target")
	ErrContainerExists     = errors.New("container already exists")
	ErrBadConnectionString = errors.New("malformed connection string")
)

// AzuriteConnectionString points at a local Azure Storage emulator with its
// well-known development account.
const AzuriteConnectionString = "DefaultEndpointsProtocol=http;" +
	"AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlUebSXLt3wmfqNBvBNNHh6bM1t1cTkDpPMM9y5S2k6J6z8uxZVd1L6b9Gg6nxFn5RlEQLzk0K4w==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

// ParseTarget accepts "local" or "blob".
func ParseTarget(s string) (config.Target, error) {
	switch t := config.Target(strings.ToLower(strings.TrimSpace(s))); t {
	case config.TargetLocal, config.TargetBlob:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTarget, s)
}

// ParseConnectionString splits an Azure connection string into its keys.
func ParseConnectionString(conn string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(conn, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%w: segment %q", ErrBadConnectionString, part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadConnectionString)
	}
	return out, nil
}

// AccountName returns the AccountName of conn, or "".
func AccountName(conn string) string { return config.ConnectionStringValue(conn, "AccountName") }

// Store persists data under name and returns its path or URL.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// LocalStore writes files below Root.
type LocalStore struct {
	Root string
}

func NewLocalStore(root string) *LocalStore { return &LocalStore{Root: root} }

func (s *LocalStore) Put(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// UploaderFactory builds a blob client from a connection string.
type UploaderFactory func(conn string) (BlobUploader, error)

type options struct {
	logger      observability.Logger
	tracer      observability.Tracer
	newUploader UploaderFactory
}

type Option func(*options)

func WithLogger(l observability.Logger) Option { return func(o *options) { o.logger = l } }

func WithTracer(t observability.Tracer) Option { return func(o *options) { o.tracer = t } }

// WithUploaderFactory replaces the Azure client constructor.
func WithUploaderFactory(f UploaderFactory) Option { return func(o *options) { o.newUploader = f } }

// Storer routes images to the configured target. The blob client is built
// on first use and reused.
type Storer struct {
	cfg    config.ExtractionConfig
	opts   options
	local  *LocalStore
	blob   *BlobStore
	blobOK bool
}

func NewStorer(cfg config.ExtractionConfig, opts ...Option) *Storer {
	o := options{
		logger:      observability.NopLogger{},
		tracer:      observability.NopTracer(),
		newUploader: NewAzureUploader,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Storer{cfg: cfg, opts: o, local: NewLocalStore(cfg.OutputDir)}
}

// Store writes data to target. A failed blob upload falls back to the local
// directory and returns the local path.
func (s *Storer) Store(ctx context.Context, target config.Target, data []byte, name string) (string, error) {
	ctx, span := s.opts.tracer.StartSpan(ctx, observability.SpanStore)
	defer span.Finish()
	span.SetTag("target", string(target))
	span.SetTag("name", name)

	log := s.opts.logger
	switch target {
	case config.TargetLocal:
		path, err := s.local.Put(ctx, name, data)
		if err != nil {
			span.SetError(err)
			return "", err
		}
		log.Info("saved image", observability.String("file", name), observability.String("dir", s.cfg.OutputDir))
		return path, nil

	case config.TargetBlob:
		url, err := s.putBlob(ctx, name, data)
		if err == nil {
			return url, nil
		}
		log.Error("blob upload failed", observability.String("file", name), observability.Err(err))
		log.Warn("falling back to local storage", observability.String("file", name))
		path, err := s.local.Put(ctx, name, data)
		if err != nil {
			span.SetError(err)
			return "", err
		}
		log.Info("saved image (fallback)", observability.String("file", name), observability.String("dir", s.cfg.OutputDir))
		return path, nil
	}

	err := fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	span.SetError(err)
	return "", err
}

func (s *Storer) putBlob(ctx context.Context, name string, data []byte) (string, error) {
	if !s.blobOK {
		conn := s.cfg.BlobConnectionString
		if conn == "" {
			s.opts.logger.Info("no blob connection string, using Azurite")
			conn = AzuriteConnectionString
		}
		u, err := s.opts.newUploader(conn)
		if err != nil {
			return "", fmt.Errorf("blob client: %w", err)
		}
		s.blob = NewBlobStore(u, s.cfg.OutputDir, s.opts.logger)
		s.blobOK = true
	}
	return s.blob.Put(ctx, name, data)
}

// StoreToTarget is a one-shot Storer.Store.
func StoreToTarget(ctx context.Context, target config.Target, data []byte, name string, cfg config.ExtractionConfig, opts ...Option) (string, error) {
	return NewStorer(cfg, opts...).Store(ctx, target, data, name)
}
