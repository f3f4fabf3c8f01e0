package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// Backend names.
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is "fs", "memory" or "s3".
	Backend string
	// Path is the root directory for fs, or "bucket/prefix" for s3.
	Path string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint for S3-compatible providers.
	Endpoint string
	// UsePathStyle forces path-style S3 addressing.
	UsePathStyle bool
}

// Validate checks the configuration for the selected backend.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFS, "":
		if c.Path == "" {
			return errors.New("storage path is required for fs backend")
		}
	case BackendMemory:
	case BackendS3:
		if bucket, _ := ParseS3Path(c.Path); bucket == "" {
			return errors.New("storage path must be bucket[/prefix] for s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want fs, memory or s3)", c.Backend)
	}
	return nil
}

// Open builds a Store from cfg.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendMemory:
		return NewMemory(opts...), nil
	case BackendS3:
		return NewS3(ctx, cfg, opts...)
	default:
		return NewFS(cfg.Path, opts...)
	}
}

// NewFS returns a filesystem store rooted at root, creating it if needed.
func NewFS(root string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, wrap("init", root, err)
	}
	return NewWithFactory(lode.NewFSFactory(root), BackendFS, opts...)
}

// ParseS3Path splits "bucket/prefix" into its parts.
func ParseS3Path(p string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(strings.Trim(p, "/"), "/")
	return bucket, prefix
}

// NewS3 returns an S3-backed store using the AWS default credential chain.
func NewS3(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	bucket, prefix := ParseS3Path(cfg.Path)
	if bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return NewWithFactory(func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: bucket,
			Prefix: prefix,
		})
	}, BackendS3, opts...)
}
