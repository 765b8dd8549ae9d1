// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backup stores sealed vault backups on a local directory, a
// Google Cloud Storage bucket or an S3 bucket, optionally wrapped in sops
// envelope encryption.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
)

var (
	ErrNotFound    = errors.New("backup not found")
	ErrInvalidName = errors.New("invalid backup name")
)

// Sink is a named blob store for backup archives
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns the sorted names under prefix
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Open returns the sink for a location: a directory path, file://<dir>,
// gcs://<bucket>[/prefix] or s3://<bucket>[/prefix]
func Open(ctx context.Context, location string, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "backup")
	switch {
	case strings.HasPrefix(location, "gcs://"):
		bucket, prefix, err := splitBucket(strings.TrimPrefix(location, "gcs://"))
		if err != nil {
			return nil, err
		}
		return NewGCSSink(ctx, bucket, WithPrefix(prefix), WithLogger(logger))
	case strings.HasPrefix(location, "s3://"):
		bucket, prefix, err := splitBucket(strings.TrimPrefix(location, "s3://"))
		if err != nil {
			return nil, err
		}
		return NewS3Sink(ctx, bucket, WithPrefix(prefix), WithLogger(logger))
	case location == "":
		return nil, errors.New("backup location not set")
	default:
		return NewFileSink(strings.TrimPrefix(location, "file://"), logger)
	}
}

func splitBucket(s string) (string, string, error) {
	bucket, prefix, _ := strings.Cut(s, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("backup location %q has no bucket", s)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}

// cleanName rejects names that would escape the sink root
func cleanName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return cleaned, nil
}

type sinkOptions struct {
	prefix          string
	logger          *slog.Logger
	credentialsFile string
	region          string
}

type SinkOptionFunc func(*sinkOptions)

// WithPrefix places every object under prefix within the bucket
func WithPrefix(prefix string) SinkOptionFunc {
	return func(o *sinkOptions) {
		o.prefix = prefix
	}
}

func WithLogger(logger *slog.Logger) SinkOptionFunc {
	return func(o *sinkOptions) {
		o.logger = logger
	}
}

// WithCredentialsFile specifies a GCS service account file
func WithCredentialsFile(credentialsFile string) SinkOptionFunc {
	return func(o *sinkOptions) {
		o.credentialsFile = credentialsFile
	}
}

// WithRegion overrides the AWS region
func WithRegion(region string) SinkOptionFunc {
	return func(o *sinkOptions) {
		o.region = region
	}
}

func applyOptions(opts []SinkOptionFunc) sinkOptions {
	ret := sinkOptions{}
	for _, opt := range opts {
		opt(&ret)
	}
	if ret.logger == nil {
		ret.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return ret
}
