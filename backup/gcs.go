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

package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSSink stores backups in a Google Cloud Storage bucket
type GCSSink struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	logger *slog.Logger
}

func NewGCSSink(ctx context.Context, bucket string, opts ...SinkOptionFunc) (*GCSSink, error) {
	o := applyOptions(opts)
	clientOpts := []option.ClientOption{storage.WithDisabledClientMetrics()}
	if o.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(o.credentialsFile))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs backup: create client: %w", err)
	}
	return newGCSSink(client, bucket, o), nil
}

// NewGCSSinkWithClient uses an existing storage client
func NewGCSSinkWithClient(client *storage.Client, bucket string, opts ...SinkOptionFunc) *GCSSink {
	return newGCSSink(client, bucket, applyOptions(opts))
}

func newGCSSink(client *storage.Client, bucket string, o sinkOptions) *GCSSink {
	return &GCSSink{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: o.prefix,
		logger: o.logger,
	}
}

func (s *GCSSink) Put(ctx context.Context, name string, data []byte) error {
	cleaned, err := cleanName(name)
	if err != nil {
		return err
	}
	w := s.bucket.Object(s.prefix + cleaned).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs backup: write %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs backup: write %q: %w", name, err)
	}
	s.logger.Debug("wrote backup", "name", name, "bytes", len(data))
	return nil
}

func (s *GCSSink) Get(ctx context.Context, name string) ([]byte, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	r, err := s.bucket.Object(s.prefix + cleaned).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("gcs backup: read %q: %w", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs backup: read %q: %w", name, err)
	}
	return data, nil
}

func (s *GCSSink) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix + prefix})
	var ret []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs backup: list: %w", err)
		}
		ret = append(ret, strings.TrimPrefix(attrs.Name, s.prefix))
	}
	slices.Sort(ret)
	return ret, nil
}

func (s *GCSSink) Close() error {
	return s.client.Close()
}
