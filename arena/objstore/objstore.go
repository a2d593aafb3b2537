// Package objstore uploads end-of-run result snapshots to S3-compatible
// storage.
package objstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"snake-arena/arena/config"
)

const (
	RatingsObject  = "ratings.json"
	OutcomesObject = "winrates.json"
	SummaryObject  = "summary.json"
)

func Validate(cfg config.ObjectStore) error {
	var missing []string
	if strings.TrimSpace(cfg.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" {
		missing = append(missing, "access key")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		missing = append(missing, "secret key")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("object store: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func NewMinIOClient(cfg config.ObjectStore) (*minio.Client, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

// ObjectKey is where a run's file lands: runs/<run-id>/<name>.
func ObjectKey(runID uuid.UUID, name string) string {
	return path.Join("runs", runID.String(), name)
}

// Snapshotter writes JSON documents under one run's prefix.
type Snapshotter struct {
	client *minio.Client
	bucket string
	runID  uuid.UUID
}

// NewSnapshotter connects and makes sure the bucket exists.
func NewSnapshotter(ctx context.Context, cfg config.ObjectStore, runID uuid.UUID) (*Snapshotter, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := EnsureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	return &Snapshotter{client: client, bucket: cfg.Bucket, runID: runID}, nil
}

// Put uploads v as JSON and returns its object key.
func (s *Snapshotter) Put(ctx context.Context, name string, v any) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("object store not configured")
	}
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	key := ObjectKey(s.runID, name)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
