// Package objectstore keeps the dataset and inspection reports in an
// S3-compatible bucket (AWS S3 or MinIO).
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DefaultKeepSnapshots is how many replaced datasets are retained.
const DefaultKeepSnapshots = 20

// Config holds bucket settings.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool

	// DatasetKey is the object holding the dataset JSON.
	DatasetKey string
	// ReportsPrefix is where inspection report PDFs are uploaded.
	ReportsPrefix string
	// SnapshotsPrefix holds replaced datasets; defaults to "snapshots/".
	SnapshotsPrefix string
	// PublicBaseURL, when set, is joined with the object key to build report
	// links. Otherwise links use the s3:// scheme.
	PublicBaseURL string
	KeepSnapshots int
}

// API is the subset of the S3 client used here.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Client implements core.DatasetStore, core.SnapshotStore and
// core.ReportSource on one bucket.
type Client struct {
	api API
	cfg Config
	now func() time.Time
}

// New builds an S3 client with static credentials and path-style
// addressing, so MinIO endpoints work unchanged.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objectstore: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = true
	})
	return NewWithAPI(api, cfg), nil
}

// NewWithAPI wraps an existing S3 API implementation.
func NewWithAPI(api API, cfg Config) *Client {
	if cfg.DatasetKey == "" {
		cfg.DatasetKey = "maintrack/dataset.json"
	}
	if cfg.SnapshotsPrefix == "" {
		cfg.SnapshotsPrefix = "snapshots/"
	}
	if !strings.HasSuffix(cfg.SnapshotsPrefix, "/") {
		cfg.SnapshotsPrefix += "/"
	}
	if cfg.ReportsPrefix != "" && !strings.HasSuffix(cfg.ReportsPrefix, "/") {
		cfg.ReportsPrefix += "/"
	}
	if cfg.KeepSnapshots <= 0 {
		cfg.KeepSnapshots = DefaultKeepSnapshots
	}
	return &Client{api: api, cfg: cfg, now: time.Now}
}

func endpointURL(endpoint string, useSSL bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// Ping lists at most one object to verify the bucket is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.cfg.Bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to S3: %w", err)
	}
	return nil
}

// isNotFound matches modeled and unmodeled missing-key errors. CopyObject
// reports a missing source only through the error code.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (c *Client) get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Load returns nil data when the dataset object does not exist.
func (c *Client) Load(ctx context.Context) ([]byte, error) {
	return c.get(ctx, c.cfg.DatasetKey)
}

// Save copies the current dataset object under the snapshots prefix, then
// overwrites it and prunes old snapshots.
func (c *Client) Save(ctx context.Context, data []byte) error {
	snapKey := c.cfg.SnapshotsPrefix + snapshotID(c.now()) + ".json"
	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.cfg.Bucket),
		Key:        aws.String(snapKey),
		CopySource: aws.String(c.cfg.Bucket + "/" + c.cfg.DatasetKey),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("snapshot dataset: %w", err)
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(c.cfg.DatasetKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	return c.pruneSnapshots(ctx)
}

// snapshotID is a fixed-width timestamp so lexical order is time order.
func snapshotID(t time.Time) string {
	return fmt.Sprintf("%020d", t.UTC().UnixNano())
}

func (c *Client) list(ctx context.Context, prefix string) ([]types.Object, error) {
	var objects []types.Object
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}

func (c *Client) snapshotObjects(ctx context.Context) ([]types.Object, error) {
	objects, err := c.list(ctx, c.cfg.SnapshotsPrefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool {
		return aws.ToString(objects[i].Key) > aws.ToString(objects[j].Key)
	})
	return objects, nil
}

func (c *Client) pruneSnapshots(ctx context.Context) error {
	objects, err := c.snapshotObjects(ctx)
	if err != nil {
		return err
	}
	if len(objects) <= c.cfg.KeepSnapshots {
		return nil
	}
	for _, obj := range objects[c.cfg.KeepSnapshots:] {
		_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.cfg.Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			return fmt.Errorf("prune snapshot %s: %w", aws.ToString(obj.Key), err)
		}
	}
	return nil
}

func (c *Client) ListSnapshots(ctx context.Context, limit int) ([]core.SnapshotInfo, error) {
	objects, err := c.snapshotObjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.SnapshotInfo, 0, len(objects))
	for _, obj := range objects {
		if limit > 0 && len(out) == limit {
			break
		}
		id := strings.TrimSuffix(path.Base(aws.ToString(obj.Key)), ".json")
		info := core.SnapshotInfo{ID: id, Size: int(aws.ToInt64(obj.Size))}
		if nanos, err := strconv.ParseInt(id, 10, 64); err == nil {
			info.CreatedAt = time.Unix(0, nanos).UTC()
		} else if obj.LastModified != nil {
			info.CreatedAt = *obj.LastModified
		}
		out = append(out, info)
	}
	return out, nil
}

// LoadSnapshot returns nil data when id does not name a snapshot.
func (c *Client) LoadSnapshot(ctx context.Context, id string) ([]byte, error) {
	if id == "" || strings.ContainsAny(id, "/.") {
		return nil, nil
	}
	return c.get(ctx, c.cfg.SnapshotsPrefix+id+".json")
}

// ListReports lists every object under the reports prefix. Non-PDF files
// are returned too; the linker filters them.
func (c *Client) ListReports(ctx context.Context) ([]core.ReportFile, error) {
	objects, err := c.list(ctx, c.cfg.ReportsPrefix)
	if err != nil {
		return nil, err
	}
	files := make([]core.ReportFile, 0, len(objects))
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, "/") {
			continue
		}
		f := core.ReportFile{
			ID:   key,
			Name: path.Base(key),
			Link: c.link(key),
		}
		if obj.LastModified != nil {
			f.ModifiedAt = obj.LastModified.UTC()
		}
		files = append(files, f)
	}
	return files, nil
}

func (c *Client) link(key string) string {
	if c.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(c.cfg.PublicBaseURL, "/") + "/" + key
	}
	return "s3://" + c.cfg.Bucket + "/" + key
}
