// Package store opens the dataset store and report source selected by
// configuration.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/maintrack/internal/config"
	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/JonMunkholm/maintrack/internal/objectstore"
	"github.com/JonMunkholm/maintrack/internal/store/postgres"
	"github.com/JonMunkholm/maintrack/internal/store/sqlite"
)

// Backend is an opened dataset store plus its optional report source.
type Backend struct {
	Dataset core.DatasetStore
	// Reports is nil when no bucket is configured.
	Reports core.ReportSource

	closers []func()
}

// Close releases connections held by the backend.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Options returns the core service options this backend provides.
func (b *Backend) Options() []core.Option {
	if b.Reports == nil {
		return nil
	}
	return []core.Option{core.WithReportSource(b.Reports)}
}

// Open connects the configured store. The S3 bucket, when configured, is
// also the report source regardless of the dataset driver.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	b := &Backend{}

	var bucket *objectstore.Client
	if cfg.S3.Enabled() {
		c, err := objectstore.New(ctx, objectstore.Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UseSSL:          cfg.S3.UseSSL,
			DatasetKey:      cfg.S3.DatasetKey,
			ReportsPrefix:   cfg.S3.ReportsPrefix,
			SnapshotsPrefix: cfg.S3.SnapshotsPrefix,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
			KeepSnapshots:   cfg.Store.KeepSnapshots,
		})
		if err != nil {
			return nil, err
		}
		bucket = c
		b.Reports = c
	}

	switch strings.ToLower(cfg.Store.Driver) {
	case config.DriverSQLite:
		s, err := sqlite.OpenStore(ctx, cfg.Store.SQLitePath, cfg.Store.KeepSnapshots)
		if err != nil {
			return nil, err
		}
		b.Dataset = s
		b.closers = append(b.closers, func() {
			if err := s.Close(); err != nil {
				slog.Warn("closing sqlite store", "error", err)
			}
		})
		slog.Info("dataset store opened", "driver", config.DriverSQLite, "path", cfg.Store.SQLitePath)

	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			URL:             cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		s, err := postgres.NewStore(ctx, pool, cfg.Store.KeepSnapshots)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Dataset = s
		slog.Info("dataset store opened", "driver", config.DriverPostgres, "max_conns", cfg.Database.MaxConns)

	case config.DriverS3:
		if bucket == nil {
			return nil, fmt.Errorf("store driver s3 needs S3_BUCKET")
		}
		if err := bucket.Ping(ctx); err != nil {
			return nil, err
		}
		b.Dataset = bucket
		slog.Info("dataset store opened", "driver", config.DriverS3, "bucket", cfg.S3.Bucket, "key", cfg.S3.DatasetKey)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if b.Reports != nil {
		slog.Info("report source configured", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.ReportsPrefix)
	}
	return b, nil
}
