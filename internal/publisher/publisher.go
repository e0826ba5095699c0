// Package publisher uploads assembled kline files to their published location.
// Publishing happens once per (symbol, interval) after the local file is written.
// There are no internal retries; a failed upload leaves the local file in place.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/johnayoung/go-kline-archiver/internal/config"
	"github.com/johnayoung/go-kline-archiver/internal/models"
)

// Publisher uploads one local file under a key such as BTCUSDT/klines/1d.parquet.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) error
}

// Key returns the published key for a symbol, interval and file extension.
func Key(symbol, interval, ext string) string {
	return models.PublishKey(strings.ToUpper(symbol), interval, ext)
}

func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(key, "/")
}

// New builds the publisher selected by cfg.Type.
func New(ctx context.Context, cfg config.PublisherConfig, logger *slog.Logger) (Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case "", "none":
		return NopPublisher{}, nil
	case "local":
		return NewLocalPublisher(cfg.LocalDir, cfg.Prefix, logger)
	case "s3":
		return NewS3Publisher(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported publisher type %q", cfg.Type)
	}
}

// NopPublisher discards every upload.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(ctx context.Context, localPath, key string) error {
	return ctx.Err()
}
