package collector

import (
	"fmt"
	"time"

	"github.com/johnayoung/go-kline-archiver/internal/config"
	"github.com/johnayoung/go-kline-archiver/internal/exchange"
	"github.com/johnayoung/go-kline-archiver/internal/logger"
	"github.com/johnayoung/go-kline-archiver/internal/metrics"
	"github.com/johnayoung/go-kline-archiver/internal/publisher"
	"github.com/johnayoung/go-kline-archiver/internal/storage"
)

// FetcherBuilder provides a builder pattern for creating fetchers
type FetcherBuilder struct {
	source      exchange.ArchiveSource
	writer      storage.TableWriter
	publisher   publisher.Publisher
	defaults    config.ArchiveDefaults
	defaultsSet bool
	tempDir     string
	progress    ProgressFactory
	metrics     *metrics.RunMetrics
	logger      *logger.ComponentLogger
}

// NewBuilder creates a new fetcher builder
func NewBuilder() *FetcherBuilder {
	return &FetcherBuilder{}
}

// WithSource sets the archive repository client
func (b *FetcherBuilder) WithSource(source exchange.ArchiveSource) *FetcherBuilder {
	b.source = source
	return b
}

// WithWriter sets the table writer
func (b *FetcherBuilder) WithWriter(writer storage.TableWriter) *FetcherBuilder {
	b.writer = writer
	return b
}

// WithPublisher sets the publisher; without one files are only written locally
func (b *FetcherBuilder) WithPublisher(p publisher.Publisher) *FetcherBuilder {
	b.publisher = p
	return b
}

// WithDefaults sets the defaults used to fill requests
func (b *FetcherBuilder) WithDefaults(d config.ArchiveDefaults) *FetcherBuilder {
	b.defaults = d
	b.defaultsSet = true
	return b
}

// WithTempDir sets the directory for scratch archives
func (b *FetcherBuilder) WithTempDir(dir string) *FetcherBuilder {
	b.tempDir = dir
	return b
}

// WithProgress sets the progress reporter
func (b *FetcherBuilder) WithProgress(p ProgressFactory) *FetcherBuilder {
	b.progress = p
	return b
}

// WithMetrics sets the run counters
func (b *FetcherBuilder) WithMetrics(m *metrics.RunMetrics) *FetcherBuilder {
	b.metrics = m
	return b
}

// WithLogger sets the logger
func (b *FetcherBuilder) WithLogger(l *logger.ComponentLogger) *FetcherBuilder {
	b.logger = l
	return b
}

// Build creates the fetcher with the configured options
func (b *FetcherBuilder) Build() (*Fetcher, error) {
	if b.source == nil {
		return nil, fmt.Errorf("archive source is required")
	}
	if b.writer == nil {
		return nil, fmt.Errorf("table writer is required")
	}

	defaults := b.defaults
	if !b.defaultsSet {
		d, err := config.DefaultConfig().Defaults.Resolve(time.Now())
		if err != nil {
			return nil, fmt.Errorf("resolve defaults: %w", err)
		}
		defaults = d
	}

	f := &Fetcher{
		source:    b.source,
		writer:    b.writer,
		publisher: b.publisher,
		defaults:  defaults,
		tempDir:   b.tempDir,
		progress:  b.progress,
		metrics:   b.metrics,
		logger:    b.logger,
	}
	if f.tempDir == "" {
		f.tempDir = defaultTempDir()
	}
	if f.progress == nil {
		f.progress = NopProgress
	}
	if f.metrics == nil {
		f.metrics = metrics.NewRunMetrics()
	}
	if f.logger == nil {
		f.logger = logger.NewComponentLogger(nil, "collector")
	}
	return f, nil
}
