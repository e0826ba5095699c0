// Package exchange defines the interfaces and client used to read the exchange's public
// kline archive repository.
//
// The repository serves monthly and daily zip archives of kline CSV data together with
// a .CHECKSUM sidecar per archive. Symbol lists come from the exchange's exchangeInfo
// endpoints, one per trading type.
package exchange

import (
	"context"
	"io"
	"time"

	"github.com/johnayoung/go-kline-archiver/internal/models"
)

// ArchiveSource downloads archives and their checksum sidecars.
//
// Implementations should:
// - Return an error wrapping errors.HTTPStatusError with status 404 when the archive
//   does not exist, so callers can treat it as a recoverable miss
// - Retry transient failures before returning
// - Respect context cancellation
type ArchiveSource interface {
	// FetchArchive writes the archive identified by key into sink and returns the
	// number of bytes written. The sink is rewound and truncated before every
	// attempt, so a retried download never leaves partial data behind.
	FetchArchive(ctx context.Context, key models.ArchiveKey, sink Sink) (int64, error)

	// FetchChecksum returns the hex SHA-256 digest published for the archive.
	FetchChecksum(ctx context.Context, key models.ArchiveKey) (string, error)
}

// SymbolLister lists the symbols traded on a market.
type SymbolLister interface {
	// ListSymbols returns every symbol reported by the exchange for the trading type,
	// in the order the exchange reports them.
	ListSymbols(ctx context.Context, tradingType models.TradingType) ([]string, error)
}

// RateLimitInfo provides rate limiting information and management.
type RateLimitInfo interface {
	// GetLimits returns the client-side rate limiting configuration.
	GetLimits() RateLimit

	// WaitForLimit blocks until the rate limit allows another request or ctx is done.
	WaitForLimit(ctx context.Context) error
}

// Repository combines every capability of the archive repository client.
type Repository interface {
	ArchiveSource
	SymbolLister
	RateLimitInfo
}

// Sink is a rewindable download destination. *os.File satisfies it.
type Sink interface {
	io.Writer
	io.Seeker
	Truncate(size int64) error
}

// RateLimit defines the client-side rate limiting configuration.
type RateLimit struct {
	// RequestsPerSecond is the maximum number of requests allowed per second
	RequestsPerSecond int `json:"requests_per_second"`

	// BurstSize is the maximum number of requests allowed in a burst
	BurstSize int `json:"burst_size"`

	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration `json:"window_duration"`
}

// IsValid checks if the rate limit configuration is valid.
func (rl *RateLimit) IsValid() bool {
	return rl.RequestsPerSecond > 0 && rl.BurstSize > 0 && rl.WindowDuration > 0
}
