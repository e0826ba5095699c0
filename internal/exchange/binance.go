package exchange

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/johnayoung/go-kline-archiver/internal/config"
	apperrors "github.com/johnayoung/go-kline-archiver/internal/errors"
	"github.com/johnayoung/go-kline-archiver/internal/models"
	"golang.org/x/time/rate"
)

const (
	rateLimitBurst  = 1
	rateLimitWindow = time.Second
	defaultTimeout  = 60 * time.Second

	// maxChecksumBytes bounds the sidecar read; a sidecar is one short line.
	maxChecksumBytes = 4 << 10
)

// BinanceVision is the client for the public kline archive repository.
type BinanceVision struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	requestRate int
	baseURL     string
	symbolsURLs map[models.TradingType]string
	userAgent   string
	classifier  *apperrors.ErrorClassifier
	logger      *slog.Logger
}

// NewBinanceVision creates a repository client from the archive configuration.
// A non-positive timeout uses the 60s default.
func NewBinanceVision(cfg config.ArchiveConfig, timeout time.Duration, classifier *apperrors.ErrorClassifier, logger *slog.Logger) (*BinanceVision, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = apperrors.NewErrorClassifier(config.DefaultConfig().ErrorHandling, logger)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("archive base url is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	symbolsURLs := make(map[models.TradingType]string, len(cfg.SymbolsURLs))
	for k, v := range cfg.SymbolsURLs {
		tt, err := models.ParseTradingType(k)
		if err != nil {
			return nil, fmt.Errorf("symbols url: %w", err)
		}
		symbolsURLs[tt] = v
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "kline-archiver/1.0"
	}

	b := &BinanceVision{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), rateLimitBurst),
		requestRate: cfg.RateLimit,
		baseURL:     cfg.BaseURL,
		symbolsURLs: symbolsURLs,
		userAgent:   userAgent,
		classifier:  classifier,
		logger:      logger,
	}

	if limits := b.GetLimits(); !limits.IsValid() {
		return nil, fmt.Errorf("invalid archive rate limit %d, must be greater than 0", cfg.RateLimit)
	}
	return b, nil
}

// FetchArchive implements the ArchiveSource interface.
func (b *BinanceVision) FetchArchive(ctx context.Context, key models.ArchiveKey, sink Sink) (int64, error) {
	url := key.URL(b.baseURL)
	b.logger.Debug("downloading archive", "url", url)

	var written int64
	err := b.get(ctx, "fetch_archive", url, func(body io.Reader) error {
		if _, err := sink.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind sink: %w", err)
		}
		if err := sink.Truncate(0); err != nil {
			return fmt.Errorf("truncate sink: %w", err)
		}
		n, err := io.Copy(sink, body)
		written = n
		if err != nil {
			return fmt.Errorf("copy %s: %w", key.FileName(), err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	b.logger.Debug("archive downloaded", "file", key.FileName(), "bytes", written)
	return written, nil
}

// FetchChecksum implements the ArchiveSource interface.
func (b *BinanceVision) FetchChecksum(ctx context.Context, key models.ArchiveKey) (string, error) {
	var digest string
	err := b.get(ctx, "fetch_checksum", key.ChecksumURL(b.baseURL), func(body io.Reader) error {
		d, err := parseChecksum(io.LimitReader(body, maxChecksumBytes))
		if err != nil {
			return fmt.Errorf("%s: %w", key.ChecksumFileName(), err)
		}
		digest = d
		return nil
	})
	if err != nil {
		return "", err
	}
	return digest, nil
}

// parseChecksum reads a sha256sum-style line: "<hex digest>  <file name>".
func parseChecksum(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		digest := strings.ToLower(fields[0])
		if raw, err := hex.DecodeString(digest); err != nil || len(raw) != 32 {
			return "", fmt.Errorf("malformed checksum %q", fields[0])
		}
		return digest, nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("empty checksum file")
}

// exchangeInfo is the subset of the exchangeInfo response used for symbol listing.
type exchangeInfo struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"symbols"`
}

// ListSymbols implements the SymbolLister interface.
func (b *BinanceVision) ListSymbols(ctx context.Context, tradingType models.TradingType) ([]string, error) {
	url, ok := b.symbolsURLs[tradingType]
	if !ok || url == "" {
		return nil, fmt.Errorf("no symbols endpoint configured for trading type %q", tradingType)
	}

	var info exchangeInfo
	err := b.get(ctx, "list_symbols", url, func(body io.Reader) error {
		info = exchangeInfo{}
		if err := json.NewDecoder(body).Decode(&info); err != nil {
			return fmt.Errorf("failed to parse exchange info: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Symbol != "" {
			symbols = append(symbols, s.Symbol)
		}
	}

	b.logger.Debug("fetched symbols", "trading_type", tradingType, "count", len(symbols))
	return symbols, nil
}

// GetLimits implements the RateLimitInfo interface.
func (b *BinanceVision) GetLimits() RateLimit {
	return RateLimit{
		RequestsPerSecond: b.requestRate,
		BurstSize:         rateLimitBurst,
		WindowDuration:    rateLimitWindow,
	}
}

// WaitForLimit implements the RateLimitInfo interface.
func (b *BinanceVision) WaitForLimit(ctx context.Context) error {
	return b.rateLimiter.Wait(ctx)
}

// get performs a rate-limited GET with retries and hands a 200 body to consume.
// Non-2xx responses become *errors.HTTPStatusError; the classifier decides which
// of them are retried.
func (b *BinanceVision) get(ctx context.Context, operation, url string, consume func(io.Reader) error) error {
	return b.classifier.Retry(ctx, "exchange", operation, func() error {
		if err := b.WaitForLimit(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", b.userAgent)

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// drain so the connection can be reused
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			statusErr := &apperrors.HTTPStatusError{
				StatusCode: resp.StatusCode,
				URL:        url,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			if statusErr.RetryAfter > 0 {
				b.logger.Warn("rate limited, waiting", "retry_after", statusErr.RetryAfter)
				select {
				case <-time.After(statusErr.RetryAfter):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return statusErr
		}

		return consume(resp.Body)
	})
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}

	return 0
}
