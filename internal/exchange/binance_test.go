package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/johnayoung/go-kline-archiver/internal/config"
	apperrors "github.com/johnayoung/go-kline-archiver/internal/errors"
	"github.com/johnayoung/go-kline-archiver/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// requestLog records the paths a mock server was asked for.
type requestLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *requestLog) add(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, p)
}

func (l *requestLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func newTestClient(t *testing.T, serverURL string) *BinanceVision {
	t.Helper()

	archiveCfg := config.DefaultConfig().Archive
	archiveCfg.BaseURL = serverURL + "/"
	archiveCfg.RateLimit = 1000
	archiveCfg.Timeout = "5s"
	archiveCfg.SymbolsURLs = map[string]string{
		"spot": serverURL + "/api/v3/exchangeInfo",
		"um":   serverURL + "/fapi/v1/exchangeInfo",
	}

	errCfg := config.ErrorHandlingConfig{RetryPolicy: config.RetryPolicyConfig{
		MaxAttempts:     3,
		InitialDelay:    "1ms",
		MaxDelay:        "5ms",
		BackoffStrategy: "fixed",
	}}
	classifier := apperrors.NewErrorClassifier(errCfg, createTestLogger())

	client, err := NewBinanceVision(archiveCfg, 5*time.Second, classifier, createTestLogger())
	require.NoError(t, err)
	return client
}

func testSink(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "archive.zip"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func spotKey() models.ArchiveKey {
	return models.ArchiveKey{
		TradingType: models.TradingTypeSpot,
		Symbol:      "BTCUSDT",
		Interval:    "1d",
		Period:      models.MonthlyPeriod(2024, time.January),
	}
}

func TestFetchArchive_RequestsDerivedPath(t *testing.T) {
	log := &requestLog{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		assert.Equal(t, "kline-archiver/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("zip-bytes"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	sink := testSink(t)

	n, err := client.FetchArchive(context.Background(), spotKey(), sink)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, []string{"/data/spot/monthly/klines/BTCUSDT/1d/BTCUSDT-1d-2024-01.zip"}, log.all())

	data, err := os.ReadFile(sink.Name())
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))
}

func TestFetchArchive_NotFoundIsNotRetried(t *testing.T) {
	log := &requestLog{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchArchive(context.Background(), spotKey(), testSink(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Len(t, log.all(), 1)
}

func TestFetchArchive_RetriesServerErrorsAndRewindsSink(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		attempt := calls
		mu.Unlock()

		if attempt == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("final"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	sink := testSink(t)
	_, err := sink.WriteString("stale content from an earlier attempt")
	require.NoError(t, err)

	n, err := client.FetchArchive(context.Background(), spotKey(), sink)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, 2, calls)

	data, err := os.ReadFile(sink.Name())
	require.NoError(t, err)
	assert.Equal(t, "final", string(data))
}

func TestFetchArchive_GivesUpAfterMaxAttempts(t *testing.T) {
	log := &requestLog{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchArchive(context.Background(), spotKey(), testSink(t))
	require.Error(t, err)
	assert.Len(t, log.all(), 3)
	assert.Equal(t, apperrors.ErrorTypeServerError, apperrors.GetErrorType(err))
	assert.False(t, apperrors.IsNotFound(err))
}

func TestFetchChecksum(t *testing.T) {
	sum := sha256.Sum256([]byte("zip-bytes"))
	digest := hex.EncodeToString(sum[:])

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "BTCUSDT-1d-2024-01.zip.CHECKSUM"))
		fmt.Fprintf(w, "%s  BTCUSDT-1d-2024-01.zip\n", strings.ToUpper(digest))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	got, err := client.FetchChecksum(context.Background(), spotKey())
	require.NoError(t, err)
	assert.Equal(t, digest, got)
}

func TestParseChecksum(t *testing.T) {
	_, err := parseChecksum(strings.NewReader(""))
	assert.Error(t, err)

	_, err = parseChecksum(strings.NewReader("nothex  file.zip"))
	assert.Error(t, err)

	_, err = parseChecksum(strings.NewReader("abcd  file.zip"))
	assert.Error(t, err, "digest must be 32 bytes")
}

func TestListSymbols(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			_, _ = w.Write([]byte(`{"timezone":"UTC","symbols":[{"symbol":"ETHBTC","status":"TRADING"},{"symbol":"BTCUSDT","status":"BREAK"}]}`))
		case "/fapi/v1/exchangeInfo":
			_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT_240329","status":"SETTLING"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	symbols, err := client.ListSymbols(context.Background(), models.TradingTypeSpot)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHBTC", "BTCUSDT"}, symbols)

	symbols, err = client.ListSymbols(context.Background(), models.TradingTypeUM)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT_240329"}, symbols)

	_, err = client.ListSymbols(context.Background(), models.TradingTypeCM)
	assert.Error(t, err)
}

func TestListSymbols_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols": [`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.ListSymbols(context.Background(), models.TradingTypeSpot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse exchange info")
}

func TestFetchArchive_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchArchive(ctx, spotKey(), testSink(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewBinanceVision_Validation(t *testing.T) {
	cfg := config.DefaultConfig().Archive

	bad := cfg
	bad.BaseURL = ""
	_, err := NewBinanceVision(bad, 0, nil, nil)
	assert.Error(t, err)

	bad = cfg
	bad.RateLimit = 0
	_, err = NewBinanceVision(bad, 0, nil, nil)
	assert.ErrorContains(t, err, "rate limit")

	bad = cfg
	bad.SymbolsURLs = map[string]string{"options": "http://x"}
	_, err = NewBinanceVision(bad, 0, nil, nil)
	assert.Error(t, err)

	client, err := NewBinanceVision(cfg, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, client.httpClient.Timeout)

	client, err = NewBinanceVision(cfg, 3*time.Second, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, client.httpClient.Timeout)
	limits := client.GetLimits()
	assert.True(t, limits.IsValid())
	assert.Equal(t, 10, limits.RequestsPerSecond)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}
