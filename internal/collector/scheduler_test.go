package collector

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-kline-archiver/internal/config"
	"github.com/johnayoung/go-kline-archiver/internal/logger"
	"github.com/johnayoung/go-kline-archiver/internal/models"
)

type mockDailyFetcher struct {
	mock.Mock
}

func (m *mockDailyFetcher) FetchDaily(ctx context.Context, req DailyRequest) (*Report, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*Report), args.Error(1)
	}
	return nil, args.Error(1)
}

func staticSymbols(symbols ...string) SymbolSource {
	return func(context.Context) ([]string, error) { return symbols, nil }
}

func newTestScheduler(t *testing.T, fetcher DailyFetcher, opts SchedulerOptions) *Scheduler {
	t.Helper()
	if opts.Cron == "" {
		opts.Cron = "30 1 * * *"
	}
	if opts.Symbols == nil {
		opts.Symbols = staticSymbols("BTCUSDT")
	}
	s, err := NewScheduler(fetcher, opts, logger.NewComponentLogger(createTestLogger(), "scheduler"))
	require.NoError(t, err)
	return s
}

func TestScheduler_RunOnceFetchesYesterday(t *testing.T) {
	fetcher := &mockDailyFetcher{}
	yesterday := day(2024, 3, 9)

	fetcher.On("FetchDaily", mock.Anything, mock.MatchedBy(func(req DailyRequest) bool {
		return req.TradingType == models.TradingTypeUM &&
			len(req.Symbols) == 2 && req.Symbols[0] == "BTCUSDT" &&
			len(req.Dates) == 1 && req.Dates[0].Equal(yesterday) &&
			req.Start.Equal(yesterday) && req.End.Equal(yesterday) &&
			req.Tag == yesterday.Format(models.DateLayout) &&
			req.VerifyChecksum
	})).Return(&Report{Granularity: models.GranularityDaily}, nil).Once()

	s := newTestScheduler(t, fetcher, SchedulerOptions{
		TradingType:    models.TradingTypeUM,
		Intervals:      []string{"1m"},
		VerifyChecksum: true,
		Symbols:        staticSymbols("BTCUSDT", "ETHUSDT"),
	})
	s.now = func() time.Time { return time.Date(2024, 3, 10, 1, 30, 0, 0, time.UTC) }

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.GranularityDaily, report.Granularity)

	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.CompletedRuns)
	assert.Zero(t, stats.FailedRuns)
	assert.Equal(t, time.Date(2024, 3, 11, 1, 30, 0, 0, time.UTC), stats.NextRunTime)

	fetcher.AssertExpectations(t)
}

func TestScheduler_RunOnceUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	fetcher := &mockDailyFetcher{}
	fetcher.On("FetchDaily", mock.Anything, mock.MatchedBy(func(req DailyRequest) bool {
		// 2024-03-09T20:00Z is already 2024-03-10 in UTC+9
		return req.Dates[0].Equal(day(2024, 3, 9))
	})).Return(&Report{}, nil).Once()

	s := newTestScheduler(t, fetcher, SchedulerOptions{Location: loc})
	s.now = func() time.Time { return time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC) }

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	fetcher.AssertExpectations(t)
}

func TestScheduler_RunOnceRecordsFailures(t *testing.T) {
	fetcher := &mockDailyFetcher{}
	fetcher.On("FetchDaily", mock.Anything, mock.Anything).Return(nil, errors.New("repository down")).Once()

	s := newTestScheduler(t, fetcher, SchedulerOptions{})
	_, err := s.RunOnce(context.Background())
	require.Error(t, err)

	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.FailedRuns)
	assert.Equal(t, "repository down", stats.LastError)

	failing := newTestScheduler(t, fetcher, SchedulerOptions{
		Symbols: func(context.Context) ([]string, error) { return nil, errors.New("no symbols") },
	})
	_, err = failing.RunOnce(context.Background())
	assert.EqualError(t, err, "no symbols")
	fetcher.AssertNumberOfCalls(t, "FetchDaily", 1)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler(t, &mockDailyFetcher{}, SchedulerOptions{Cron: "0 0 1 1 *"})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(context.Background()), "double start")
	assert.False(t, s.GetStats().NextRunTime.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
	require.NoError(t, s.Stop(ctx), "stopping twice is a no-op")
}

func TestScheduler_Next(t *testing.T) {
	s := newTestScheduler(t, &mockDailyFetcher{}, SchedulerOptions{Cron: "30 1 * * *"})
	next := s.Next(time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 11, 1, 30, 0, 0, time.UTC), next)
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(nil, SchedulerOptions{Cron: "* * * * *", Symbols: staticSymbols()}, nil)
	assert.Error(t, err)

	_, err = NewScheduler(&mockDailyFetcher{}, SchedulerOptions{Cron: "not a cron", Symbols: staticSymbols()}, nil)
	assert.Error(t, err)

	_, err = NewScheduler(&mockDailyFetcher{}, SchedulerOptions{Cron: "* * * * *"}, nil)
	assert.Error(t, err)
}

func TestNewSchedulerOptions(t *testing.T) {
	opts, err := NewSchedulerOptions(config.SchedulerConfig{Cron: "0 2 * * *", Timezone: "Asia/Tokyo"})
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", opts.Location.String())

	opts, err = NewSchedulerOptions(config.SchedulerConfig{Cron: "0 2 * * *"})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, opts.Location)

	_, err = NewSchedulerOptions(config.SchedulerConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}
