// Package collector runs the monthly and daily archive fetch loops.
//
// A fetch phase walks symbols, then intervals, then periods, strictly in order:
// - every period inside the date window is downloaded into a scoped temp file
// - the archive is optionally verified against its checksum sidecar and extracted
// - record sets for one (symbol, interval) are concatenated, written and published
//
// Missing archives, bad archives and checksum mismatches are recoverable and are
// reported per period. Any other error aborts the phase.
package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/johnayoung/go-kline-archiver/internal/archive"
	"github.com/johnayoung/go-kline-archiver/internal/config"
	apperrors "github.com/johnayoung/go-kline-archiver/internal/errors"
	"github.com/johnayoung/go-kline-archiver/internal/exchange"
	"github.com/johnayoung/go-kline-archiver/internal/logger"
	"github.com/johnayoung/go-kline-archiver/internal/metrics"
	"github.com/johnayoung/go-kline-archiver/internal/models"
	"github.com/johnayoung/go-kline-archiver/internal/publisher"
	"github.com/johnayoung/go-kline-archiver/internal/storage"
)

// MonthlyRequest selects the monthly archives to fetch. Empty fields fall back to
// the fetcher's ArchiveDefaults; a zero Start or End falls back independently.
type MonthlyRequest struct {
	TradingType    models.TradingType
	Symbols        []string
	Intervals      []string
	Years          []int
	Months         []int
	Start          time.Time
	End            time.Time
	VerifyChecksum bool
}

// DailyRequest selects the daily archives to fetch. Intervals are reduced to those
// that have daily archives, keeping the requested order.
// A non-empty Tag is appended to output file names and publish keys, so a partial
// refresh does not replace the full {SYMBOL}-{interval} file.
type DailyRequest struct {
	TradingType    models.TradingType
	Symbols        []string
	Intervals      []string
	Dates          []time.Time
	Start          time.Time
	End            time.Time
	VerifyChecksum bool
	Tag            string
}

// Fetcher downloads, extracts, assembles and publishes kline archives.
type Fetcher struct {
	source    exchange.ArchiveSource
	writer    storage.TableWriter
	publisher publisher.Publisher
	defaults  config.ArchiveDefaults
	tempDir   string
	progress  ProgressFactory
	metrics   *metrics.RunMetrics
	logger    *logger.ComponentLogger
}

// phase is a fully resolved fetch loop.
type phase struct {
	granularity    models.Granularity
	tradingType    models.TradingType
	symbols        []string
	intervals      []string
	periods        []models.Period
	verifyChecksum bool
	tag            string
}

// Metrics returns the counters updated by the fetcher.
func (f *Fetcher) Metrics() *metrics.RunMetrics {
	return f.metrics
}

// FetchMonthly runs the monthly loop over symbols × intervals × (year, month).
func (f *Fetcher) FetchMonthly(ctx context.Context, req MonthlyRequest) (*Report, error) {
	window, err := f.window(req.Start, req.End)
	if err != nil {
		return nil, err
	}

	intervals, err := f.intervals(req.Intervals)
	if err != nil {
		return nil, err
	}

	years := req.Years
	if len(years) == 0 {
		years = f.defaults.Years()
	}
	months := req.Months
	if len(months) == 0 {
		months = f.defaults.Months()
	}

	var periods []models.Period
	for _, y := range years {
		for _, m := range months {
			if m < 1 || m > 12 {
				return nil, fmt.Errorf("month %d out of range", m)
			}
			p := models.MonthlyPeriod(y, time.Month(m))
			if window.Contains(p) {
				periods = append(periods, p)
			}
		}
	}

	return f.run(ctx, phase{
		granularity:    models.GranularityMonthly,
		tradingType:    req.TradingType,
		symbols:        req.Symbols,
		intervals:      intervals,
		periods:        periods,
		verifyChecksum: req.VerifyChecksum,
	})
}

// FetchDaily runs the daily loop over symbols × daily intervals × dates.
func (f *Fetcher) FetchDaily(ctx context.Context, req DailyRequest) (*Report, error) {
	window, err := f.window(req.Start, req.End)
	if err != nil {
		return nil, err
	}

	intervals, err := f.intervals(req.Intervals)
	if err != nil {
		return nil, err
	}
	intervals = models.FilterIntervals(intervals, f.defaults.DailyIntervals())

	dates := req.Dates
	if len(dates) == 0 {
		dates = f.defaults.DailyDates()
	}

	var periods []models.Period
	for _, d := range dates {
		p := models.DailyPeriod(d)
		if window.Contains(p) {
			periods = append(periods, p)
		}
	}

	return f.run(ctx, phase{
		granularity:    models.GranularityDaily,
		tradingType:    req.TradingType,
		symbols:        req.Symbols,
		intervals:      intervals,
		periods:        periods,
		verifyChecksum: req.VerifyChecksum,
		tag:            req.Tag,
	})
}

func (f *Fetcher) window(start, end time.Time) (models.DateWindow, error) {
	if start.IsZero() && end.IsZero() {
		return f.defaults.Window(), nil
	}
	if start.IsZero() {
		start = f.defaults.StartDate()
	}
	if end.IsZero() {
		end = f.defaults.EndDate()
	}
	return models.NewDateWindow(start, end)
}

func (f *Fetcher) intervals(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return f.defaults.Intervals(), nil
	}
	for _, iv := range requested {
		if !models.IsKnownInterval(iv) {
			return nil, fmt.Errorf("unknown interval %q", iv)
		}
	}
	return append([]string(nil), requested...), nil
}

func (f *Fetcher) run(ctx context.Context, p phase) (*Report, error) {
	if len(p.symbols) == 0 {
		return nil, fmt.Errorf("no symbols to fetch")
	}
	if p.tradingType == "" {
		p.tradingType = models.TradingTypeSpot
	}

	report := &Report{Granularity: p.granularity}
	start := time.Now()
	defer func() { f.metrics.RecordPhase(string(p.granularity), time.Since(start)) }()

	ctx = logger.WithOperation(ctx, "fetch_"+string(p.granularity))
	f.logger.InfoWithContext(ctx, "starting fetch phase",
		"trading_type", p.tradingType,
		"symbols", len(p.symbols),
		"intervals", strings.Join(p.intervals, ","),
		"periods", len(p.periods))

	progress := f.progress(string(p.granularity), len(p.symbols))
	defer progress.Close()
	progress.Logf("Found %d symbols", len(p.symbols))

	for i, symbol := range p.symbols {
		progress.Start(i+1, len(p.symbols), symbol)
		symbolCtx := logger.WithSymbol(ctx, strings.ToUpper(symbol))

		for _, interval := range p.intervals {
			intervalCtx := logger.WithInterval(symbolCtx, interval)

			var sets []archive.RecordSet
			for _, period := range p.periods {
				if err := ctx.Err(); err != nil {
					return report, err
				}

				key := models.ArchiveKey{
					TradingType: p.tradingType,
					Symbol:      symbol,
					Interval:    interval,
					Period:      period,
				}
				res, recs, err := f.fetchPeriod(logger.WithPeriod(intervalCtx, period.String()), key, p.verifyChecksum)
				if err != nil {
					return report, NewCollectionError("fetch", strings.ToUpper(symbol), interval, period.String(), err)
				}
				report.Results = append(report.Results, res)
				sets = append(sets, recs...)
			}

			out, err := f.assemble(intervalCtx, symbol, interval, p.tag, sets)
			if errors.Is(err, storage.ErrEmptyAssembly) {
				f.metrics.RecordEmptyAssembly()
				f.logger.WarnWithContext(intervalCtx, "no records collected, skipping write and publish")
				report.Empty = append(report.Empty, strings.ToUpper(symbol)+" "+interval)
				continue
			}
			if err != nil {
				return report, err
			}
			report.Outputs = append(report.Outputs, *out)
		}

		progress.Done()
	}

	f.logger.InfoWithContext(ctx, "fetch phase completed",
		"fetched", report.Count(StatusFetched),
		"missing", report.Count(StatusMissing),
		"bad_archive", report.Count(StatusBadArchive),
		"checksum_mismatch", report.Count(StatusChecksumMismatch),
		"files", len(report.Outputs),
		"rows", report.Rows(),
		"duration", time.Since(start))

	return report, nil
}

// fetchPeriod downloads and extracts one archive. Recoverable outcomes are returned
// as a result with a nil error.
func (f *Fetcher) fetchPeriod(ctx context.Context, key models.ArchiveKey, verify bool) (PeriodResult, []archive.RecordSet, error) {
	res := PeriodResult{Key: key}
	var sets []archive.RecordSet
	var inconsistent error
	f.metrics.RecordRequested()

	err := withTempFile(f.tempDir, "kline-*.zip", func(tmp *os.File) error {
		n, err := f.source.FetchArchive(ctx, key, tmp)
		if err != nil {
			if apperrors.IsNotFound(err) {
				res.Status = StatusMissing
				res.Err = err
				return nil
			}
			return err
		}
		res.Bytes = n
		f.metrics.RecordBytes(n)

		if verify {
			mismatch, err := f.verify(ctx, key, tmp)
			if err != nil {
				return err
			}
			if mismatch != nil {
				res.Status = StatusChecksumMismatch
				res.Err = mismatch
				return nil
			}
			res.Verified = true
		}

		sets, err = archive.Read(tmp, n)
		if err != nil {
			if errors.Is(err, archive.ErrBadArchive) {
				res.Status = StatusBadArchive
				res.Err = err
				return nil
			}
			return err
		}

		res.Status = StatusFetched
		res.Records = archive.CountRecords(sets)
		res.Inconsistent, inconsistent = checkRows(sets)
		return nil
	})
	if err != nil {
		return res, nil, err
	}

	switch res.Status {
	case StatusFetched:
		f.metrics.RecordFetched(res.Records)
		f.logger.DebugWithContext(ctx, "archive extracted",
			"file", key.FileName(), "entries", len(sets), "records", res.Records)
		if res.Inconsistent > 0 {
			f.metrics.RecordInconsistentRows(res.Inconsistent)
			f.logger.WarnWithContext(ctx, "archive has inconsistent rows, keeping them as archived",
				"file", key.FileName(), "rows", res.Inconsistent, "first", inconsistent)
		}
	case StatusMissing:
		f.metrics.RecordMissing()
		f.logger.DebugWithContext(ctx, "archive not found", "file", key.FileName())
	case StatusBadArchive:
		f.metrics.RecordBadArchive()
		f.logger.WarnWithContext(ctx, "skipping bad archive", "file", key.FileName(), "error", res.Err)
	case StatusChecksumMismatch:
		f.metrics.RecordChecksumMismatch()
		f.logger.WarnWithContext(ctx, "skipping archive with checksum mismatch", "file", key.FileName(), "error", res.Err)
	}

	if !res.Status.Contributes() {
		return res, nil, nil
	}
	return res, sets, nil
}

// checkRows counts rows failing Kline.Validate and returns the first failure.
func checkRows(sets []archive.RecordSet) (int, error) {
	n := 0
	var first error
	for _, rs := range sets {
		for i := range rs.Records {
			if err := rs.Records[i].Validate(); err != nil {
				if first == nil {
					first = fmt.Errorf("%s row %d: %w", rs.Entry, i+1, err)
				}
				n++
			}
		}
	}
	return n, first
}

// verify compares the archive digest with its sidecar. A missing sidecar is logged and
// treated as unverified rather than as a mismatch.
func (f *Fetcher) verify(ctx context.Context, key models.ArchiveKey, tmp *os.File) (*ChecksumMismatchError, error) {
	expected, err := f.source.FetchChecksum(ctx, key)
	if err != nil {
		if apperrors.IsNotFound(err) {
			f.logger.WarnWithContext(ctx, "checksum file not found, archive left unverified", "file", key.ChecksumFileName())
			return nil, nil
		}
		return nil, err
	}

	actual, err := fileSHA256(tmp)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", key.FileName(), err)
	}
	if !digestsEqual(expected, actual) {
		return &ChecksumMismatchError{File: key.FileName(), Expected: expected, Actual: actual}, nil
	}
	return nil, nil
}

// assemble concatenates sets, writes the table and publishes the file.
func (f *Fetcher) assemble(ctx context.Context, symbol, interval, tag string, sets []archive.RecordSet) (*Output, error) {
	table, err := storage.Concat(symbol, interval, sets)
	if err != nil {
		return nil, err
	}
	table.Tag = tag

	path, err := f.writer.Write(ctx, table)
	if err != nil {
		return nil, NewCollectionError("write", table.Symbol, interval, "", err)
	}
	f.metrics.RecordFileWritten()

	out := &Output{
		Symbol:   table.Symbol,
		Interval: interval,
		Path:     path,
		Rows:     table.Len(),
	}

	if f.publisher != nil {
		if _, nop := f.publisher.(publisher.NopPublisher); !nop {
			key := publisher.Key(table.Symbol, table.Stem(), storage.FileExtension)
			if err := f.publisher.Publish(ctx, path, key); err != nil {
				return nil, NewCollectionError("publish", table.Symbol, interval, "", fmt.Errorf("%s: %w", key, err))
			}
			out.PublishedKey = key
			f.metrics.RecordFilePublished()
		}
	}

	f.logger.InfoWithContext(ctx, "assembled klines",
		"rows", out.Rows,
		"sets", len(sets),
		"path", out.Path,
		"published_key", out.PublishedKey)
	return out, nil
}

// ResolveSymbols returns explicit when given, otherwise every symbol the exchange lists
// for the trading type.
func ResolveSymbols(ctx context.Context, lister exchange.SymbolLister, tradingType models.TradingType, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		out := make([]string, 0, len(explicit))
		for _, s := range explicit {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, strings.ToUpper(s))
			}
		}
		return out, nil
	}
	if lister == nil {
		return nil, fmt.Errorf("no symbols given and no symbol lister configured")
	}
	symbols, err := lister.ListSymbols(ctx, tradingType)
	if err != nil {
		return nil, fmt.Errorf("list %s symbols: %w", tradingType, err)
	}
	return symbols, nil
}
