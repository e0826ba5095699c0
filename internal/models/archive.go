package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used on the command line and in daily archive names.
const DateLayout = "2006-01-02"

// TradingType selects the market whose archives are downloaded.
type TradingType string

const (
	TradingTypeSpot TradingType = "spot" // spot market
	TradingTypeUM   TradingType = "um"   // USD-M futures
	TradingTypeCM   TradingType = "cm"   // COIN-M futures
)

// ParseTradingType validates a trading type name.
func ParseTradingType(s string) (TradingType, error) {
	switch t := TradingType(strings.ToLower(strings.TrimSpace(s))); t {
	case TradingTypeSpot, TradingTypeUM, TradingTypeCM:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported trading type %q: must be one of spot, um, cm", s)
	}
}

// PathPrefix returns the repository directory for the trading type.
func (t TradingType) PathPrefix() string {
	if t == TradingTypeSpot {
		return "data/spot"
	}
	return "data/futures/" + string(t)
}

// Granularity is the time span covered by a single archive.
type Granularity string

const (
	GranularityMonthly Granularity = "monthly"
	GranularityDaily   Granularity = "daily"
)

// Intervals lists every kline interval published by the repository.
var Intervals = []string{
	"1s", "1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1mo",
}

// DailyIntervals lists the intervals that have daily archives.
var DailyIntervals = []string{
	"1s", "1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d",
}

// IsKnownInterval reports whether interval is one of Intervals.
func IsKnownInterval(interval string) bool {
	return contains(Intervals, interval)
}

// FilterIntervals keeps the requested intervals present in allowed, in request order,
// dropping duplicates.
func FilterIntervals(requested, allowed []string) []string {
	out := make([]string, 0, len(requested))
	for _, iv := range requested {
		if contains(allowed, iv) && !contains(out, iv) {
			out = append(out, iv)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Period identifies the span of one archive. Monthly periods are normalised to the
// first day of the month.
type Period struct {
	Date        time.Time
	Granularity Granularity
}

// MonthlyPeriod returns the period for a year/month pair.
func MonthlyPeriod(year int, month time.Month) Period {
	return Period{
		Date:        time.Date(year, month, 1, 0, 0, 0, 0, time.UTC),
		Granularity: GranularityMonthly,
	}
}

// DailyPeriod returns the period for a calendar date.
func DailyPeriod(date time.Time) Period {
	return Period{
		Date:        time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Granularity: GranularityDaily,
	}
}

// ParseDailyPeriod parses a YYYY-MM-DD date into a daily period.
func ParseDailyPeriod(s string) (Period, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Period{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD: %w", s, err)
	}
	return DailyPeriod(d), nil
}

// String returns YYYY-MM for monthly periods and YYYY-MM-DD for daily ones.
func (p Period) String() string {
	if p.Granularity == GranularityMonthly {
		return p.Date.Format("2006-01")
	}
	return p.Date.Format(DateLayout)
}

// DateWindow is an inclusive calendar date range used to filter candidate periods.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// NewDateWindow builds a window from two dates, truncating both to midnight UTC.
func NewDateWindow(start, end time.Time) (DateWindow, error) {
	w := DateWindow{Start: truncateDay(start), End: truncateDay(end)}
	if w.Start.After(w.End) {
		return DateWindow{}, fmt.Errorf("start date %s is after end date %s",
			w.Start.Format(DateLayout), w.End.Format(DateLayout))
	}
	return w, nil
}

// Contains reports whether start <= period date <= end.
func (w DateWindow) Contains(p Period) bool {
	d := truncateDay(p.Date)
	return !d.Before(w.Start) && !d.After(w.End)
}

// String formats the window as "start end".
func (w DateWindow) String() string {
	return w.Start.Format(DateLayout) + " " + w.End.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ArchiveKey identifies one remote kline archive.
type ArchiveKey struct {
	TradingType TradingType
	Symbol      string
	Interval    string
	Period      Period
}

// Granularity returns the archive granularity taken from its period.
func (k ArchiveKey) Granularity() Granularity {
	return k.Period.Granularity
}

// Path returns the repository directory holding the archive, with a trailing slash.
func (k ArchiveKey) Path() string {
	return fmt.Sprintf("%s/%s/klines/%s/%s/",
		k.TradingType.PathPrefix(), k.Period.Granularity, strings.ToUpper(k.Symbol), k.Interval)
}

// FileName returns SYMBOL-interval-YYYY-MM.zip or SYMBOL-interval-YYYY-MM-DD.zip.
func (k ArchiveKey) FileName() string {
	return fmt.Sprintf("%s-%s-%s.zip", strings.ToUpper(k.Symbol), k.Interval, k.Period)
}

// ChecksumFileName returns the name of the sidecar checksum file.
func (k ArchiveKey) ChecksumFileName() string {
	return k.FileName() + ".CHECKSUM"
}

// URL joins the archive path and file name onto a base URL.
func (k ArchiveKey) URL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/" + k.Path() + k.FileName()
}

// ChecksumURL joins the checksum path and file name onto a base URL.
func (k ArchiveKey) ChecksumURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/" + k.Path() + k.ChecksumFileName()
}

// String returns a compact identifier for logs.
func (k ArchiveKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.TradingType, strings.ToUpper(k.Symbol), k.Interval, k.Period)
}

// OutputFileName returns the local assembled file name for a symbol/interval.
func OutputFileName(symbol, interval, ext string) string {
	return fmt.Sprintf("%s-%s.%s", symbol, interval, ext)
}

// PublishKey returns the object-storage key for a symbol/interval.
func PublishKey(symbol, interval, ext string) string {
	return fmt.Sprintf("%s/klines/%s.%s", symbol, interval, ext)
}
