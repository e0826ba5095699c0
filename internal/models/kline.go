// Package models provides data structures and validation for kline archive data.
// This package contains the core data models for candlestick records, archive keys,
// trading types, periods and date windows used across the download pipeline.
package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// KlineColumns is the fixed positional schema of a kline CSV row.
var KlineColumns = []string{
	"open_time",
	"open",
	"high",
	"low",
	"close",
	"volume",
	"close_time",
	"quote_volume",
	"count",
	"taker_buy_volume",
	"taker_buy_quote_volume",
	"ignore",
}

// KlineFieldCount is the number of columns in a kline CSV row.
const KlineFieldCount = 12

// Kline represents one candlestick row from an exchange archive.
// Prices and volumes keep their exact decimal text; timestamps are Unix milliseconds.
type Kline struct {
	OpenTime            int64  `json:"open_time"`
	Open                string `json:"open"`
	High                string `json:"high"`
	Low                 string `json:"low"`
	Close               string `json:"close"`
	Volume              string `json:"volume"`
	CloseTime           int64  `json:"close_time"`
	QuoteVolume         string `json:"quote_volume"`
	TradeCount          int64  `json:"count"`
	TakerBuyVolume      string `json:"taker_buy_volume"`
	TakerBuyQuoteVolume string `json:"taker_buy_quote_volume"`
	Ignore              string `json:"ignore"`
}

// ValidationError represents a kline parsing or validation error with field context.
type ValidationError struct {
	Field   string // Field is the column that failed validation
	Message string // Message describes the failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// ParseKline binds a CSV row positionally to the kline schema.
// Every numeric column must parse; the trailing ignore column may be empty.
func ParseKline(row []string) (Kline, error) {
	if len(row) != KlineFieldCount {
		return Kline{}, &ValidationError{
			Field:   "row",
			Message: fmt.Sprintf("expected %d columns, got %d", KlineFieldCount, len(row)),
		}
	}

	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}

	openTime, err := parseInt(KlineColumns[0], row[0])
	if err != nil {
		return Kline{}, err
	}
	closeTime, err := parseInt(KlineColumns[6], row[6])
	if err != nil {
		return Kline{}, err
	}
	count, err := parseInt(KlineColumns[8], row[8])
	if err != nil {
		return Kline{}, err
	}

	for _, idx := range []int{1, 2, 3, 4, 5, 7, 9, 10} {
		if _, err := decimal.NewFromString(row[idx]); err != nil {
			return Kline{}, &ValidationError{
				Field:   KlineColumns[idx],
				Message: fmt.Sprintf("invalid decimal %q: %v", row[idx], err),
			}
		}
	}
	if row[11] != "" {
		if _, err := decimal.NewFromString(row[11]); err != nil {
			return Kline{}, &ValidationError{
				Field:   KlineColumns[11],
				Message: fmt.Sprintf("invalid decimal %q: %v", row[11], err),
			}
		}
	}

	return Kline{
		OpenTime:            openTime,
		Open:                row[1],
		High:                row[2],
		Low:                 row[3],
		Close:               row[4],
		Volume:              row[5],
		CloseTime:           closeTime,
		QuoteVolume:         row[7],
		TradeCount:          count,
		TakerBuyVolume:      row[9],
		TakerBuyQuoteVolume: row[10],
		Ignore:              row[11],
	}, nil
}

func parseInt(field, value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: field, Message: fmt.Sprintf("invalid integer %q", value)}
	}
	return n, nil
}

// IsHeaderRow reports whether a CSV row is the column header some newer futures
// archives start with. Only a row naming every KlineColumns entry, in order, counts.
func IsHeaderRow(row []string) bool {
	if len(row) != KlineFieldCount {
		return false
	}
	for i, name := range KlineColumns {
		if !strings.EqualFold(strings.TrimSpace(row[i]), name) {
			return false
		}
	}
	return true
}

// Validate checks OHLC relationships the same way stored candles are checked:
// high >= max(open, close), low <= min(open, close), non-negative volume.
func (k *Kline) Validate() error {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}
	close, err := decimal.NewFromString(k.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	if volume.IsNegative() {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}
	if k.CloseTime < k.OpenTime {
		return &ValidationError{Field: "close_time", Message: "close time must not precede open time"}
	}

	maxOpenClose := decimal.Max(open, close)
	if high.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", high, maxOpenClose),
		}
	}
	minOpenClose := decimal.Min(open, close)
	if low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", low, minOpenClose),
		}
	}

	return nil
}

// Float64s returns the eight price/volume columns plus ignore as float64 values
// in schema order: open, high, low, close, volume, quote_volume,
// taker_buy_volume, taker_buy_quote_volume, ignore.
func (k *Kline) Float64s() ([9]float64, error) {
	var out [9]float64
	values := []string{
		k.Open, k.High, k.Low, k.Close, k.Volume,
		k.QuoteVolume, k.TakerBuyVolume, k.TakerBuyQuoteVolume, k.Ignore,
	}
	for i, v := range values {
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return out, fmt.Errorf("invalid decimal %q: %w", v, err)
		}
		out[i], _ = d.Float64()
	}
	return out, nil
}

// String returns a human-readable representation of the kline.
func (k *Kline) String() string {
	return fmt.Sprintf("Kline{OpenTime: %d, O: %s, H: %s, L: %s, C: %s, V: %s, Trades: %d}",
		k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.TradeCount)
}
