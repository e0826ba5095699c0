// Package storage assembles extracted kline record sets into one ordered table per
// (symbol, interval) and persists it as a compressed columnar file.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/johnayoung/go-kline-archiver/internal/archive"
	"github.com/johnayoung/go-kline-archiver/internal/models"
)

// ErrEmptyAssembly is returned when there is nothing to assemble for a (symbol, interval).
// Callers skip persistence and upload for that pair.
var ErrEmptyAssembly = errors.New("no records to assemble")

// AssembledTable is every row fetched for one (symbol, interval), in the order the
// record sets were appended. Rows are not deduplicated.
type AssembledTable struct {
	Symbol   string
	Interval string
	Records  []models.Kline

	// Tag, when set, qualifies the output name, e.g. the date of a daily refresh.
	Tag string
}

// Stem is the interval part of output names: "1d", or "1d-2024-03-10" when tagged.
func (t *AssembledTable) Stem() string {
	if t.Tag == "" {
		return t.Interval
	}
	return t.Interval + "-" + t.Tag
}

// Len returns the number of rows in the table.
func (t *AssembledTable) Len() int {
	return len(t.Records)
}

// Concat joins record sets in order. It returns ErrEmptyAssembly when sets is empty
// or holds no rows.
func Concat(symbol, interval string, sets []archive.RecordSet) (*AssembledTable, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("%s %s: %w", symbol, interval, ErrEmptyAssembly)
	}

	total := archive.CountRecords(sets)
	if total == 0 {
		return nil, fmt.Errorf("%s %s: %w", symbol, interval, ErrEmptyAssembly)
	}

	records := make([]models.Kline, 0, total)
	for _, rs := range sets {
		records = append(records, rs.Records...)
	}

	return &AssembledTable{
		Symbol:   strings.ToUpper(symbol),
		Interval: interval,
		Records:  records,
	}, nil
}

// TableWriter persists assembled tables.
// Write returns the path of the written file. Writing the same table twice
// yields the same file.
type TableWriter interface {
	Write(ctx context.Context, table *AssembledTable) (string, error)
	Close() error
}

// StorageError represents errors that occur during storage operations.
// Provides structured error information for better error handling and debugging.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "append", "export")
	Operation string

	// Table is the table involved in the operation
	Table string

	// Query is the SQL statement or operation details (may be empty)
	Query string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table, query string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Table:     table,
		Query:     query,
		Err:       err,
	}
}

// NewInsertError creates a StorageError specifically for append operations.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{
		Operation: "insert",
		Table:     table,
		Err:       err,
	}
}

// NewExportError creates a StorageError specifically for file exports.
func NewExportError(table, query string, err error) *StorageError {
	return &StorageError{
		Operation: "export",
		Table:     table,
		Query:     query,
		Err:       err,
	}
}
