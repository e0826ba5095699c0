// This file implements the parquet writer on top of DuckDB. Rows are bulk loaded
// with the Appender API into a staging table and exported with COPY ... TO.

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/johnayoung/go-kline-archiver/internal/models"
	"github.com/marcboeker/go-duckdb/v2"
)

// FileExtension is the extension of assembled output files.
const FileExtension = "parquet"

// ParquetWriter writes assembled tables to {dir}/{symbol}-{interval}.parquet.
type ParquetWriter struct {
	db          *sql.DB
	dir         string
	compression string
	logger      *slog.Logger
	mu          sync.Mutex
}

// NewParquetWriter opens an in-memory DuckDB database used for staging and export.
func NewParquetWriter(ctx context.Context, dir, compression string, logger *slog.Logger) (*ParquetWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if compression == "" {
		compression = "zstd"
	}
	if dir == "" {
		return nil, NewStorageError("open", "", "", fmt.Errorf("output directory is required"))
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// Single writer; staging tables live on the one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	w := &ParquetWriter{
		db:          db,
		dir:         dir,
		compression: strings.ToLower(compression),
		logger:      logger,
	}

	if err := w.configure(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// configure loads the parquet extension and pins settings that keep output
// deterministic.
func (w *ParquetWriter) configure(ctx context.Context) error {
	for _, ext := range []string{"INSTALL parquet", "LOAD parquet"} {
		if _, err := w.db.ExecContext(ctx, ext); err != nil {
			// built into most distributions
			w.logger.Debug("failed to enable extension", "extension", ext, "error", err)
		}
	}

	settings := []string{
		"SET threads = 1",
		"SET preserve_insertion_order = true",
		"SET enable_progress_bar = false",
	}
	for _, s := range settings {
		if _, err := w.db.ExecContext(ctx, s); err != nil {
			return NewStorageError("configure", "", s, err)
		}
	}
	return nil
}

// Path returns the output path for a symbol and interval stem.
func (w *ParquetWriter) Path(symbol, interval string) string {
	return filepath.Join(w.dir, models.OutputFileName(strings.ToUpper(symbol), interval, FileExtension))
}

// Write implements TableWriter. The file is written next to its destination and
// renamed into place, so readers never observe a partial file.
func (w *ParquetWriter) Write(ctx context.Context, table *AssembledTable) (string, error) {
	if table == nil || table.Len() == 0 {
		return "", ErrEmptyAssembly
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db == nil {
		return "", NewStorageError("write", stagingTable, "", fmt.Errorf("writer is closed"))
	}

	start := time.Now()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", NewStorageError("write", "", "", fmt.Errorf("failed to create output directory: %w", err))
	}

	conn, err := w.db.Conn(ctx)
	if err != nil {
		return "", NewStorageError("write", stagingTable, "", fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	ddl := createStagingTableSQL()
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return "", NewStorageError("create", stagingTable, ddl, err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+stagingTable); err != nil {
			w.logger.Warn("failed to drop staging table", "error", err)
		}
	}()

	if err := w.appendRows(conn, table); err != nil {
		return "", err
	}

	final := w.Path(table.Symbol, table.Stem())
	tmp := final + ".tmp"
	_ = os.Remove(tmp)

	query := exportSQL(tmp, w.compression)
	if _, err := conn.ExecContext(ctx, query); err != nil {
		_ = os.Remove(tmp)
		return "", NewExportError(stagingTable, query, err)
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", NewStorageError("rename", "", "", err)
	}

	w.logger.Debug("wrote assembled table",
		"symbol", table.Symbol,
		"interval", table.Interval,
		"rows", table.Len(),
		"path", final,
		"duration", time.Since(start))

	return final, nil
}

// appendRows bulk loads the table through the DuckDB Appender API.
func (w *ParquetWriter) appendRows(conn *sql.Conn, table *AssembledTable) error {
	var driverConn *duckdb.Conn
	err := conn.Raw(func(dc any) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return NewInsertError(stagingTable, fmt.Errorf("failed to get DuckDB connection: %w", err))
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", stagingTable)
	if err != nil {
		return NewInsertError(stagingTable, fmt.Errorf("failed to create appender: %w", err))
	}
	defer appender.Close()

	for i := range table.Records {
		if err := appendKline(appender, int64(i), &table.Records[i]); err != nil {
			return NewInsertError(stagingTable, fmt.Errorf("row %d: %w", i, err))
		}
	}

	if err := appender.Flush(); err != nil {
		return NewInsertError(stagingTable, fmt.Errorf("failed to flush appender: %w", err))
	}
	return nil
}

func appendKline(appender *duckdb.Appender, seq int64, k *models.Kline) error {
	v, err := k.Float64s()
	if err != nil {
		return err
	}

	return appender.AppendRow(
		seq,
		k.OpenTime,
		v[0], // open
		v[1], // high
		v[2], // low
		v[3], // close
		v[4], // volume
		k.CloseTime,
		v[5], // quote_volume
		k.TradeCount,
		v[6], // taker_buy_volume
		v[7], // taker_buy_quote_volume
		v[8], // ignore
	)
}

// Close implements TableWriter.
func (w *ParquetWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db != nil {
		if err := w.db.Close(); err != nil {
			return NewStorageError("close", "", "", fmt.Errorf("failed to close database: %w", err))
		}
		w.db = nil
	}
	return nil
}
