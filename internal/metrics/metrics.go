// Package metrics tracks per-run counters for the archive pipeline and reports a
// snapshot when a run finishes.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/johnayoung/go-kline-archiver/internal/config"
	"github.com/johnayoung/go-kline-archiver/internal/logger"
)

// RunMetrics holds the counters of one fetch run. All methods are safe for
// concurrent use.
type RunMetrics struct {
	periodsRequested   int64
	periodsFetched     int64
	periodsMissing     int64
	periodsBadArchive  int64
	checksumMismatches int64
	rowsExtracted      int64
	inconsistentRows   int64
	bytesDownloaded    int64
	filesWritten       int64
	filesPublished     int64
	emptyAssemblies    int64

	mu        sync.Mutex
	startTime time.Time
	phases    map[string]time.Duration
}

// Snapshot is a point-in-time copy of RunMetrics.
type Snapshot struct {
	RunID              string                   `json:"run_id,omitempty"`
	Timestamp          time.Time                `json:"timestamp"`
	Elapsed            time.Duration            `json:"elapsed"`
	PeriodsRequested   int64                    `json:"periods_requested"`
	PeriodsFetched     int64                    `json:"periods_fetched"`
	PeriodsMissing     int64                    `json:"periods_missing"`
	PeriodsBadArchive  int64                    `json:"periods_bad_archive"`
	ChecksumMismatches int64                    `json:"checksum_mismatches"`
	RowsExtracted      int64                    `json:"rows_extracted"`
	InconsistentRows   int64                    `json:"inconsistent_rows"`
	BytesDownloaded    int64                    `json:"bytes_downloaded"`
	FilesWritten       int64                    `json:"files_written"`
	FilesPublished     int64                    `json:"files_published"`
	EmptyAssemblies    int64                    `json:"empty_assemblies"`
	Phases             map[string]time.Duration `json:"phases,omitempty"`
}

// SkipRate is the share of requested periods that contributed no rows.
func (s Snapshot) SkipRate() float64 {
	if s.PeriodsRequested == 0 {
		return 0
	}
	skipped := s.PeriodsMissing + s.PeriodsBadArchive + s.ChecksumMismatches
	return float64(skipped) / float64(s.PeriodsRequested)
}

// NewRunMetrics creates zeroed counters starting now.
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{
		startTime: time.Now(),
		phases:    make(map[string]time.Duration),
	}
}

func (m *RunMetrics) RecordRequested() { atomic.AddInt64(&m.periodsRequested, 1) }
func (m *RunMetrics) RecordMissing() { atomic.AddInt64(&m.periodsMissing, 1) }
func (m *RunMetrics) RecordBadArchive() { atomic.AddInt64(&m.periodsBadArchive, 1) }
func (m *RunMetrics) RecordChecksumMismatch() { atomic.AddInt64(&m.checksumMismatches, 1) }
func (m *RunMetrics) RecordBytes(n int64) { atomic.AddInt64(&m.bytesDownloaded, n) }
func (m *RunMetrics) RecordFileWritten() { atomic.AddInt64(&m.filesWritten, 1) }
func (m *RunMetrics) RecordFilePublished() { atomic.AddInt64(&m.filesPublished, 1) }
func (m *RunMetrics) RecordEmptyAssembly() { atomic.AddInt64(&m.emptyAssemblies, 1) }

// RecordFetched counts a period whose archive was extracted into rows records.
func (m *RunMetrics) RecordFetched(rows int) {
	atomic.AddInt64(&m.periodsFetched, 1)
	atomic.AddInt64(&m.rowsExtracted, int64(rows))
}

// RecordInconsistentRows counts extracted rows whose values fail Kline.Validate.
func (m *RunMetrics) RecordInconsistentRows(n int) {
	atomic.AddInt64(&m.inconsistentRows, int64(n))
}

// RecordPhase adds d to the accumulated duration of a named phase ("monthly", "daily").
func (m *RunMetrics) RecordPhase(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases[name] += d
}

// Snapshot returns the current counter values.
func (m *RunMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	phases := make(map[string]time.Duration, len(m.phases))
	for k, v := range m.phases {
		phases[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		Timestamp:          time.Now().UTC(),
		Elapsed:            time.Since(m.startTime),
		PeriodsRequested:   atomic.LoadInt64(&m.periodsRequested),
		PeriodsFetched:     atomic.LoadInt64(&m.periodsFetched),
		PeriodsMissing:     atomic.LoadInt64(&m.periodsMissing),
		PeriodsBadArchive:  atomic.LoadInt64(&m.periodsBadArchive),
		ChecksumMismatches: atomic.LoadInt64(&m.checksumMismatches),
		RowsExtracted:      atomic.LoadInt64(&m.rowsExtracted),
		InconsistentRows:   atomic.LoadInt64(&m.inconsistentRows),
		BytesDownloaded:    atomic.LoadInt64(&m.bytesDownloaded),
		FilesWritten:       atomic.LoadInt64(&m.filesWritten),
		FilesPublished:     atomic.LoadInt64(&m.filesPublished),
		EmptyAssemblies:    atomic.LoadInt64(&m.emptyAssemblies),
		Phases:             phases,
	}
}

// Reporter emits run snapshots according to MetricsConfig.
type Reporter struct {
	config config.MetricsConfig
	logger *logger.ComponentLogger
}

// NewReporter creates a reporter logging through the "metrics" component logger.
func NewReporter(cfg config.MetricsConfig, loggerMgr *logger.LoggerManager) *Reporter {
	return &Reporter{
		config: cfg,
		logger: loggerMgr.GetComponentLogger("metrics"),
	}
}

// Report logs the snapshot and, when configured, writes it as JSON to ReportPath.
func (r *Reporter) Report(ctx context.Context, m *RunMetrics) error {
	if !r.config.Enabled || m == nil {
		return nil
	}

	snap := m.Snapshot()
	snap.RunID = logger.GetRunID(ctx)

	r.logger.InfoWithContext(ctx, "run metrics",
		"elapsed", snap.Elapsed,
		"periods_requested", snap.PeriodsRequested,
		"periods_fetched", snap.PeriodsFetched,
		"periods_missing", snap.PeriodsMissing,
		"periods_bad_archive", snap.PeriodsBadArchive,
		"checksum_mismatches", snap.ChecksumMismatches,
		"rows", snap.RowsExtracted,
		"inconsistent_rows", snap.InconsistentRows,
		"bytes_downloaded", snap.BytesDownloaded,
		"files_written", snap.FilesWritten,
		"files_published", snap.FilesPublished,
		"skip_rate", fmt.Sprintf("%.2f", snap.SkipRate()))

	if r.config.ReportPath == "" {
		return nil
	}
	return WriteSnapshot(r.config.ReportPath, snap)
}

// WriteSnapshot writes snap as indented JSON to path.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metrics report: %w", err)
	}
	return nil
}
