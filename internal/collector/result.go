package collector

import (
	"github.com/johnayoung/go-kline-archiver/internal/models"
)

// PeriodStatus is the outcome of fetching one archive.
type PeriodStatus string

const (
	// StatusFetched means the archive was downloaded and extracted.
	StatusFetched PeriodStatus = "fetched"
	// StatusMissing means the repository has no archive for the period.
	StatusMissing PeriodStatus = "missing"
	// StatusBadArchive means the download was not a readable kline zip.
	StatusBadArchive PeriodStatus = "bad_archive"
	// StatusChecksumMismatch means the archive digest did not match its sidecar.
	StatusChecksumMismatch PeriodStatus = "checksum_mismatch"
)

// Contributes reports whether a period with this status adds rows to the table.
func (s PeriodStatus) Contributes() bool {
	return s == StatusFetched
}

// PeriodResult describes one (symbol, interval, period) fetch.
// Err carries the cause for the recoverable non-fetched statuses.
// Inconsistent counts rows kept despite failing Kline.Validate.
type PeriodResult struct {
	Key          models.ArchiveKey
	Status       PeriodStatus
	Records      int
	Inconsistent int
	Bytes        int64
	Verified     bool
	Err          error
}

// Output is one assembled (symbol, interval) file.
type Output struct {
	Symbol       string
	Interval     string
	Path         string
	Rows         int
	PublishedKey string
}

// Report summarises a fetch phase.
type Report struct {
	Granularity models.Granularity
	Results     []PeriodResult
	Outputs     []Output

	// Empty lists "SYMBOL interval" pairs that produced no rows and were skipped.
	Empty []string
}

// Count returns how many periods ended with status.
func (r *Report) Count(status PeriodStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Rows returns the total number of rows written across outputs.
func (r *Report) Rows() int {
	n := 0
	for _, o := range r.Outputs {
		n += o.Rows
	}
	return n
}

// Merge appends other's results, outputs and empty pairs to r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Results = append(r.Results, other.Results...)
	r.Outputs = append(r.Outputs, other.Outputs...)
	r.Empty = append(r.Empty, other.Empty...)
}
