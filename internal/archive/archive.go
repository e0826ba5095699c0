// Package archive extracts kline record sets from downloaded zip archives.
//
// Every archive holds one or more CSV entries with the 12-column kline schema. Entries
// are read regardless of their name. Rows are bound positionally; a leading header row,
// present in some newer archives, is skipped.
package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/johnayoung/go-kline-archiver/internal/models"
	"github.com/klauspost/compress/zip"
)

// ErrBadArchive marks an archive that cannot be read as zip-wrapped kline CSV.
// Callers treat it as recoverable and skip the archive.
var ErrBadArchive = errors.New("bad archive")

// RecordSet is the ordered rows of one CSV entry.
type RecordSet struct {
	Entry   string
	Records []models.Kline
}

// Len returns the number of rows in the set.
func (rs RecordSet) Len() int {
	return len(rs.Records)
}

// Read parses every entry of the zip archive held by r, in archive order.
// Any structural or parse failure is returned wrapped in ErrBadArchive.
func Read(r io.ReaderAt, size int64) ([]RecordSet, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	return readEntries(zr)
}

func readEntries(zr *zip.Reader) ([]RecordSet, error) {
	sets := make([]RecordSet, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}

		rs, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %s: %v", ErrBadArchive, f.Name, err)
		}
		sets = append(sets, rs)
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrBadArchive)
	}
	return sets, nil
}

func readEntry(f *zip.File) (RecordSet, error) {
	rc, err := f.Open()
	if err != nil {
		return RecordSet{}, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	rs := RecordSet{Entry: f.Name}
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return RecordSet{}, err
		}

		if line == 1 {
			row[0] = strings.TrimPrefix(row[0], "\ufeff")
			if models.IsHeaderRow(row) {
				continue
			}
		}

		k, err := models.ParseKline(row)
		if err != nil {
			return RecordSet{}, fmt.Errorf("line %d: %w", line, err)
		}
		rs.Records = append(rs.Records, k)
	}

	return rs, nil
}

// CountRecords returns the total number of rows across sets.
func CountRecords(sets []RecordSet) int {
	n := 0
	for _, rs := range sets {
		n += rs.Len()
	}
	return n
}
