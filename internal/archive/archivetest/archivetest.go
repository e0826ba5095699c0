// Package archivetest builds in-memory kline zip archives for tests.
package archivetest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Entry is one file inside a fixture archive.
type Entry struct {
	Name    string
	Content string
}

// Zip returns the bytes of a zip archive holding entries in order.
func Zip(entries ...Entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(e.Content)); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Row returns one well-formed kline CSV line for the given open time in milliseconds.
// The close price is derived from seq so rows stay distinguishable.
func Row(openTime int64, seq int) string {
	return fmt.Sprintf("%d,100.0,110.0,90.0,%d.5,12.5,%d,1250.0,42,6.0,600.0,0",
		openTime, 100+seq%10, openTime+59_999)
}

// CSV returns n consecutive one-minute rows starting at openTime.
func CSV(openTime int64, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(Row(openTime+int64(i)*60_000, i))
		sb.WriteString("\n")
	}
	return sb.String()
}

// KlineZip returns an archive with a single CSV entry of n rows.
func KlineZip(name string, openTime int64, n int) ([]byte, error) {
	return Zip(Entry{Name: name, Content: CSV(openTime, n)})
}
