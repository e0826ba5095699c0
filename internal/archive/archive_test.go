package archive

import (
	"bytes"
	"strings"
	"testing"

	"github.com/johnayoung/go-kline-archiver/internal/archive/archivetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jan2024 = int64(1704067200000)

func read(data []byte) ([]RecordSet, error) {
	return Read(bytes.NewReader(data), int64(len(data)))
}

func TestRead_SingleEntry(t *testing.T) {
	data, err := archivetest.KlineZip("BTCUSDT-1m-2024-01-01.csv", jan2024, 5)
	require.NoError(t, err)

	sets, err := read(data)
	require.NoError(t, err)
	require.Len(t, sets, 1)

	assert.Equal(t, "BTCUSDT-1m-2024-01-01.csv", sets[0].Entry)
	require.Equal(t, 5, sets[0].Len())
	for i, k := range sets[0].Records {
		assert.Equal(t, jan2024+int64(i)*60_000, k.OpenTime, "row %d keeps file order", i)
		assert.Equal(t, k.OpenTime+59_999, k.CloseTime)
		assert.Equal(t, int64(42), k.TradeCount)
	}
}

func TestRead_MultipleEntriesKeepOrder(t *testing.T) {
	data, err := archivetest.Zip(
		archivetest.Entry{Name: "b.csv", Content: archivetest.CSV(jan2024+600_000, 2)},
		archivetest.Entry{Name: "a.csv", Content: archivetest.CSV(jan2024, 3)},
		archivetest.Entry{Name: "monthly/"},
	)
	require.NoError(t, err)

	sets, err := read(data)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, "b.csv", sets[0].Entry)
	assert.Equal(t, "a.csv", sets[1].Entry)
	assert.Equal(t, 5, CountRecords(sets))
}

func TestRead_EntryWithoutExtension(t *testing.T) {
	data, err := archivetest.KlineZip("BTCUSDT-1d-2024-01", jan2024, 3)
	require.NoError(t, err)

	sets, err := read(data)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "BTCUSDT-1d-2024-01", sets[0].Entry)
	assert.Equal(t, 3, sets[0].Len())
}

func TestRead_ParsesEveryEntry(t *testing.T) {
	data, err := archivetest.Zip(
		archivetest.Entry{Name: "part-1.txt", Content: archivetest.CSV(jan2024, 2)},
		archivetest.Entry{Name: "part-2.CSV", Content: archivetest.CSV(jan2024+120_000, 1)},
	)
	require.NoError(t, err)

	sets, err := read(data)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, 3, CountRecords(sets))
}

func TestRead_SkipsHeaderRow(t *testing.T) {
	header := "open_time,open,high,low,close,volume,close_time,quote_volume,count,taker_buy_volume,taker_buy_quote_volume,ignore\n"
	data, err := archivetest.Zip(archivetest.Entry{Name: "x.csv", Content: "\ufeff" + header + archivetest.CSV(jan2024, 2)})
	require.NoError(t, err)

	sets, err := read(data)
	require.NoError(t, err)
	assert.Equal(t, 2, sets[0].Len())
}

func TestRead_EmptyEntryYieldsEmptySet(t *testing.T) {
	data, err := archivetest.Zip(archivetest.Entry{Name: "x.csv", Content: ""})
	require.NoError(t, err)

	sets, err := read(data)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Zero(t, sets[0].Len())
}

func TestRead_BadArchives(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{
			name: "not a zip",
			data: func(t *testing.T) []byte { return []byte("<html>404</html>") },
		},
		{
			name: "empty file",
			data: func(t *testing.T) []byte { return nil },
		},
		{
			name: "truncated zip",
			data: func(t *testing.T) []byte {
				data, err := archivetest.KlineZip("x.csv", jan2024, 50)
				require.NoError(t, err)
				return data[:len(data)/2]
			},
		},
		{
			name: "wrong column count",
			data: func(t *testing.T) []byte {
				data, err := archivetest.Zip(archivetest.Entry{Name: "x.csv", Content: "1,2,3\n"})
				require.NoError(t, err)
				return data
			},
		},
		{
			name: "non numeric field",
			data: func(t *testing.T) []byte {
				row := strings.Replace(archivetest.Row(jan2024, 0), "110.0", "high", 1)
				data, err := archivetest.Zip(archivetest.Entry{Name: "x.csv", Content: archivetest.CSV(jan2024, 1) + row + "\n"})
				require.NoError(t, err)
				return data
			},
		},
		{
			name: "no entries",
			data: func(t *testing.T) []byte {
				data, err := archivetest.Zip()
				require.NoError(t, err)
				return data
			},
		},
		{
			name: "only a directory",
			data: func(t *testing.T) []byte {
				data, err := archivetest.Zip(archivetest.Entry{Name: "klines/"})
				require.NoError(t, err)
				return data
			},
		},
		{
			name: "garbage first line",
			data: func(t *testing.T) []byte {
				data, err := archivetest.Zip(archivetest.Entry{Name: "x.csv", Content: "garbage\n"})
				require.NoError(t, err)
				return data
			},
		},
		{
			name: "date in first open_time",
			data: func(t *testing.T) []byte {
				row := strings.Replace(archivetest.Row(jan2024, 0), "1704067200000", "2024-01-01", 1)
				data, err := archivetest.Zip(archivetest.Entry{Name: "x.csv", Content: row + "\n" + archivetest.CSV(jan2024+60_000, 2)})
				require.NoError(t, err)
				return data
			},
		},
		{
			name: "partial header",
			data: func(t *testing.T) []byte {
				data, err := archivetest.Zip(archivetest.Entry{Name: "x.csv", Content: "open_time,open,high\n" + archivetest.CSV(jan2024, 2)})
				require.NoError(t, err)
				return data
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sets, err := read(tt.data(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadArchive)
			assert.Empty(t, sets)
		})
	}
}
