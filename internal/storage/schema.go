package storage

import (
	"fmt"
	"strings"

	"github.com/johnayoung/go-kline-archiver/internal/models"
)

// stagingTable receives appended rows before they are exported.
const stagingTable = "klines_staging"

// seqColumn records append order; it is used for ordering and never exported.
const seqColumn = "seq"

// columnTypes maps each kline column to its DuckDB type.
var columnTypes = map[string]string{
	"open_time":              "BIGINT",
	"open":                   "DOUBLE",
	"high":                   "DOUBLE",
	"low":                    "DOUBLE",
	"close":                  "DOUBLE",
	"volume":                 "DOUBLE",
	"close_time":             "BIGINT",
	"quote_volume":           "DOUBLE",
	"count":                  "BIGINT",
	"taker_buy_volume":       "DOUBLE",
	"taker_buy_quote_volume": "DOUBLE",
	"ignore":                 "DOUBLE",
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// createStagingTableSQL returns the DDL for the staging table, seq first.
func createStagingTableSQL() string {
	cols := make([]string, 0, len(models.KlineColumns)+1)
	cols = append(cols, seqColumn+" BIGINT NOT NULL")
	for _, name := range models.KlineColumns {
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(name), columnTypes[name]))
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s (\n\t%s\n)", stagingTable, strings.Join(cols, ",\n\t"))
}

// exportSQL returns the COPY statement writing the staging table to path in append order.
func exportSQL(path, compression string) string {
	cols := make([]string, len(models.KlineColumns))
	for i, name := range models.KlineColumns {
		cols[i] = quoteIdent(name)
	}
	return fmt.Sprintf("COPY (SELECT %s FROM %s ORDER BY %s) TO %s (FORMAT PARQUET, COMPRESSION %s)",
		strings.Join(cols, ", "), stagingTable, seqColumn, quoteLiteral(path), strings.ToUpper(compression))
}
