package tableio

import (
	"strings"

	"github.com/wonny/meritorder/internal/contracts"
)

// ColumnSpec documents one persisted column
type ColumnSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // timestamp, float, int, bool, string
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description"`
}

// Document is written next to every table as <file>.schema.json
type Document struct {
	Table   string       `json:"table"`
	Version int          `json:"version"`
	Missing string       `json:"missing"`
	Columns []ColumnSpec `json:"columns"`
}

const schemaVersion = 1

var columnDocs = map[string]ColumnSpec{
	contracts.ColTimestamp:            {Type: "timestamp", Description: "hour start, RFC 3339, UTC"},
	contracts.ColPrice:                {Type: "float", Unit: "EUR/MWh", Description: "day-ahead price"},
	contracts.ColTotalLoad:            {Type: "float", Unit: "MW", Description: "total grid load"},
	contracts.ColResidualLoad:         {Type: "float", Unit: "MW", Description: "total load minus wind onshore, wind offshore and solar"},
	contracts.ColLag1hPrice:           {Type: "float", Unit: "EUR/MWh", Description: "price 1 hour earlier"},
	contracts.ColLag24hPrice:          {Type: "float", Unit: "EUR/MWh", Description: "price 24 hours earlier"},
	contracts.ColLag168hPrice:         {Type: "float", Unit: "EUR/MWh", Description: "price 168 hours earlier"},
	contracts.ColRollMean24hResidual:  {Type: "float", Unit: "MW", Description: "mean residual load over the previous 24 hours"},
	contracts.ColRollStd24hResidual:   {Type: "float", Unit: "MW", Description: "sample std of residual load over the previous 24 hours"},
	contracts.ColRollMean168hResidual: {Type: "float", Unit: "MW", Description: "mean residual load over the previous 168 hours"},
	contracts.ColRollMean24hPrice:     {Type: "float", Unit: "EUR/MWh", Description: "mean price over the previous 24 hours"},
	contracts.ColHourOfDay:            {Type: "int", Description: "local hour 0-23, Europe/Berlin"},
	contracts.ColDayOfWeek:            {Type: "int", Description: "local weekday, 0 = Monday"},
	contracts.ColMonth:                {Type: "int", Description: "local month 1-12"},
	contracts.ColIsWeekend:            {Type: "int", Description: "1 on Saturday and Sunday"},
	contracts.ColIsHoliday:            {Type: "int", Description: "1 on German nationwide public holidays"},
	contracts.ColIncomplete:           {Type: "bool", Description: "hour excluded from training by the cleaner"},
	contracts.ColIncompleteReason:     {Type: "string", Description: "';'-separated reasons, e.g. gap:total_load:3h"},
}

// Describe documents a column list
func Describe(table string, columns []string) Document {
	doc := Document{Table: table, Version: schemaVersion, Missing: "empty cell"}
	for _, c := range columns {
		spec, ok := columnDocs[c]
		if !ok {
			if m, isGen := contracts.GenerationMetricFromColumn(c); isGen {
				spec = ColumnSpec{Type: "float", Unit: "MW", Description: strings.ReplaceAll(string(m), "_", " ") + " generation"}
			}
		}
		spec.Name = c
		doc.Columns = append(doc.Columns, spec)
	}
	return doc
}
