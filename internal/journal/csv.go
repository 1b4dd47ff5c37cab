package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"timestamp", "pm25", "aqi", "category", "temperature", "unit", "humidity", "boot_id"}

// WriteCSV writes entries with a header row. Timestamps are RFC 3339 UTC.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{
			e.TS.UTC().Format(time.RFC3339),
			strconv.FormatFloat(e.PM25, 'f', -1, 64),
			strconv.Itoa(e.AQI),
			e.Category,
			strconv.FormatFloat(e.Temperature, 'f', 2, 64),
			e.Unit,
			strconv.FormatFloat(e.Humidity, 'f', 2, 64),
			e.BootID,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
