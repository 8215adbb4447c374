package reporting

import (
	"encoding/csv"
	"io"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// amounts are presented the French way, grouped thousands and a comma
// decimal separator, matching the EUR reference data.
var printer = message.NewPrinter(language.French)

func formatEUR(v float64) string {
	return printer.Sprintf("%.2f €", v)
}

// WriteYearTotalsCSV renders the per-year report as CSV.
func WriteYearTotalsCSV(w io.Writer, totals []YearTotals) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write([]string{"year", "budget", "engaged", "invoiced", "available"}); err != nil {
		return err
	}
	for _, t := range totals {
		record := []string{
			strconv.Itoa(t.Year),
			formatEUR(t.Budget),
			formatEUR(t.Engaged),
			formatEUR(t.Invoiced),
			formatEUR(t.Available),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTotalsCSV renders a grouped report as CSV.
func WriteTotalsCSV(w io.Writer, header string, totals []Totals) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write([]string{header, "budget", "engaged", "invoiced", "available"}); err != nil {
		return err
	}
	for _, t := range totals {
		record := []string{
			t.Key,
			formatEUR(t.Budget),
			formatEUR(t.Engaged),
			formatEUR(t.Invoiced),
			formatEUR(t.Available),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
