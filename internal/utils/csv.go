package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSpotBot/internal/domain"
)

// tickHeader is the first row of a tick CSV file.
var tickHeader = []string{"timestamp", "pair", "price"}

// WriteTicksToCSV writes ticks to a CSV file, one tick per row after a header
// row, timestamps in RFC 3339 format. The file is created or truncated.
func WriteTicksToCSV(ticks []domain.Tick, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filename, err)
	}

	writer := csv.NewWriter(file)
	writer.Write(tickHeader)
	for _, t := range ticks {
		writer.Write([]string{
			t.Timestamp.Format(time.RFC3339Nano),
			t.Pair.String(),
			t.Price.String(),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filename, err)
	}
	return nil
}

// ReadTicksFromCSV loads ticks from a CSV file produced by WriteTicksToCSV.
// Every row must hold timestamp, pair and price in that order; a header row
// is optional. Ticks are returned in file order.
func ReadTicksFromCSV(filename string) ([]domain.Tick, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filename, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(tickHeader)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}

	ticks := make([]domain.Tick, 0, len(records))
	for i, record := range records {
		if i == 0 && record[0] == tickHeader[0] {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, record[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: parsing timestamp %q: %w", i+1, record[0], err)
		}
		pair, err := domain.ParsePair(record[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: parsing pair %q: %w", i+1, record[1], err)
		}
		price, err := decimal.NewFromString(record[2])
		if err != nil {
			return nil, fmt.Errorf("row %d: parsing price %q: %w", i+1, record[2], err)
		}
		ticks = append(ticks, domain.Tick{Pair: pair, Price: price, Timestamp: ts})
	}
	return ticks, nil
}
