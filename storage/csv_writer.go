package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"flipfinder/models"
)

// CSVWriter exports opportunities to a CSV file for offline review.
type CSVWriter struct {
	path string
	file *os.File
}

// NewCSVWriter creates the output directory if needed and opens the file.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("csv: mkdir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create %s: %w", path, err)
	}
	return &CSVWriter{path: path, file: file}, nil
}

// WriteOpportunities writes a header row and one row per listing.
func (w *CSVWriter) WriteOpportunities(listings []*models.Listing) error {
	writer := csv.NewWriter(w.file)
	defer writer.Flush()

	header := []string{
		"platform", "external_id", "title", "asking_price", "estimated_value",
		"profit_potential", "value_score", "discount_percent", "confidence",
		"status", "url",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	for _, l := range listings {
		row := []string{
			l.Platform,
			l.ExternalID,
			l.Title,
			strconv.FormatFloat(l.AskingPrice, 'f', 2, 64),
			strconv.FormatFloat(l.EstimatedValue, 'f', 2, 64),
			strconv.FormatFloat(l.ProfitPotential, 'f', 2, 64),
			strconv.FormatFloat(l.ValueScore, 'f', 0, 64),
			strconv.FormatFloat(l.DiscountPercent, 'f', 0, 64),
			l.Confidence,
			string(l.Status),
			l.URL,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	return writer.Error()
}

func (w *CSVWriter) Close() error {
	return w.file.Close()
}
