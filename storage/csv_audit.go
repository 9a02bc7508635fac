package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pricepulse/models"
)

// CSVAudit writes raw (unnormalized) records to a CSV file so an ingestion
// run can be replayed or inspected after the fact. It is safe for
// concurrent use by multiple marketplace workers.
type CSVAudit struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVAudit creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVAudit(path string) (*CSVAudit, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"marketplace", "external_id", "title", "raw_price", "currency",
		"raw_rating", "raw_review_count", "url", "scraped_at",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVAudit{file: f, writer: w}, nil
}

// WriteRaw appends raw records to the audit file.
func (c *CSVAudit) WriteRaw(records []*models.RawRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		row := []string{
			r.Marketplace,
			r.ExternalID,
			r.Title,
			r.RawPrice,
			r.Currency,
			r.RawRating,
			r.RawReviewCount,
			r.URL,
			r.ScrapedAt.Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVAudit) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
