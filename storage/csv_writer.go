package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"krisha-scraper/models"
)

// CSVWriter writes rejection reports to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, eris.Wrap(err, "csv: create output dir")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: create file %q", path)
	}

	w := csv.NewWriter(f)

	// Write header
	if err := w.Write([]string{"url", "stage", "deal_type", "property", "error"}); err != nil {
		_ = f.Close()
		return nil, eris.Wrap(err, "csv: write header")
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRejections appends one row per report.
func (c *CSVWriter) WriteRejections(reports []models.RejectionReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range reports {
		reason := ""
		if r.Err != nil {
			reason = r.Err.Error()
		}
		row := []string{r.URL, string(r.Stage), string(r.DealType), string(r.PropertyType), reason}
		if err := c.writer.Write(row); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
