package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"pricewatch/models"
)

var reportHeader = []string{
	"id", "user_id", "product_id", "store_id", "price", "created_at",
	"verified", "upvotes", "downvotes", "vote_score",
}

// CSVWriter exports price reports as CSV. It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	closer io.Closer
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w, err := newCSVWriter(f, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// NewCSVWriterTo writes to an arbitrary sink; Close does not close it.
func NewCSVWriterTo(out io.Writer) (*CSVWriter, error) {
	return newCSVWriter(out, nil)
}

func newCSVWriter(out io.Writer, closer io.Closer) (*CSVWriter, error) {
	w := csv.NewWriter(out)
	if err := w.Write(reportHeader); err != nil {
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()
	return &CSVWriter{closer: closer, writer: w}, w.Error()
}

// WriteReports appends one row per report. Voter sets are joined with "|".
func (c *CSVWriter) WriteReports(reports []*models.PriceReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range reports {
		row := []string{
			r.ID,
			r.UserID,
			r.ProductID,
			r.StoreID,
			r.Price.StringFixed(2),
			r.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(r.Verified),
			strings.Join(r.Upvotes, "|"),
			strings.Join(r.Downvotes, "|"),
			strconv.Itoa(r.VoteScore),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	if c.closer == nil {
		return c.writer.Error()
	}
	return c.closer.Close()
}
