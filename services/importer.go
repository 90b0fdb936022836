package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"pricewatch/models"
	"pricewatch/utils"
)

// importColumns are the required CSV header names; "address", "latitude",
// "longitude", "brand", "category" and "barcode" are optional.
var importColumns = []string{"user_id", "product", "store", "price"}

// ImportReport summarises a bulk import.
type ImportReport struct {
	Rows       int
	Submitted  int
	Duplicates int
	Failed     int
	Errors     []error
}

// Importer bulk-submits price rows read from CSV through a rate-limited
// worker pool.
type Importer struct {
	submissions *SubmissionService
	workers     int
	rateLimitMs int
	logger      *utils.Logger
}

func NewImporter(submissions *SubmissionService, workers, rateLimitMs int, logger *utils.Logger) *Importer {
	return &Importer{submissions: submissions, workers: workers, rateLimitMs: rateLimitMs, logger: logger.With("import")}
}

// Import reads every row from r. Identical rows are submitted once. Row
// failures are collected rather than aborting the import; a malformed
// header or CSV syntax error aborts it.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*ImportReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("import: read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range importColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("import: missing column %q", col)
		}
	}

	report := &ImportReport{}
	var mu sync.Mutex
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err)
			return
		}
		report.Submitted++
	}

	seen := utils.NewStringSet()
	pool := utils.NewWorkerPool(im.workers, im.rateLimitMs)
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			pool.Wait()
			return report, fmt.Errorf("import: line %d: %w", line, err)
		}
		report.Rows++

		if !seen.Add(strings.Join(row, "\x1f")) {
			report.Duplicates++
			continue
		}

		sub, err := parseImportRow(index, row)
		if err != nil {
			record(fmt.Errorf("line %d: %w", line, err))
			continue
		}

		n := line
		pool.Submit(func() {
			if ctx.Err() != nil {
				record(fmt.Errorf("line %d: %w", n, ctx.Err()))
				return
			}
			if _, err := im.submissions.Submit(ctx, sub); err != nil {
				record(fmt.Errorf("line %d: %w", n, err))
				return
			}
			record(nil)
		})
	}
	pool.Wait()

	im.logger.Info("imported %d rows: %d submitted, %d duplicates, %d failed",
		report.Rows, report.Submitted, report.Duplicates, report.Failed)
	return report, nil
}

func parseImportRow(index map[string]int, row []string) (Submission, error) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	price, err := ParsePrice(field("price"))
	if err != nil {
		return Submission{}, err
	}
	sub := Submission{
		UserID:      field("user_id"),
		ProductName: field("product"),
		Brand:       field("brand"),
		Category:    field("category"),
		Barcode:     field("barcode"),
		StoreName:   field("store"),
		Address:     field("address"),
		Price:       price,
	}

	lat, lng := field("latitude"), field("longitude")
	if lat != "" || lng != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		lo, err2 := strconv.ParseFloat(lng, 64)
		if err1 != nil || err2 != nil {
			return Submission{}, &models.ValidationError{Field: "geo", Reason: fmt.Sprintf("bad coordinates %q,%q", lat, lng)}
		}
		sub.Geo = &models.Geo{Latitude: la, Longitude: lo}
	}
	return sub, nil
}
