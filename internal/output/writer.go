// Package output appends accepted listing records to a CSV file in batches.
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eldlit/auto-ria-downloader/internal/listing"
)

// urlColumn carries the listing URL. It is appended after the configured
// data columns unless the configuration already declares it.
const urlColumn = "url"

// utf8BOM marks the file as UTF-8 for spreadsheet tools that otherwise
// guess a legacy encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Config controls where and how records are written.
type Config struct {
	// Path is the base output path; the actual file gets a timestamp
	// suffix so consecutive runs never clobber each other.
	Path      string
	Fields    []string
	Delimiter rune
	Encoding  string
}

// Writer writes listing records as CSV rows. Batches are appended in
// arrival order; rows are never reordered or deduplicated here.
type Writer struct {
	writeMu sync.Mutex
	file    *os.File
	csv     *csv.Writer
	fields  []string
	path    string
	rows    int
	logger  *zap.Logger
}

// TimestampedPath derives the run's output filename from the configured base
// path, for example "cars.csv" becomes "cars_20260829-14.csv".
func TimestampedPath(base string, now time.Time) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".csv"
	}
	return fmt.Sprintf("%s_%s%s", stem, now.Format("20060102-15"), ext)
}

// New creates the output file, writes the BOM when the encoding asks for
// one, and emits the header row.
func New(cfg Config, logger *zap.Logger) (*Writer, error) {
	path := TimestampedPath(cfg.Path, time.Now())
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}

	switch strings.ToLower(cfg.Encoding) {
	case "", "utf-8", "utf8", "utf-8-sig":
		if _, err := file.Write(utf8BOM); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("write BOM: %w", err)
		}
	default:
		_ = file.Close()
		return nil, fmt.Errorf("unsupported output encoding %q", cfg.Encoding)
	}

	cw := csv.NewWriter(file)
	if cfg.Delimiter != 0 {
		cw.Comma = cfg.Delimiter
	}

	fields := append([]string(nil), cfg.Fields...)
	if !slices.Contains(fields, urlColumn) {
		fields = append(fields, urlColumn)
	}

	w := &Writer{
		file:   file,
		csv:    cw,
		fields: fields,
		path:   path,
		logger: logger,
	}
	if err := cw.Write(w.fields); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("flush header: %w", err)
	}

	logger.Info("output file created", zap.String("path", path))
	return w, nil
}

// Path returns the actual file the writer is appending to.
func (w *Writer) Path() string { return w.path }

// Rows returns how many data rows have been written so far.
func (w *Writer) Rows() int {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.rows
}

// WriteBatch appends the records in the order given and flushes them to
// disk as one batch.
func (w *Writer) WriteBatch(records []listing.Result) error {
	if len(records) == 0 {
		return nil
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	row := make([]string, len(w.fields))
	for _, record := range records {
		for i, field := range w.fields {
			if field == urlColumn {
				row[i] = record.URL
			} else {
				row[i] = record.Fields[field]
			}
		}
		if err := w.csv.Write(row); err != nil {
			return fmt.Errorf("write row for %s: %w", record.URL, err)
		}
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}

	w.rows += len(records)
	w.logger.Info("batch written",
		zap.Int("records", len(records)), zap.Int("total_rows", w.rows))
	return nil
}

// Close flushes buffered rows and closes the file.
func (w *Writer) Close() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("flush on close: %w", err)
	}
	return w.file.Close()
}
