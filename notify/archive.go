package notify

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mateNemeth/kona2.0/config"
	"github.com/mateNemeth/kona2.0/models"
)

// Archive is a Notifier that appends every payload to a file.
type Archive interface {
	Notifier
	Close() error
}

// NewArchive opens the archive described by cfg.
func NewArchive(cfg config.ArchiveConfig) (Archive, error) {
	switch cfg.Format {
	case "csv":
		return NewCSVArchive(cfg.File)
	case "json", "":
		return NewJSONArchive(cfg.File)
	default:
		return nil, fmt.Errorf("unsupported archive format %q", cfg.Format)
	}
}

var csvHeader = []string{
	"listing_id", "make", "model", "age_years", "price", "mileage", "power",
	"displacement", "fuel_type", "transmission", "city", "postal_code", "detail_url", "enqueued_at",
}

// CSVArchive appends payloads as CSV rows.
type CSVArchive struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVArchive opens filename for appending and writes the header row
// when the file is new.
func NewCSVArchive(filename string) (*CSVArchive, error) {
	f, err := openAppend(filename)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := writer.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}

	return &CSVArchive{
		file:   f,
		writer: writer,
	}, nil
}

func (ca *CSVArchive) Name() string { return "archive_csv" }

// Notify appends one row.
func (ca *CSVArchive) Notify(_ context.Context, p models.VehiclePayload) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	record := []string{
		strconv.FormatInt(p.ListingID, 10),
		p.Make,
		p.Model,
		strconv.Itoa(p.AgeYears),
		formatInt(p.Price),
		formatInt(p.Mileage),
		formatInt(p.Power),
		formatInt(p.Displacement),
		formatString(p.FuelType),
		formatString(p.Transmission),
		formatString(p.City),
		formatInt(p.PostalCode),
		p.DetailURL,
		p.EnqueuedAt.Format(time.RFC3339),
	}
	if err := ca.writer.Write(record); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}
	ca.writer.Flush()
	if err := ca.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (ca *CSVArchive) Close() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	ca.writer.Flush()
	if err := ca.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return ca.file.Close()
}

// JSONArchive appends newline-delimited JSON payloads.
type JSONArchive struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONArchive opens filename for appending.
func NewJSONArchive(filename string) (*JSONArchive, error) {
	f, err := openAppend(filename)
	if err != nil {
		return nil, err
	}

	buffer := bufio.NewWriter(f)
	return &JSONArchive{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

func (ja *JSONArchive) Name() string { return "archive_json" }

// Notify appends one JSON line.
func (ja *JSONArchive) Notify(_ context.Context, p models.VehiclePayload) error {
	ja.mu.Lock()
	defer ja.mu.Unlock()

	if err := ja.encoder.Encode(p); err != nil {
		return fmt.Errorf("encode json record: %w", err)
	}
	if err := ja.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (ja *JSONArchive) Close() error {
	ja.mu.Lock()
	defer ja.mu.Unlock()

	if err := ja.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return ja.file.Close()
}

func openAppend(filename string) (*os.File, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open archive file: %w", err)
	}
	return f, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
