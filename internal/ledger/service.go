package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-ledger/internal/ocr"
	"github.com/zombor/receipt-ledger/internal/receipt"
)

// DefaultExtractionTimeout bounds a single extraction call
const DefaultExtractionTimeout = 60 * time.Second

// ErrNoRecognizer is returned for image uploads when no OCR is configured
var ErrNoRecognizer = errors.New("image recognition is not configured")

// Extractor turns raw receipt text into a Receipt
type Extractor interface {
	Extract(ctx context.Context, text string) (receipt.Receipt, error)
}

// IDGenerator generates unique IDs for entries
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Result is the outcome of processing one receipt
type Result struct {
	Entry      *Entry             `json:"entry"`
	Validation receipt.Validation `json:"validation"`
	// Persisted is false when the entry could not be saved. The extraction
	// result is still returned.
	Persisted bool `json:"persisted"`
}

// Service runs the extraction pipeline and manages the ledger
type Service struct {
	db          DB
	extractor   Extractor
	recognizer  ocr.Recognizer
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	timeout     time.Duration
	tolerances  receipt.Tolerances
}

// NewService creates a new Service with default ID generator and time source.
// recognizer may be nil, which disables image uploads.
func NewService(db DB, extractor Extractor, recognizer ocr.Recognizer, storage Storage) *Service {
	return NewServiceWithDeps(db, extractor, recognizer, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, recognizer ocr.Recognizer, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		recognizer:  recognizer,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		timeout:     DefaultExtractionTimeout,
		tolerances:  receipt.DefaultTolerances,
	}
}

// SetExtractionTimeout changes the per-call extraction timeout
func (s *Service) SetExtractionTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// SetTolerances changes the tolerances used for validation
func (s *Service) SetTolerances(t receipt.Tolerances) {
	s.tolerances = t
}

// ProcessText extracts a receipt from raw text, validates it and records it
func (s *Service) ProcessText(ctx context.Context, text string) (*Result, error) {
	return s.process(ctx, text, SourceText)
}

// ProcessImage recognizes the text of a receipt image and processes it
func (s *Service) ProcessImage(ctx context.Context, image []byte, contentType string) (*Result, error) {
	if s.recognizer == nil {
		return nil, ErrNoRecognizer
	}

	text, err := s.recognizer.Recognize(ctx, image, contentType)
	if err != nil {
		slog.Error("Failed to recognize receipt image",
			"content_type", contentType,
			"file_size", len(image),
			"error", err,
		)
		return nil, fmt.Errorf("recognizing receipt: %w", err)
	}

	return s.process(ctx, text, SourceImage)
}

func (s *Service) process(ctx context.Context, text string, source Source) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.extractor.Extract(ctx, text)
	if err != nil {
		slog.Error("Failed to extract receipt", "source", source, "text_length", len(text), "error", err)
		return nil, fmt.Errorf("extracting receipt: %w", err)
	}

	validation := s.tolerances.Validate(r)
	entry := &Entry{
		ID:        s.idGenerator.Generate(),
		Receipt:   r,
		RawText:   text,
		Source:    source,
		CreatedAt: s.timeSource.Now(),
	}
	if !validation.Valid {
		slog.Warn("Receipt failed consistency checks", "id", entry.ID, "warnings", validation.Warnings)
	}

	result := &Result{Entry: entry, Validation: validation, Persisted: true}
	if err := s.db.SaveEntry(entry); err != nil {
		slog.Error("Failed to save entry", "id", entry.ID, "error", err)
		result.Persisted = false
	}

	slog.Info("Processed receipt",
		"id", entry.ID,
		"store", r.Store(),
		"items", len(r.Items),
		"total", r.Total,
		"valid", validation.Valid,
	)
	return result, nil
}

// GetEntry retrieves an entry by ID
func (s *Service) GetEntry(id string) (*Entry, error) {
	entry, err := s.db.GetEntry(id)
	if err != nil {
		return nil, fmt.Errorf("getting entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns all entries, newest first
func (s *Service) ListEntries() ([]*Entry, error) {
	entries, err := s.db.ListEntries()
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// DeleteEntry removes an entry
func (s *Service) DeleteEntry(id string) error {
	if err := s.db.DeleteEntry(id); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// Validate recomputes the validation of a stored entry
func (s *Service) Validate(id string) (receipt.Validation, error) {
	entry, err := s.GetEntry(id)
	if err != nil {
		return receipt.Validation{}, err
	}
	return s.tolerances.Validate(entry.Receipt), nil
}

// receipts resolves ids in the given order. No ids means every entry,
// oldest first.
func (s *Service) receipts(ids []string) ([]receipt.Receipt, error) {
	var entries []*Entry
	if len(ids) == 0 {
		all, err := s.ListEntries()
		if err != nil {
			return nil, err
		}
		for i := len(all) - 1; i >= 0; i-- {
			entries = append(entries, all[i])
		}
	} else {
		for _, id := range ids {
			entry, err := s.GetEntry(id)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	}

	receipts := make([]receipt.Receipt, 0, len(entries))
	for _, e := range entries {
		receipts = append(receipts, e.Receipt)
	}
	return receipts, nil
}

// ExportCSV writes the CSV export of the given entries to w
func (s *Service) ExportCSV(w io.Writer, ids []string) error {
	receipts, err := s.receipts(ids)
	if err != nil {
		return err
	}
	if err := receipt.WriteCSV(w, receipts...); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

// maxExportAttempts bounds the suffixes tried when names collide
const maxExportAttempts = 100

// SaveExport writes the CSV export of the given entries to storage and
// returns its file name
func (s *Service) SaveExport(ids []string) (string, error) {
	receipts, err := s.receipts(ids)
	if err != nil {
		return "", err
	}

	base := receipt.Filename(s.timeSource.Now())
	for attempt := 1; attempt <= maxExportAttempts; attempt++ {
		name := base
		if attempt > 1 {
			name = fmt.Sprintf("%s_%d.csv", strings.TrimSuffix(base, ".csv"), attempt)
		}

		err := s.storage.Write(name, func(w io.Writer) error {
			return receipt.WriteCSV(w, receipts...)
		})
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("saving export: %w", err)
		}

		slog.Info("Saved export", "filename", name, "receipts", len(receipts))
		return name, nil
	}
	return "", fmt.Errorf("saving export: no free file name for %s", base)
}

// GetExport returns a saved export
func (s *Service) GetExport(name string) ([]byte, error) {
	data, err := s.storage.Get(name)
	if err != nil {
		return nil, fmt.Errorf("getting export: %w", err)
	}
	return data, nil
}

// exportCSVBytes renders an export in memory
func (s *Service) exportCSVBytes(ids []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.ExportCSV(&buf, ids); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
