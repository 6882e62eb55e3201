// Package storage manages the on-disk output: the per-month PDF tree
// and the JSON search batches. Document writes go to a temporary path
// and are renamed into place, so a crash never leaves a half-written
// file visible under its final name.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mmarcus006/web-scraper-legal/pkg/models"
)

// Manager handles document and JSON file storage.
type Manager struct {
	documentsDir string
	jsonDir      string
}

// NewManager creates the output directories if needed.
func NewManager(documentsDir, jsonDir string) (*Manager, error) {
	for _, dir := range []string{documentsDir, jsonDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	return &Manager{documentsDir: documentsDir, jsonDir: jsonDir}, nil
}

// DocumentPath returns the deterministic path for a document:
// {documents}/{YYYY-MM}/{docket_number}_{docket_entry_id}.pdf.
// Documents without a parseable filing date land in "unknown".
func (m *Manager) DocumentPath(filingDate time.Time, fileName string) string {
	yearMonth := "unknown"
	if !filingDate.IsZero() {
		yearMonth = filingDate.Format("2006-01")
	}
	return filepath.Join(m.documentsDir, yearMonth, fileName)
}

// Exists reports whether a non-empty file is already present at path.
// Empty files don't count: a zero-byte leftover must not suppress a
// re-download.
func (m *Manager) Exists(path string) (bool, int64) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false, 0
	}
	return true, info.Size()
}

// Stat returns the size of the file at path, without the non-empty
// filter Exists applies. Verification needs to tell an absent file
// from an empty one.
func (m *Manager) Stat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// SaveDocument streams r to path via a temporary file and an atomic
// rename, returning the number of bytes written.
func (m *Manager) SaveDocument(r io.Reader, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating document directory: %w", err)
	}

	tempPath := path + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("creating temporary file: %w", err)
	}

	written, err := io.Copy(out, r)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("writing document data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("closing document file: %w", closeErr)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("renaming into place: %w", err)
	}
	return written, nil
}

// VerifyPDF checks that the file at path starts with the PDF magic
// header. A cheap integrity probe, not a full parse.
func (m *Manager) VerifyPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, 5)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, []byte("%PDF-")) {
		return fmt.Errorf("not a PDF: header %q", header)
	}
	return nil
}

// batchEnvelope is the JSON file written per completed search window.
type batchEnvelope struct {
	Metadata batchMetadata    `json:"_metadata"`
	Opinions []models.Opinion `json:"opinions"`
}

type batchMetadata struct {
	FetchTimestamp string `json:"fetch_timestamp"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	RecordCount    int    `json:"record_count"`
}

// SaveSearchBatch writes the opinions for a window to
// opinions_{start}_to_{end}.json and returns the path.
func (m *Manager) SaveSearchBatch(start, end time.Time, opinions []models.Opinion) (string, error) {
	name := fmt.Sprintf("opinions_%s_to_%s.json",
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	path := filepath.Join(m.jsonDir, name)

	envelope := batchEnvelope{
		Metadata: batchMetadata{
			FetchTimestamp: time.Now().UTC().Format(time.RFC3339),
			StartDate:      start.Format("01/02/2006"),
			EndDate:        end.Format("01/02/2006"),
			RecordCount:    len(opinions),
		},
		Opinions: opinions,
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling search batch: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing search batch: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("renaming search batch: %w", err)
	}
	return path, nil
}

// LoadSearchBatch reads a batch file back into opinions.
func (m *Manager) LoadSearchBatch(path string) ([]models.Opinion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var envelope batchEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parsing search batch %s: %w", filepath.Base(path), err)
	}
	return envelope.Opinions, nil
}

// ListSearchBatches returns the batch files under the JSON directory
// in name order.
func (m *Manager) ListSearchBatches() ([]string, error) {
	return filepath.Glob(filepath.Join(m.jsonDir, "opinions_*.json"))
}
