// Package models defines the data types shared across the scraper:
// the Opinion records parsed from search responses and the persistent
// download/search rows tracked by the state store.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DownloadStatus is the lifecycle state of a tracked document.
type DownloadStatus string

const (
	StatusPending    DownloadStatus = "pending"
	StatusInProgress DownloadStatus = "in_progress"
	StatusCompleted  DownloadStatus = "completed"
	StatusFailed     DownloadStatus = "failed"
	StatusSkipped    DownloadStatus = "skipped"
)

// SearchStatus is the lifecycle state of a monthly search window.
type SearchStatus string

const (
	SearchPending    SearchStatus = "pending"
	SearchInProgress SearchStatus = "in_progress"
	SearchCompleted  SearchStatus = "completed"
	SearchFailed     SearchStatus = "failed"
)

// Opinion is one court opinion as returned by the opinion-search
// endpoint. Judge and ServedDate are optional in the payload.
type Opinion struct {
	CaseCaption   string `json:"caseCaption"`
	DocketEntryID string `json:"docketEntryId"`
	DocketNumber  string `json:"docketNumber"`
	DocumentTitle string `json:"documentTitle"`
	DocumentType  string `json:"documentType"`
	EventCode     string `json:"eventCode"`
	FilingDate    string `json:"filingDate"`
	ServedDate    string `json:"servedDate,omitempty"`
	IsStricken    bool   `json:"isStricken"`
	Judge         string `json:"signedJudgeName,omitempty"`
	NumberOfPages int    `json:"numberOfPages"`
}

// Validate checks the fields required to track the opinion. The docket
// entry id is the dedup key and must be a UUID.
func (o *Opinion) Validate() error {
	if o.DocketEntryID == "" {
		return fmt.Errorf("opinion missing docketEntryId")
	}
	if _, err := uuid.Parse(o.DocketEntryID); err != nil {
		return fmt.Errorf("invalid docketEntryId %q: %w", o.DocketEntryID, err)
	}
	if o.DocketNumber == "" {
		return fmt.Errorf("opinion %s missing docketNumber", o.DocketEntryID)
	}
	return nil
}

// FilingTime parses the filing date, which the API returns as an ISO
// timestamp. Returns the zero time if it cannot be parsed.
func (o *Opinion) FilingTime() time.Time {
	return parseAPITime(o.FilingDate)
}

// ServedTime parses the served date, if present.
func (o *Opinion) ServedTime() time.Time {
	return parseAPITime(o.ServedDate)
}

func parseAPITime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z07:00",
		"2006-01-02",
		"01/02/2006",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FileName is the deterministic document name, also the skip-existing
// idempotency key: {docket_number}_{docket_entry_id}.pdf, sanitised.
func (o *Opinion) FileName() string {
	return SafeFileName(fmt.Sprintf("%s_%s", o.DocketNumber, o.DocketEntryID)) + ".pdf"
}

// SafeFileName strips characters that are unsafe in filenames and
// collapses runs of underscores.
func SafeFileName(text string) string {
	var b strings.Builder
	for _, c := range text {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '-' || c == '_' || c == '.':
			b.WriteRune(c)
		case c == ' ':
			b.WriteRune('_')
		}
	}
	safe := b.String()
	for strings.Contains(safe, "__") {
		safe = strings.ReplaceAll(safe, "__", "_")
	}
	safe = strings.TrimRight(safe, "._")
	if safe == "" {
		return "unnamed"
	}
	if len(safe) > 200 {
		safe = safe[:200]
	}
	return safe
}

// DownloadRecord is one row of the downloads table: the durable record
// of a single document's download lifecycle.
type DownloadRecord struct {
	ID            int64
	DocketNumber  string
	DocketEntryID string
	CaseCaption   string
	DocumentTitle string
	Judge         string
	FilingDate    time.Time
	ServedDate    time.Time
	Pages         int
	DownloadURL   string
	FilePath      string
	FileSize      int64
	Status        DownloadStatus
	Attempts      int
	ErrorMessage  string
	CreatedAt     time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
}

// FileName mirrors Opinion.FileName for records reloaded from the
// store.
func (r *DownloadRecord) FileName() string {
	return SafeFileName(fmt.Sprintf("%s_%s", r.DocketNumber, r.DocketEntryID)) + ".pdf"
}

// SearchRecord is one row of the searches table: one monthly window.
type SearchRecord struct {
	ID            int64
	StartDate     time.Time
	EndDate       time.Time
	OpinionsFound int
	JSONPath      string
	Status        SearchStatus
	ErrorMessage  string
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// FailureDetail is one recent failed download, surfaced by stats.
type FailureDetail struct {
	DocketNumber  string
	DocumentTitle string
	ErrorMessage  string
}

// Stats aggregates the state store for display.
type Stats struct {
	CountByStatus   map[DownloadStatus]int64
	TotalBytes      int64
	AverageAttempts float64
	TotalSearches   int64
	OpinionsFound   int64
	RecentFailures  []FailureDetail
}

// SuccessRate is completed / (completed + failed), as a percentage.
// Skipped records are not attempts and don't count either way.
func (s *Stats) SuccessRate() float64 {
	completed := s.CountByStatus[StatusCompleted]
	failed := s.CountByStatus[StatusFailed]
	if completed+failed == 0 {
		return 0
	}
	return float64(completed) / float64(completed+failed) * 100
}

// FormatBytes renders a byte count for display.
func FormatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGT"[exp])
}
