// Package scraper is the orchestrator. It splits the requested date
// range into monthly windows, runs the search phase window by window,
// and hands the accumulated download queue to the worker pool. All
// progress lives in the database, so any run can be interrupted and
// resumed.
package scraper

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/mmarcus006/web-scraper-legal/pkg/config"
	"github.com/mmarcus006/web-scraper-legal/pkg/logger"
	"github.com/mmarcus006/web-scraper-legal/pkg/models"
)

// ErrRunIncomplete is returned when a run finishes with failed search
// windows or downloads still on the books. Callers use it to exit
// non-zero while keeping all partial progress persisted.
var ErrRunIncomplete = stderrors.New("run finished with unresolved failures")

// SearchStore is the slice of the database the orchestrator needs.
type SearchStore interface {
	RecordSearch(ctx context.Context, start, end time.Time) (*models.SearchRecord, error)
	MarkSearchInProgress(ctx context.Context, id int64) error
	CompleteSearch(ctx context.Context, id int64, opinionsFound int, jsonPath string) error
	FailSearch(ctx context.Context, id int64, errMsg string) error
	ListSearches(ctx context.Context) ([]models.SearchRecord, error)
	UpsertOpinions(ctx context.Context, opinions []models.Opinion) (int, error)
	CleanupStale(ctx context.Context, olderThan time.Duration) (int64, error)
	PendingCount(ctx context.Context, maxAttempts int) (int64, error)
	FailedCount(ctx context.Context) (int64, error)
	ListCompleted(ctx context.Context) ([]models.DownloadRecord, error)
	Statistics(ctx context.Context) (*models.Stats, error)
}

// OpinionSearcher runs the remote search for one window.
type OpinionSearcher interface {
	SearchOpinions(ctx context.Context, from, to time.Time) ([]models.Opinion, error)
}

// BatchStore persists search results and verifies files on disk.
type BatchStore interface {
	SaveSearchBatch(start, end time.Time, opinions []models.Opinion) (string, error)
	LoadSearchBatch(path string) ([]models.Opinion, error)
	ListSearchBatches() ([]string, error)
	Stat(path string) (int64, error)
	VerifyPDF(path string) error
}

// PoolRunner drains the download queue.
type PoolRunner interface {
	Run(ctx context.Context) error
}

// Scraper coordinates the search and download phases.
type Scraper struct {
	store  SearchStore
	client OpinionSearcher
	files  BatchStore
	pool   PoolRunner
	cfg    *config.Config
	logger logger.Logger
}

// New wires a Scraper.
func New(store SearchStore, client OpinionSearcher, files BatchStore, pool PoolRunner, cfg *config.Config, log logger.Logger) *Scraper {
	if log == nil {
		log = logger.Nop()
	}
	return &Scraper{
		store:  store,
		client: client,
		files:  files,
		pool:   pool,
		cfg:    cfg,
		logger: log,
	}
}

// Period is one search window, inclusive on both ends.
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthlyPeriods splits [start, end] into calendar-month windows. The
// first and last windows are clipped to the requested range, so partial
// months come out partial.
func MonthlyPeriods(start, end time.Time) []Period {
	if end.Before(start) {
		return nil
	}

	var periods []Period
	cursor := start
	for !cursor.After(end) {
		monthEnd := time.Date(cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, cursor.Location()).
			AddDate(0, 1, -1)
		if monthEnd.After(end) {
			monthEnd = end
		}
		periods = append(periods, Period{Start: cursor, End: monthEnd})
		cursor = monthEnd.AddDate(0, 0, 1)
	}
	return periods
}

// Run executes a full scrape of [start, end]: search every window,
// then optionally download every queued document. Windows already
// completed by a previous run are skipped. Returns ErrRunIncomplete if
// any window or download remains failed when the run ends.
func (s *Scraper) Run(ctx context.Context, start, end time.Time, downloadPDFs bool) error {
	periods := MonthlyPeriods(start, end)
	s.logger.InfoWithFields("starting scrape", map[string]interface{}{
		"start":   start.Format("2006-01-02"),
		"end":     end.Format("2006-01-02"),
		"windows": len(periods),
	})

	searchFailures := 0
	for _, period := range periods {
		if err := ctx.Err(); err != nil {
			return err
		}
		failed, err := s.searchWindow(ctx, period)
		if err != nil {
			return err
		}
		if failed {
			searchFailures++
		}
	}

	if downloadPDFs {
		if err := s.runDownloads(ctx); err != nil {
			return err
		}
	}

	return s.finish(ctx, searchFailures)
}

// searchWindow processes one window. The boolean reports whether the
// window's search failed; only infrastructure errors (database, disk,
// cancellation) come back as err.
func (s *Scraper) searchWindow(ctx context.Context, period Period) (bool, error) {
	rec, err := s.store.RecordSearch(ctx, period.Start, period.End)
	if err != nil {
		return false, fmt.Errorf("recording search window: %w", err)
	}

	if rec.Status == models.SearchCompleted {
		s.logger.DebugWithFields("window already searched", map[string]interface{}{
			"start": period.Start.Format("2006-01-02"),
			"end":   period.End.Format("2006-01-02"),
			"found": rec.OpinionsFound,
		})
		return false, nil
	}
	if rec.Status == models.SearchFailed {
		if err := s.store.MarkSearchInProgress(ctx, rec.ID); err != nil {
			return false, err
		}
	}

	opinions, err := s.client.SearchOpinions(ctx, period.Start, period.End)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if failErr := s.store.FailSearch(ctx, rec.ID, err.Error()); failErr != nil {
			return false, failErr
		}
		s.logger.WarnWithFields("search window failed", map[string]interface{}{
			"start": period.Start.Format("2006-01-02"),
			"end":   period.End.Format("2006-01-02"),
			"error": err.Error(),
		})
		return true, nil
	}

	jsonPath, err := s.files.SaveSearchBatch(period.Start, period.End, opinions)
	if err != nil {
		return false, fmt.Errorf("saving search batch: %w", err)
	}

	inserted, err := s.store.UpsertOpinions(ctx, opinions)
	if err != nil {
		return false, fmt.Errorf("queueing opinions: %w", err)
	}

	if err := s.store.CompleteSearch(ctx, rec.ID, len(opinions), jsonPath); err != nil {
		return false, err
	}

	s.logger.InfoWithFields("window searched", map[string]interface{}{
		"start":  period.Start.Format("2006-01-02"),
		"end":    period.End.Format("2006-01-02"),
		"found":  len(opinions),
		"queued": inserted,
	})
	return false, nil
}

// runDownloads recovers stale claims and drains the download queue.
func (s *Scraper) runDownloads(ctx context.Context) error {
	reverted, err := s.store.CleanupStale(ctx, s.cfg.Download.StaleThreshold)
	if err != nil {
		return fmt.Errorf("cleaning up stale claims: %w", err)
	}
	if reverted > 0 {
		s.logger.WarnWithFields("reverted stale claims", map[string]interface{}{
			"count": reverted,
		})
	}

	pending, err := s.store.PendingCount(ctx, s.cfg.API.MaxRetries)
	if err != nil {
		return err
	}
	if pending == 0 {
		s.logger.Info("nothing to download")
		return nil
	}

	s.logger.InfoWithFields("starting downloads", map[string]interface{}{
		"pending": pending,
		"workers": s.cfg.Download.ParallelWorkers,
	})
	return s.pool.Run(ctx)
}

// finish computes the exit condition shared by Run and Resume.
func (s *Scraper) finish(ctx context.Context, searchFailures int) error {
	failedDownloads, err := s.store.FailedCount(ctx)
	if err != nil {
		return err
	}
	if searchFailures > 0 || failedDownloads > 0 {
		s.logger.WarnWithFields("run incomplete", map[string]interface{}{
			"failed_searches":  searchFailures,
			"failed_downloads": failedDownloads,
		})
		return ErrRunIncomplete
	}
	return nil
}

// Resume retries everything a previous run left unfinished: failed
// search windows first, then the download queue.
func (s *Scraper) Resume(ctx context.Context, downloadPDFs bool) error {
	searches, err := s.store.ListSearches(ctx)
	if err != nil {
		return err
	}

	searchFailures := 0
	for _, rec := range searches {
		if rec.Status == models.SearchCompleted {
			continue
		}
		failed, err := s.searchWindow(ctx, Period{Start: rec.StartDate, End: rec.EndDate})
		if err != nil {
			return err
		}
		if failed {
			searchFailures++
		}
	}

	if downloadPDFs {
		if err := s.runDownloads(ctx); err != nil {
			return err
		}
	}
	return s.finish(ctx, searchFailures)
}

// DownloadPending drains the download queue without searching.
func (s *Scraper) DownloadPending(ctx context.Context) error {
	if err := s.runDownloads(ctx); err != nil {
		return err
	}
	return s.finish(ctx, 0)
}

// ImportJSON re-queues opinions from previously saved search batches.
// Useful when the database was lost but the JSON files survived.
func (s *Scraper) ImportJSON(ctx context.Context) (int, error) {
	paths, err := s.files.ListSearchBatches()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, path := range paths {
		opinions, err := s.files.LoadSearchBatch(path)
		if err != nil {
			return total, err
		}
		inserted, err := s.store.UpsertOpinions(ctx, opinions)
		if err != nil {
			return total, err
		}
		total += inserted
		s.logger.InfoWithFields("imported batch", map[string]interface{}{
			"path":   path,
			"queued": inserted,
		})
	}
	return total, nil
}

// Stats returns aggregate progress for display.
func (s *Scraper) Stats(ctx context.Context) (*models.Stats, error) {
	return s.store.Statistics(ctx)
}

// Mismatch is one completed download whose file on disk does not match
// what the database recorded.
type Mismatch struct {
	DocketNumber  string
	DocketEntryID string
	Path          string
	Reason        string
}

// Verify cross-checks every completed download against the filesystem.
// With checkContent set it also probes each file's PDF header.
func (s *Scraper) Verify(ctx context.Context, checkContent bool) ([]Mismatch, error) {
	records, err := s.store.ListCompleted(ctx)
	if err != nil {
		return nil, err
	}

	var mismatches []Mismatch
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		size, err := s.files.Stat(rec.FilePath)
		if reason := mismatchReason(rec.FileSize, size, err); reason != "" {
			mismatches = append(mismatches, Mismatch{
				DocketNumber:  rec.DocketNumber,
				DocketEntryID: rec.DocketEntryID,
				Path:          rec.FilePath,
				Reason:        reason,
			})
			continue
		}
		if checkContent {
			if err := s.files.VerifyPDF(rec.FilePath); err != nil {
				mismatches = append(mismatches, Mismatch{
					DocketNumber:  rec.DocketNumber,
					DocketEntryID: rec.DocketEntryID,
					Path:          rec.FilePath,
					Reason:        err.Error(),
				})
			}
		}
	}

	s.logger.InfoWithFields("verification finished", map[string]interface{}{
		"checked":    len(records),
		"mismatches": len(mismatches),
	})
	return mismatches, nil
}

// mismatchReason compares a completed record's size against the file
// on disk. An empty string means the record checks out. Absent, empty
// and wrong-sized files each get their own reason; a record that never
// captured a size is flagged rather than silently passed.
func mismatchReason(recorded, onDisk int64, statErr error) string {
	switch {
	case statErr != nil:
		return "file missing"
	case recorded > 0 && onDisk == 0:
		return fmt.Sprintf("file empty: recorded %d bytes", recorded)
	case recorded > 0 && onDisk != recorded:
		return fmt.Sprintf("size mismatch: recorded %d, on disk %d", recorded, onDisk)
	case recorded == 0 && onDisk > 0:
		return fmt.Sprintf("size unrecorded: %d bytes on disk", onDisk)
	default:
		return ""
	}
}
