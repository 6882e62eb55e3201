// Package database is the state store: the single source of truth for
// what has been searched and what has been downloaded. It is the only
// component that mutates persistent state; workers go through its
// claim/mark operations and never read-modify-write rows directly.
package database

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mmarcus006/web-scraper-legal/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = stderrors.New("not found")

// Store wraps the SQLite database holding the downloads and searches
// tables.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations. Pass ":memory:" for an in-memory database (tests).
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single writer connection keeps claim transactions serialized and
	// avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// --- time helpers: timestamps are stored as RFC3339 UTC strings ---

func fmtTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// dateKey normalizes a window boundary for the (start_date, end_date)
// unique key.
func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// --- searches ---

// RecordSearch upserts the search row for a window. If a row for the
// same window already exists it is returned as-is, so the caller can
// skip re-searching completed windows.
func (s *Store) RecordSearch(ctx context.Context, start, end time.Time) (*models.SearchRecord, error) {
	existing, err := s.getSearch(ctx, start, end)
	if err == nil {
		return existing, nil
	}
	if !stderrors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO searches (start_date, end_date, status, created_at)
		VALUES (?, ?, ?, ?)`,
		dateKey(start), dateKey(end), models.SearchInProgress, fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting search record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.SearchRecord{
		ID:        id,
		StartDate: start,
		EndDate:   end,
		Status:    models.SearchInProgress,
		CreatedAt: now,
	}, nil
}

func (s *Store) getSearch(ctx context.Context, start, end time.Time) (*models.SearchRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, start_date, end_date, opinions_found, json_path, status, error_message, created_at, completed_at
		FROM searches WHERE start_date = ? AND end_date = ?`,
		dateKey(start), dateKey(end),
	)
	return scanSearch(row)
}

// MarkSearchInProgress moves a previously failed window back to
// in_progress before it is retried.
func (s *Store) MarkSearchInProgress(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE searches SET status = ?, error_message = NULL WHERE id = ?`,
		models.SearchInProgress, id)
	return err
}

// CompleteSearch marks a window searched. An empty result is still
// completed, with opinionsFound = 0.
func (s *Store) CompleteSearch(ctx context.Context, id int64, opinionsFound int, jsonPath string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE searches SET status = ?, opinions_found = ?, json_path = ?, completed_at = ?
		WHERE id = ?`,
		models.SearchCompleted, opinionsFound, jsonPath, fmtTime(time.Now()), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FailSearch records a window whose search failed after retries. The
// window stays resumable.
func (s *Store) FailSearch(ctx context.Context, id int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE searches SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		models.SearchFailed, errMsg, fmtTime(time.Now()), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListSearches returns all search windows in chronological order.
func (s *Store) ListSearches(ctx context.Context) ([]models.SearchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_date, end_date, opinions_found, json_path, status, error_message, created_at, completed_at
		FROM searches ORDER BY start_date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchRecord
	for rows.Next() {
		rec, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSearch(row rowScanner) (*models.SearchRecord, error) {
	var rec models.SearchRecord
	var startDate, endDate string
	var jsonPath, errMsg, createdAt, completedAt sql.NullString
	err := row.Scan(&rec.ID, &startDate, &endDate, &rec.OpinionsFound,
		&jsonPath, &rec.Status, &errMsg, &createdAt, &completedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.StartDate, _ = time.Parse("2006-01-02", startDate)
	rec.EndDate, _ = time.Parse("2006-01-02", endDate)
	rec.JSONPath = jsonPath.String
	rec.ErrorMessage = errMsg.String
	rec.CreatedAt = parseTime(createdAt)
	rec.CompletedAt = parseTime(completedAt)
	return &rec, nil
}

// --- downloads ---

// UpsertOpinions inserts a pending download row per unseen opinion.
// Re-sighted opinions (overlapping window re-search) update the
// mutable metadata only; status and attempts are never reset, which
// preserves download progress across repeated searches. Returns the
// number of newly inserted rows.
func (s *Store) UpsertOpinions(ctx context.Context, opinions []models.Opinion) (int, error) {
	if len(opinions) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now())
	inserted := 0
	for _, op := range opinions {
		if err := op.Validate(); err != nil {
			return inserted, fmt.Errorf("rejecting opinion: %w", err)
		}

		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM downloads WHERE docket_entry_id = ?`, op.DocketEntryID,
		).Scan(&exists); err != nil {
			return inserted, fmt.Errorf("checking opinion %s: %w", op.DocketEntryID, err)
		}

		if exists > 0 {
			// Metadata refresh only. Status and attempts stay untouched.
			if _, err := tx.ExecContext(ctx, `
				UPDATE downloads SET
					case_caption = ?, document_title = ?, judge = ?,
					served_date = ?, pages = ?
				WHERE docket_entry_id = ?`,
				op.CaseCaption, op.DocumentTitle, op.Judge,
				fmtTime(op.ServedTime()), op.NumberOfPages, op.DocketEntryID,
			); err != nil {
				return inserted, fmt.Errorf("updating opinion %s: %w", op.DocketEntryID, err)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO downloads (
				docket_number, docket_entry_id, case_caption, document_title,
				judge, filing_date, served_date, pages, status, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.DocketNumber, op.DocketEntryID, op.CaseCaption, op.DocumentTitle,
			op.Judge, fmtTime(op.FilingTime()), fmtTime(op.ServedTime()),
			op.NumberOfPages, models.StatusPending, now,
		); err != nil {
			return inserted, fmt.Errorf("inserting opinion %s: %w", op.DocketEntryID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("committing upsert: %w", err)
	}
	return inserted, nil
}

// ClaimPendingBatch atomically claims up to limit rows that are
// eligible for download (pending, or failed with retry budget left)
// and transitions them to in_progress. The select and the guarded
// update run in one transaction, so no two callers can claim the same
// row.
func (s *Store) ClaimPendingBatch(ctx context.Context, limit, maxAttempts int) ([]models.DownloadRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM downloads
		WHERE status IN (?, ?) AND attempts < ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		models.StatusPending, models.StatusFailed, maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting claimable rows: %w", err)
	}
	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, tx.Commit()
	}

	now := fmtTime(time.Now())
	var claimed []int64
	for _, id := range candidates {
		res, err := tx.ExecContext(ctx, `
			UPDATE downloads SET status = ?, started_at = ?
			WHERE id = ? AND status IN (?, ?)`,
			models.StatusInProgress, now, id, models.StatusPending, models.StatusFailed,
		)
		if err != nil {
			return nil, fmt.Errorf("claiming row %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			claimed = append(claimed, id)
		}
	}

	records := make([]models.DownloadRecord, 0, len(claimed))
	for _, id := range claimed {
		rec, err := scanDownload(tx.QueryRowContext(ctx, downloadColumns+` WHERE id = ?`, id))
		if err != nil {
			return nil, fmt.Errorf("loading claimed row %d: %w", id, err)
		}
		records = append(records, *rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return records, nil
}

// MarkCompleted records a successful download. Terminal.
func (s *Store) MarkCompleted(ctx context.Context, id int64, downloadURL, filePath string, fileSize int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE downloads
		SET status = ?, download_url = ?, file_path = ?, file_size = ?,
		    error_message = NULL, completed_at = ?
		WHERE id = ? AND status = ?`,
		models.StatusCompleted, downloadURL, filePath, fileSize,
		fmtTime(time.Now()), id, models.StatusInProgress,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkFailed increments the attempt counter and reverts the row to
// failed, leaving it eligible for a future resume. Attempts counts
// failed claim cycles, one increment per MarkFailed; HTTP-level
// retries inside a cycle are not visible here.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE downloads
		SET status = ?, attempts = attempts + 1, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		models.StatusFailed, errMsg, fmtTime(time.Now()), id, models.StatusInProgress,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkSkipped records that the file already existed on disk. Terminal.
func (s *Store) MarkSkipped(ctx context.Context, id int64, filePath string, fileSize int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE downloads
		SET status = ?, file_path = ?, file_size = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		models.StatusSkipped, filePath, fileSize, fmtTime(time.Now()), id, models.StatusInProgress,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CleanupStale reverts rows stuck in in_progress longer than olderThan
// to failed. Crash recovery: a previous process died mid-download and
// never wrote a terminal state.
func (s *Store) CleanupStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		UPDATE downloads
		SET status = ?, error_message = ?
		WHERE status = ? AND started_at < ?`,
		models.StatusFailed, "download interrupted - reverted by stale cleanup",
		models.StatusInProgress, fmtTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingCount reports how many rows are still claimable.
func (s *Store) PendingCount(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM downloads
		WHERE status IN (?, ?) AND attempts < ?`,
		models.StatusPending, models.StatusFailed, maxAttempts,
	).Scan(&n)
	return n, err
}

// FailedCount reports rows in the failed state, regardless of retry
// budget. Drives the run's exit status.
func (s *Store) FailedCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM downloads WHERE status = ?`, models.StatusFailed,
	).Scan(&n)
	return n, err
}

// GetByEntryID looks up a download row by its docket entry id.
func (s *Store) GetByEntryID(ctx context.Context, docketEntryID string) (*models.DownloadRecord, error) {
	return scanDownload(s.db.QueryRowContext(ctx,
		downloadColumns+` WHERE docket_entry_id = ?`, docketEntryID))
}

// ListCompleted returns all completed downloads, for verification.
func (s *Store) ListCompleted(ctx context.Context) ([]models.DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		downloadColumns+` WHERE status = ? ORDER BY id ASC`, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DownloadRecord
	for rows.Next() {
		rec, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Statistics aggregates the store for display.
func (s *Store) Statistics(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{
		CountByStatus: make(map[models.DownloadStatus]int64),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(file_size), 0)
		FROM downloads GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status models.DownloadStatus
		var count, size int64
		if err := rows.Scan(&status, &count, &size); err != nil {
			rows.Close()
			return nil, err
		}
		stats.CountByStatus[status] = count
		if status == models.StatusCompleted {
			stats.TotalBytes = size
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(attempts) FROM downloads WHERE attempts > 0`,
	).Scan(&avg); err != nil {
		return nil, err
	}
	stats.AverageAttempts = avg.Float64

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(opinions_found), 0)
		FROM searches WHERE status = ?`, models.SearchCompleted,
	).Scan(&stats.TotalSearches, &stats.OpinionsFound); err != nil {
		return nil, err
	}

	frows, err := s.db.QueryContext(ctx, `
		SELECT docket_number, COALESCE(document_title, ''), COALESCE(error_message, '')
		FROM downloads WHERE status = ?
		ORDER BY completed_at DESC LIMIT 10`, models.StatusFailed)
	if err != nil {
		return nil, err
	}
	defer frows.Close()
	for frows.Next() {
		var f models.FailureDetail
		if err := frows.Scan(&f.DocketNumber, &f.DocumentTitle, &f.ErrorMessage); err != nil {
			return nil, err
		}
		stats.RecentFailures = append(stats.RecentFailures, f)
	}
	return stats, frows.Err()
}

const downloadColumns = `
	SELECT id, docket_number, docket_entry_id,
	       COALESCE(case_caption, ''), COALESCE(document_title, ''), COALESCE(judge, ''),
	       filing_date, served_date, pages,
	       COALESCE(download_url, ''), COALESCE(file_path, ''), file_size,
	       status, attempts, COALESCE(error_message, ''),
	       created_at, started_at, completed_at
	FROM downloads`

func scanDownload(row rowScanner) (*models.DownloadRecord, error) {
	var rec models.DownloadRecord
	var filingDate, servedDate, createdAt, startedAt, completedAt sql.NullString
	err := row.Scan(
		&rec.ID, &rec.DocketNumber, &rec.DocketEntryID,
		&rec.CaseCaption, &rec.DocumentTitle, &rec.Judge,
		&filingDate, &servedDate, &rec.Pages,
		&rec.DownloadURL, &rec.FilePath, &rec.FileSize,
		&rec.Status, &rec.Attempts, &rec.ErrorMessage,
		&createdAt, &startedAt, &completedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.FilingDate = parseTime(filingDate)
	rec.ServedDate = parseTime(servedDate)
	rec.CreatedAt = parseTime(createdAt)
	rec.StartedAt = parseTime(startedAt)
	rec.CompletedAt = parseTime(completedAt)
	return &rec, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
