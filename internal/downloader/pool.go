// Package downloader runs the document download phase. A pool of
// workers repeatedly claims batches of pending records from the
// database, resolves each document's download URL, streams the PDF to
// disk, and records the outcome. Every state transition goes through
// the database, so a crashed or cancelled run resumes from where it
// stopped.
package downloader

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmarcus006/web-scraper-legal/pkg/config"
	"github.com/mmarcus006/web-scraper-legal/pkg/errors"
	"github.com/mmarcus006/web-scraper-legal/pkg/logger"
	"github.com/mmarcus006/web-scraper-legal/pkg/models"
	"github.com/mmarcus006/web-scraper-legal/pkg/retry"
)

// RecordStore is the slice of the database the pool needs.
type RecordStore interface {
	ClaimPendingBatch(ctx context.Context, limit, maxAttempts int) ([]models.DownloadRecord, error)
	MarkCompleted(ctx context.Context, id int64, downloadURL, filePath string, fileSize int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	MarkSkipped(ctx context.Context, id int64, filePath string, fileSize int64) error
}

// DocumentFetcher resolves and streams documents from the remote
// service.
type DocumentFetcher interface {
	ResolveDownloadURL(ctx context.Context, docketNumber, docketEntryID string) (string, error)
	FetchDocument(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// FileStore places documents on disk.
type FileStore interface {
	DocumentPath(filingDate time.Time, fileName string) string
	Exists(path string) (bool, int64)
	SaveDocument(r io.Reader, path string) (int64, error)
}

// Counts is a snapshot of pool progress.
type Counts struct {
	Completed int64
	Failed    int64
	Skipped   int64
	InFlight  int64
}

// ProgressSink receives a snapshot after every finished record. Must be
// safe for concurrent calls.
type ProgressSink func(Counts)

// Pool downloads pending documents with bounded concurrency.
type Pool struct {
	store   RecordStore
	fetcher DocumentFetcher
	files   FileStore
	cfg     *config.Config
	logger  logger.Logger

	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	inFlight  atomic.Int64

	progress ProgressSink
}

// NewPool wires a Pool. Dependencies are interfaces so tests can stub
// the network and the filesystem.
func NewPool(store RecordStore, fetcher DocumentFetcher, files FileStore, cfg *config.Config, log logger.Logger) *Pool {
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{
		store:   store,
		fetcher: fetcher,
		files:   files,
		cfg:     cfg,
		logger:  log,
	}
}

// SetProgressSink registers a callback invoked after each record
// finishes. Call before Run.
func (p *Pool) SetProgressSink(sink ProgressSink) {
	p.progress = sink
}

// Counts returns the current progress snapshot.
func (p *Pool) Counts() Counts {
	return Counts{
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
		InFlight:  p.inFlight.Load(),
	}
}

// Run drains the pending queue. It returns nil when no claimable work
// remains, even if some records ended up failed; the caller decides
// what failures mean. Context cancellation and fatal local errors stop
// the run early.
func (p *Pool) Run(ctx context.Context) error {
	workers := p.cfg.Download.ParallelWorkers
	batchSize := workers * 2

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := p.store.ClaimPendingBatch(ctx, batchSize, p.cfg.API.MaxRetries)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			p.logger.InfoWithFields("download queue drained", map[string]interface{}{
				"completed": p.completed.Load(),
				"failed":    p.failed.Load(),
				"skipped":   p.skipped.Load(),
			})
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, record := range batch {
			record := record
			g.Go(func() error {
				return p.process(gctx, &record)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// process handles one claimed record end to end. Transient and remote
// failures mark the record failed and return nil so the run continues;
// only context cancellation and fatal local errors propagate.
func (p *Pool) process(ctx context.Context, record *models.DownloadRecord) error {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	// Pacing between downloads, on top of the client's token bucket.
	if delay := p.cfg.Download.RateLimitDelay; delay > 0 {
		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	path := p.files.DocumentPath(record.FilingDate, record.FileName())

	if p.cfg.Download.SkipExisting {
		if ok, size := p.files.Exists(path); ok {
			if err := p.store.MarkSkipped(ctx, record.ID, path, size); err != nil {
				return err
			}
			p.skipped.Add(1)
			p.emit()
			p.logger.DebugWithFields("document already on disk", map[string]interface{}{
				"docket_number": record.DocketNumber,
				"path":          path,
			})
			return nil
		}
	}

	size, downloadURL, err := p.download(ctx, record, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if apiErr, ok := err.(*errors.Error); ok && errors.IsFatal(apiErr.Kind) {
			// Disk or state trouble affects every record; stop the run.
			return err
		}
		if markErr := p.store.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			return markErr
		}
		p.failed.Add(1)
		p.emit()
		p.logger.WarnWithFields("download failed", map[string]interface{}{
			"docket_number":   record.DocketNumber,
			"docket_entry_id": record.DocketEntryID,
			"attempts":        record.Attempts + 1,
			"error":           err.Error(),
		})
		return nil
	}

	if err := p.store.MarkCompleted(ctx, record.ID, downloadURL, path, size); err != nil {
		return err
	}
	p.completed.Add(1)
	p.emit()
	p.logger.InfoWithFields("document downloaded", map[string]interface{}{
		"docket_number": record.DocketNumber,
		"path":          path,
		"bytes":         size,
	})
	return nil
}

// download resolves the URL, streams the document and saves it.
func (p *Pool) download(ctx context.Context, record *models.DownloadRecord, path string) (int64, string, error) {
	downloadURL, err := p.fetcher.ResolveDownloadURL(ctx, record.DocketNumber, record.DocketEntryID)
	if err != nil {
		return 0, "", err
	}

	body, _, err := p.fetcher.FetchDocument(ctx, downloadURL)
	if err != nil {
		return 0, downloadURL, err
	}
	defer body.Close()

	// A save failure is only fatal when the disk is at fault. A broken
	// response stream mid-copy is an ordinary transient failure for
	// this one record.
	tracked := &trackingReader{r: body}
	size, err := p.files.SaveDocument(tracked, path)
	if err != nil {
		if tracked.err != nil {
			return 0, downloadURL, errors.New(errors.KindNetwork, 0,
				"reading document stream: %v", tracked.err)
		}
		return 0, downloadURL, errors.New(errors.KindLocalIO, 0, "saving document: %v", err)
	}
	return size, downloadURL, nil
}

// trackingReader remembers the first read-side error so a failed copy
// can be attributed to the network rather than the disk.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

func (p *Pool) emit() {
	if p.progress != nil {
		p.progress(p.Counts())
	}
}
