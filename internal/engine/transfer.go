package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/RazorBackRoar/4Charm/internal/board"
	"github.com/RazorBackRoar/4Charm/internal/config"
	"github.com/RazorBackRoar/4Charm/internal/media"
	"github.com/RazorBackRoar/4Charm/internal/rate"
	"github.com/RazorBackRoar/4Charm/internal/session"
)

// Terminal transfer failures: neither is ever retried.
var (
	ErrInsufficientSpace = errors.New("insufficient disk space")
	ErrEmptyDownload     = errors.New("download produced an empty file")
)

const (
	miscFolder = "misc"
	webmFolder = "WEBM"
)

// ProgressFunc receives in-flight progress for a single transfer: the
// completed fraction (only when the total size is known) and the momentary
// speed in MB/s.
type ProgressFunc func(fraction float64, speedMBps float64)

// Transferrer performs the byte transfer for individual files: existence and
// dedup checks, the disk-space gate, ranged resume, chunked streaming with
// pause/cancel poll points, and exponential retry.
type Transferrer struct {
	http    *http.Client
	cfg     *config.Config
	sess    *session.Session
	limiter *rate.Controller
	ctl     *control
	log     *slog.Logger
	root    string

	// retryUnit scales the exponential backoff between attempts. It exists
	// so tests do not sleep for real seconds.
	retryUnit time.Duration
}

func newTransferrer(cfg *config.Config, sess *session.Session, limiter *rate.Controller, ctl *control, log *slog.Logger, root string) *Transferrer {
	return &Transferrer{
		http:      &http.Client{Timeout: cfg.General.DownloadTimeout},
		cfg:       cfg,
		sess:      sess,
		limiter:   limiter,
		ctl:       ctl,
		log:       log,
		root:      root,
		retryUnit: time.Second,
	}
}

// Transfer downloads one descriptor into root/folder, reporting success. It
// drives the retry loop: transient failures back off exponentially and retry
// up to the configured attempt count; cancellation, the disk gate and an
// empty result are terminal immediately. The session records the outcome
// exactly once either way.
func (t *Transferrer) Transfer(ctx context.Context, desc *media.Descriptor, folder string, progress ProgressFunc) bool {
	dest, err := t.resolveDest(desc, folder)
	if err != nil {
		t.fail(desc, err)
		return false
	}

	var lastErr error
	for attempt := 0; attempt < t.cfg.General.Retries; attempt++ {
		if attempt > 0 {
			if err := t.backoff(ctx, attempt-1); err != nil {
				t.fail(desc, err)
				return false
			}
		}

		err := t.attempt(ctx, desc, dest, progress)
		if err == nil {
			t.sess.Complete(desc.URL)
			return true
		}
		if errors.Is(err, ErrCancelled) || errors.Is(err, ErrInsufficientSpace) || errors.Is(err, ErrEmptyDownload) {
			t.fail(desc, err)
			return false
		}

		lastErr = err
		t.log.Warn("transfer attempt failed",
			"file", desc.Filename,
			"attempt", attempt+1,
			"error", err)
	}

	t.fail(desc, lastErr)
	return false
}

// fail records the terminal failure in the session, once.
func (t *Transferrer) fail(desc *media.Descriptor, err error) {
	t.sess.Fail(desc.URL, err)
	t.sess.AddFailed()
	t.log.Error("transfer failed", "file", desc.Filename, "error", err)
}

// resolveDest builds root/folder/[WEBM/]filename and creates the directories.
// An empty folder falls back to the misc folder; .webm files get their own
// subfolder.
func (t *Transferrer) resolveDest(desc *media.Descriptor, folder string) (string, error) {
	if folder == "" {
		folder = miscFolder
	}
	dir := filepath.Join(t.root, folder)
	if strings.EqualFold(filepath.Ext(desc.Filename), ".webm") {
		dir = filepath.Join(dir, webmFolder)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating destination folder: %w", err)
	}
	return filepath.Join(dir, desc.Filename), nil
}

// attempt runs one full pass: pause/cancel gate, existing-file adoption,
// disk-space gate, then the streamed transfer.
func (t *Transferrer) attempt(ctx context.Context, desc *media.Descriptor, dest string, progress ProgressFunc) error {
	if err := t.ctl.checkpoint(ctx); err != nil {
		removeIfEmpty(dest)
		return err
	}

	// A nonzero file that already covers the expected size is adopted, not
	// re-downloaded. A smaller one is a resume point for the stream below.
	if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
		if desc.ExpectedSize == 0 || fi.Size() >= desc.ExpectedSize {
			t.adoptExisting(desc, dest, fi.Size())
			return nil
		}
	}

	dir := filepath.Dir(dest)
	if free, err := freeBytes(dir); err == nil && free < t.cfg.Output.MinFreeSpaceMB*1024*1024 {
		return fmt.Errorf("%w: %s free on %s", ErrInsufficientSpace, humanize.IBytes(uint64(free)), dir)
	}

	return t.stream(ctx, desc, dest, progress)
}

// adoptExisting counts a file already complete on disk: a duplicate when its
// content hash was seen before, otherwise a skip. Either way the descriptor
// is marked persisted and the transfer succeeds without touching the network.
func (t *Transferrer) adoptExisting(desc *media.Descriptor, dest string, size int64) {
	hash, err := hashFile(dest)
	if err != nil {
		t.log.Warn("hash computation failed", "file", desc.Filename, "error", err)
		t.sess.AddSkipped()
	} else {
		desc.Hash = hash
		if t.sess.SeenOrAddHash(hash) {
			t.sess.AddDuplicate()
		} else {
			t.sess.AddSkipped()
		}
	}
	desc.Size = size
	desc.Downloaded = true
}

// stream performs the ranged GET and chunked write for one attempt.
func (t *Transferrer) stream(ctx context.Context, desc *media.Descriptor, dest string, progress ProgressFunc) error {
	var offset int64
	if fi, err := os.Stat(dest); err == nil {
		offset = fi.Size()
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return ErrCancelled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return err
	}
	board.SetRequestHeaders(req, t.cfg.General.UserAgent)
	// Media payloads come back verbatim; compression would break resume
	// offsets and size checks.
	req.Header.Set("Accept-Encoding", "identity")
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := t.http.Do(req)
	if err != nil {
		t.limiter.Failure()
		return board.Classify(desc.URL, 0, err)
	}
	defer resp.Body.Close()

	var file *os.File
	switch resp.StatusCode {
	case http.StatusPartialContent:
		file, err = os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	case http.StatusOK:
		// Server ignored the range request; start clean.
		offset = 0
		file, err = os.Create(dest)
	default:
		io.Copy(io.Discard, resp.Body)
		reqErr := board.Classify(desc.URL, resp.StatusCode, nil)
		if reqErr.Category == board.CategoryRateLimited {
			t.limiter.RateLimited(ctx)
		} else {
			t.limiter.Failure()
		}
		return reqErr
	}
	if err != nil {
		return fmt.Errorf("opening destination file: %w", err)
	}
	t.limiter.Success()

	desc.StartedAt = time.Now()
	total := desc.ExpectedSize
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	written, copyErr := t.copyChunks(ctx, file, resp.Body, offset, total, desc, progress)
	file.Close()
	if copyErr != nil {
		removeIfEmpty(dest)
		return copyErr
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		os.Remove(dest)
		return ErrEmptyDownload
	}

	desc.Size = fi.Size()
	desc.Downloaded = true
	if elapsed := time.Since(desc.StartedAt).Seconds(); elapsed > 0 {
		desc.SpeedMBps = float64(written) / (1024 * 1024) / elapsed
	}

	if hash, err := hashFile(dest); err != nil {
		t.log.Warn("hash computation failed", "file", desc.Filename, "error", err)
	} else {
		desc.Hash = hash
		t.sess.SeenOrAddHash(hash)
	}

	t.sess.AddDownloaded(written, desc.SpeedMBps)
	return nil
}

// copyChunks streams the body in fixed-size chunks, re-checking the pause
// and cancel flags between chunks. It returns the bytes written this call.
func (t *Transferrer) copyChunks(ctx context.Context, dst io.Writer, src io.Reader, offset, total int64, desc *media.Descriptor, progress ProgressFunc) (int64, error) {
	buf := make([]byte, t.cfg.General.ChunkSize)
	var written int64

	for {
		if err := t.ctl.checkpoint(ctx); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return written, fmt.Errorf("writing chunk: %w", writeErr)
			}
			written += int64(n)

			if elapsed := time.Since(desc.StartedAt).Seconds(); elapsed > 0 {
				desc.SpeedMBps = float64(written) / (1024 * 1024) / elapsed
			}
			if progress != nil && total > 0 {
				progress(float64(offset+written)/float64(total), desc.SpeedMBps)
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, board.Classify(desc.URL, 0, readErr)
		}
	}
}

// backoff sleeps 2^attempt units between retries, short-circuiting on
// cancellation.
func (t *Transferrer) backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(1<<uint(attempt)) * t.retryUnit)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-timer.C:
	}
	if t.ctl.isCancelled() {
		return ErrCancelled
	}
	return nil
}

// removeIfEmpty deletes the file at path only when it is zero bytes. Partial
// bytes stay on disk as a valid resume point.
func removeIfEmpty(path string) {
	if fi, err := os.Stat(path); err == nil && fi.Size() == 0 {
		os.Remove(path)
	}
}
