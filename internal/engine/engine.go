// Package engine orchestrates a media-fetching batch: sequential discovery
// across locators, a bounded worker pool for the transfers, and the event
// stream surfaced to the caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RazorBackRoar/4Charm/internal/board"
	"github.com/RazorBackRoar/4Charm/internal/config"
	"github.com/RazorBackRoar/4Charm/internal/media"
	"github.com/RazorBackRoar/4Charm/internal/rate"
	"github.com/RazorBackRoar/4Charm/internal/session"
)

// ErrBatchRunning is returned by StartBatch while a previous batch is still
// draining; batches on one engine are serialized.
var ErrBatchRunning = errors.New("a batch is already running")

// task pairs one descriptor with its resolved destination folder and the
// locator it came from.
type task struct {
	desc   *media.Descriptor
	folder string
	label  string
	index  int
}

// Engine is the long-lived orchestrator. The rate controller and the dedup
// hash set live for the engine's lifetime; queue state and counters are
// replaced per batch.
type Engine struct {
	cfg     *config.Config
	log     *slog.Logger
	limiter *rate.Controller
	client  *board.Client
	hashes  map[string]struct{}

	mu      sync.Mutex
	running bool
	ctl     *control
	sess    *session.Session
}

// New creates an Engine from the configuration.
func New(cfg *config.Config, log *slog.Logger) *Engine {
	limiter := rate.New(cfg.Limits.BaseDelay, cfg.Limits.MaxDelay, cfg.Limits.BackoffMultiplier)
	hashes := make(map[string]struct{})
	return &Engine{
		cfg:     cfg,
		log:     log,
		limiter: limiter,
		client:  board.NewClient(cfg, limiter),
		hashes:  hashes,
		ctl:     &control{},
		sess:    session.New(hashes),
	}
}

// Parse turns a raw URL string into a locator, or nil when it is not a valid
// URL on the configured root domain.
func (e *Engine) Parse(raw string) *board.Locator {
	return board.ParseLocator(raw, e.cfg.Remote.RootDomain)
}

// StartBatch begins downloading everything the given URLs point at, storing
// files under root. It returns immediately with the batch's event stream;
// the stream ends with a DoneEvent and a channel close. Only one batch runs
// at a time per engine.
func (e *Engine) StartBatch(ctx context.Context, rawURLs []string, root string) (<-chan Event, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrBatchRunning
	}
	e.running = true
	e.ctl = &control{}
	e.sess = session.New(e.hashes)
	e.mu.Unlock()

	events := make(chan Event, 256)
	go e.run(ctx, rawURLs, root, events)
	return events, nil
}

// Pause suspends all workers of the running batch at their next poll point.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.ctl.pause()
	e.mu.Unlock()
}

// Resume lifts a pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.ctl.resume()
	e.mu.Unlock()
}

// Cancel stops the running batch: no new transfers start, in-flight ones
// observe the flag at their next poll point.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.ctl.cancel()
	e.mu.Unlock()
}

// Stats returns a consistent snapshot of the current batch's counters.
func (e *Engine) Stats() session.Stats {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	return sess.Snapshot()
}

// Active returns the number of transfers currently in flight.
func (e *Engine) Active() int {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	return sess.Active()
}

func (e *Engine) run(ctx context.Context, rawURLs []string, root string, events chan<- Event) {
	defer close(events)
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	start := time.Now()
	sess := e.sess
	ctl := e.ctl

	var locators []*board.Locator
	for _, raw := range rawURLs {
		loc := e.Parse(raw)
		if loc == nil {
			events <- LogEvent{Level: "warn", Message: fmt.Sprintf("skipping unparseable URL %q", raw)}
			continue
		}
		locators = append(locators, loc)
	}

	// Discovery is sequential on purpose: one listing request at a time is
	// the courtesy the API expects, and it keeps folder resolution ordered.
	var tasks []task
	for i, loc := range locators {
		if ctl.isCancelled() || ctx.Err() != nil {
			break
		}
		found := e.discover(ctx, loc, i+1, events)
		tasks = append(tasks, found...)
		events <- DiscoveryEvent{Index: i + 1, Total: len(locators), Label: loc.Label(), Files: len(found)}
	}

	// Duplicate URLs across locators (the same thread given twice, or a
	// catalog overlapping an explicit thread) collapse to one task here.
	// The session's queue is the dedup key; only tasks it accepts are
	// submitted, so no two workers ever share a destination path.
	submit := make([]task, 0, len(tasks))
	for _, tk := range tasks {
		if sess.Enqueue(tk.desc.URL) {
			submit = append(submit, tk)
		}
	}
	tasks = submit

	if len(tasks) == 0 {
		events <- DoneEvent{Stats: sess.Snapshot(), Elapsed: time.Since(start), Cancelled: ctl.isCancelled()}
		return
	}

	tr := newTransferrer(e.cfg, sess, e.limiter, ctl, e.log, root)
	total := len(tasks)

	workers := e.cfg.General.Workers
	if n := runtime.NumCPU(); workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	var completed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(workers)

	for _, tk := range tasks {
		tk := tk
		g.Go(func() error {
			if ctl.isCancelled() {
				sess.Fail(tk.desc.URL, ErrCancelled)
				sess.AddFailed()
				return nil
			}

			sess.Begin(tk.desc.URL)
			ok := tr.Transfer(ctx, tk.desc, tk.folder, nil)

			done := int(completed.Add(1))
			snap := sess.Snapshot()
			var avg float64
			if elapsed := time.Since(start).Seconds(); elapsed > 0 {
				avg = float64(snap.TotalBytes) / (1024 * 1024) / elapsed
			}
			events <- ProgressEvent{
				Completed:    done,
				Total:        total,
				Filename:     tk.desc.Filename,
				Succeeded:    ok,
				AvgSpeedMBps: avg,
				Label:        tk.label,
				Index:        tk.index,
			}
			return nil
		})
	}
	g.Wait()

	if ctl.isCancelled() {
		events <- LogEvent{Level: "warn", Message: "batch cancelled"}
	}
	events <- DoneEvent{Stats: sess.Snapshot(), Elapsed: time.Since(start), Cancelled: ctl.isCancelled()}
}

// discover fetches one locator's media descriptors. Discovery failures are
// logged and yield an empty result; they never abort the batch.
func (e *Engine) discover(ctx context.Context, loc *board.Locator, index int, events chan<- Event) []task {
	folder := func(title string) string {
		return media.FolderName(loc, title, e.cfg.Output.MaxFolderNameLength)
	}

	switch loc.Kind {
	case board.KindThread:
		thread, err := e.client.FetchThread(ctx, loc.Board, loc.ThreadID)
		if err != nil {
			events <- LogEvent{Level: "error", Message: fmt.Sprintf("discovery failed for %s: %v", loc.Label(), err)}
			return nil
		}
		return e.wrap(media.FromPosts(e.cfg, thread.Posts, loc.Board, loc.ThreadID), folder(thread.Title), loc, index)

	default:
		// Catalog and whole-board runs walk the catalog's threads, capped
		// and spaced out to keep the listing burst polite.
		pages, err := e.client.FetchCatalog(ctx, loc.Board)
		if err != nil {
			events <- LogEvent{Level: "error", Message: fmt.Sprintf("discovery failed for %s: %v", loc.Label(), err)}
			return nil
		}

		var ids []string
		for _, page := range pages {
			for _, th := range page.Threads {
				ids = append(ids, strconv.FormatInt(th.No, 10))
			}
		}
		if len(ids) > e.cfg.Limits.CatalogThreads {
			ids = ids[:e.cfg.Limits.CatalogThreads]
		}

		var out []task
		for i, id := range ids {
			if e.ctl.isCancelled() || ctx.Err() != nil {
				break
			}
			if i > 0 {
				if err := sleepCtx(ctx, e.cfg.Limits.CatalogDelay); err != nil {
					break
				}
			}
			thread, err := e.client.FetchThread(ctx, loc.Board, id)
			if err != nil {
				events <- LogEvent{Level: "error", Message: fmt.Sprintf("discovery failed for /%s/%s: %v", loc.Board, id, err)}
				continue
			}
			out = append(out, e.wrap(media.FromPosts(e.cfg, thread.Posts, loc.Board, id), folder(""), loc, index)...)
		}
		return out
	}
}

func (e *Engine) wrap(descs []*media.Descriptor, folder string, loc *board.Locator, index int) []task {
	out := make([]task, 0, len(descs))
	for _, d := range descs {
		out = append(out, task{desc: d, folder: folder, label: loc.Label(), index: index})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
