package downloads

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JustinTDCT/VideoJockey/internal/catalog"
	"github.com/JustinTDCT/VideoJockey/internal/fetcher"
	"github.com/JustinTDCT/VideoJockey/internal/ffmpeg"
	"github.com/JustinTDCT/VideoJockey/internal/metrics"
	"github.com/JustinTDCT/VideoJockey/internal/queue"
)

const (
	DefaultMaxConcurrent   = 2
	DefaultPollInterval    = 5 * time.Second
	DefaultBackoffInterval = 30 * time.Second

	probeTimeout = time.Minute
)

// Events sent to the notifier.
const (
	EventQueueUpdated     = "queue:updated"
	EventDownloadProgress = "download:progress"
)

type Store interface {
	ListPending(ctx context.Context, includeFailed bool) ([]queue.Request, error)
	ListActive(ctx context.Context) ([]queue.Request, error)
	Get(ctx context.Context, id string) (*queue.Request, error)
	Update(ctx context.Context, req *queue.Request) error
	ClaimForDownload(ctx context.Context, id string, startedAt time.Time) (bool, error)
	UpdateProgress(ctx context.Context, id string, percent float64, speed, eta string) error
	SoftDelete(ctx context.Context, id string) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	RetryFailed(ctx context.Context, id string) (bool, error)
	ResetToQueued(ctx context.Context, id string) (bool, error)
	RequeueInterrupted(ctx context.Context, id string) (bool, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url, outputDir string, onProgress func(fetcher.Progress)) fetcher.Result
	FetchMetadata(ctx context.Context, url string) (*fetcher.Metadata, error)
}

type Catalog interface {
	Upsert(ctx context.Context, v *catalog.Video) (*catalog.Video, bool, error)
}

// PostProcessor is told about every video that reached the catalog.
type PostProcessor interface {
	VideoCompleted(ctx context.Context, v *catalog.Video) error
}

// Prober reads codec and dimensions from a finished file.
type Prober interface {
	Probe(ctx context.Context, filePath string) (*ffmpeg.ProbeResult, error)
}

type EventNotifier interface {
	Broadcast(event string, data interface{})
}

type Config struct {
	MaxConcurrent   int
	PollInterval    time.Duration
	BackoffInterval time.Duration
	// DownloadDir is used for requests that do not name an output path.
	DownloadDir string
}

type Deps struct {
	Store    Store
	Fetcher  Fetcher
	Catalog  Catalog
	Post     PostProcessor
	Prober   Prober
	Notifier EventNotifier
	Metrics  *metrics.Metrics
}

// Coordinator runs the download queue: a polling loop that hands queued
// requests to at most MaxConcurrent workers.
type Coordinator struct {
	cfg      Config
	store    Store
	fetcher  Fetcher
	catalog  Catalog
	post     PostProcessor
	prober   Prober
	notifier EventNotifier
	metrics  *metrics.Metrics
	now      func() time.Time

	slots chan struct{}

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	cancel   context.CancelFunc
	done     chan struct{}
	workers  sync.WaitGroup
}

func New(cfg Config, deps Deps) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BackoffInterval <= 0 {
		cfg.BackoffInterval = DefaultBackoffInterval
	}
	return &Coordinator{
		cfg:      cfg,
		store:    deps.Store,
		fetcher:  deps.Fetcher,
		catalog:  deps.Catalog,
		post:     deps.Post,
		prober:   deps.Prober,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		inFlight: make(map[string]context.CancelFunc),
	}
}

// Start recovers requests left downloading by a previous run and launches
// the polling loop. It returns immediately.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	if n, err := c.RecoverStale(ctx); err != nil {
		log.Printf("[downloads] stale recovery failed: %v", err)
	} else if n > 0 {
		log.Printf("[downloads] re-queued %d interrupted downloads", n)
	}

	go c.run(ctx)
	log.Printf("[downloads] coordinator started (%d slots, %s poll)", c.cfg.MaxConcurrent, c.cfg.PollInterval)
}

// Stop ends the loop, interrupts running downloads and waits for their
// workers to put the requests back in the queue.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.workers.Wait()
	log.Println("[downloads] coordinator stopped")
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := c.cfg.PollInterval
		if err := c.tick(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[downloads] scheduling failed, backing off %s: %v", c.cfg.BackoffInterval, err)
			c.metrics.LoopFault()
			wait = c.cfg.BackoffInterval
		}
		timer.Reset(wait)
	}
}

// tick runs one scheduling pass. Panics are turned into errors so the loop
// backs off instead of dying.
func (c *Coordinator) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	pending, err := c.store.ListPending(ctx, true)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for _, req := range pending {
		if ctx.Err() != nil {
			return nil
		}
		if req.Status == queue.StatusFailed {
			if !req.HasRetryBudget() {
				continue
			}
			ok, err := c.store.RetryFailed(ctx, req.ID)
			if err != nil {
				return fmt.Errorf("requeue %s: %w", req.ID, err)
			}
			if !ok {
				continue
			}
			req.Status = queue.StatusQueued
		}
		if req.Status != queue.StatusQueued || c.isInFlight(req.ID) {
			continue
		}

		select {
		case c.slots <- struct{}{}:
		default:
			// Every slot is busy; the remaining requests wait for a later pass.
			return nil
		}
		c.dispatch(ctx, req)
	}
	return nil
}

func (c *Coordinator) dispatch(parent context.Context, req queue.Request) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.inFlight[req.ID] = cancel
	c.mu.Unlock()

	c.workers.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[downloads] worker for %s panicked: %v\n%s", req.ID, r, debug.Stack())
				c.settleAfterPanic(req.ID)
			}
			c.mu.Lock()
			delete(c.inFlight, req.ID)
			c.mu.Unlock()
			cancel()
			<-c.slots
			c.workers.Done()
		}()
		c.process(ctx, req.ID)
	}()
}

// process is one attempt at one request. It runs while holding a slot.
func (c *Coordinator) process(ctx context.Context, id string) {
	claimed, err := c.store.ClaimForDownload(ctx, id, c.now())
	if err != nil {
		log.Printf("[downloads] claim %s: %v", id, err)
		return
	}
	if !claimed {
		// Cancelled, removed or taken since it was listed.
		return
	}

	// Writes after this point must land even when ctx is cancelled.
	store := context.WithoutCancel(ctx)

	req, err := c.store.Get(store, id)
	if err != nil {
		log.Printf("[downloads] reload %s: %v", id, err)
		c.store.RequeueInterrupted(store, id)
		return
	}
	c.metrics.DownloadStarted()
	c.notify(EventQueueUpdated, req)
	log.Printf("[downloads] starting %s (%s), attempt %d", req.ID, req.URL, req.RetryCount+1)

	outputDir := req.OutputPath
	if outputDir == "" {
		outputDir = c.cfg.DownloadDir
	}

	var last float64
	res := c.fetcher.Fetch(ctx, req.URL, outputDir, func(p fetcher.Progress) {
		if p.Percent < last {
			p.Percent = last
		}
		last = p.Percent
		if err := c.store.UpdateProgress(store, id, p.Percent, p.Speed, p.ETA); err != nil {
			log.Printf("[downloads] progress %s: %v", id, err)
		}
		c.notify(EventDownloadProgress, map[string]interface{}{
			"id": id, "status": p.Status, "percent": p.Percent, "speed": p.Speed, "eta": p.ETA,
		})
	})

	switch {
	case res.Cancelled || ctx.Err() != nil:
		// Partial files are left for yt-dlp to resume on the next attempt.
		if _, err := c.store.RequeueInterrupted(store, id); err != nil {
			log.Printf("[downloads] requeue %s: %v", id, err)
		}
		c.metrics.DownloadFinished("cancelled")
		log.Printf("[downloads] %s interrupted, back in queue", id)
		c.notifyByID(store, id)
		return
	case res.Success:
		video, err := c.complete(store, req, res)
		if err == nil {
			c.metrics.DownloadFinished("completed")
			log.Printf("[downloads] %s completed: %s", id, res.FilePath)
			c.postProcess(store, video)
			return
		}
		log.Printf("[downloads] %s: catalog update failed: %v", id, err)
		res.ErrorMessage = "catalog update failed: " + err.Error()
	}
	c.fail(store, id, res.ErrorMessage)
}

// complete records a successful fetch in the catalog and marks the request
// completed.
func (c *Coordinator) complete(ctx context.Context, req *queue.Request, res fetcher.Result) (*catalog.Video, error) {
	meta, err := c.fetcher.FetchMetadata(ctx, req.URL)
	if err != nil {
		log.Printf("[downloads] metadata for %s unavailable, using download facts: %v", req.ID, err)
		meta = nil
	}
	entry := videoFor(req, res, meta)
	c.probe(ctx, entry)
	video, _, err := c.catalog.Upsert(ctx, entry)
	if err != nil {
		return nil, err
	}

	now := c.now()
	req.Status = queue.StatusCompleted
	req.CompletedAt = &now
	req.FilePath = res.FilePath
	req.ProgressPercent = 100
	req.ErrorMessage = ""
	req.DownloadSpeed, req.ETA = "", ""
	req.VideoID = &video.ID
	if err := c.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	c.notify(EventQueueUpdated, req)
	return video, nil
}

// fail applies the retry rule: while retry budget remains the request goes
// back to queued with one more retry counted, otherwise it fails for good.
func (c *Coordinator) fail(ctx context.Context, id, msg string) {
	req, err := c.store.Get(ctx, id)
	if err != nil {
		log.Printf("[downloads] reload %s after failure: %v", id, err)
		return
	}
	if msg == "" {
		msg = "download failed"
	}
	req.ErrorMessage = msg
	req.DownloadSpeed, req.ETA = "", ""

	result := "failed"
	if req.HasRetryBudget() {
		result = "retry"
		req.RetryCount++
		req.Status = queue.StatusQueued
		req.StartedAt = nil
		req.CompletedAt = nil
		req.ProgressPercent = 0
		log.Printf("[downloads] %s failed (retry %d/%d): %s", id, req.RetryCount, req.MaxRetries, msg)
	} else {
		now := c.now()
		req.Status = queue.StatusFailed
		req.CompletedAt = &now
		log.Printf("[downloads] %s failed permanently after %d attempts: %s", id, req.RetryCount+1, msg)
	}
	if err := c.store.Update(ctx, req); err != nil {
		log.Printf("[downloads] record failure of %s: %v", id, err)
	}
	c.metrics.DownloadFinished(result)
	c.notify(EventQueueUpdated, req)
}

// probe replaces the pre-download stream facts with those of the merged
// file. Failure leaves them as they were.
func (c *Coordinator) probe(ctx context.Context, v *catalog.Video) {
	if c.prober == nil || v.FilePath == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	r, err := c.prober.Probe(ctx, v.FilePath)
	if err != nil {
		log.Printf("[downloads] probe %s: %v", v.FilePath, err)
		return
	}
	if w, h := r.Dimensions(); w > 0 && h > 0 {
		v.Width, v.Height = w, h
	}
	if codec := r.VideoCodec(); codec != "" {
		v.VideoCodec = codec
	}
	if codec := r.AudioCodec(); codec != "" {
		v.AudioCodec = codec
	}
	if d := r.DurationSeconds(); d > 0 {
		v.DurationSeconds = d
	}
}

// settleAfterPanic counts a crashed attempt as a failed one.
func (c *Coordinator) settleAfterPanic(id string) {
	req, err := c.store.Get(context.Background(), id)
	if err != nil || req.Status != queue.StatusDownloading {
		return
	}
	c.fail(context.Background(), id, "internal error during download")
}

func (c *Coordinator) postProcess(ctx context.Context, v *catalog.Video) {
	if c.post == nil {
		return
	}
	if err := c.post.VideoCompleted(ctx, v); err != nil {
		log.Printf("[downloads] post-processing %s: %v", v.ID, err)
	}
}

// videoFor builds the catalog entry for a finished download. Metadata is
// optional.
func videoFor(req *queue.Request, res fetcher.Result, meta *fetcher.Metadata) *catalog.Video {
	v := &catalog.Video{
		ProviderID: res.ProviderID,
		SourceURL:  req.URL,
		FilePath:   res.FilePath,
		Format:     strings.TrimPrefix(filepath.Ext(res.FilePath), "."),
	}
	if fi, err := os.Stat(res.FilePath); err == nil {
		v.FileSize = fi.Size()
	}
	if meta != nil {
		if meta.ID != "" {
			v.ProviderID = meta.ID
		}
		v.Provider = meta.Extractor
		v.Title = meta.TitleGuess()
		v.Artist = meta.ArtistGuess()
		v.Album = meta.Album
		v.Year = meta.Year
		v.Description = meta.Description
		v.ThumbnailURL = meta.Thumbnail
		v.DurationSeconds = int(meta.Duration + 0.5)
		v.Width = meta.Width
		v.Height = meta.Height
		v.VideoCodec = meta.VideoCodec
		v.AudioCodec = meta.AudioCodec
		if meta.WebpageURL != "" {
			v.SourceURL = meta.WebpageURL
		}
	}
	if v.Provider == "" && fetcher.VideoIDFromURL(req.URL) != "" {
		v.Provider = "youtube"
	}
	if v.Title == "" {
		v.Title = strings.TrimSpace(req.Title)
	}
	if v.Title == "" {
		v.Title = strings.TrimSuffix(filepath.Base(res.FilePath), filepath.Ext(res.FilePath))
	}
	return v
}

// Retry re-queues a failed request that still has retry budget. It reports
// false for unknown ids and requests in any other state.
func (c *Coordinator) Retry(ctx context.Context, id string) (bool, error) {
	return c.userAction(ctx, id, c.store.RetryFailed)
}

// Reset is the manual override: a failed or cancelled request goes back to
// queued with a fresh retry budget.
func (c *Coordinator) Reset(ctx context.Context, id string) (bool, error) {
	return c.userAction(ctx, id, c.store.ResetToQueued)
}

// Cancel withdraws a queued request.
func (c *Coordinator) Cancel(ctx context.Context, id string) (bool, error) {
	return c.userAction(ctx, id, c.store.Cancel)
}

// Remove soft-deletes a request. Downloading requests are refused.
func (c *Coordinator) Remove(ctx context.Context, id string) (bool, error) {
	return c.userAction(ctx, id, c.store.SoftDelete)
}

func (c *Coordinator) userAction(ctx context.Context, id string, op func(context.Context, string) (bool, error)) (bool, error) {
	ok, err := op(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	c.notifyByID(ctx, id)
	return true, nil
}

// RecoverStale puts requests that are marked downloading but have no worker
// back in the queue without spending a retry.
func (c *Coordinator) RecoverStale(ctx context.Context) (int, error) {
	active, err := c.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, req := range active {
		if c.isInFlight(req.ID) {
			continue
		}
		ok, err := c.store.RequeueInterrupted(ctx, req.ID)
		if err != nil {
			return n, fmt.Errorf("requeue %s: %w", req.ID, err)
		}
		if ok {
			n++
			c.notifyByID(ctx, req.ID)
		}
	}
	return n, nil
}

// InFlight returns the ids currently held by workers, sorted.
func (c *Coordinator) InFlight() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.inFlight))
	for id := range c.inFlight {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) isInFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[id]
	return ok
}

func (c *Coordinator) notify(event string, data interface{}) {
	if c.notifier != nil {
		c.notifier.Broadcast(event, data)
	}
}

func (c *Coordinator) notifyByID(ctx context.Context, id string) {
	if c.notifier == nil {
		return
	}
	req, err := c.store.Get(ctx, id)
	if err != nil {
		return
	}
	c.notify(EventQueueUpdated, req)
}
