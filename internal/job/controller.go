// Package job runs scrape jobs through their lifecycle: validate the
// target, detect structure, crawl pagination, normalize, persist. Jobs run
// asynchronously; callers poll status through the store.
package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/scrapeease/scrapeease/internal/analyze"
	"github.com/scrapeease/scrapeease/internal/crawl"
	"github.com/scrapeease/scrapeease/internal/extract"
	"github.com/scrapeease/scrapeease/internal/fetcher"
	"github.com/scrapeease/scrapeease/internal/model"
	"github.com/scrapeease/scrapeease/internal/normalize"
	"github.com/scrapeease/scrapeease/internal/store"
)

var (
	// ErrNotReady reports that a job has not reached a terminal state yet.
	ErrNotReady = eris.New("job: result not ready")
	// ErrTerminal reports an operation on a job that already finished.
	ErrTerminal = eris.New("job: already in a terminal state")
	// ErrNoViableStrategy reports that analysis produced no candidates.
	ErrNoViableStrategy = eris.New("job: no viable extraction strategy")
	// ErrInvalidOverride reports a caller-supplied strategy that matches
	// nothing on the page.
	ErrInvalidOverride = eris.New("job: strategy override matches no elements")
)

// SubmitRequest is a scrape submission.
type SubmitRequest struct {
	URL      string
	MaxPages int
	Override *model.Strategy // caller-forced strategy, skips ranking
}

// ResultSink receives completed datasets, for export collaborators. Sink
// errors do not fail the job; they surface as warnings.
type ResultSink func(ctx context.Context, job model.ScrapeJob) error

// Options tunes the controller.
type Options struct {
	MaxPages             int // default page cap per job; 0 means 50
	MaxRows              int // normalization row cap; 0 means 10000
	MaxConcurrentFetches int // global cap on jobs fetching at once; 0 means 10
}

// Controller owns job execution. Safe for concurrent use.
type Controller struct {
	store   store.Store
	client  *fetcher.Client
	crawler *crawl.Crawler
	opts    Options
	sem     *semaphore.Weighted
	sink    ResultSink

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Controller. sink may be nil.
func New(st store.Store, client *fetcher.Client, crawler *crawl.Crawler, opts Options, sink ResultSink) *Controller {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 10000
	}
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = 10
	}
	return &Controller{
		store:   st,
		client:  client,
		crawler: crawler,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrentFetches)),
		sink:    sink,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Detect fetches a page and returns extraction strategy candidates, ranked
// best first. Used by the synchronous detection endpoint.
func (c *Controller) Detect(ctx context.Context, rawURL string) ([]model.Strategy, error) {
	if err := c.client.CheckRobots(ctx, rawURL); err != nil {
		return nil, err
	}
	doc, err := c.client.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return analyze.Analyze(doc), nil
}

// Submit validates the URL shape, records a pending job, and starts it in
// the background. The returned id is usable immediately for status polls.
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if _, err := fetcher.ValidateURL(req.URL); err != nil {
		return "", err
	}
	if req.Override != nil {
		if !req.Override.Kind.Valid() || req.Override.Selector == "" {
			return "", ErrInvalidOverride
		}
	}
	maxPages := req.MaxPages
	if maxPages <= 0 || maxPages > c.opts.MaxPages {
		maxPages = c.opts.MaxPages
	}

	now := time.Now().UTC()
	job := model.ScrapeJob{
		ID:        uuid.NewString(),
		URL:       req.URL,
		MaxPages:  maxPages,
		State:     model.JobStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return "", err
	}

	// Jobs outlive the submitting request.
	jobCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancels[job.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.unregister(job.ID)
		c.run(jobCtx, job.ID, req.URL, maxPages, req.Override)
	}()

	zap.L().Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("url", req.URL),
		zap.Int("max_pages", maxPages),
	)
	return job.ID, nil
}

// Status returns the job's current snapshot.
func (c *Controller) Status(ctx context.Context, jobID string) (model.ScrapeJob, error) {
	return c.store.GetJob(ctx, jobID)
}

// List returns stored jobs matching the filter, newest first.
func (c *Controller) List(ctx context.Context, filter store.JobFilter) ([]model.ScrapeJob, error) {
	return c.store.ListJobs(ctx, filter)
}

// Result returns the job once it reaches a terminal state. Failed jobs are
// returned with their stored reason; in-flight jobs return ErrNotReady.
func (c *Controller) Result(ctx context.Context, jobID string) (model.ScrapeJob, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return model.ScrapeJob{}, err
	}
	if !job.State.Terminal() {
		return model.ScrapeJob{}, ErrNotReady
	}
	return job, nil
}

// Cancel stops a running job. The job transitions to failed with reason
// cancelled. Cancelling a terminal job returns ErrTerminal.
func (c *Controller) Cancel(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return ErrTerminal
	}
	c.mu.Lock()
	cancel, ok := c.cancels[jobID]
	c.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	// No goroutine registered (e.g. process restarted mid-job): mark directly.
	return c.store.SetFailure(ctx, jobID, model.FailCancelled, "cancelled")
}

// Delete cancels a job if running and removes it from the store.
func (c *Controller) Delete(ctx context.Context, jobID string) error {
	c.mu.Lock()
	if cancel, ok := c.cancels[jobID]; ok {
		cancel()
	}
	c.mu.Unlock()
	return c.store.DeleteJob(ctx, jobID)
}

// Close cancels all running jobs and waits for their goroutines to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) unregister(jobID string) {
	c.mu.Lock()
	if cancel, ok := c.cancels[jobID]; ok {
		cancel()
		delete(c.cancels, jobID)
	}
	c.mu.Unlock()
}

// run drives one job through its states. Persisted state is the source of
// truth; every exit path leaves the job terminal.
func (c *Controller) run(ctx context.Context, jobID, rawURL string, maxPages int, override *model.Strategy) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.fail(jobID, model.FailCancelled, err)
		return
	}
	defer c.sem.Release(1)

	// Validating: policy check before any page fetch.
	if err := c.advance(jobID, model.JobStateValidating); err != nil {
		return
	}
	if err := c.client.CheckRobots(ctx, rawURL); err != nil {
		c.fail(jobID, classifyFailure(err), err)
		return
	}

	// DetectingStructure: fetch the first page, rank candidates, select.
	if err := c.advance(jobID, model.JobStateDetectingStructure); err != nil {
		return
	}
	doc, err := c.client.Fetch(ctx, rawURL)
	if err != nil {
		c.fail(jobID, classifyFailure(err), err)
		return
	}
	candidates := analyze.Analyze(doc)
	strat, err := selectStrategy(doc, candidates, override)
	if err != nil {
		switch {
		case eris.Is(err, ErrInvalidOverride):
			c.fail(jobID, model.FailInvalidOverride, err)
		case eris.Is(err, ErrNoViableStrategy):
			c.fail(jobID, model.FailNoStructure, err)
		default:
			c.fail(jobID, model.FailInternal, err)
		}
		return
	}
	if err := c.store.SetStrategy(context.Background(), jobID, strat); err != nil {
		zap.L().Error("persist strategy", zap.String("job_id", jobID), zap.Error(err))
	}

	// Crawling: consume the iterator, honoring cancellation between pages.
	if err := c.advance(jobID, model.JobStateCrawling); err != nil {
		return
	}
	iter := c.crawler.Start(doc, strat, maxPages)
	var pages []normalize.PageRows
	var warnings []string
	skippedTotal := 0
	for {
		page, err := iter.Next(ctx)
		if err != nil {
			if len(pages) == 0 {
				c.fail(jobID, classifyFailure(err), err)
				return
			}
			if eris.Is(err, context.Canceled) {
				c.fail(jobID, model.FailCancelled, err)
				return
			}
			// Partial success: keep what we have and move on.
			warnings = append(warnings, "crawl stopped early: "+err.Error())
			break
		}
		if page == nil {
			break
		}
		pages = append(pages, normalize.PageRows{Index: page.Index, Rows: page.Rows})
		skippedTotal += page.Skipped
	}
	warnings = append(warnings, iter.Warnings()...)
	if skippedTotal > 0 {
		warnings = append(warnings, eris.Errorf("%d malformed elements skipped during extraction", skippedTotal).Error())
	}

	// Normalizing.
	if err := c.advance(jobID, model.JobStateNormalizing); err != nil {
		return
	}
	dataset := normalize.Dataset(rawURL, strat, pages, normalize.Options{MaxRows: c.opts.MaxRows})

	if c.sink != nil {
		snapshot := model.ScrapeJob{ID: jobID, URL: rawURL, Strategy: &strat, Dataset: dataset}
		if err := c.sink(ctx, snapshot); err != nil {
			warnings = append(warnings, "export failed: "+err.Error())
		}
	}

	if err := c.store.SetResult(context.Background(), jobID, dataset, warnings); err != nil {
		zap.L().Error("persist result", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	zap.L().Info("job completed",
		zap.String("job_id", jobID),
		zap.Int("pages", len(pages)),
		zap.Int("records", dataset.TotalRecords),
	)
}

// advance moves the job forward one state. A store error here means the job
// was deleted or the store is down; the job goroutine stops quietly.
func (c *Controller) advance(jobID string, state model.JobState) error {
	err := c.store.UpdateState(context.Background(), jobID, state)
	if err != nil {
		zap.L().Warn("state update failed",
			zap.String("job_id", jobID),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
	return err
}

func (c *Controller) fail(jobID string, reason model.FailReason, err error) {
	zap.L().Warn("job failed",
		zap.String("job_id", jobID),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	// Background context: failure must be recorded even when the job's own
	// context was cancelled.
	if serr := c.store.SetFailure(context.Background(), jobID, reason, err.Error()); serr != nil {
		zap.L().Error("persist failure", zap.String("job_id", jobID), zap.Error(serr))
	}
}

// selectStrategy picks the strategy to run: the caller's override when
// present and valid against the live document, otherwise the top-ranked
// candidate.
func selectStrategy(doc *fetcher.Document, candidates []model.Strategy, override *model.Strategy) (model.Strategy, error) {
	if override == nil {
		if len(candidates) == 0 {
			return model.Strategy{}, ErrNoViableStrategy
		}
		return candidates[0], nil
	}

	if override.Kind == model.KindCustomSelector {
		matches := doc.Find(override.Selector).Length()
		if matches == 0 {
			return model.Strategy{}, ErrInvalidOverride
		}
		strat := *override
		strat.Confidence = 1.0
		strat.EstimatedRows = matches
		return strat, nil
	}

	// Detected-kind override: must correspond to a structure the analyzer
	// actually found, so estimates and field plans stay trustworthy.
	for _, cand := range candidates {
		if cand.Equal(*override) {
			return cand, nil
		}
	}
	return model.Strategy{}, ErrInvalidOverride
}

// classifyFailure maps an error to the reason tag stored on the job.
func classifyFailure(err error) model.FailReason {
	var (
		vErr *fetcher.ValidationError
		pErr *fetcher.PolicyError
		fErr *fetcher.FetchError
	)
	switch {
	case eris.Is(err, context.Canceled) || eris.Is(err, context.DeadlineExceeded):
		return model.FailCancelled
	case errors.As(err, &vErr):
		return model.FailValidation
	case errors.As(err, &pErr):
		return model.FailPolicy
	case errors.As(err, &fErr):
		return model.FailFetch
	case eris.Is(err, extract.ErrNoMatch):
		return model.FailNoViableStrategy
	case eris.Is(err, crawl.ErrBudgetExceeded):
		return model.FailCrawl
	default:
		return model.FailInternal
	}
}
