// Package crawl implements the level-ordered crawl over the platform's
// Topic/Module/Challenge tree. A pool of workers, each owning its own
// browser session, expands the frontier one level at a time so a parent is
// always recorded before any of its children.
package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pwnlabs/gymscout/internal/browser"
	"github.com/pwnlabs/gymscout/internal/extract"
	"github.com/pwnlabs/gymscout/internal/progress"
	"github.com/pwnlabs/gymscout/internal/sitegraph"
	"github.com/pwnlabs/gymscout/internal/storage"
)

// Tree levels, in crawl order.
const (
	LevelRoot      = "root"
	LevelTopic     = "topic"
	LevelModule    = "module"
	LevelChallenge = "challenge"
)

// FailureRecord describes one node that exhausted its retries. The rest of
// the run is unaffected.
type FailureRecord struct {
	URL      string `json:"url"`
	Level    string `json:"level"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

// Result summarizes a finished crawl.
type Result struct {
	RunID    uuid.UUID        `json:"run_id"`
	Counts   sitegraph.Counts `json:"counts"`
	Failures []FailureRecord  `json:"failures,omitempty"`
	Elapsed  time.Duration    `json:"elapsed"`
}

// Config tunes the engine.
type Config struct {
	// MaxWorkers bounds concurrent browser sessions (default 4).
	MaxWorkers int
}

// Engine runs the crawl. Construct with NewEngine.
type Engine struct {
	cfg       Config
	factory   browser.Factory
	store     storage.BlobStore
	extractor extract.Extractor
	retry     *RetryPolicy
	emitter   progress.Emitter
	logger    *zap.Logger
}

// NewEngine wires the engine. Store, emitter, retry, and logger may be nil;
// sensible defaults are substituted.
func NewEngine(
	cfg Config,
	factory browser.Factory,
	store storage.BlobStore,
	extractor extract.Extractor,
	retry *RetryPolicy,
	emitter progress.Emitter,
	logger *zap.Logger,
) (*Engine, error) {
	if factory == nil {
		return nil, errors.New("browser factory is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if store == nil {
		store = storage.NoopStore{}
	}
	if retry == nil {
		retry = NewRetryPolicy(0, 0, 0)
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		factory:   factory,
		store:     store,
		extractor: extractor,
		retry:     retry,
		emitter:   emitter,
		logger:    logger,
	}, nil
}

// errExtractionStage tags failures that happen after the capture artifacts
// were stored. The leaf keeps its Captured status so the artifacts can be
// re-extracted on a later run.
var errExtractionStage = errors.New("extraction stage")

type task struct {
	level  string
	nodeID string
	url    string
}

type taskResult struct {
	task     task
	links    []browser.Link
	attempts int
	err      error
}

// Run crawls the tree rooted at g.RootURL, filling g in place. Sessions are
// opened up front so a bad credential fails the run before any page is
// touched. Re-running over a warm graph is a no-op for already-recorded
// URLs; only unseen children are added.
func (e *Engine) Run(ctx context.Context, runID uuid.UUID, g *sitegraph.Graph) (Result, error) {
	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart})

	sessions, err := e.openSessions(runCtx)
	if err != nil {
		e.emit(progress.Event{RunID: runID, Stage: progress.StageRunError, Note: err.Error()})
		return Result{}, err
	}
	defer func() {
		for _, s := range sessions {
			if closeErr := s.Close(context.Background()); closeErr != nil {
				e.logger.Warn("closing browser session", zap.Error(closeErr))
			}
		}
	}()

	tasks := make(chan task)
	results := make(chan taskResult)
	var wg sync.WaitGroup
	for i, session := range sessions {
		wg.Add(1)
		go func(idx int, drv browser.Driver) {
			defer wg.Done()
			e.worker(runCtx, runID, drv, g, tasks, results)
		}(i, session)
	}

	result := Result{RunID: runID}
	frontier := seedFrontier(g)
	var fatal error
	for len(frontier) > 0 && fatal == nil {
		levelResults, levelErr := e.dispatch(runCtx, tasks, results, frontier)
		if levelErr != nil {
			fatal = levelErr
			break
		}
		frontier = e.absorb(g, levelResults, &result)
	}

	cancel()
	close(tasks)
	wg.Wait()

	result.Counts = g.Stats()
	result.Elapsed = time.Since(start)
	if fatal != nil {
		e.emit(progress.Event{RunID: runID, Stage: progress.StageRunError, Dur: result.Elapsed, Note: fatal.Error()})
		return result, fatal
	}
	e.emit(progress.Event{RunID: runID, Stage: progress.StageRunDone, Dur: result.Elapsed})
	e.logger.Info("crawl finished",
		zap.Int("topics", result.Counts.Topics),
		zap.Int("modules", result.Counts.Modules),
		zap.Int("challenges", result.Counts.Challenges),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// seedFrontier builds the initial task list. On a fresh graph this is just
// the root; on a warm graph every recorded branch is re-expanded and every
// leaf short of Extracted is re-attempted, so a second run both picks up new
// content and repairs earlier failures without duplicating nodes.
func seedFrontier(g *sitegraph.Graph) []task {
	frontier := []task{{level: LevelRoot, url: g.RootURL}}
	for _, t := range g.Topics {
		frontier = append(frontier, task{level: LevelTopic, nodeID: t.ID, url: t.URL})
	}
	for _, m := range g.Modules {
		frontier = append(frontier, task{level: LevelModule, nodeID: m.ID, url: m.URL})
	}
	for _, c := range g.Challenges {
		if c.Status != sitegraph.StatusExtracted {
			frontier = append(frontier, task{level: LevelChallenge, nodeID: c.ID, url: c.URL})
		}
	}
	return frontier
}

func (e *Engine) openSessions(ctx context.Context) ([]browser.Driver, error) {
	sessions := make([]browser.Driver, 0, e.cfg.MaxWorkers)
	for i := 0; i < e.cfg.MaxWorkers; i++ {
		session, err := e.factory.NewSession(ctx)
		if err != nil {
			for _, s := range sessions {
				_ = s.Close(context.Background())
			}
			return nil, fmt.Errorf("open session %d: %w", i, err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// dispatch feeds one level of tasks to the pool and collects one result per
// task. An authentication error is fatal and short-circuits the level. The
// feeder goroutine is joined before dispatch returns, so once Run sees the
// error no send on the task channel can still be pending.
func (e *Engine) dispatch(ctx context.Context, tasks chan<- task, results <-chan taskResult, level []task) ([]taskResult, error) {
	feedCtx, stopFeed := context.WithCancel(ctx)
	var feeder sync.WaitGroup
	feeder.Add(1)
	go func() {
		defer feeder.Done()
		for _, t := range level {
			select {
			case tasks <- t:
			case <-feedCtx.Done():
				return
			}
		}
	}()
	defer func() {
		stopFeed()
		feeder.Wait()
	}()

	collected := make([]taskResult, 0, len(level))
	for range level {
		select {
		case res := <-results:
			if errors.Is(res.err, browser.ErrAuthentication) {
				return nil, fmt.Errorf("crawl aborted: %w", res.err)
			}
			collected = append(collected, res)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return collected, nil
}

// absorb registers discovered children on the graph and builds the next
// frontier. Failed parents contribute no children; their record is kept.
func (e *Engine) absorb(g *sitegraph.Graph, levelResults []taskResult, result *Result) []task {
	var next []task
	for _, res := range levelResults {
		if res.err != nil {
			e.recordFailure(g, res, result)
			continue
		}
		switch res.task.level {
		case LevelRoot:
			for _, link := range res.links {
				topic, err := g.AddTopic(linkTitle(link), link.URL)
				if err != nil {
					e.skipChild(link, err)
					continue
				}
				next = append(next, task{level: LevelTopic, nodeID: topic.ID, url: topic.URL})
			}
		case LevelTopic:
			for _, link := range res.links {
				module, err := g.AddModule(res.task.nodeID, linkTitle(link), link.URL)
				if err != nil {
					e.skipChild(link, err)
					continue
				}
				next = append(next, task{level: LevelModule, nodeID: module.ID, url: module.URL})
			}
		case LevelModule:
			if err := g.MarkModuleCaptured(res.task.nodeID); err != nil {
				e.logger.Warn("marking module captured", zap.Error(err))
			}
			for _, link := range res.links {
				challenge, err := g.AddChallenge(res.task.nodeID, linkTitle(link), link.URL, "")
				if err != nil {
					e.skipChild(link, err)
					continue
				}
				next = append(next, task{level: LevelChallenge, nodeID: challenge.ID, url: challenge.URL})
			}
		case LevelChallenge:
			// Leaves were captured and extracted by the worker.
		}
	}
	return next
}

func (e *Engine) recordFailure(g *sitegraph.Graph, res taskResult, result *Result) {
	result.Failures = append(result.Failures, FailureRecord{
		URL:      res.task.url,
		Level:    res.task.level,
		Attempts: res.attempts,
		Reason:   res.err.Error(),
	})
	switch res.task.level {
	case LevelModule:
		if err := g.MarkModuleFailed(res.task.nodeID); err != nil {
			e.logger.Warn("marking module failed", zap.Error(err))
		}
	case LevelChallenge:
		if errors.Is(res.err, errExtractionStage) {
			break
		}
		if err := g.MarkChallengeFailed(res.task.nodeID); err != nil {
			e.logger.Warn("marking challenge failed", zap.Error(err))
		}
	}
	e.logger.Warn("node failed permanently",
		zap.String("level", res.task.level),
		zap.String("url", res.task.url),
		zap.Int("attempts", res.attempts),
		zap.String("reason", res.err.Error()),
	)
}

func (e *Engine) skipChild(link browser.Link, err error) {
	if errors.Is(err, sitegraph.ErrDuplicateURL) {
		e.logger.Debug("skipping already-recorded url", zap.String("url", link.URL))
		return
	}
	e.logger.Warn("skipping child link", zap.String("url", link.URL), zap.Error(err))
}

func (e *Engine) worker(ctx context.Context, runID uuid.UUID, drv browser.Driver, g *sitegraph.Graph, tasks <-chan task, results chan<- taskResult) {
	for {
		select {
		case t, ok := <-tasks:
			if !ok {
				return
			}
			res := e.process(ctx, runID, drv, g, t)
			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// process fetches a single node with retries. Leaves additionally get
// captured to blob storage and run through the extractor.
func (e *Engine) process(ctx context.Context, runID uuid.UUID, drv browser.Driver, g *sitegraph.Graph, t task) taskResult {
	res := taskResult{task: t}

	var page browser.Page
	start := time.Now()
	for attempt := 0; ; attempt++ {
		res.attempts = attempt + 1
		var err error
		page, err = drv.Navigate(ctx, t.url)
		if err == nil {
			break
		}
		if !e.retry.ShouldRetry(err, res.attempts) {
			res.err = err
			e.emit(progress.Event{
				RunID: runID, Stage: progress.StagePageFailed,
				Level: t.level, URL: t.url, Attempt: res.attempts, Note: err.Error(),
			})
			return res
		}
		e.logger.Debug("retrying node",
			zap.String("url", t.url),
			zap.Int("attempt", res.attempts),
			zap.Error(err),
		)
		if !sleepCtx(ctx, e.retry.Backoff(attempt)) {
			res.err = ctx.Err()
			return res
		}
	}
	e.emit(progress.Event{
		RunID: runID, Stage: progress.StagePageFetched,
		Level: t.level, URL: t.url, Attempt: res.attempts, Dur: time.Since(start),
	})

	if t.level == LevelChallenge {
		res.err = e.captureLeaf(ctx, runID, drv, g, t, page)
		return res
	}

	links, err := drv.ChildLinks(ctx, page)
	if err != nil {
		res.err = err
		return res
	}
	res.links = links
	return res
}

// captureLeaf persists the HTML and screenshot, records download hints, and
// runs the extractor. A leaf whose extraction exhausts its retries keeps its
// captured artifacts; the failure is recorded without marking the node
// Failed so the capture can be re-extracted later.
func (e *Engine) captureLeaf(ctx context.Context, runID uuid.UUID, drv browser.Driver, g *sitegraph.Graph, t task, page browser.Page) error {
	html, err := drv.HTML(ctx)
	if err != nil {
		return fmt.Errorf("read html: %w", err)
	}
	shot, err := drv.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}

	htmlRef, err := e.store.PutObject(ctx, "captures/"+t.nodeID+"/page.html", "text/html", strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("store html: %w", err)
	}
	shotRef, err := e.store.PutObject(ctx, "captures/"+t.nodeID+"/screenshot.png", "image/png", bytes.NewReader(shot))
	if err != nil {
		return fmt.Errorf("store screenshot: %w", err)
	}

	links, err := drv.ChildLinks(ctx, page)
	if err != nil {
		e.logger.Debug("reading leaf links for hints", zap.String("url", t.url), zap.Error(err))
	}
	if err := g.MarkChallengeCaptured(t.nodeID, htmlRef, shotRef, downloadHints(links)); err != nil {
		return fmt.Errorf("mark captured: %w", err)
	}

	markdown, err := e.extractWithRetry(ctx, extract.Capture{
		URL:        page.URL,
		Title:      page.Title,
		HTML:       html,
		Screenshot: shot,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errExtractionStage, err)
	}
	if err := g.MarkChallengeExtracted(t.nodeID, markdown); err != nil {
		return fmt.Errorf("mark extracted: %w", err)
	}
	e.emit(progress.Event{
		RunID: runID, Stage: progress.StagePageExtracted,
		Level: t.level, URL: t.url,
	})
	return nil
}

func (e *Engine) extractWithRetry(ctx context.Context, capture extract.Capture) (string, error) {
	for attempt := 0; ; attempt++ {
		markdown, err := e.extractor.Extract(ctx, capture)
		if err == nil {
			return markdown, nil
		}
		if !e.retry.ShouldRetry(err, attempt+1) {
			return "", err
		}
		delay := e.retry.Backoff(attempt)
		if errors.Is(err, extract.ErrRateLimited) {
			delay *= 4
		}
		if !sleepCtx(ctx, delay) {
			return "", ctx.Err()
		}
	}
}

var downloadSuffixes = []string{".pdf", ".zip", ".7z", ".gz", ".tar", ".docx", ".pcap"}

// downloadHints collects leaf links that look like challenge materials.
func downloadHints(links []browser.Link) []string {
	var hints []string
	for _, link := range links {
		lowered := strings.ToLower(link.URL)
		for _, suffix := range downloadSuffixes {
			if strings.HasSuffix(lowered, suffix) {
				hints = append(hints, link.URL)
				break
			}
		}
	}
	return hints
}

func linkTitle(link browser.Link) string {
	if link.Title != "" {
		return link.Title
	}
	parts := strings.Split(strings.TrimRight(link.URL, "/"), "/")
	return parts[len(parts)-1]
}

func (e *Engine) emit(evt progress.Event) {
	evt.TS = time.Now().UTC()
	e.emitter.Emit(evt)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

