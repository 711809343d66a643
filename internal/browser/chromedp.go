package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pwnlabs/gymscout/internal/sitegraph"
)

// Config controls the chromedp-backed sessions.
type Config struct {
	UserAgent         string
	LoginURL          string
	NavigationTimeout time.Duration
	Credentials       Credentials
}

// ChromedpFactory spawns browser sessions off one shared exec allocator.
// Each session gets its own browser context, so sessions are isolated from
// each other and a session can safely be owned by a single worker.
type ChromedpFactory struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedpFactory starts the shared Chrome allocator.
func NewChromedpFactory(cfg Config, logger *zap.Logger) (*ChromedpFactory, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromedpFactory{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// NewSession opens a fresh browser context and, when credentials are
// configured, performs the login flow before handing the session out.
func (f *ChromedpFactory) NewSession(ctx context.Context) (Driver, error) {
	browserCtx, browserCancel := chromedp.NewContext(f.allocator)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	s := &chromedpSession{
		cfg:           f.cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        f.logger,
	}
	if f.cfg.Credentials.Username != "" {
		if err := s.login(ctx); err != nil {
			browserCancel()
			return nil, err
		}
	}
	return s, nil
}

// Close tears down the shared allocator; sessions must be closed first.
func (f *ChromedpFactory) Close(context.Context) error {
	f.allocCancel()
	return nil
}

type chromedpSession struct {
	cfg           Config
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
	currentHTML   string
}

// login signs the session in and verifies the post-login URL. A rejected
// login is an ErrAuthentication, which aborts the whole run.
func (s *chromedpSession) login(ctx context.Context) error {
	taskCtx, cancel := s.taskContext(ctx)
	defer cancel()

	var landedURL string
	tasks := chromedp.Tasks{
		chromedp.Navigate(s.cfg.LoginURL),
		chromedp.WaitVisible(`input[name="login"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="login"]`, s.cfg.Credentials.Username, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, s.cfg.Credentials.Password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&landedURL),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return fmt.Errorf("%w: login flow: %v", ErrAuthentication, err)
	}
	if strings.Contains(landedURL, "login") {
		return fmt.Errorf("%w: still on login page %s", ErrAuthentication, landedURL)
	}
	s.logger.Debug("session authenticated", zap.String("landed", landedURL))
	return nil
}

func (s *chromedpSession) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	taskCtx, cancelTimeout := context.WithTimeout(s.browserCtx, s.cfg.NavigationTimeout)
	stop := forwardCancel(ctx, cancelTimeout)
	return taskCtx, func() {
		stop()
		cancelTimeout()
	}
}

// Navigate loads the URL in the session tab and records the rendered DOM.
func (s *chromedpSession) Navigate(ctx context.Context, url string) (Page, error) {
	taskCtx, cancel := s.taskContext(ctx)
	defer cancel()

	var (
		html     string
		title    string
		finalURL string
	)
	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(s.cfg.UserAgent),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(250 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return Page{}, fmt.Errorf("%w: navigate %s: %v", ErrNavigation, url, err)
	}
	if strings.Contains(finalURL, "login") && !strings.Contains(url, "login") {
		// Session expired mid-run and the platform bounced us back.
		return Page{}, fmt.Errorf("%w: redirected to login from %s", ErrAuthentication, url)
	}

	s.currentHTML = html
	return Page{URL: finalURL, Title: title}, nil
}

// HTML returns the DOM captured by the latest Navigate.
func (s *chromedpSession) HTML(context.Context) (string, error) {
	if s.currentHTML == "" {
		return "", fmt.Errorf("%w: no page loaded", ErrNavigation)
	}
	return s.currentHTML, nil
}

// Screenshot captures the full current viewport.
func (s *chromedpSession) Screenshot(ctx context.Context) ([]byte, error) {
	taskCtx, cancel := s.taskContext(ctx)
	defer cancel()

	var shot []byte
	if err := chromedp.Run(taskCtx, chromedp.CaptureScreenshot(&shot)); err != nil {
		return nil, fmt.Errorf("%w: screenshot: %v", ErrNavigation, err)
	}
	return shot, nil
}

// ChildLinks parses the captured DOM and returns absolute same-host anchors,
// skipping assets and non-http schemes.
func (s *chromedpSession) ChildLinks(ctx context.Context, page Page) ([]Link, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return ExtractLinks(html, page.URL)
}

func (s *chromedpSession) Close(context.Context) error {
	s.browserCancel()
	return nil
}

// ExtractLinks pulls same-host anchors out of an HTML document, resolving
// them against baseURL. Fragment-only, mailto, javascript, and common asset
// links are dropped.
func ExtractLinks(html, baseURL string) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, err := sitegraph.NormalizeURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}

	var links []Link
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}
		absolute, err := resolveRef(base, href)
		if err != nil {
			return
		}
		if !sitegraph.SameHost(base, absolute) || isAsset(absolute) {
			return
		}
		links = append(links, Link{
			URL:   absolute,
			Title: strings.TrimSpace(sel.Text()),
		})
	})
	return links, nil
}

func resolveRef(base, href string) (string, error) {
	baseU, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refU, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return sitegraph.NormalizeURL(baseU.ResolveReference(refU).String())
}

var assetSuffixes = []string{".jpg", ".jpeg", ".png", ".gif", ".svg", ".css", ".js", ".ico", ".woff", ".woff2"}

func isAsset(rawURL string) bool {
	lowered := strings.ToLower(rawURL)
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(lowered, suffix) {
			return true
		}
	}
	return false
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
