// Package browser abstracts headless-browser navigation for the crawl
// engine. Sessions are not safe for concurrent use; the engine opens one
// session per crawl worker via the Factory.
package browser

import (
	"context"
	"errors"
)

// ErrAuthentication indicates the platform rejected the configured
// credentials or the session lost its login. It is fatal for the whole run.
var ErrAuthentication = errors.New("authentication failed")

// ErrNavigation indicates a page-level navigation failure. It is retryable
// and scoped to a single node.
var ErrNavigation = errors.New("navigation failed")

// Page is a handle for the page a session currently displays.
type Page struct {
	URL   string
	Title string
}

// Link is an anchor discovered on a page.
type Link struct {
	URL   string
	Title string
}

// Driver drives a single authenticated browser session. Implementations are
// not required to be goroutine-safe; callers must serialize access or hold
// one Driver per worker.
type Driver interface {
	// Navigate loads the URL and blocks until the document is ready.
	Navigate(ctx context.Context, url string) (Page, error)
	// HTML returns the rendered DOM of the current page.
	HTML(ctx context.Context) (string, error)
	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// ChildLinks enumerates same-host anchors on the given page.
	ChildLinks(ctx context.Context, page Page) ([]Link, error)
	// Close releases the session.
	Close(ctx context.Context) error
}

// Factory opens authenticated sessions. The crawl engine calls NewSession
// once per worker so no session is ever shared across goroutines.
type Factory interface {
	NewSession(ctx context.Context) (Driver, error)
	Close(ctx context.Context) error
}

// Credentials holds the platform login pair. The zero value skips the login
// step, which fixture servers rely on.
type Credentials struct {
	Username string
	Password string
}
