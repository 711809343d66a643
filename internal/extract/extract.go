// Package extract turns captured challenge pages into markdown via a
// vision-capable language model.
package extract

import (
	"context"
	"errors"
)

// ErrExtraction wraps model failures that are worth retrying at the
// crawl level.
var ErrExtraction = errors.New("content extraction failed")

// ErrRateLimited marks a provider throttle response. Callers back off
// longer before retrying these.
var ErrRateLimited = errors.New("extraction rate limited")

// Capture is one leaf page ready for extraction.
type Capture struct {
	URL        string
	Title      string
	HTML       string
	Screenshot []byte
}

// Extractor produces a markdown rendition of a captured page.
type Extractor interface {
	Extract(ctx context.Context, capture Capture) (string, error)
}
