package ticket

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FSSink writes tickets as markdown files grouped by category. Each file
// carries a metadata header so tickets can be consumed without a database.
type FSSink struct {
	baseDir string
}

// NewFSSink creates the sink, creating the base directory if needed.
func NewFSSink(baseDir string) (*FSSink, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("ticket base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create ticket directory: %w", err)
	}
	return &FSSink{baseDir: baseDir}, nil
}

// Write renders the ticket to <base>/<category>/<slug>.md and returns a
// file:// reference. Filesystem errors are reported as transient.
func (s *FSSink) Write(_ context.Context, t Ticket) (string, error) {
	category := t.Category
	if category == "" {
		category = "uncategorized"
	}
	dir := filepath.Join(s.baseDir, category)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: create category dir: %v", ErrIO, err)
	}

	path := filepath.Join(dir, Slug(t.Title)+".md")
	if err := os.WriteFile(path, []byte(render(t)), 0o600); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	return "file://" + path, nil
}

// Close implements Sink; it performs no action.
func (s *FSSink) Close() {}

func render(t Ticket) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\n", t.ID)
	fmt.Fprintf(&b, "title: %s\n", t.Title)
	fmt.Fprintf(&b, "url: %s\n", t.URL)
	fmt.Fprintf(&b, "topic: %s\n", t.Topic)
	fmt.Fprintf(&b, "module: %s\n", t.Module)
	fmt.Fprintf(&b, "category: %s\n", t.Category)
	fmt.Fprintf(&b, "validated: %t\n", t.Validated)
	fmt.Fprintf(&b, "iterations: %d\n", t.Iterations)
	fmt.Fprintf(&b, "finalized_at: %s\n", t.FinalizedAt.UTC().Format(time.RFC3339))
	b.WriteString("---\n\n")
	if !t.Validated {
		b.WriteString("> NOTE: this draft exhausted its review budget and was not validated.\n\n")
	}
	b.WriteString(t.Content)
	if !strings.HasSuffix(t.Content, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}
