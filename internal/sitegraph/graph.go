// Package sitegraph defines the content tree assembled by the crawl engine:
// Topics at the root, Modules beneath them, and Challenge leaves. The graph
// owns the canonical-URL dedup invariant; every node is keyed by a normalized
// URL and inserted at most once.
package sitegraph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Status tracks how far the pipeline progressed for a node.
type Status string

// Node lifecycle states. A Challenge moves Discovered -> Captured ->
// Extracted; any node that exhausts its retries lands on Failed.
const (
	StatusDiscovered Status = "discovered"
	StatusCaptured   Status = "captured"
	StatusExtracted  Status = "extracted"
	StatusFailed     Status = "failed"
)

// ErrDuplicateURL is returned when a node with the same canonical URL has
// already been recorded.
var ErrDuplicateURL = errors.New("duplicate canonical url")

// ErrUnknownParent is returned when a child references a parent node that was
// never recorded.
var ErrUnknownParent = errors.New("unknown parent node")

// Topic is a root-level category page.
type Topic struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Module is one Topic-child page grouping a set of challenges.
type Module struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	TopicID string `json:"topic_id"`
	Status  Status `json:"status"`
}

// Challenge is a leaf page. HTMLRef and ScreenshotRef point at blobs written
// by the capture step; Markdown is the vision-model rendition of the page.
type Challenge struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	ModuleID      string   `json:"module_id"`
	Category      Category `json:"category"`
	Status        Status   `json:"status"`
	HTMLRef       string   `json:"html_ref,omitempty"`
	ScreenshotRef string   `json:"screenshot_ref,omitempty"`
	Markdown      string   `json:"markdown,omitempty"`
	Hints         []string `json:"hints,omitempty"`
}

// Graph is the deduplicated Topic/Module/Challenge tree. It is mutated only
// by the crawl engine, under a single mutex; once the crawl finishes the
// engine hands it over read-only and no further synchronization is needed.
type Graph struct {
	mu sync.Mutex

	RootURL    string                `json:"root_url"`
	Topics     []*Topic              `json:"topics"`
	Modules    []*Module             `json:"modules"`
	Challenges []*Challenge          `json:"challenges"`
	visited    map[string]struct{} // canonical URL -> seen
	byID       map[string]any      // node ID -> *Topic | *Module | *Challenge
}

// New creates an empty graph rooted at rootURL. The root URL itself counts as
// visited so a self-link on the dashboard never re-enters the frontier.
func New(rootURL string) *Graph {
	g := &Graph{
		RootURL: rootURL,
		visited: make(map[string]struct{}),
		byID:    make(map[string]any),
	}
	if canonical, err := NormalizeURL(rootURL); err == nil {
		g.visited[canonical] = struct{}{}
	}
	return g
}

// Seen reports whether the canonical form of rawURL is already in the graph.
func (g *Graph) Seen(rawURL string) bool {
	canonical, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.visited[canonical]
	return ok
}

func (g *Graph) markVisited(rawURL string) (string, error) {
	canonical, err := NormalizeURL(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}
	if _, ok := g.visited[canonical]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateURL, canonical)
	}
	g.visited[canonical] = struct{}{}
	return canonical, nil
}

// AddTopic records a root-level topic. Duplicate canonical URLs return
// ErrDuplicateURL and leave the graph unchanged.
func (g *Graph) AddTopic(title, rawURL string) (*Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	canonical, err := g.markVisited(rawURL)
	if err != nil {
		return nil, err
	}
	t := &Topic{ID: uuid.NewString(), Title: title, URL: canonical}
	g.Topics = append(g.Topics, t)
	g.byID[t.ID] = t
	return t, nil
}

// AddModule records a module beneath an existing topic.
func (g *Graph) AddModule(topicID, title, rawURL string) (*Module, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.byID[topicID].(*Topic); !ok {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownParent, topicID)
	}
	canonical, err := g.markVisited(rawURL)
	if err != nil {
		return nil, err
	}
	m := &Module{
		ID:      uuid.NewString(),
		Title:   title,
		URL:     canonical,
		TopicID: topicID,
		Status:  StatusDiscovered,
	}
	g.Modules = append(g.Modules, m)
	g.byID[m.ID] = m
	return m, nil
}

// AddChallenge records a leaf beneath an existing module. The category is
// inferred from the module title and the challenge URL unless the caller
// already classified it.
func (g *Graph) AddChallenge(moduleID, title, rawURL string, category Category) (*Challenge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.byID[moduleID].(*Module); !ok {
		return nil, fmt.Errorf("%w: module %s", ErrUnknownParent, moduleID)
	}
	canonical, err := g.markVisited(rawURL)
	if err != nil {
		return nil, err
	}
	if category == "" {
		category = InferCategory(title + " " + canonical)
	}
	c := &Challenge{
		ID:       uuid.NewString(),
		Title:    title,
		URL:      canonical,
		ModuleID: moduleID,
		Category: category,
		Status:   StatusDiscovered,
	}
	g.Challenges = append(g.Challenges, c)
	g.byID[c.ID] = c
	return c, nil
}

// MarkModuleCaptured flips a module to Captured after its page was read and
// its children enumerated.
func (g *Graph) MarkModuleCaptured(moduleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.byID[moduleID].(*Module)
	if !ok {
		return fmt.Errorf("%w: module %s", ErrUnknownParent, moduleID)
	}
	m.Status = StatusCaptured
	return nil
}

// MarkModuleFailed records terminal failure for a module node. Its already
// recorded siblings are unaffected.
func (g *Graph) MarkModuleFailed(moduleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.byID[moduleID].(*Module)
	if !ok {
		return fmt.Errorf("%w: module %s", ErrUnknownParent, moduleID)
	}
	m.Status = StatusFailed
	return nil
}

// MarkChallengeCaptured stores the blob references produced by the capture
// step and advances the leaf to Captured.
func (g *Graph) MarkChallengeCaptured(challengeID, htmlRef, screenshotRef string, hints []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.byID[challengeID].(*Challenge)
	if !ok {
		return fmt.Errorf("%w: challenge %s", ErrUnknownParent, challengeID)
	}
	c.HTMLRef = htmlRef
	c.ScreenshotRef = screenshotRef
	c.Hints = append([]string(nil), hints...)
	c.Status = StatusCaptured
	return nil
}

// MarkChallengeExtracted stores the vision-model markdown and advances the
// leaf to Extracted, the only state eligible for analysis.
func (g *Graph) MarkChallengeExtracted(challengeID, markdown string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.byID[challengeID].(*Challenge)
	if !ok {
		return fmt.Errorf("%w: challenge %s", ErrUnknownParent, challengeID)
	}
	c.Markdown = markdown
	c.Status = StatusExtracted
	return nil
}

// MarkChallengeFailed records terminal failure for a leaf.
func (g *Graph) MarkChallengeFailed(challengeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.byID[challengeID].(*Challenge)
	if !ok {
		return fmt.Errorf("%w: challenge %s", ErrUnknownParent, challengeID)
	}
	c.Status = StatusFailed
	return nil
}

// TopicByID looks up a topic node.
func (g *Graph) TopicByID(id string) (*Topic, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.byID[id].(*Topic)
	return t, ok
}

// ModuleByID looks up a module node.
func (g *Graph) ModuleByID(id string) (*Module, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.byID[id].(*Module)
	return m, ok
}

// ModulesOf returns the modules recorded beneath a topic, in insertion order.
func (g *Graph) ModulesOf(topicID string) []*Module {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Module
	for _, m := range g.Modules {
		if m.TopicID == topicID {
			out = append(out, m)
		}
	}
	return out
}

// ChallengesOf returns the challenges recorded beneath a module, in
// insertion order.
func (g *Graph) ChallengesOf(moduleID string) []*Challenge {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Challenge
	for _, c := range g.Challenges {
		if c.ModuleID == moduleID {
			out = append(out, c)
		}
	}
	return out
}

// Counts summarizes node totals per level, used by exports and run reports.
type Counts struct {
	Topics     int `json:"topics"`
	Modules    int `json:"modules"`
	Challenges int `json:"challenges"`
	Extracted  int `json:"extracted"`
	Failed     int `json:"failed"`
}

// Stats derives the current node counts.
func (g *Graph) Stats() Counts {
	g.mu.Lock()
	defer g.mu.Unlock()
	counts := Counts{
		Topics:     len(g.Topics),
		Modules:    len(g.Modules),
		Challenges: len(g.Challenges),
	}
	for _, m := range g.Modules {
		if m.Status == StatusFailed {
			counts.Failed++
		}
	}
	for _, c := range g.Challenges {
		switch c.Status {
		case StatusExtracted:
			counts.Extracted++
		case StatusFailed:
			counts.Failed++
		}
	}
	return counts
}
