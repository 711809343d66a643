package sitegraph

import (
	"encoding/json"
	"fmt"
	"io"
)

// Encode writes the graph as JSON. Called only after the crawl has sealed
// the graph, so no locking is required for readers of the output.
func (g *Graph) Encode(w io.Writer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(g); err != nil {
		return fmt.Errorf("encode sitegraph: %w", err)
	}
	return nil
}

// Decode reads a graph previously written by Encode and rebuilds the
// internal indexes so invariant checks keep working.
func Decode(r io.Reader) (*Graph, error) {
	var g Graph
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return nil, fmt.Errorf("decode sitegraph: %w", err)
	}
	g.visited = make(map[string]struct{})
	g.byID = make(map[string]any)
	if canonical, err := NormalizeURL(g.RootURL); err == nil {
		g.visited[canonical] = struct{}{}
	}
	for _, t := range g.Topics {
		g.visited[t.URL] = struct{}{}
		g.byID[t.ID] = t
	}
	for _, m := range g.Modules {
		g.visited[m.URL] = struct{}{}
		g.byID[m.ID] = m
	}
	for _, c := range g.Challenges {
		g.visited[c.URL] = struct{}{}
		g.byID[c.ID] = c
	}
	return &g, nil
}
