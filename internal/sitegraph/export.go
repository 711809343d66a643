package sitegraph

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
)

var unsafeNodeChars = regexp.MustCompile(`[^a-zA-Z0-9 _./-]`)

// Export writes a markdown summary of the graph: per-level counts, a status
// table per topic, and a mermaid mindmap suitable for external rendering.
// The output is deterministic for a fixed graph.
func Export(w io.Writer, g *Graph) error {
	md := markdown.NewMarkdown(w)

	md.H1("Site Survey")
	md.PlainText("")
	md.PlainTextf("Root: `%s`", g.RootURL)
	md.PlainText("")

	counts := g.Stats()
	md.Table(markdown.TableSet{
		Header: []string{"Level", "Count"},
		Rows: [][]string{
			{"Topics", strconv.Itoa(counts.Topics)},
			{"Modules", strconv.Itoa(counts.Modules)},
			{"Challenges", strconv.Itoa(counts.Challenges)},
			{"Extracted", strconv.Itoa(counts.Extracted)},
			{"Failed", strconv.Itoa(counts.Failed)},
		},
	})
	md.PlainText("")

	for _, t := range g.Topics {
		md.H2(t.Title)
		md.PlainText("")
		var rows [][]string
		for _, m := range g.ModulesOf(t.ID) {
			rows = append(rows, []string{m.Title, "—", string(m.Status)})
			for _, c := range g.ChallengesOf(m.ID) {
				rows = append(rows, []string{m.Title, c.Title, string(c.Status)})
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Module", "Challenge", "Status"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	md.H2("Mindmap")
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, mindmap(g))

	if err := md.Build(); err != nil {
		return fmt.Errorf("build markdown export: %w", err)
	}
	return nil
}

// mindmap renders the tree as mermaid mindmap markup with sanitized node
// labels.
func mindmap(g *Graph) string {
	var b strings.Builder
	b.WriteString("mindmap\n")
	b.WriteString("  root((" + safeNode(g.RootURL) + "))\n")
	for _, t := range g.Topics {
		b.WriteString("    " + safeNode(t.Title) + "\n")
		for _, m := range g.ModulesOf(t.ID) {
			b.WriteString("      " + safeNode(m.Title) + "\n")
			for _, c := range g.ChallengesOf(m.ID) {
				b.WriteString("        " + safeNode(c.Title) + "\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func safeNode(label string) string {
	cleaned := unsafeNodeChars.ReplaceAllString(label, "_")
	if cleaned == "" {
		return "_"
	}
	return cleaned
}
