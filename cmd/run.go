package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pwnlabs/gymscout/internal/sitegraph"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawls the platform, then analyzes the captured challenges",
		Long: `Runs the full pipeline: crawl the topic, module, and challenge tree,
then draft a write-up ticket for every extracted challenge. The two phases
are strictly ordered; analysis starts only after the crawl has finished
and its graph has been persisted.`,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	g, err := loadOrNewGraph(a.Cfg.Crawler.GraphPath, a.Cfg.Platform.RootURL)
	if err != nil {
		return err
	}
	runID, err := runCrawl(cmd.Context(), a, g)
	if err != nil {
		return err
	}

	// Analysis reads the persisted graph rather than the in-memory one so
	// both phases see exactly what a standalone analyze run would.
	var persisted *sitegraph.Graph
	if persisted, err = loadGraph(a.Cfg.Crawler.GraphPath); err != nil {
		return err
	}
	return runAnalysis(cmd.Context(), a, runID, persisted)
}
