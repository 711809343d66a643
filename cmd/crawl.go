package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pwnlabs/gymscout/internal/api"
	"github.com/pwnlabs/gymscout/internal/app"
	"github.com/pwnlabs/gymscout/internal/sitegraph"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the platform and captures challenge pages",
		Long: `Walks the topic, module, and challenge tree level by level, captures
every challenge page as HTML plus screenshot, and extracts its content to
markdown. The resulting site graph is written to crawler.graph_path, so a
second crawl on the same graph only fetches nodes that are new or were
never fully captured.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	g, err := loadOrNewGraph(a.Cfg.Crawler.GraphPath, a.Cfg.Platform.RootURL)
	if err != nil {
		return err
	}
	if _, err := runCrawl(cmd.Context(), a, g); err != nil {
		return err
	}
	return nil
}

// runCrawl executes one crawl on the given graph and persists the results.
// Shared by the crawl and run commands.
func runCrawl(ctx context.Context, a *app.App, g *sitegraph.Graph) (uuid.UUID, error) {
	engine, err := a.Engine()
	if err != nil {
		return uuid.Nil, err
	}

	runID := uuid.New()
	a.Status.Set(api.RunStatus{
		RunID:     runID.String(),
		Phase:     api.PhaseCrawling,
		StartedAt: time.Now().UTC(),
	})

	result, runErr := engine.Run(ctx, runID, g)

	// The graph is saved even on failure so that a rerun resumes from
	// whatever was captured before the abort.
	if err := saveGraph(a.Cfg.Crawler.GraphPath, g); err != nil {
		a.Logger.Error("save site graph", zap.Error(err))
	}
	if err := writeSurvey(a.Cfg.Crawler.SurveyPath, g); err != nil {
		a.Logger.Error("write survey", zap.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.Status.Update(func(st *api.RunStatus) {
			st.Phase = api.PhaseError
			st.Error = runErr.Error()
			st.Counts = g.Stats()
		})
		return runID, fmt.Errorf("crawl: %w", runErr)
	}

	a.Status.Update(func(st *api.RunStatus) {
		st.Phase = api.PhaseDone
		st.Counts = result.Counts
	})
	a.Logger.Info("crawl finished",
		zap.Stringer("run_id", runID),
		zap.Int("topics", result.Counts.Topics),
		zap.Int("modules", result.Counts.Modules),
		zap.Int("challenges", result.Counts.Challenges),
		zap.Int("extracted", result.Counts.Extracted),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("elapsed", result.Elapsed),
	)
	for _, f := range result.Failures {
		a.Logger.Warn("node failed",
			zap.String("url", f.URL),
			zap.String("level", f.Level),
			zap.Int("attempts", f.Attempts),
			zap.String("reason", f.Reason),
		)
	}
	return runID, nil
}

func loadOrNewGraph(path, rootURL string) (*sitegraph.Graph, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return sitegraph.New(rootURL), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open site graph: %w", err)
	}
	defer f.Close()

	g, err := sitegraph.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode site graph %s: %w", path, err)
	}
	return g, nil
}

func saveGraph(path string, g *sitegraph.Graph) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := g.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeSurvey(path string, g *sitegraph.Graph) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := sitegraph.Export(f, g); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
