package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pwnlabs/gymscout/internal/analysis"
	"github.com/pwnlabs/gymscout/internal/api"
	"github.com/pwnlabs/gymscout/internal/app"
	"github.com/pwnlabs/gymscout/internal/sitegraph"
)

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Drafts write-up tickets for the extracted challenges",
		Long: `Loads the site graph produced by a previous crawl and runs every
extracted challenge through a generate, evaluate, refine loop. Accepted
drafts are written to the configured ticket sink; challenges without
extracted content are skipped.`,
		RunE: runAnalyzeCommand,
	}
}

func runAnalyzeCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	g, err := loadGraph(a.Cfg.Crawler.GraphPath)
	if err != nil {
		return err
	}
	return runAnalysis(cmd.Context(), a, uuid.New(), g)
}

// runAnalysis executes the analysis phase for one run. Shared by the
// analyze and run commands.
func runAnalysis(ctx context.Context, a *app.App, runID uuid.UUID, g *sitegraph.Graph) error {
	orch, err := a.Orchestrator()
	if err != nil {
		return err
	}

	a.Status.Update(func(st *api.RunStatus) {
		st.RunID = runID.String()
		st.Phase = api.PhaseAnalyzing
		st.Counts = g.Stats()
	})

	report, runErr := orch.Run(ctx, runID, g)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.Status.Update(func(st *api.RunStatus) {
			st.Phase = api.PhaseError
			st.Error = runErr.Error()
		})
		return fmt.Errorf("analyze: %w", runErr)
	}

	a.Status.Update(func(st *api.RunStatus) {
		st.Phase = api.PhaseDone
	})
	a.Logger.Info("analysis finished",
		zap.Stringer("run_id", report.RunID),
		zap.Int("challenges", len(report.Outcomes)),
		zap.Int("accepted", report.CountByStatus(analysis.StatusAccepted)),
		zap.Int("exhausted", report.CountByStatus(analysis.StatusExhausted)),
		zap.Int("skipped", report.CountByStatus(analysis.StatusSkipped)),
		zap.Int("unsupported", report.CountByStatus(analysis.StatusUnsupported)),
		zap.Int("errors", report.CountByStatus(analysis.StatusError)),
		zap.Duration("elapsed", report.Elapsed),
	)
	for _, o := range report.Outcomes {
		if o.Status == analysis.StatusError {
			a.Logger.Warn("flow failed",
				zap.String("challenge", o.Title),
				zap.String("url", o.URL),
				zap.String("reason", o.Reason),
			)
		}
	}
	return nil
}

func loadGraph(path string) (*sitegraph.Graph, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no site graph at %s; run the crawl command first", path)
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
