package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lorekeeper/internal/config"
	"lorekeeper/internal/models"
	"lorekeeper/internal/pipeline"
	"lorekeeper/internal/run"
	"lorekeeper/internal/store"
)

func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <campaign> <session>",
		Short: "Process a session transcript into lore and a summary",
		Long: `Run the full pipeline for one session: ingest the transcript, extract
structured facts, validate evidence, resolve against canonical state, and
render the session summary.

Processing is idempotent: re-running with the same transcript, prompt
version, and model returns the prior run. Use --force to reprocess.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			st, root, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := buildPipeline(cmd, st, root)
			if err != nil {
				return err
			}
			r, runErr := p.Process(cmd.Context(), args[0], args[1], force)
			return reportRun(cmd, st, r, runErr)
		},
	}
	cmd.Flags().Bool("force", false, "Reprocess even if a run already satisfied this transcript")
	return cmd
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a partial run",
		Long: `Re-enter a partial run. Succeeded stages are skipped and their output
replayed from storage; the model is only called for stages that never
finished.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, root, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := buildPipeline(cmd, st, root)
			if err != nil {
				return err
			}
			r, runErr := p.Resume(cmd.Context(), args[0])
			return reportRun(cmd, st, r, runErr)
		},
	}
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [campaign]",
		Short: "List runs, or show one run with its steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run")
			jsonOut, _ := cmd.Flags().GetBool("json")
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			if runID != "" {
				r, err := st.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				report, _ := pipeline.ReadQualityReport(ctx, st, runID)
				if jsonOut {
					return printJSON(map[string]any{"run": r, "quality": report})
				}
				printRun(r)
				if report != nil {
					printQuality(report)
				}
				return nil
			}

			var campaignID string
			if len(args) > 0 {
				campaign, err := st.GetCampaignBySlug(ctx, args[0])
				if err != nil {
					return err
				}
				campaignID = campaign.ID
			}
			runs, err := st.ListRuns(ctx, campaignID)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]any{"runs": runs, "count": len(runs)})
			}
			if len(runs) == 0 {
				fmt.Println("No runs yet.")
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%s  %-9s  %s\n", r.ID, r.Status, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().String("run", "", "Show one run by id, including steps")
	return cmd
}

func buildPipeline(cmd *cobra.Command, st *store.Store, root string) (*pipeline.Pipeline, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	extractor, err := newExtractor(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	ctrl := run.NewController(st, cfg.Backoff)
	return pipeline.New(st, ctrl, extractor, pipeline.Options{
		Root:            root,
		Model:           cfg.Model,
		PromptVersion:   cfg.PromptVersion,
		MaxPromptTokens: cfg.MaxPromptTokens,
	}), nil
}

// reportRun prints the run outcome. A failed stage is reported through the
// run record, not just the error: partial runs are a normal outcome.
func reportRun(cmd *cobra.Command, st *store.Store, r *models.Run, runErr error) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	if r == nil {
		return runErr
	}
	if jsonOut {
		if err := printJSON(map[string]any{"run": r}); err != nil {
			return err
		}
	} else {
		printRun(r)
	}
	if runErr != nil && r.Status == models.RunPartial {
		// Structured lore landed; only the narrative is missing.
		fmt.Fprintf(os.Stderr, "Narrative stage failed; resume with: lorekeeper resume %s\n", r.ID)
		return nil
	}
	var stageErr *models.StageError
	if errors.As(runErr, &stageErr) {
		return fmt.Errorf("stage %s failed: %w", stageErr.Stage, stageErr.Err)
	}
	return runErr
}

func printRun(r *models.Run) {
	fmt.Printf("Run %s\n", r.ID)
	fmt.Printf("  Status: %s\n", r.Status)
	if r.Reason != "" {
		fmt.Printf("  Reason: %s\n", r.Reason)
	}
	fmt.Printf("  Model:  %s (prompts %s)\n", r.Model, r.PromptVersion)
	for _, s := range r.Steps {
		line := fmt.Sprintf("  %-8s %-9s attempt %d", s.Name, s.Status, s.Attempt)
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Println(line)
	}
}

func printQuality(report *pipeline.QualityReport) {
	c := report.Counters
	fmt.Println("  Quality:")
	fmt.Printf("    entities created: %d, mentions linked: %d, aliases added: %d\n",
		c.EntitiesCreated, c.MentionsLinked, c.AliasesAdded)
	fmt.Printf("    threads created: %d\n", c.ThreadsCreated)
	fmt.Printf("    dropped: %d hidden mentions, %d removed-alias mentions, %d thread updates, %d quotes\n",
		c.MentionsDroppedHidden, c.MentionsDroppedRemoved, c.ThreadUpdatesDropped, c.QuotesDropped)
	fmt.Printf("    evidence: %d repaired, %d dropped\n", c.EvidenceRepaired, c.EvidenceDropped)
	for _, col := range report.AliasCollisions {
		fmt.Printf("    alias collision: %q wanted by %s, removed from %s\n",
			col.Alias, col.WantedEntity, col.RemovedOwner)
	}
}
