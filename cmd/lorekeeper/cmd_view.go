package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lorekeeper/internal/canonical"
	"lorekeeper/internal/evidence"
	"lorekeeper/internal/models"
	"lorekeeper/internal/store"
)

func newEntitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities <campaign>",
		Short: "List canonical entities with correction state applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showHidden, _ := cmd.Flags().GetBool("hidden")
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			campaign, err := st.GetCampaignBySlug(ctx, args[0])
			if err != nil {
				return err
			}
			entities, err := annotatedEntities(cmd, st, campaign.ID)
			if err != nil {
				return err
			}
			counts, err := st.CountEntityMentions(ctx, campaign.ID)
			if err != nil {
				return err
			}

			visible := make([]models.Entity, 0, len(entities))
			for _, e := range entities {
				if (e.Hidden || e.MergedInto != "") && !showHidden {
					continue
				}
				visible = append(visible, e)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(map[string]any{"entities": visible, "count": len(visible)})
			}
			if len(visible) == 0 {
				fmt.Println("No entities yet.")
				return nil
			}
			for _, e := range visible {
				line := fmt.Sprintf("%-12s %s", e.Type, e.CanonicalName)
				if len(e.Aliases) > 0 {
					line += " (" + strings.Join(e.Aliases, ", ") + ")"
				}
				if n := counts[e.ID]; n > 0 {
					line += fmt.Sprintf("  [%d mentions]", n)
				}
				if e.Hidden {
					line += "  hidden"
				}
				if e.MergedInto != "" {
					line += "  merged into " + e.MergedInto
				}
				if e.Corrected {
					line += "  *"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().Bool("hidden", false, "Include hidden and merged entities")
	return cmd
}

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads <campaign>",
		Short: "List plot threads with correction state applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showHidden, _ := cmd.Flags().GetBool("hidden")
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			campaign, err := st.GetCampaignBySlug(ctx, args[0])
			if err != nil {
				return err
			}
			threads, err := st.ListThreads(ctx, campaign.ID)
			if err != nil {
				return err
			}
			corrections, err := st.ListCorrections(ctx, campaign.ID)
			if err != nil {
				return err
			}
			tm := canonical.BuildThreadMap(threads, corrections)

			visible := make([]models.Thread, 0, len(threads))
			for _, t := range threads {
				t = tm.Apply(t)
				if (t.Hidden || t.MergedInto != "") && !showHidden {
					continue
				}
				visible = append(visible, t)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(map[string]any{"threads": visible, "count": len(visible)})
			}
			if len(visible) == 0 {
				fmt.Println("No threads yet.")
				return nil
			}
			for _, t := range visible {
				line := fmt.Sprintf("%-10s %-10s %s", t.Kind, t.Status, t.Title)
				if t.Hidden {
					line += "  hidden"
				}
				if t.MergedInto != "" {
					line += "  merged into " + t.MergedInto
				}
				if t.Corrected {
					line += "  *"
				}
				fmt.Println(line)
				updates, err := st.ListThreadUpdates(ctx, t.ID)
				if err != nil {
					return err
				}
				for _, u := range updates {
					fmt.Printf("    %-12s %s\n", u.UpdateType, u.Note)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("hidden", false, "Include hidden and merged threads")
	return cmd
}

func newQuotesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quotes <campaign> [session]",
		Short: "List quotes, or audit stored quotes against their utterances",
		Long: `Without --audit, list quotes for a session.

With --audit, re-check every stored quote against its utterance text and
report violations of the exact-substring rule. A clean audit prints
nothing and exits zero.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			audit, _ := cmd.Flags().GetBool("audit")
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			campaign, err := st.GetCampaignBySlug(ctx, args[0])
			if err != nil {
				return err
			}
			var sessionID string
			if len(args) > 1 {
				session, err := st.GetSessionBySlug(ctx, campaign.ID, args[1])
				if err != nil {
					return err
				}
				sessionID = session.ID
			}
			quotes, err := st.ListQuotes(ctx, sessionID)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if audit {
				return auditQuotes(cmd, st, quotes, jsonOut)
			}
			if jsonOut {
				return printJSON(map[string]any{"quotes": quotes, "count": len(quotes)})
			}
			if len(quotes) == 0 {
				fmt.Println("No quotes yet.")
				return nil
			}
			for _, q := range quotes {
				fmt.Printf("%q", q.Text)
				if q.Speaker != "" {
					fmt.Printf(" (%s)", q.Speaker)
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().Bool("audit", false, "Verify the exact-substring rule for every stored quote")
	return cmd
}

func auditQuotes(cmd *cobra.Command, st *store.Store, quotes []models.Quote, jsonOut bool) error {
	ctx := cmd.Context()
	lookup := make(map[string]string)
	for _, q := range quotes {
		if _, ok := lookup[q.UtteranceID]; ok {
			continue
		}
		u, err := st.GetUtterance(ctx, q.UtteranceID)
		if err == nil {
			lookup[q.UtteranceID] = u.Text
		}
	}
	violations := evidence.AuditQuotes(quotes, lookup)
	if jsonOut {
		if err := printJSON(map[string]any{
			"checked":    len(quotes),
			"violations": violations,
		}); err != nil {
			return err
		}
	} else {
		for _, v := range violations {
			fmt.Printf("quote %s: %s\n", v.QuoteID, v.Reason)
		}
	}
	if len(violations) > 0 {
		return fmt.Errorf("%d of %d quotes violate the exact-substring rule", len(violations), len(quotes))
	}
	if !jsonOut {
		fmt.Printf("%d quotes checked, all exact.\n", len(quotes))
	}
	return nil
}

func annotatedEntities(cmd *cobra.Command, st *store.Store, campaignID string) ([]models.Entity, error) {
	ctx := cmd.Context()
	entities, err := st.ListEntities(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	aliases, err := st.ListEntityAliases(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	corrections, err := st.ListCorrections(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	em := canonical.BuildEntityMap(entities, aliases, corrections)
	return em.Annotate(entities), nil
}
