package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lorekeeper/internal/ledger"
	"lorekeeper/internal/models"
)

func newCorrectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Submit and review canonical-state corrections",
		Long: `Corrections are the table's override channel: renames, aliases, merges,
hides, and thread overrides. They are append-only and attributed. DM
corrections take effect immediately; player corrections wait for DM
review. Only approved corrections shape canonical state.`,
	}
	cmd.AddCommand(
		newCorrectSubmitCmd(),
		newCorrectDecideCmd("approve"),
		newCorrectDecideCmd("reject"),
		newCorrectListCmd(),
	)
	return cmd
}

func newCorrectSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <campaign>",
		Short: "Submit a correction",
		Long: `Submit a correction against an entity or thread.

Examples:
  lorekeeper correct submit ravenloft --target-type entity --target-id <id> \
      --action entity_rename --name "The Crone" --by sarah --role dm
  lorekeeper correct submit ravenloft --target-type thread --target-id <id> \
      --action thread_status --status completed --by mike --role player`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			targetType, _ := cmd.Flags().GetString("target-type")
			targetID, _ := cmd.Flags().GetString("target-id")
			action, _ := cmd.Flags().GetString("action")
			name, _ := cmd.Flags().GetString("name")
			alias, _ := cmd.Flags().GetString("alias")
			intoID, _ := cmd.Flags().GetString("into")
			status, _ := cmd.Flags().GetString("status")
			title, _ := cmd.Flags().GetString("title")
			summary, _ := cmd.Flags().GetString("summary")
			by, _ := cmd.Flags().GetString("by")
			role, _ := cmd.Flags().GetString("role")
			sessionSlug, _ := cmd.Flags().GetString("session")

			var sessionID string
			if sessionSlug != "" {
				session, err := st.GetSessionBySlug(ctx, campaign.ID, sessionSlug)
				if err != nil {
					return err
				}
				sessionID = session.ID
			}

			l := ledger.New(st, nil)
			c, err := l.Submit(ctx, models.Correction{
				CampaignID: campaign.ID,
				SessionID:  sessionID,
				TargetType: models.TargetType(targetType),
				TargetID:   targetID,
				Action:     models.Action(action),
				Payload: models.CorrectionPayload{
					Name:    name,
					Alias:   alias,
					IntoID:  intoID,
					Status:  status,
					Title:   title,
					Summary: summary,
				},
				CreatedBy:     by,
				CreatedByRole: models.Role(role),
			})
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(c)
			}
			fmt.Printf("Correction %s: %s\n", c.ID, c.State)
			return nil
		},
	}

	cmd.Flags().String("target-type", "", "entity or thread (required)")
	cmd.Flags().String("target-id", "", "ID of the record being corrected (required)")
	cmd.Flags().String("action", "", "Correction action, e.g. entity_rename (required)")
	cmd.Flags().String("name", "", "New canonical name (rename actions)")
	cmd.Flags().String("alias", "", "Alias to add or remove")
	cmd.Flags().String("into", "", "Merge target id (merge actions)")
	cmd.Flags().String("status", "", "Thread status override")
	cmd.Flags().String("title", "", "Thread title override")
	cmd.Flags().String("summary", "", "Thread summary override")
	cmd.Flags().String("by", "", "Who is submitting (required)")
	cmd.Flags().String("role", "player", "dm or player")
	cmd.Flags().String("session", "", "Optional session slug scope")
	cmd.MarkFlagRequired("target-type")
	cmd.MarkFlagRequired("target-id")
	cmd.MarkFlagRequired("action")
	cmd.MarkFlagRequired("by")

	return cmd
}

func newCorrectDecideCmd(decision string) *cobra.Command {
	short := "Approve a pending correction (DM only)"
	if decision == "reject" {
		short = "Reject a pending correction (DM only)"
	}
	cmd := &cobra.Command{
		Use:   decision + " <correction-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			by, _ := cmd.Flags().GetString("by")
			role, _ := cmd.Flags().GetString("role")

			l := ledger.New(st, nil)
			var c *models.Correction
			if decision == "approve" {
				c, err = l.Approve(cmd.Context(), args[0], by, models.Role(role))
			} else {
				c, err = l.Reject(cmd.Context(), args[0], by, models.Role(role))
			}
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(c)
			}
			fmt.Printf("Correction %s: %s\n", c.ID, c.State)
			return nil
		},
	}
	cmd.Flags().String("by", "", "Reviewer (required)")
	cmd.Flags().String("role", "dm", "Reviewer role")
	cmd.MarkFlagRequired("by")
	return cmd
}

func newCorrectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <campaign>",
		Short: "List corrections for a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pendingOnly, _ := cmd.Flags().GetBool("pending")
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
			var corrections []models.Correction
			if pendingOnly {
				corrections, err = st.ListPendingCorrections(ctx, campaign.ID)
			} else {
				corrections, err = st.ListCorrections(ctx, campaign.ID)
			}
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(map[string]any{"corrections": corrections, "count": len(corrections)})
			}
			if len(corrections) == 0 {
				fmt.Println("No corrections.")
				return nil
			}
			for _, c := range corrections {
				fmt.Printf("%s  %-8s  %s %s/%s by %s (%s)\n",
					c.ID, c.State, c.Action, c.TargetType, c.TargetID, c.CreatedBy, c.CreatedByRole)
			}
			return nil
		},
	}
	cmd.Flags().Bool("pending", false, "Show only pending corrections")
	return cmd
}
