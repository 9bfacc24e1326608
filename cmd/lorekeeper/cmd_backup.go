package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"lorekeeper/internal/backup"
	"lorekeeper/internal/store"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup <campaign>",
		Short: "Export campaign lore to a backup archive",
		Long: `Backup a campaign's canonical lore (entities, aliases, threads, and the
full correction ledger) to a JSON archive.

Default location: .lorekeeper/backups/lorekeeper-backup-YYYYMMDD-HHMMSS.json
Keeps the last 10 archives with automatic rotation.

Examples:
  lorekeeper backup ravenloft
  lorekeeper backup ravenloft --output my-backup.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputPath, _ := cmd.Flags().GetString("output")
			st, root, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			rotateDir := ""
			if outputPath == "" {
				rotateDir = filepath.Join(store.DataDir(root), "backups")
				if err := os.MkdirAll(rotateDir, 0755); err != nil {
					return fmt.Errorf("failed to create backup directory: %w", err)
				}
				outputPath = backup.GenerateBackupPath(rotateDir)
			}

			archive, err := backup.Backup(cmd.Context(), st, args[0], outputPath)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			if rotateDir != "" {
				if err := backup.RotateBackups(rotateDir, 10); err != nil {
					fmt.Fprintf(os.Stderr, "warning: failed to rotate backups: %v\n", err)
				}
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(map[string]any{
					"path":        outputPath,
					"entities":    len(archive.Entities),
					"threads":     len(archive.Threads),
					"corrections": len(archive.Corrections),
				})
			}
			fmt.Printf("Backup created: %d entities, %d threads, %d corrections\n",
				len(archive.Entities), len(archive.Threads), len(archive.Corrections))
			fmt.Printf("  Path: %s\n", outputPath)
			return nil
		},
	}
	cmd.Flags().String("output", "", "Archive path (default: auto-generated under .lorekeeper/backups/)")
	return cmd
}

func newRestoreBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore-backup <file>",
		Short: "Restore campaign lore from a backup archive",
		Long: `Restore a campaign archive into the store. Existing records are kept;
only missing entities, aliases, threads, and corrections are added. The
correction ledger is append-only, so there is no replace mode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := backup.Restore(cmd.Context(), st, args[0], backup.RestoreMerge)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return printJSON(result)
			}
			fmt.Println("Restore complete")
			fmt.Printf("  Entities:    %d restored, %d skipped\n", result.EntitiesRestored, result.EntitiesSkipped)
			fmt.Printf("  Aliases:     %d restored\n", result.AliasesRestored)
			fmt.Printf("  Threads:     %d restored, %d skipped\n", result.ThreadsRestored, result.ThreadsSkipped)
			fmt.Printf("  Corrections: %d restored, %d skipped\n", result.CorrectionsRestored, result.CorrectionsSkipped)
			return nil
		},
	}
}
