package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lorekeeper/internal/config"
	"lorekeeper/internal/extract"
	"lorekeeper/internal/logging"
	"lorekeeper/internal/store"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "lorekeeper",
		Short: "Lorekeeper - D&D session transcripts into canonical campaign lore",
		Long: `lorekeeper turns session transcripts into structured campaign lore.

It ingests transcripts, extracts entities, events, threads, and quotes,
resolves them against canonical campaign state, and renders session
summaries. Corrections from the table flow through an append-only ledger
and reshape how future sessions resolve.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			logging.Init(verbose)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("root", ".", "Campaign root directory")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newProcessCmd(),
		newResumeCmd(),
		newRunsCmd(),
		newCorrectCmd(),
		newEntitiesCmd(),
		newThreadsCmd(),
		newQuotesCmd(),
		newSearchCmd(),
		newBackupCmd(),
		newRestoreBackupCmd(),
		newMCPServerCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("lorekeeper version %s\n", version)
			}
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize lorekeeper in the campaign root",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			if err := store.EnsureDataDir(root); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}

			cfgPath := config.ConfigPath(root)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := config.DefaultConfig().Save(root); err != nil {
					return fmt.Errorf("failed to write config: %w", err)
				}
			}

			// Touch the database so first use does not race on migration.
			st, err := store.Open(store.DBPath(root))
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			st.Close()

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{
					"status": "initialized",
					"path":   store.DataDir(root),
				})
			} else {
				fmt.Printf("Initialized %s\n", store.DataDir(root))
				fmt.Printf("Config: %s\n", cfgPath)
				fmt.Println("Put transcripts under campaigns/<campaign>/sessions/<session>/")
			}
			return nil
		},
	}
}

// openStore opens the store under root. Running init first is optional;
// Open migrates on first use.
func openStore(cmd *cobra.Command) (*store.Store, string, error) {
	root, _ := cmd.Flags().GetString("root")
	if err := store.EnsureDataDir(root); err != nil {
		return nil, "", err
	}
	st, err := store.Open(store.DBPath(root))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open store: %w", err)
	}
	return st, root, nil
}

// newExtractor builds the Gemini extractor from the tool config. The API
// key comes from the environment, never from config files.
func newExtractor(ctx context.Context, cfg config.Config) (*extract.Gemini, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("no API key set: export %s", cfg.APIKeyEnv)
	}
	return extract.NewGemini(ctx, extract.GeminiConfig{
		APIKey:            key,
		Model:             cfg.Model,
		RequestsPerMinute: cfg.RequestsPerMinute,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
