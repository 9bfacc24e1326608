package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lorekeeper/internal/config"
	"lorekeeper/internal/extract"
	"lorekeeper/internal/logging"
	"lorekeeper/internal/models"
	"lorekeeper/internal/store"
	"lorekeeper/internal/vectorindex"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search quotes by meaning",
		Long: `Embed the query and search the quote index by cosine similarity.

The index is built from stored quotes with --reindex; quotes added by
later runs are picked up on the next reindex.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topK, _ := cmd.Flags().GetInt("top")
			reindex, _ := cmd.Flags().GetBool("reindex")
			st, root, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			cfg, err := config.Load(root)
			if err != nil {
				return err
			}
			key := cfg.APIKey()
			if key == "" {
				return fmt.Errorf("no API key set: export %s", cfg.APIKeyEnv)
			}
			embedder, err := extract.NewGeminiEmbedder(ctx, key, cfg.EmbeddingModel, cfg.RequestsPerMinute)
			if err != nil {
				return err
			}

			idx, err := vectorindex.OpenTieredIndex(ctx, store.DataDir(root))
			if err != nil {
				return err
			}
			defer idx.Close()

			quotes, err := st.ListQuotes(ctx, "")
			if err != nil {
				return err
			}
			byID := make(map[string]models.Quote, len(quotes))
			for _, q := range quotes {
				byID[q.ID] = q
			}

			if reindex {
				if err := indexQuotes(cmd, embedder, idx, quotes); err != nil {
					return err
				}
			}

			query := strings.Join(args, " ")
			vec, err := embedder.Embed(ctx, query)
			if err != nil {
				return err
			}
			results, err := idx.Search(ctx, vec, topK)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				type hit struct {
					Score float64      `json:"score"`
					Quote models.Quote `json:"quote"`
				}
				hits := make([]hit, 0, len(results))
				for _, r := range results {
					if q, ok := byID[r.QuoteID]; ok {
						hits = append(hits, hit{Score: r.Score, Quote: q})
					}
				}
				return printJSON(map[string]any{"hits": hits, "count": len(hits)})
			}
			if len(results) == 0 {
				fmt.Println("No matches. Try 'search --reindex' after processing sessions.")
				return nil
			}
			for _, r := range results {
				q, ok := byID[r.QuoteID]
				if !ok {
					continue
				}
				fmt.Printf("%.3f  %q", r.Score, q.Text)
				if q.Speaker != "" {
					fmt.Printf(" (%s)", q.Speaker)
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().Int("top", 5, "Number of results")
	cmd.Flags().Bool("reindex", false, "Embed and index quotes missing from the index first")
	return cmd
}

// indexQuotes embeds quotes not yet in the index and saves it.
func indexQuotes(cmd *cobra.Command, embedder extract.Embedder, idx vectorindex.VectorIndex, quotes []models.Quote) error {
	ctx := cmd.Context()
	var missing []models.Quote
	for _, q := range quotes {
		if !idx.Has(q.ID) {
			missing = append(missing, q)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	texts := make([]string, len(missing))
	for i, q := range missing {
		texts[i] = q.Text
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for i, q := range missing {
		if err := idx.Add(ctx, q.ID, vectors[i]); err != nil {
			return err
		}
	}
	logging.Info("indexed quotes", "added", len(missing), "total", idx.Len())
	return idx.Save(ctx)
}
