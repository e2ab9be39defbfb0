package app

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bernsmp/zed-seo-tool/internal/integrations/semrush"
)

func (c *cli) semrushCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "semrush", Short: "Pull competitor keywords from SEMrush"}

	var competitor, database, outPath string
	var limit int
	pull := &cobra.Command{
		Use:   "pull",
		Short: "Write a competitor's organic keywords as a keywords CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := semrush.New(c.cfg)
			if err != nil {
				return err
			}
			if database == "" {
				database = c.cfg.SemrushDatabase
			}
			rows, err := client.CompetitorKeywords(cmd.Context(), competitor, database, limit)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}
			if err := writeKeywordRows(w, rows); err != nil {
				return err
			}
			if outPath != "" && outPath != "-" {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d keywords from %s to %s (about %d API units)\n",
					len(rows), competitor, outPath, semrush.EstimateUnits(len(rows)))
			}
			return nil
		},
	}
	pull.Flags().StringVar(&competitor, "domain", "", "Competitor domain, e.g. competitor.com")
	pull.MarkFlagRequired("domain")
	pull.Flags().StringVar(&database, "database", "", "Regional database (default semrush_database)")
	pull.Flags().IntVar(&limit, "limit", 500, "Maximum keywords to pull (10 API units each)")
	pull.Flags().StringVarP(&outPath, "out", "o", "", "CSV file to write (default stdout)")

	units := &cobra.Command{
		Use:   "units",
		Short: "Show the remaining SEMrush API units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := semrush.New(c.cfg)
			if err != nil {
				return err
			}
			n := client.UnitsRemaining(cmd.Context())
			if n < 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "API units: unavailable for this account")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API units remaining: %d\n", n)
			return nil
		},
	}

	cmd.AddCommand(pull, units)
	return cmd
}

// writeKeywordRows writes rows in the CSV layout readKeywordsCSV accepts.
func writeKeywordRows(w io.Writer, rows []semrush.KeywordRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"keyword", "volume", "keyword_difficulty", "competition", "intent"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.Keyword,
			strconv.Itoa(r.Volume),
			strconv.FormatFloat(r.Difficulty, 'f', -1, 64),
			strconv.FormatFloat(r.Competition, 'f', -1, 64),
			r.Intent,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
