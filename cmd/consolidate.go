package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/farmasearch/farmasearch/internal/utils"
	"github.com/farmasearch/farmasearch/pkg/consolidate"
	"github.com/farmasearch/farmasearch/pkg/export"
	"github.com/farmasearch/farmasearch/pkg/pipeline"
	"github.com/farmasearch/farmasearch/pkg/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// consolidateCmd represents the consolidate command
var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Match products across vendors and rank them by savings",
	Long: `Reads the latest price of every stored product page by page, groups the
same product across vendors and prints one row per product with every
vendor's price, sorted by the difference between the most expensive and the
cheapest vendor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pageSize, _ := cmd.Flags().GetInt("page-size")
		if pageSize == 0 {
			pageSize = viper.GetInt("consolidate.page_size")
		}
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")
		limit, _ := cmd.Flags().GetInt("limit")
		inStockOnly, _ := cmd.Flags().GetBool("in-stock-only")
		dropUnknown, _ := cmd.Flags().GetBool("drop-unknown")
		save, _ := cmd.Flags().GetBool("save")

		var write func(io.Writer, consolidate.Result) error
		switch format {
		case "table":
			write = func(w io.Writer, res consolidate.Result) error { return export.WriteTable(w, res, limit) }
		case "csv":
			write = export.WriteCSV
		case "json":
			write = export.WriteJSON
		default:
			return fmt.Errorf("unknown format %q (table, csv, json)", format)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		res, err := pipeline.Run(ctx, pipeline.Config{
			Source:   db,
			PageSize: pageSize,
			Consolidate: consolidate.Options{
				Vendors:            vendorRegistry().Names(),
				DropUnknownVendors: dropUnknown,
				InStockOnly:        inStockOnly,
			},
			Log: utils.Log,
			OnProgress: func(processed, total int) error {
				utils.Log.Infof("Processed %s / %s observations", humanize.Comma(int64(processed)), humanize.Comma(int64(total)))
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("consolidation aborted: %w", err)
		}

		rows := res.Consolidation.Rows
		utils.Log.Infof("%s observations, %s products, %s comparable rows",
			humanize.Comma(int64(res.Processed)), humanize.Comma(int64(res.Groups)), humanize.Comma(int64(len(rows))))

		// An empty run still replaces the saved one.
		if save {
			runID, err := saveRun(ctx, db, res.Consolidation)
			if err != nil {
				return err
			}
			utils.Log.Infof("Saved consolidation run %s", runID)
		}

		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No products to compare.")
			return nil
		}

		var out io.Writer = os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		if err := write(out, res.Consolidation); err != nil {
			return err
		}
		if outPath != "" {
			utils.Log.Infof("Wrote %s rows to %s", humanize.Comma(int64(len(rows))), outPath)
		}
		return nil
	},
}

// saveRun persists res under a fresh run id while holding the writer lock.
func saveRun(ctx context.Context, db *storage.DB, res consolidate.Result) (string, error) {
	runID := uuid.NewString()
	err := withWriteLock(ctx, func() error {
		return db.SaveConsolidation(ctx, runID, res)
	})
	if err != nil {
		return "", fmt.Errorf("saving consolidation: %w", err)
	}
	return runID, nil
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
	consolidateCmd.Flags().Int("page-size", 0, "Observations read per page (default from config, 10000)")
	consolidateCmd.Flags().StringP("format", "f", "table", "Output format: table, csv, json")
	consolidateCmd.Flags().StringP("out", "o", "", "Write output to this file instead of stdout")
	consolidateCmd.Flags().Int("limit", 50, "Rows shown in table format (0 = all)")
	consolidateCmd.Flags().Bool("in-stock-only", false, "Compute price ranges over in-stock offers only")
	consolidateCmd.Flags().Bool("drop-unknown", false, "Drop vendors missing from the configured vendor list")
	consolidateCmd.Flags().Bool("save", false, "Persist the result into the consolidated_* tables")
}
