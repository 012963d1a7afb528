package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/farmasearch/farmasearch/pkg/storage"
	"github.com/spf13/cobra"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the farmasearch database",
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, dbPath := dbTarget()
		if driver != "" && driver != storage.DriverSQLite {
			return fmt.Errorf("db shell only supports sqlite; use psql for %s", driver)
		}

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		// Print schema first
		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints statistics about the stored products and prices.",
	Long:  "Prints per vendor product and price counts, and the last saved consolidation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		stats, err := db.GetStats(ctx)
		if err != nil {
			return err
		}

		if len(stats) == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "VENDOR\tPRODUCTS\tWITH EAN\tPRICES\tLAST CAPTURE\t")

		var totalProducts, totalEAN, totalPrices int
		for _, s := range stats {
			last := "-"
			if !s.LastCapture.IsZero() {
				last = humanize.Time(s.LastCapture)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", s.Vendor,
				humanize.Comma(int64(s.ProductCount)), humanize.Comma(int64(s.WithEAN)), humanize.Comma(int64(s.PriceCount)), last)
			totalProducts += s.ProductCount
			totalEAN += s.WithEAN
			totalPrices += s.PriceCount
		}

		fmt.Fprintln(w, " \t \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t%s\t%s\t%s\t \t\n",
			humanize.Comma(int64(totalProducts)), humanize.Comma(int64(totalEAN)), humanize.Comma(int64(totalPrices)))

		w.Flush()

		sum, err := db.LastConsolidation(ctx)
		if err != nil {
			return err
		}
		if sum.RunID != "" {
			fmt.Printf("\nLast saved consolidation: %s (%s products, %s)\n", sum.RunID, humanize.Comma(int64(sum.Products)), humanize.Time(sum.CreatedAt))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
}
