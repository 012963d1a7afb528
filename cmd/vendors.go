package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// vendorsCmd represents the vendors command
var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "List the configured vendors in column order and their domains",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := vendorRegistry()

		byVendor := make(map[string][]string)
		for domain, vendor := range reg.Domains() {
			byVendor[vendor] = append(byVendor[vendor], domain)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "#\tVENDOR\tDOMAINS\t")
		for i, name := range reg.Names() {
			domains := byVendor[name]
			sort.Strings(domains)
			fmt.Fprintf(w, "%d\t%s\t%s\t\n", i+1, name, strings.Join(domains, ", "))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(vendorsCmd)
}
