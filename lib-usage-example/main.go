package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/farmasearch/farmasearch/pkg/consolidate"
	"github.com/farmasearch/farmasearch/pkg/export"
	"github.com/farmasearch/farmasearch/pkg/pipeline"
	"github.com/farmasearch/farmasearch/pkg/prices"
	"github.com/farmasearch/farmasearch/pkg/vendors"
)

// memorySource serves observations already held in memory, in file order.
type memorySource []prices.Observation

func (m memorySource) CountLatest(context.Context) (int, error) { return len(m), nil }

func (m memorySource) LatestPage(_ context.Context, limit, offset int) ([]prices.Observation, error) {
	if offset >= len(m) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m) {
		end = len(m)
	}
	return m[offset:end], nil
}

func main() {
	// Usage: go run *.go -feed dosfarma.jsonl -feed atida.jsonl

	var feeds multiFlag
	flag.Var(&feeds, "feed", "JSON Lines feed to compare (repeatable)")
	flag.Parse()

	if len(feeds) == 0 {
		fmt.Println("At least one feed is required. Please provide it using the -feed flag.")
		return
	}

	reg := vendors.DefaultRegistry()
	adapter := vendors.NewAdapter(reg, "")

	var all memorySource
	for _, path := range feeds {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		_, err = vendors.ReadFeed(f, adapter, 1000, func(batch []prices.Observation) error {
			all = append(all, batch...)
			return nil
		})
		f.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	// No database involved: the pipeline only needs a paged source.
	res, err := pipeline.Run(context.Background(), pipeline.Config{
		Source:      all,
		PageSize:    1000,
		Consolidate: consolidate.Options{Vendors: reg.Names()},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := export.WriteCSV(os.Stdout, res.Consolidation); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprint(*m) }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
