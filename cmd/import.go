package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/farmasearch/farmasearch/internal/utils"
	"github.com/farmasearch/farmasearch/pkg/prices"
	"github.com/farmasearch/farmasearch/pkg/storage"
	"github.com/farmasearch/farmasearch/pkg/vendors"
	"github.com/farmasearch/farmasearch/pkg/whttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import [file|url|-]...",
	Short: "Import scraped prices from JSON Lines feeds or product pages",
	Long: `Import scraped prices into the database.

Each argument is a local file, an http(s) URL or "-" for stdin. JSON Lines
feeds carry one product per line; HTML inputs are parsed as a single vendor
product page (schema.org JSON-LD, microdata or OpenGraph tags).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vendor, _ := cmd.Flags().GetString("vendor")
		format, _ := cmd.Flags().GetString("format")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		if batchSize <= 0 {
			batchSize = viper.GetInt("import.batch_size")
		}

		switch format {
		case "auto", "jsonl", "html":
		default:
			return fmt.Errorf("unknown format %q (auto, jsonl, html)", format)
		}

		reg := vendorRegistry()
		if vendor != "" {
			if c, ok := reg.Canonical(vendor); ok {
				vendor = c
			} else {
				utils.Log.Warnf("Vendor %q is not in the configured list, importing it anyway", vendor)
			}
		}

		client, err := httpClient()
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		imp := &importer{
			db:        db,
			client:    client,
			reg:       reg,
			adapter:   vendors.NewAdapter(reg, vendor),
			vendor:    vendor,
			batchSize: batchSize,
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return withWriteLock(ctx, func() error {
			for _, src := range args {
				if err := imp.importSource(ctx, src, format); err != nil {
					return fmt.Errorf("%s: %w", src, err)
				}
			}
			utils.Log.Infof("Imported %s observations (%s skipped, %s malformed lines)",
				humanize.Comma(int64(imp.saved)), humanize.Comma(int64(imp.skipped)), humanize.Comma(int64(imp.malformed)))
			return nil
		})
	},
}

type importer struct {
	db        *storage.DB
	client    *whttp.Client
	reg       *vendors.Registry
	adapter   *vendors.Adapter
	vendor    string
	batchSize int

	saved, skipped, malformed int
}

func (imp *importer) importSource(ctx context.Context, src, format string) error {
	rc, err := imp.open(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	if format == "auto" {
		head, _ := br.Peek(512)
		format = detectFormat(src, head)
	}

	if format == "html" {
		body, err := io.ReadAll(br)
		if err != nil {
			return err
		}
		return imp.importPage(ctx, src, body)
	}

	st, err := vendors.ReadFeed(br, imp.adapter, imp.batchSize, func(batch []prices.Observation) error {
		return imp.save(ctx, batch)
	})
	imp.malformed += st.Malformed
	if st.FirstErr != nil {
		utils.Log.Warnf("%s: %d malformed lines, first: %v", src, st.Malformed, st.FirstErr)
	}
	utils.Log.Debugf("%s: %d lines, %d parsed", src, st.Lines, st.Parsed)
	return err
}

func (imp *importer) importPage(ctx context.Context, src string, body []byte) error {
	pageURL := src
	if !isRemote(src) {
		pageURL = ""
	}

	obs, err := vendors.ParseProductPage(bytes.NewReader(body), pageURL, imp.reg)
	switch {
	case errors.Is(err, vendors.ErrUnknownVendor) && imp.vendor != "":
		obs.Vendor = imp.vendor
	case errors.Is(err, vendors.ErrMissingField):
		if title := whttp.PageTitle(body); title != "" {
			return fmt.Errorf("no product data in page %q: %w", title, err)
		}
		return err
	case err != nil:
		return err
	}
	return imp.save(ctx, []prices.Observation{obs})
}

func (imp *importer) save(ctx context.Context, batch []prices.Observation) error {
	res, err := imp.db.SaveObservations(ctx, batch)
	if err != nil {
		return err
	}
	imp.saved += res.Saved
	imp.skipped += res.Skipped
	return nil
}

func (imp *importer) open(ctx context.Context, src string) (io.ReadCloser, error) {
	switch {
	case src == "-":
		return io.NopCloser(os.Stdin), nil
	case isRemote(src):
		utils.Log.Debugf("Fetching %s", src)
		body, err := imp.client.Get(ctx, src)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(body)), nil
	default:
		return os.Open(src)
	}
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func detectFormat(src string, head []byte) string {
	switch strings.ToLower(filepath.Ext(src)) {
	case ".html", ".htm":
		return "html"
	case ".jsonl", ".json", ".ndjson":
		return "jsonl"
	}
	if trimmed := bytes.TrimSpace(head); len(trimmed) > 0 && trimmed[0] == '<' {
		return "html"
	}
	return "jsonl"
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringP("vendor", "v", "", "Vendor for records that carry none (default: resolved from the product URL)")
	importCmd.Flags().StringP("format", "f", "auto", "Input format: auto, jsonl, html")
	importCmd.Flags().Int("batch-size", 0, "Observations per database transaction (default from config)")
}
