// Package consolidate pivots aggregated product groups into one row per
// product with a price/stock/URL column triple per vendor, ranked by how
// much a buyer saves by picking the cheapest vendor.
package consolidate

import (
	"sort"

	"github.com/farmasearch/farmasearch/pkg/aggregate"
	"github.com/shopspring/decimal"
)

// Options controls the column layout and the price range computation.
type Options struct {
	// Vendors is the canonical column order. Vendors seen in the data but
	// missing here are appended in name order unless DropUnknownVendors.
	Vendors            []string
	DropUnknownVendors bool

	// InStockOnly restricts PriceMin/PriceMax/Savings to in-stock offers.
	InStockOnly bool
}

// VendorOffer is one vendor column of a row. Price is invalid when the
// vendor has no offer for the product.
type VendorOffer struct {
	Vendor  string
	Price   decimal.NullDecimal
	InStock bool
	URL     string
}

// Row is a consolidated product.
type Row struct {
	MatchKey    string
	Name        string
	EAN         string
	Offers      []VendorOffer // one per Result.Vendors entry, same order
	PriceMin    decimal.NullDecimal
	PriceMax    decimal.NullDecimal
	Savings     decimal.Decimal
	EANConflict bool
}

// Offer returns the column for vendor.
func (r Row) Offer(vendor string) (VendorOffer, bool) {
	for _, o := range r.Offers {
		if o.Vendor == vendor {
			return o, true
		}
	}
	return VendorOffer{}, false
}

// Result is the output of a consolidation.
type Result struct {
	Vendors        []string // column order
	Rows           []Row
	UnknownVendors []string // vendors seen in the data but not configured
	EANConflicts   int
}

// Consolidate builds the sorted row list. Groups without any usable price
// are left out.
func Consolidate(groups []aggregate.Group, opts Options) Result {
	res := Result{}
	res.Vendors, res.UnknownVendors = columns(groups, opts)

	for _, g := range groups {
		row, ok := buildRow(g, res.Vendors, opts.InStockOnly)
		if !ok {
			continue
		}
		if row.EANConflict {
			res.EANConflicts++
		}
		res.Rows = append(res.Rows, row)
	}

	sort.SliceStable(res.Rows, func(i, j int) bool {
		if c := res.Rows[i].Savings.Cmp(res.Rows[j].Savings); c != 0 {
			return c > 0
		}
		return res.Rows[i].MatchKey < res.Rows[j].MatchKey
	})
	return res
}

func columns(groups []aggregate.Group, opts Options) (cols, unknown []string) {
	known := make(map[string]bool, len(opts.Vendors))
	for _, v := range opts.Vendors {
		if known[v] {
			continue
		}
		known[v] = true
		cols = append(cols, v)
	}

	seen := make(map[string]bool)
	for _, g := range groups {
		for v := range g.Offers {
			if !known[v] && !seen[v] {
				seen[v] = true
				unknown = append(unknown, v)
			}
		}
	}
	sort.Strings(unknown)

	if !opts.DropUnknownVendors {
		cols = append(cols, unknown...)
	}
	return cols, unknown
}

func buildRow(g aggregate.Group, cols []string, inStockOnly bool) (Row, bool) {
	row := Row{
		MatchKey:    g.Key,
		Name:        g.ReferenceName,
		EAN:         g.ReferenceEAN,
		EANConflict: g.EANConflict,
		Offers:      make([]VendorOffer, 0, len(cols)),
	}

	var lo, hi decimal.Decimal
	priced := 0
	for _, v := range cols {
		o, ok := g.Offers[v]
		if !ok {
			row.Offers = append(row.Offers, VendorOffer{Vendor: v})
			continue
		}
		row.Offers = append(row.Offers, VendorOffer{
			Vendor:  v,
			Price:   decimal.NewNullDecimal(o.Price),
			InStock: o.InStock,
			URL:     o.URL,
		})
		if inStockOnly && !o.InStock {
			continue
		}
		if priced == 0 || o.Price.LessThan(lo) {
			lo = o.Price
		}
		if priced == 0 || o.Price.GreaterThan(hi) {
			hi = o.Price
		}
		priced++
	}

	if priced == 0 {
		return Row{}, false
	}
	row.PriceMin = decimal.NewNullDecimal(lo)
	row.PriceMax = decimal.NewNullDecimal(hi)
	if priced > 1 {
		row.Savings = hi.Sub(lo)
	}
	return row, true
}
