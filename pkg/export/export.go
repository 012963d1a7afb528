// Package export writes consolidated rows as an aligned table, CSV or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/farmasearch/farmasearch/pkg/consolidate"
	"github.com/shopspring/decimal"
)

// Header returns the column names for res: product, EAN, a
// price/stock/URL triple per vendor, then the price range.
func Header(res consolidate.Result) []string {
	h := []string{"Product", "EAN"}
	for _, v := range res.Vendors {
		h = append(h, v+"_Price", v+"_InStock", v+"_URL")
	}
	return append(h, "PriceMin", "PriceMax", "Savings")
}

// Record flattens a row in Header order.
func Record(r consolidate.Row) []string {
	rec := []string{r.Name, r.EAN}
	for _, o := range r.Offers {
		if !o.Price.Valid {
			rec = append(rec, "", "", "")
			continue
		}
		rec = append(rec, money(o.Price), strconv.FormatBool(o.InStock), o.URL)
	}
	return append(rec, money(r.PriceMin), money(r.PriceMax), r.Savings.StringFixed(2))
}

func money(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}

// WriteCSV writes the header and every row.
func WriteCSV(w io.Writer, res consolidate.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(res)); err != nil {
		return err
	}
	for _, r := range res.Rows {
		if err := cw.Write(Record(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable prints the first limit rows (all when limit <= 0) without the
// URL columns, which would make the table unreadable.
func WriteTable(w io.Writer, res consolidate.Result, limit int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprint(tw, "SAVINGS\tMIN\tMAX")
	for _, v := range res.Vendors {
		fmt.Fprintf(tw, "\t%s", v)
	}
	fmt.Fprintln(tw, "\tPRODUCT\t")

	rows := res.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s", r.Savings.StringFixed(2), money(r.PriceMin), money(r.PriceMax))
		for _, o := range r.Offers {
			switch {
			case !o.Price.Valid:
				fmt.Fprint(tw, "\t-")
			case o.InStock:
				fmt.Fprintf(tw, "\t%s", money(o.Price))
			default:
				fmt.Fprintf(tw, "\t%s*", money(o.Price))
			}
		}
		name := r.Name
		if r.EANConflict {
			name += " (!)"
		}
		fmt.Fprintf(tw, "\t%s\t\n", name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%s of %s products shown (* out of stock, (!) conflicting EANs)\n",
		humanize.Comma(int64(len(rows))), humanize.Comma(int64(len(res.Rows))))
	return err
}

type jsonOffer struct {
	Vendor  string `json:"vendor"`
	Price   string `json:"price,omitempty"`
	InStock bool   `json:"in_stock"`
	URL     string `json:"url,omitempty"`
}

type jsonRow struct {
	MatchKey    string      `json:"match_key"`
	Name        string      `json:"name"`
	EAN         string      `json:"ean,omitempty"`
	Offers      []jsonOffer `json:"offers"`
	PriceMin    string      `json:"price_min"`
	PriceMax    string      `json:"price_max"`
	Savings     string      `json:"savings"`
	EANConflict bool        `json:"ean_conflict,omitempty"`
}

type jsonResult struct {
	Vendors        []string  `json:"vendors"`
	UnknownVendors []string  `json:"unknown_vendors,omitempty"`
	EANConflicts   int       `json:"ean_conflicts"`
	Rows           []jsonRow `json:"rows"`
}

// WriteJSON writes the whole result as one indented document. Prices are
// strings to keep their exact decimal form.
func WriteJSON(w io.Writer, res consolidate.Result) error {
	out := jsonResult{
		Vendors:        res.Vendors,
		UnknownVendors: res.UnknownVendors,
		EANConflicts:   res.EANConflicts,
		Rows:           make([]jsonRow, 0, len(res.Rows)),
	}
	for _, r := range res.Rows {
		jr := jsonRow{
			MatchKey:    r.MatchKey,
			Name:        r.Name,
			EAN:         r.EAN,
			PriceMin:    money(r.PriceMin),
			PriceMax:    money(r.PriceMax),
			Savings:     r.Savings.StringFixed(2),
			EANConflict: r.EANConflict,
		}
		for _, o := range r.Offers {
			if !o.Price.Valid {
				continue
			}
			jr.Offers = append(jr.Offers, jsonOffer{Vendor: o.Vendor, Price: money(o.Price), InStock: o.InStock, URL: o.URL})
		}
		out.Rows = append(out.Rows, jr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
