package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/farmasearch/farmasearch/pkg/consolidate"
	"github.com/farmasearch/farmasearch/pkg/prices"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func sampleResult() consolidate.Result {
	return consolidate.Result{
		Vendors: []string{"DosFarma", "Atida"},
		Rows: []consolidate.Row{
			{
				MatchKey: "8412345678901",
				Name:     "Crema X",
				EAN:      "8412345678901",
				Offers: []consolidate.VendorOffer{
					{Vendor: "DosFarma", Price: prices.ParsePrice("5"), InStock: true, URL: "https://www.dosfarma.com/x"},
					{Vendor: "Atida", Price: prices.ParsePrice("4.5"), InStock: false, URL: "https://www.atida.com/x"},
				},
				PriceMin: prices.ParsePrice("4.5"),
				PriceMax: prices.ParsePrice("5"),
				Savings:  decimal.RequireFromString("0.5"),
			},
			{
				MatchKey:    "NAME_gel",
				Name:        "Gel",
				EANConflict: true,
				Offers: []consolidate.VendorOffer{
					{Vendor: "DosFarma", Price: prices.ParsePrice("2"), InStock: true, URL: "https://www.dosfarma.com/g"},
					{Vendor: "Atida"},
				},
				PriceMin: prices.ParsePrice("2"),
				PriceMax: prices.ParsePrice("2"),
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResult()))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, []string{
		"Product", "EAN",
		"DosFarma_Price", "DosFarma_InStock", "DosFarma_URL",
		"Atida_Price", "Atida_InStock", "Atida_URL",
		"PriceMin", "PriceMax", "Savings",
	}, recs[0])
	assert.Equal(t, []string{
		"Crema X", "8412345678901",
		"5.00", "true", "https://www.dosfarma.com/x",
		"4.50", "false", "https://www.atida.com/x",
		"4.50", "5.00", "0.50",
	}, recs[1])
	assert.Equal(t, []string{"", "", ""}, recs[2][5:8])
	assert.Equal(t, "0.00", recs[2][10])
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sampleResult(), 1))

	out := buf.String()
	assert.Contains(t, out, "SAVINGS")
	assert.Contains(t, out, "4.50*")
	assert.Contains(t, out, "Crema X")
	assert.NotContains(t, out, "Gel")
	assert.Contains(t, out, "1 of 2 products shown")
}

func TestWriteTableMarksConflicts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sampleResult(), 0))
	assert.Contains(t, buf.String(), "Gel (!)")
	assert.True(t, strings.Contains(buf.String(), "2 of 2 products shown"))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleResult()))

	doc := buf.String()
	assert.Equal(t, int64(2), gjson.Get(doc, "rows.#").Int())
	assert.Equal(t, "0.50", gjson.Get(doc, "rows.0.savings").String())
	assert.Equal(t, "4.50", gjson.Get(doc, "rows.0.offers.1.price").String())
	assert.Equal(t, int64(1), gjson.Get(doc, "rows.1.offers.#").Int())
	assert.True(t, gjson.Get(doc, "rows.1.ean_conflict").Bool())
	assert.Equal(t, []interface{}{"DosFarma", "Atida"}, gjson.Get(doc, "vendors").Value())
}
