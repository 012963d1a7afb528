package vendors

import (
	"fmt"
	"strings"
	"time"

	"github.com/farmasearch/farmasearch/pkg/prices"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// FieldMap lists, per observation field, the gjson paths tried in order.
type FieldMap struct {
	Name          []string
	URL           []string
	EAN           []string
	Price         []string
	OriginalPrice []string
	InStock       []string
	Vendor        []string
	Category      []string
	CapturedAt    []string
}

// DefaultFieldMap covers the exports of the supported pharmacies and the
// usual Spanish/English spellings scrapers emit. Vendor SKUs are never read
// as EANs: they are shop-internal and would merge unrelated products.
var DefaultFieldMap = FieldMap{
	Name:          []string{"name", "nombre", "title", "product_name"},
	URL:           []string{"url", "link", "product_url", "href"},
	EAN:           []string{"ean", "gtin", "gtin13", "ean13", "barcode", "codigo_barras"},
	Price:         []string{"price", "precio", "price.value", "price.amount", "offers.price", "sale_price"},
	OriginalPrice: []string{"original_price", "precio_original", "regular_price", "pvp", "list_price"},
	InStock:       []string{"in_stock", "en_stock", "available", "availability", "stock", "offers.availability"},
	Vendor:        []string{"vendor", "pharmacy", "farmacia", "source", "shop"},
	Category:      []string{"category", "categoria", "breadcrumb"},
	CapturedAt:    []string{"captured_at", "scraped_at", "timestamp", "date"},
}

// Adapter turns one JSON object per line into an observation.
type Adapter struct {
	Fields FieldMap

	// DefaultVendor is used when the record carries no vendor field. When
	// empty the vendor is resolved from the product URL.
	DefaultVendor string
	Registry      *Registry

	now func() time.Time
}

// NewAdapter returns an adapter using DefaultFieldMap.
func NewAdapter(reg *Registry, defaultVendor string) *Adapter {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Adapter{
		Fields:        DefaultFieldMap,
		DefaultVendor: defaultVendor,
		Registry:      reg,
		now:           time.Now,
	}
}

// Parse converts a JSON line. Name and URL are required; a missing or
// malformed price leaves Price invalid rather than failing.
func (a *Adapter) Parse(line []byte) (prices.Observation, error) {
	var obs prices.Observation
	if !gjson.ValidBytes(line) {
		return obs, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(line)

	obs.Name = strings.TrimSpace(first(doc, a.Fields.Name).String())
	if obs.Name == "" {
		return obs, fmt.Errorf("name: %w", ErrMissingField)
	}
	obs.URL = strings.TrimSpace(first(doc, a.Fields.URL).String())
	if obs.URL == "" {
		return obs, fmt.Errorf("url: %w", ErrMissingField)
	}

	obs.EAN = scalarText(first(doc, a.Fields.EAN))
	obs.Category = strings.TrimSpace(first(doc, a.Fields.Category).String())
	obs.Price = priceOf(first(doc, a.Fields.Price))
	obs.OriginalPrice = priceOf(first(doc, a.Fields.OriginalPrice))

	if v := first(doc, a.Fields.InStock); v.Exists() {
		obs.InStock = stockOf(v)
	} else {
		obs.InStock = true
	}

	vendor, err := a.vendorOf(first(doc, a.Fields.Vendor).String(), obs.URL)
	if err != nil {
		return obs, err
	}
	obs.Vendor = vendor

	obs.CapturedAt = timeOf(first(doc, a.Fields.CapturedAt))
	if obs.CapturedAt.IsZero() && a.now != nil {
		obs.CapturedAt = a.now().UTC()
	}
	return obs, nil
}

func (a *Adapter) vendorOf(field, productURL string) (string, error) {
	reg := a.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}

	name := strings.TrimSpace(field)
	if name == "" {
		name = strings.TrimSpace(a.DefaultVendor)
	}
	if name != "" {
		if c, ok := reg.Canonical(name); ok {
			return c, nil
		}
		// Unregistered vendors are kept as given.
		return name, nil
	}

	v, err := reg.FromURL(productURL)
	if err != nil {
		return "", fmt.Errorf("vendor for %s: %w", productURL, err)
	}
	return v, nil
}

// first returns the first alias that resolves to a scalar value.
func first(doc gjson.Result, paths []string) gjson.Result {
	for _, p := range paths {
		v := doc.Get(p)
		if !v.Exists() || v.Type == gjson.Null || v.IsObject() || v.IsArray() {
			continue
		}
		if v.Type == gjson.String && strings.TrimSpace(v.Str) == "" {
			continue
		}
		return v
	}
	return gjson.Result{}
}

// scalarText keeps numbers in their literal form so long EANs are not
// rounded through float64.
func scalarText(v gjson.Result) string {
	switch v.Type {
	case gjson.Number:
		return v.Raw
	case gjson.String:
		return strings.TrimSpace(v.Str)
	default:
		return ""
	}
}

func priceOf(v gjson.Result) decimal.NullDecimal {
	switch v.Type {
	case gjson.Number:
		return prices.ParseNumber(v.Raw)
	case gjson.String:
		return prices.ParsePrice(v.Str)
	}
	return decimal.NullDecimal{}
}

func stockOf(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Number:
		return v.Float() > 0
	case gjson.String:
		return ParseStock(v.Str)
	}
	return false
}

var inStockWords = map[string]bool{
	"instock": true, "in stock": true, "in_stock": true, "en stock": true,
	"available": true, "disponible": true, "limitedavailability": true,
	"preorder": true, "yes": true, "y": true, "si": true, "sí": true,
	"true": true, "1": true,
}

// ParseStock interprets the availability strings vendors publish, including
// schema.org ItemAvailability URLs. Anything unrecognised is out of stock.
func ParseStock(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return inStockWords[s]
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func timeOf(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		return time.Unix(v.Int(), 0).UTC()
	case gjson.String:
		for _, l := range timeLayouts {
			if t, err := time.Parse(l, strings.TrimSpace(v.Str)); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
