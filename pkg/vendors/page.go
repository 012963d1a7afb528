package vendors

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/farmasearch/farmasearch/pkg/prices"
	"github.com/tidwall/gjson"
)

// ParseProductPage extracts an observation from a vendor product page.
// Sources are tried in order: schema.org JSON-LD, microdata, then
// OpenGraph/product meta tags. When the page URL belongs to no registered
// vendor the error wraps ErrUnknownVendor and the returned observation is
// otherwise complete, so callers may supply the vendor themselves.
func ParseProductPage(r io.Reader, pageURL string, reg *Registry) (prices.Observation, error) {
	var obs prices.Observation
	if reg == nil {
		reg = DefaultRegistry()
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return obs, err
	}

	fromJSONLD(doc, &obs)
	fromMicrodata(doc, &obs)
	fromMeta(doc, &obs)

	if obs.URL == "" || pageURL != "" {
		obs.URL = strings.TrimSpace(pageURL)
	}
	if obs.Name == "" {
		return obs, fmt.Errorf("name: %w", ErrMissingField)
	}
	if obs.URL == "" {
		return obs, fmt.Errorf("url: %w", ErrMissingField)
	}

	vendor, err := reg.FromURL(obs.URL)
	if err != nil {
		return obs, fmt.Errorf("vendor for %s: %w", obs.URL, err)
	}
	obs.Vendor = vendor
	return obs, nil
}

// fromJSONLD fills obs from the first schema.org Product found in any
// ld+json block.
func fromJSONLD(doc *goquery.Document, obs *prices.Observation) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if !gjson.Valid(raw) {
			return true
		}
		p, ok := findProduct(gjson.Parse(raw))
		if !ok {
			return true
		}

		obs.Name = strings.TrimSpace(p.Get("name").String())
		obs.URL = strings.TrimSpace(p.Get("url").String())
		obs.Category = strings.TrimSpace(p.Get("category").String())
		for _, k := range []string{"gtin13", "gtin", "gtin14", "gtin12", "gtin8", "ean"} {
			if v := scalarText(p.Get(k)); v != "" {
				obs.EAN = v
				break
			}
		}

		offer := p.Get("offers")
		if offer.IsArray() {
			offer = offer.Get("0")
		}
		price := first(offer, []string{"price", "lowPrice", "priceSpecification.price"})
		obs.Price = priceOf(price)
		if av := offer.Get("availability"); av.Exists() {
			obs.InStock = ParseStock(av.String())
		} else {
			obs.InStock = obs.Price.Valid
		}
		return false
	})
}

func findProduct(v gjson.Result) (gjson.Result, bool) {
	if v.IsArray() {
		for _, item := range v.Array() {
			if p, ok := findProduct(item); ok {
				return p, true
			}
		}
		return gjson.Result{}, false
	}
	if isProductType(v.Get("@type")) {
		return v, true
	}
	if g := v.Get("@graph"); g.Exists() {
		return findProduct(g)
	}
	return gjson.Result{}, false
}

func isProductType(t gjson.Result) bool {
	if t.IsArray() {
		for _, x := range t.Array() {
			if isProductType(x) {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(t.String(), "Product")
}

// fromMicrodata fills the fields JSON-LD left empty from itemprop markup.
func fromMicrodata(doc *goquery.Document, obs *prices.Observation) {
	scope := doc.Find(`[itemtype*="schema.org/Product"]`).First()
	if scope.Length() == 0 {
		return
	}

	if obs.Name == "" {
		obs.Name = itemprop(scope, "name")
	}
	if obs.EAN == "" {
		for _, k := range []string{"gtin13", "gtin", "gtin14", "gtin8"} {
			if v := itemprop(scope, k); v != "" {
				obs.EAN = v
				break
			}
		}
	}
	if obs.URL == "" {
		obs.URL = itemprop(scope, "url")
	}
	if !obs.Price.Valid {
		obs.Price = prices.ParsePrice(itemprop(scope, "price"))
		if av := itemprop(scope, "availability"); av != "" {
			obs.InStock = ParseStock(av)
		} else {
			obs.InStock = obs.Price.Valid
		}
	}
}

func itemprop(scope *goquery.Selection, name string) string {
	s := scope.Find(`[itemprop="` + name + `"]`).First()
	if s.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"content", "href", "value"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(s.Text())
}

// fromMeta is the last resort: OpenGraph and product:* meta tags.
func fromMeta(doc *goquery.Document, obs *prices.Observation) {
	if obs.Name == "" {
		obs.Name = meta(doc, "og:title")
	}
	if obs.URL == "" {
		obs.URL = meta(doc, "og:url")
	}
	if obs.EAN == "" {
		obs.EAN = meta(doc, "product:ean")
	}
	if !obs.Price.Valid {
		obs.Price = prices.ParsePrice(meta(doc, "product:price:amount", "og:price:amount"))
		if av := meta(doc, "product:availability", "og:availability"); av != "" {
			obs.InStock = ParseStock(av)
		} else {
			obs.InStock = obs.Price.Valid
		}
	}
}

func meta(doc *goquery.Document, names ...string) string {
	for _, n := range names {
		for _, attr := range []string{"property", "name"} {
			if v, ok := doc.Find(`meta[` + attr + `="` + n + `"]`).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}
