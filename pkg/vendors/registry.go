// Package vendors knows the pharmacies being compared and turns their
// heterogeneous payloads (JSON Lines exports, product pages) into
// prices.Observation values.
package vendors

import (
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

var (
	ErrUnknownVendor = errors.New("unknown vendor")
	ErrMissingField  = errors.New("missing required field")
)

// Default is the canonical column order of the comparison.
var Default = []string{
	"DosFarma",
	"FarmaciasDirect",
	"PromoFarma",
	"Atida",
	"FarmaciasVazquez",
}

// DefaultDomains maps registrable domains to vendor names.
var DefaultDomains = map[string]string{
	"dosfarma.com":        "DosFarma",
	"farmaciasdirect.com": "FarmaciasDirect",
	"farmaciasdirect.es":  "FarmaciasDirect",
	"promofarma.com":      "PromoFarma",
	"atida.com":           "Atida",
	"farmavazquez.com":    "FarmaciasVazquez",
}

// Registry resolves vendor names and product URLs to canonical vendors.
type Registry struct {
	names   []string
	byLower map[string]string
	domains map[string]string
}

// NewRegistry builds a registry. Domains pointing at a vendor missing from
// names are still honoured and the vendor is appended.
func NewRegistry(names []string, domains map[string]string) *Registry {
	r := &Registry{
		byLower: make(map[string]string),
		domains: make(map[string]string),
	}
	for _, n := range names {
		r.add(n)
	}

	keys := make([]string, 0, len(domains))
	for d := range domains {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	for _, d := range keys {
		name := r.add(domains[d])
		r.domains[strings.ToLower(strings.TrimSpace(d))] = name
	}
	return r
}

// DefaultRegistry returns a registry over Default and DefaultDomains.
func DefaultRegistry() *Registry {
	return NewRegistry(Default, DefaultDomains)
}

func (r *Registry) add(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if c, ok := r.byLower[strings.ToLower(name)]; ok {
		return c
	}
	r.byLower[strings.ToLower(name)] = name
	r.names = append(r.names, name)
	return name
}

// Names returns the vendors in canonical order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Domains returns a copy of the domain -> vendor mapping.
func (r *Registry) Domains() map[string]string {
	out := make(map[string]string, len(r.domains))
	for k, v := range r.domains {
		out[k] = v
	}
	return out
}

// Canonical matches name case-insensitively against the registered vendors.
func (r *Registry) Canonical(name string) (string, bool) {
	c, ok := r.byLower[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// FromURL returns the vendor owning the registrable domain of rawURL.
func (r *Registry) FromURL(rawURL string) (string, error) {
	domain, ok := rootDomain(rawURL)
	if !ok {
		return "", ErrUnknownVendor
	}
	if v, ok := r.domains[domain]; ok {
		return v, nil
	}
	return "", ErrUnknownVendor
}

// rootDomain extracts the registrable domain of a URL or bare host.
// e.g., "https://www.dosfarma.com/crema" -> "dosfarma.com", true
func rootDomain(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "://") && strings.Contains(s, ".") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if !strings.Contains(host, ".") {
		return "", false
	}

	domain, err := publicsuffix.Domain(host)
	if err != nil {
		return "", false
	}
	return domain, true
}
