// Package aggregate groups price observations by match key and keeps, per
// group and vendor, the single best offer seen so far.
package aggregate

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/farmasearch/farmasearch/pkg/matchkey"
	"github.com/farmasearch/farmasearch/pkg/normalize"
	"github.com/farmasearch/farmasearch/pkg/prices"
	"github.com/shopspring/decimal"
)

// Stats counts what happened to the observations fed to an Aggregator.
type Stats struct {
	Seen          int // every observation passed to Add
	Accepted      int
	MissingPrice  int
	MissingURL    int
	MissingVendor int
	EANConflicts  int // groups that saw two different valid EANs; see Group.EANConflict
}

// Discarded is the number of observations that could not take part in
// the comparison.
func (s Stats) Discarded() int {
	return s.MissingPrice + s.MissingURL + s.MissingVendor
}

// Aggregator owns the match key -> group mapping of a single run.
type Aggregator struct {
	mu     sync.Mutex
	groups map[string]*Group
	stats  Stats
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{groups: make(map[string]*Group)}
}

// Add feeds one observation. It returns false when the observation was
// discarded because it lacks a price, a URL or a vendor.
func (a *Aggregator) Add(obs prices.Observation) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Seen++
	switch {
	case !obs.HasPrice():
		a.stats.MissingPrice++
		return false
	case strings.TrimSpace(obs.URL) == "":
		a.stats.MissingURL++
		return false
	case strings.TrimSpace(obs.Vendor) == "":
		a.stats.MissingVendor++
		return false
	}

	key := matchkey.Resolve(obs.EAN, obs.Name)
	g, ok := a.groups[key]
	if !ok {
		g = &Group{Key: key, Offers: make(map[string]Offer)}
		a.groups[key] = g
	}

	g.observeName(obs.Name)
	if normalize.IsValidEAN(obs.EAN) && g.observeEAN(obs.EAN) {
		a.stats.EANConflicts++
	}
	g.observeOffer(obs.Vendor, Offer{
		Price:   obs.Price.Decimal,
		URL:     obs.URL,
		InStock: obs.InStock,
	})

	a.stats.Accepted++
	return true
}

// AddAll feeds a page of observations and returns how many were accepted.
func (a *Aggregator) AddAll(obs []prices.Observation) int {
	accepted := 0
	for _, o := range obs {
		if a.Add(o) {
			accepted++
		}
	}
	return accepted
}

// Len returns the number of distinct match keys seen.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Stats returns a copy of the running counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Group returns a copy of the group for key.
func (a *Aggregator) Group(key string) (Group, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[key]
	if !ok {
		return Group{}, false
	}
	return g.clone(), true
}

// Groups returns copies of every group, sorted by match key.
func (a *Aggregator) Groups() []Group {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Group, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, g.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Group is the aggregation result for one match key.
type Group struct {
	Key           string
	ReferenceName string
	ReferenceEAN  string

	// EANConflict is set when a second, different valid EAN showed up
	// under this key. The first one is kept in ReferenceEAN. Add never sets
	// it: a valid EAN always becomes its own key, and name keyed groups only
	// see observations without one. It is carried through to the output for
	// groups merged by other means.
	EANConflict bool

	Offers map[string]Offer // vendor -> best offer
}

// Offer is the best known observation of one vendor for a group.
type Offer struct {
	Price   decimal.Decimal
	URL     string
	InStock bool
}

// Better reports whether o should replace cur: in stock beats out of
// stock, then the lower price wins. Equal offers are ordered by URL so the
// outcome does not depend on arrival order.
func (o Offer) Better(cur Offer) bool {
	if o.InStock != cur.InStock {
		return o.InStock
	}
	if c := o.Price.Cmp(cur.Price); c != 0 {
		return c < 0
	}
	return o.URL < cur.URL
}

func (g *Group) observeName(name string) {
	if utf8.RuneCountInString(name) > utf8.RuneCountInString(g.ReferenceName) {
		g.ReferenceName = name
	}
}

// observeEAN records a valid EAN and reports whether it turned the group
// into a conflicting one.
func (g *Group) observeEAN(ean string) bool {
	switch {
	case g.ReferenceEAN == "":
		g.ReferenceEAN = ean
	case g.ReferenceEAN != ean && !g.EANConflict:
		g.EANConflict = true
		return true
	}
	return false
}

func (g *Group) observeOffer(vendor string, o Offer) {
	cur, ok := g.Offers[vendor]
	if !ok || o.Better(cur) {
		g.Offers[vendor] = o
	}
}

func (g Group) clone() Group {
	offers := make(map[string]Offer, len(g.Offers))
	for k, v := range g.Offers {
		offers[k] = v
	}
	g.Offers = offers
	return g
}
