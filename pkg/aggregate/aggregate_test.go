package aggregate

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/farmasearch/farmasearch/pkg/prices"
)

func obs(vendor, name, ean, price string, inStock bool, url string) prices.Observation {
	return prices.Observation{
		Vendor:  vendor,
		Name:    name,
		EAN:     ean,
		Price:   prices.ParsePrice(price),
		InStock: inStock,
		URL:     url,
	}
}

func TestAddGroupsByEAN(t *testing.T) {
	a := New()
	a.Add(obs("DosFarma", "Crema X 50ml", "8412345678901", "10.00", true, "https://d/1"))
	a.Add(obs("PromoFarma", "CREMA X 50 ML", "8412345678901", "9.00", true, "https://p/1"))

	if a.Len() != 1 {
		t.Fatalf("expected one group, got %d", a.Len())
	}
	g, ok := a.Group("8412345678901")
	if !ok {
		t.Fatalf("group keyed by ean not found")
	}
	if len(g.Offers) != 2 {
		t.Fatalf("expected two vendors, got %d", len(g.Offers))
	}
	if g.ReferenceEAN != "8412345678901" {
		t.Fatalf("unexpected reference ean %q", g.ReferenceEAN)
	}
	if g.ReferenceName != "CREMA X 50 ML" {
		t.Fatalf("unexpected reference name %q", g.ReferenceName)
	}
}

func TestAddFallsBackToName(t *testing.T) {
	a := New()
	a.Add(obs("Atida", "Vitamina C 1000mg", "abc123", "6.00", true, "https://a/1"))

	if _, ok := a.Group("NAME_vitamina c 1000mg"); !ok {
		t.Fatalf("expected a name-keyed group, got %+v", a.Groups())
	}
}

func TestReferenceNameLongestWins(t *testing.T) {
	a := New()
	a.Add(obs("V1", "Ibuprofeno", "", "3.00", true, "u1"))
	a.Add(obs("V2", "ibuprofeno", "", "3.10", true, "u2"))
	a.Add(obs("V3", "IBUPROFENO ", "", "3.20", true, "u3"))

	g, _ := a.Group("NAME_ibuprofeno")
	if g.ReferenceName != "IBUPROFENO " {
		t.Fatalf("expected strictly longer name to win, got %q", g.ReferenceName)
	}

	a2 := New()
	a2.Add(obs("V1", "Ibuprofeno", "", "3.00", true, "u1"))
	a2.Add(obs("V2", "IBUPROFENO", "", "3.10", true, "u2"))
	g2, _ := a2.Group("NAME_ibuprofeno")
	if g2.ReferenceName != "Ibuprofeno" {
		t.Fatalf("expected first seen name on a tie, got %q", g2.ReferenceName)
	}
}

func TestBestOfferSelection(t *testing.T) {
	tests := []struct {
		name    string
		input   []prices.Observation
		price   string
		inStock bool
	}{
		{
			name: "lower price wins at equal stock",
			input: []prices.Observation{
				obs("V", "p", "", "5.00", true, "a"),
				obs("V", "p", "", "4.00", true, "b"),
			},
			price: "4", inStock: true,
		},
		{
			name: "in stock beats cheaper out of stock",
			input: []prices.Observation{
				obs("V", "p", "", "3.00", false, "a"),
				obs("V", "p", "", "8.00", true, "b"),
			},
			price: "8", inStock: true,
		},
		{
			name: "out of stock only still contributes",
			input: []prices.Observation{
				obs("V", "p", "", "7.00", false, "a"),
				obs("V", "p", "", "6.00", false, "b"),
			},
			price: "6", inStock: false,
		},
		{
			name: "missing price never selected",
			input: []prices.Observation{
				obs("V", "p", "", "9.00", false, "a"),
				obs("V", "p", "", "", true, "b"),
			},
			price: "9", inStock: false,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			a := New()
			a.AddAll(tc.input)
			g, ok := a.Group("NAME_p")
			if !ok {
				t.Fatalf("group missing")
			}
			got := g.Offers["V"]
			if got.Price.String() != tc.price || got.InStock != tc.inStock {
				t.Fatalf("best offer = (%s, %t), want (%s, %t)", got.Price, got.InStock, tc.price, tc.inStock)
			}
		})
	}
}

func TestAddDiscards(t *testing.T) {
	a := New()
	if a.Add(obs("V", "p", "", "", true, "u")) {
		t.Fatalf("observation without price accepted")
	}
	if a.Add(obs("V", "p", "", "1.00", true, "")) {
		t.Fatalf("observation without url accepted")
	}
	if a.Add(obs("", "p", "", "1.00", true, "u")) {
		t.Fatalf("observation without vendor accepted")
	}

	st := a.Stats()
	if st.Seen != 3 || st.Accepted != 0 || st.Discarded() != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.MissingPrice != 1 || st.MissingURL != 1 || st.MissingVendor != 1 {
		t.Fatalf("unexpected per-reason counters %+v", st)
	}
	if a.Len() != 0 {
		t.Fatalf("discarded observations created groups")
	}
}

func TestEANConflictCountedOncePerGroup(t *testing.T) {
	g := &Group{Key: "NAME_x", Offers: map[string]Offer{}}
	if g.observeEAN("8412345678901") {
		t.Fatalf("first ean reported as conflict")
	}
	if !g.observeEAN("8400000000001") {
		t.Fatalf("second different ean not reported")
	}
	if g.observeEAN("8400000000002") {
		t.Fatalf("conflict reported twice for one group")
	}
	if g.ReferenceEAN != "8412345678901" || !g.EANConflict {
		t.Fatalf("first ean not kept: %+v", g)
	}
}

func TestAddSameNameDifferentEANsSplits(t *testing.T) {
	a := New()
	a.Add(obs("Atida", "Crema X", "8412345678901", "5.00", true, "https://www.atida.com/x"))
	a.Add(obs("DosFarma", "Crema X", "8400000000001", "4.00", true, "https://www.dosfarma.com/x"))

	if a.Len() != 2 {
		t.Fatalf("expected one group per ean, got %d", a.Len())
	}
	for _, g := range a.Groups() {
		if g.EANConflict {
			t.Fatalf("group %s flagged as conflicting", g.Key)
		}
	}
	if n := a.Stats().EANConflicts; n != 0 {
		t.Fatalf("expected no ean conflicts, got %d", n)
	}
}

func TestAggregationOrderIndependent(t *testing.T) {
	base := []prices.Observation{
		obs("V", "p", "", "5.00", false, "a"),
		obs("V", "p", "", "4.50", false, "b"),
		obs("V", "p", "", "6.00", true, "c"),
		obs("V", "p", "", "5.50", true, "d"),
		obs("V", "p", "", "5.50", true, "e"),
	}

	r := rand.New(rand.NewSource(1))
	var want Offer
	for i := 0; i < 50; i++ {
		in := append([]prices.Observation(nil), base...)
		r.Shuffle(len(in), func(i, j int) { in[i], in[j] = in[j], in[i] })

		a := New()
		a.AddAll(in)
		g, _ := a.Group("NAME_p")
		got := g.Offers["V"]
		if i == 0 {
			want = got
			continue
		}
		if !got.Price.Equal(want.Price) || got.InStock != want.InStock || got.URL != want.URL {
			t.Fatalf("permutation %d selected %+v, want %+v", i, got, want)
		}
	}
	if want.Price.String() != "5.5" || !want.InStock || want.URL != "d" {
		t.Fatalf("unexpected winner %+v", want)
	}
}

func TestConcurrentAdd(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				a.Add(obs(fmt.Sprintf("V%d", w), fmt.Sprintf("product %d", i), "", "1.00", true, "u"))
			}
		}(w)
	}
	wg.Wait()

	if a.Len() != 100 {
		t.Fatalf("expected 100 groups, got %d", a.Len())
	}
	if st := a.Stats(); st.Accepted != 800 {
		t.Fatalf("expected 800 accepted, got %d", st.Accepted)
	}
	for _, g := range a.Groups() {
		if len(g.Offers) != 8 {
			t.Fatalf("group %s has %d vendors, want 8", g.Key, len(g.Offers))
		}
	}
}

func TestGroupsReturnsCopies(t *testing.T) {
	a := New()
	a.Add(obs("V", "p", "", "1.00", true, "u"))
	gs := a.Groups()
	delete(gs[0].Offers, "V")

	g, _ := a.Group("NAME_p")
	if _, ok := g.Offers["V"]; !ok {
		t.Fatalf("mutating a returned group changed aggregator state")
	}
}
