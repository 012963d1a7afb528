package prices

import (
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one captured price/stock fact for one product at one
// vendor at one point in time.
type Observation struct {
	// Storage identity, zero when the observation did not come from the DB.
	ProductID int64

	// Product info
	Vendor   string
	Name     string
	URL      string
	EAN      string // empty when the vendor gave none
	Category string

	// Price info
	Price         decimal.NullDecimal // invalid when missing or malformed
	OriginalPrice decimal.NullDecimal // list price before discount, optional
	InStock       bool
	CapturedAt    time.Time
}

// HasPrice reports whether the observation can take part in a comparison.
func (o Observation) HasPrice() bool {
	return o.Price.Valid
}
