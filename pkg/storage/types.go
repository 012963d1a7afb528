package storage

import "time"

// ImportResult counts what SaveObservations did with a batch.
type ImportResult struct {
	Saved   int
	Skipped int // no price, URL or vendor
}

// VendorStats summarizes the stored data of one vendor.
type VendorStats struct {
	Vendor       string
	ProductCount int
	WithEAN      int
	PriceCount   int
	LastCapture  time.Time
}

// ConsolidationSummary describes the persisted consolidation run.
type ConsolidationSummary struct {
	RunID     string
	Products  int
	CreatedAt time.Time
}
