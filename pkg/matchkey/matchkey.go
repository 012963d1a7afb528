// Package matchkey derives the deduplication key used to cluster listings
// from different vendors that denote the same product.
package matchkey

import (
	"strings"

	"github.com/farmasearch/farmasearch/pkg/normalize"
)

// NamePrefix marks keys derived from the product name, keeping them apart
// from EAN keys.
const NamePrefix = "NAME_"

// Resolve returns the EAN itself when it is valid, otherwise the normalized
// product name prefixed with NamePrefix. The same inputs always give the same
// key, so storage re-queries and aggregation agree on grouping.
func Resolve(ean, name string) string {
	if normalize.IsValidEAN(ean) {
		return ean
	}
	return NamePrefix + normalize.Name(name)
}

// IsNameKey reports whether key was derived from a product name.
func IsNameKey(key string) bool {
	return strings.HasPrefix(key, NamePrefix)
}
