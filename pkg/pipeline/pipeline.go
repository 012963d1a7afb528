package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/farmasearch/farmasearch/pkg/aggregate"
	"github.com/farmasearch/farmasearch/pkg/consolidate"
	"github.com/farmasearch/farmasearch/pkg/prices"
)

// ErrInvalidPageSize is returned by Run when Config.PageSize is not positive.
var ErrInvalidPageSize = errors.New("page size must be positive")

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Source is a paged view of the latest observation of every product.
// Pages must follow a stable order.
type Source interface {
	CountLatest(ctx context.Context) (int, error)
	LatestPage(ctx context.Context, limit, offset int) ([]prices.Observation, error)
}

// ProgressFunc receives (processed, total) after every page. Its errors are
// logged and otherwise ignored.
type ProgressFunc func(processed, total int) error

// Config holds everything Run needs for one consolidation run.
type Config struct {
	Source      Source
	PageSize    int
	Consolidate consolidate.Options
	Log         Logger       // optional; nil = no logging
	OnProgress  ProgressFunc // optional
}

// Result holds the outcome of a complete run.
type Result struct {
	Consolidation consolidate.Result
	Total         int // count reported by the source before paging
	Processed     int // observations actually read
	Pages         int
	Groups        int
	Aggregation   aggregate.Stats
}

// Run reads every page from the source into a fresh aggregator and
// consolidates once the source is exhausted. Any source error aborts the
// run; no partial result is returned.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	if cfg.PageSize <= 0 {
		return nil, ErrInvalidPageSize
	}
	if cfg.Source == nil {
		return nil, errors.New("pipeline: nil source")
	}

	total, err := cfg.Source.CountLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting observations: %w", err)
	}
	log.Infof("Consolidating %d observations in pages of %d", total, cfg.PageSize)

	agg := aggregate.New()
	result := &Result{Total: total}

	for offset := 0; ; offset += cfg.PageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := cfg.Source.LatestPage(ctx, cfg.PageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("fetching page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}

		accepted := agg.AddAll(page)
		result.Pages++
		result.Processed += len(page)
		log.Debugf("Page %d: %d observations, %d accepted", result.Pages, len(page), accepted)

		reportProgress(cfg.OnProgress, result.Processed, total, log)

		if len(page) < cfg.PageSize {
			break
		}
	}

	if result.Processed != total {
		log.Warnf("Source reported %d observations but %d were read", total, result.Processed)
	}

	result.Aggregation = agg.Stats()
	result.Groups = agg.Len()
	if d := result.Aggregation.Discarded(); d > 0 {
		log.Infof("Discarded %d observations (missing price: %d, missing url: %d, missing vendor: %d)",
			d, result.Aggregation.MissingPrice, result.Aggregation.MissingURL, result.Aggregation.MissingVendor)
	}

	result.Consolidation = consolidate.Consolidate(agg.Groups(), cfg.Consolidate)
	if n := result.Consolidation.EANConflicts; n > 0 {
		log.Warnf("%d products grouped by name carry more than one EAN", n)
	}
	if len(result.Consolidation.UnknownVendors) > 0 {
		log.Warnf("Vendors not in the configured list: %v", result.Consolidation.UnknownVendors)
	}
	return result, nil
}

func reportProgress(fn ProgressFunc, processed, total int, log Logger) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("Progress callback panicked: %v", r)
		}
	}()
	if err := fn(processed, total); err != nil {
		log.Warnf("Progress callback failed: %v", err)
	}
}
