// Package pipeline drives a consolidation run over a paged observation
// source. It owns the aggregator for the duration of the run and hands the
// final state to the consolidator.
//
// Basic usage:
//
//	res, err := pipeline.Run(ctx, pipeline.Config{
//		Source:   db,
//		PageSize: 10000,
//		Consolidate: consolidate.Options{
//			Vendors: vendors.Default,
//		},
//		Log: utils.Log,
//	})
package pipeline
