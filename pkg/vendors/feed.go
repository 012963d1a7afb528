package vendors

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/farmasearch/farmasearch/pkg/prices"
)

// maxLineSize bounds a single JSON line; product exports with long
// descriptions easily exceed bufio's 64KiB default.
const maxLineSize = 4 << 20

// BatchFunc receives parsed observations in batches.
type BatchFunc func(batch []prices.Observation) error

// FeedStats counts what ReadFeed did.
type FeedStats struct {
	Lines     int
	Parsed    int
	Malformed int
	FirstErr  error // first malformed line, for diagnostics
}

// ReadFeed parses a JSON Lines stream with a, handing batches of up to
// batchSize observations to fn. Blank lines are ignored and malformed
// lines are counted and skipped. An error from fn stops the read.
func ReadFeed(r io.Reader, a *Adapter, batchSize int, fn BatchFunc) (FeedStats, error) {
	var st FeedStats
	if batchSize <= 0 {
		batchSize = 500
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	batch := make([]prices.Observation, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		batch = make([]prices.Observation, 0, batchSize)
		return nil
	}

	for sc.Scan() {
		st.Lines++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		obs, err := a.Parse(line)
		if err != nil {
			st.Malformed++
			if st.FirstErr == nil {
				st.FirstErr = fmt.Errorf("line %d: %w", st.Lines, err)
			}
			continue
		}
		st.Parsed++
		batch = append(batch, obs)

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return st, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return st, err
	}
	return st, flush()
}
