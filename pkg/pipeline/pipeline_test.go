package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/farmasearch/farmasearch/pkg/consolidate"
	"github.com/farmasearch/farmasearch/pkg/prices"
)

type fakeSource struct {
	rows      []prices.Observation
	total     int // reported count; -1 means len(rows)
	countErr  error
	pageErrAt int // fail the nth LatestPage call (1-based); 0 disables
	calls     int
	offsets   []int
}

func (f *fakeSource) CountLatest(context.Context) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	if f.total >= 0 {
		return f.total, nil
	}
	return len(f.rows), nil
}

func (f *fakeSource) LatestPage(_ context.Context, limit, offset int) ([]prices.Observation, error) {
	f.calls++
	f.offsets = append(f.offsets, offset)
	if f.pageErrAt > 0 && f.calls == f.pageErrAt {
		return nil, errors.New("connection reset")
	}
	if offset >= len(f.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	return f.rows[offset:end], nil
}

func rows(n int) []prices.Observation {
	out := make([]prices.Observation, n)
	for i := range out {
		out[i] = prices.Observation{
			ProductID: int64(i + 1),
			Vendor:    fmt.Sprintf("V%d", i%3),
			Name:      fmt.Sprintf("product %d", i/3),
			URL:       fmt.Sprintf("https://v%d/%d", i%3, i),
			Price:     prices.ParsePrice(fmt.Sprintf("%d.00", 1+i%3)),
			InStock:   true,
		}
	}
	return out
}

func TestRunPagesShortLastPage(t *testing.T) {
	src := &fakeSource{rows: rows(250), total: -1}

	var progress [][2]int
	res, err := Run(context.Background(), Config{
		Source:      src,
		PageSize:    100,
		Consolidate: consolidate.Options{Vendors: []string{"V0", "V1", "V2"}},
		OnProgress: func(processed, total int) error {
			progress = append(progress, [2]int{processed, total})
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if src.calls != 3 {
		t.Fatalf("expected 3 page fetches, got %d (offsets %v)", src.calls, src.offsets)
	}
	if res.Processed != 250 || res.Total != 250 || res.Pages != 3 {
		t.Fatalf("unexpected counters %+v", res)
	}
	want := [][2]int{{100, 250}, {200, 250}, {250, 250}}
	if fmt.Sprint(progress) != fmt.Sprint(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}

	// 250 rows over 84 names (the last one only has V0).
	if res.Groups != 84 || len(res.Consolidation.Rows) != 84 {
		t.Fatalf("expected 84 groups and rows, got %d/%d", res.Groups, len(res.Consolidation.Rows))
	}
	if top := res.Consolidation.Rows[0]; top.Savings.String() != "2" {
		t.Fatalf("top row savings = %s, want 2", top.Savings)
	}
}

func TestRunExactMultipleFetchesTrailingEmptyPage(t *testing.T) {
	src := &fakeSource{rows: rows(200), total: -1}
	res, err := Run(context.Background(), Config{Source: src, PageSize: 100})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.calls != 3 || res.Pages != 2 || res.Processed != 200 {
		t.Fatalf("calls=%d pages=%d processed=%d", src.calls, res.Pages, res.Processed)
	}
}

func TestRunStaleTotal(t *testing.T) {
	tests := []struct {
		name  string
		total int
	}{
		{name: "total too high", total: 1000},
		{name: "total too low", total: 10},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{rows: rows(150), total: tc.total}
			res, err := Run(context.Background(), Config{Source: src, PageSize: 100})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Processed != 150 || res.Total != tc.total {
				t.Fatalf("processed=%d total=%d", res.Processed, res.Total)
			}
		})
	}
}

func TestRunEmptySource(t *testing.T) {
	res, err := Run(context.Background(), Config{Source: &fakeSource{total: -1}, PageSize: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Consolidation.Rows) != 0 || res.Processed != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestRunSourceErrorsAbort(t *testing.T) {
	countFail := &fakeSource{countErr: errors.New("db down"), total: -1}
	if res, err := Run(context.Background(), Config{Source: countFail, PageSize: 10}); err == nil || res != nil {
		t.Fatalf("expected count failure to abort, got res=%v err=%v", res, err)
	}

	pageFail := &fakeSource{rows: rows(50), total: -1, pageErrAt: 2}
	res, err := Run(context.Background(), Config{Source: pageFail, PageSize: 10})
	if err == nil {
		t.Fatalf("expected page failure to abort")
	}
	if res != nil {
		t.Fatalf("partial result returned: %+v", res)
	}
}

func TestRunIgnoresProgressFailures(t *testing.T) {
	tests := []struct {
		name string
		fn   ProgressFunc
	}{
		{name: "error", fn: func(int, int) error { return errors.New("sink closed") }},
		{name: "panic", fn: func(int, int) error { panic("boom") }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{rows: rows(30), total: -1}
			res, err := Run(context.Background(), Config{Source: src, PageSize: 10, OnProgress: tc.fn})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Processed != 30 {
				t.Fatalf("processed %d, want 30", res.Processed)
			}
		})
	}
}

func TestRunInvalidPageSize(t *testing.T) {
	for _, size := range []int{0, -5} {
		if _, err := Run(context.Background(), Config{Source: &fakeSource{total: -1}, PageSize: size}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("PageSize %d: expected ErrInvalidPageSize, got %v", size, err)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, Config{Source: &fakeSource{rows: rows(5), total: -1}, PageSize: 2}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
