package resolver

import (
	"context"
	"errors"
	"testing"

	"trading-formulas/internal/model"
	"trading-formulas/internal/parser"
)

// rows is an in-memory data source that counts reads and commits.
type rows struct {
	data    []model.Values
	reads   int
	commits int
}

func (r *rows) Len() int { return len(r.data) }

func (r *rows) Row(i int) model.Values {
	r.reads++
	return r.data[i].Clone()
}

func (r *rows) WriteRow(i int, row model.Values) { r.data[i] = row.Clone() }

func (r *rows) Commit() bool {
	r.commits++
	return false
}

// candles builds rows from open/close pairs.
func candles(pairs ...[2]float64) *rows {
	src := &rows{}
	for _, p := range pairs {
		row := model.Values{}
		row.Set(model.Path{model.KeyOpen}, p[0])
		row.Set(model.Path{model.KeyClose}, p[1])
		src.data = append(src.data, row)
	}
	return src
}

// bullish has bullish candles at rows 2, 4, 5 and 7.
func bullish() *rows {
	return candles(
		[2]float64{10, 9}, [2]float64{9, 8}, [2]float64{8, 9}, [2]float64{9, 9},
		[2]float64{9, 10}, [2]float64{10, 12}, [2]float64{12, 11}, [2]float64{11, 13},
	)
}

func mustParse(t *testing.T, src string) *model.Graph {
	t.Helper()
	g, diags := parser.Parse(src)
	if len(diags) != 0 {
		t.Fatalf("parse diagnostics: %v", diags)
	}
	return g
}

func get(t *testing.T, v model.Values, dotted string) float64 {
	t.Helper()
	x, ok := v.Get(model.ParsePath(dotted))
	if !ok {
		t.Fatalf("%s missing from\n%s", dotted, v)
	}
	return x
}

type counter struct {
	retries, hits int
}

func (c *counter) Retry(string)    { c.retries++ }
func (c *counter) CacheHit(string) { c.hits++ }

func TestResolveNestedIncrement(t *testing.T) {
	g := mustParse(t, "Deep\n----\n6 -> Six\n7 -> Seven\nSix -> Increment.In\nIncrement.Out -> Result\n\n"+
		"Increment\n---------\nIn + 1 -> Out\n")
	r := New(g, nil)
	out, err := r.Resolve(context.Background(), "Deep", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := get(t, out, "Result"); got != 7 {
		t.Errorf("Result = %v, want 7", got)
	}
	if got := get(t, out, "Increment.Out"); got != 7 {
		t.Errorf("Increment.Out = %v, want 7", got)
	}
}

func TestCandleWalkResumesFromCache(t *testing.T) {
	src := candles(
		[2]float64{1, 10}, [2]float64{1, 11}, [2]float64{1, 12}, [2]float64{1, 13},
		[2]float64{1, 14}, [2]float64{1, 15}, [2]float64{1, 16},
	)
	g := mustParse(t, "Walk\n----\nCandle.close price -> Close\n")
	rec := &counter{}
	r := New(g, map[string]model.DataSource{"Candle": src}, WithMetrics(rec))

	out, err := r.Resolve(context.Background(), "Walk", 4)
	if err != nil {
		t.Fatalf("Resolve(4): %v", err)
	}
	if got := get(t, out, "Close"); got != 14 {
		t.Errorf("Close at 4 = %v, want 14", got)
	}
	if got := get(t, out, "Candle.Index"); got != 4 {
		t.Errorf("Candle.Index at 4 = %v, want 4", got)
	}

	before := src.reads
	out, err = r.Resolve(context.Background(), "Walk", 5)
	if err != nil {
		t.Fatalf("Resolve(5): %v", err)
	}
	if got := get(t, out, "Close"); got != 15 {
		t.Errorf("Close at 5 = %v, want 15", got)
	}
	if n := src.reads - before; n != 1 {
		t.Errorf("resume read %d rows, want 1", n)
	}
	if rec.hits == 0 {
		t.Errorf("expected a cache hit on resume")
	}
}

func TestBlocksShareResolverWithoutMixing(t *testing.T) {
	g := mustParse(t, "A\n---\nCandle.close price -> Close\n\n"+
		"B\n---\nOther.close price -> C2\n")
	r := New(g, map[string]model.DataSource{
		"Candle": candles([2]float64{1, 10}, [2]float64{1, 11}, [2]float64{1, 12}),
		"Other":  candles([2]float64{1, 20}, [2]float64{1, 21}, [2]float64{1, 22}),
	})

	for i := 0; i < 3; i++ {
		a, err := r.Resolve(context.Background(), "A", i)
		if err != nil {
			t.Fatalf("A@%d: %v", i, err)
		}
		b, err := r.Resolve(context.Background(), "B", i)
		if err != nil {
			t.Fatalf("B@%d: %v", i, err)
		}
		if got := get(t, a, "Close"); got != float64(10+i) {
			t.Errorf("A@%d Close = %v, want %d", i, got, 10+i)
		}
		if got := get(t, b, "C2"); got != float64(20+i) {
			t.Errorf("B@%d C2 = %v, want %d", i, got, 20+i)
		}
		if _, ok := b.Get(model.Path{"Close"}); ok {
			t.Errorf("B@%d carries A's output: %v", i, b)
		}
	}
}

func TestSharedCacheResumesAcrossResolvers(t *testing.T) {
	src := candles([2]float64{1, 10}, [2]float64{1, 11}, [2]float64{1, 12}, [2]float64{1, 13})
	g := mustParse(t, "Walk\n----\nCandle.close price -> Close\n")
	sources := map[string]model.DataSource{"Candle": src}

	live := New(g, sources)
	if _, err := live.Resolve(context.Background(), "Walk", 2); err != nil {
		t.Fatalf("Resolve(2): %v", err)
	}
	before := src.reads
	adhoc := New(g, sources, WithCache(live.Cache()))
	out, err := adhoc.Resolve(context.Background(), "Walk", 3)
	if err != nil {
		t.Fatalf("Resolve(3): %v", err)
	}
	if got := get(t, out, "Close"); got != 13 {
		t.Errorf("Close at 3 = %v, want 13", got)
	}
	if n := src.reads - before; n != 1 {
		t.Errorf("shared cache read %d rows, want 1", n)
	}
}

func TestLowerIndexRebuildsFromZero(t *testing.T) {
	src := candles([2]float64{1, 10}, [2]float64{1, 11}, [2]float64{1, 12})
	g := mustParse(t, "Walk\n----\nCandle.close price -> Close\n")
	r := New(g, map[string]model.DataSource{"Candle": src})
	if _, err := r.Resolve(context.Background(), "Walk", 2); err != nil {
		t.Fatalf("Resolve(2): %v", err)
	}
	before := src.reads
	out, err := r.Resolve(context.Background(), "Walk", 1)
	if err != nil {
		t.Fatalf("Resolve(1): %v", err)
	}
	if got := get(t, out, "Close"); got != 11 {
		t.Errorf("Close at 1 = %v, want 11", got)
	}
	if n := src.reads - before; n != 2 {
		t.Errorf("rebuild read %d rows, want 2", n)
	}
}

func TestSelfReferentialCounter(t *testing.T) {
	g := mustParse(t, "Counter\n-------\n0 -> Count\nCount + 1 -> Count\nCount = 5\n")
	rec := &counter{}
	out, err := New(g, nil, WithMetrics(rec)).Resolve(context.Background(), "Counter", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := get(t, out, "Count"); got != 5 {
		t.Errorf("Count = %v, want 5", got)
	}
	if rec.retries != 5 {
		t.Errorf("retries = %d, want 5", rec.retries)
	}
}

func TestRootChangeRestepsEverySelfReference(t *testing.T) {
	// B never fails, but A's retries change the root inputs, so B steps with it.
	g := mustParse(t, "Pair\n----\n0 -> A\nA + 1 -> A\n0 -> B\nB + 1 -> B\nA = 3\n")
	out, err := New(g, nil).Resolve(context.Background(), "Pair", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := get(t, out, "A"); got != 3 {
		t.Errorf("A = %v, want 3", got)
	}
	if got := get(t, out, "B"); got != 3 {
		t.Errorf("B = %v, want 3", got)
	}
}

func TestRetryLimit(t *testing.T) {
	g := mustParse(t, "Counter\n-------\n0 -> Count\nCount + 1 -> Count\nCount = -1\n")
	_, err := New(g, nil, WithMaxRetries(50)).Resolve(context.Background(), "Counter", 0)
	if !errors.Is(err, ErrRetryLimit) || !errors.Is(err, ErrUnresolved) {
		t.Fatalf("err = %v, want retry limit", err)
	}
	if IsHardStop(err) {
		t.Errorf("retry limit should be soft")
	}
}

func TestFirstBullishCandle(t *testing.T) {
	g := mustParse(t, "Bull\n----\nCandle.close price > Candle.open price\n")
	r := New(g, map[string]model.DataSource{"Candle": bullish()})

	tests := []struct {
		index int
		row   float64
	}{
		{0, 2}, {1, 4}, {2, 5}, {3, 7},
	}
	for _, tt := range tests {
		out, err := r.Resolve(context.Background(), "Bull", tt.index)
		if err != nil {
			t.Fatalf("Resolve(%d): %v", tt.index, err)
		}
		if got := get(t, out, "Candle.Index"); got != tt.row {
			t.Errorf("bull %d at row %v, want %v", tt.index, got, tt.row)
		}
	}
}

func TestNestedBlockAtExplicitIndex(t *testing.T) {
	g := mustParse(t, "Bull\n----\nCandle.close price > Candle.open price\n\n"+
		"Fourth Bull\n-----------\n3 -> Bull.Index\nBull.Candle.Index -> Position\n")
	out, err := New(g, map[string]model.DataSource{"Candle": bullish()}).Resolve(context.Background(), "Fourth Bull", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := get(t, out, "Position"); got != 7 {
		t.Errorf("Position = %v, want 7", got)
	}
}

func TestNestingDepthLimitIsSoft(t *testing.T) {
	g := mustParse(t, "Loop\n----\nLoop.X + 1 -> X\n")
	_, err := New(g, nil, WithMaxDepth(3)).Resolve(context.Background(), "Loop", 0)
	if !errors.Is(err, ErrUnresolved) || IsHardStop(err) {
		t.Fatalf("err = %v, want a soft failure", err)
	}
}

func TestNegativeIndexIsUnresolved(t *testing.T) {
	g := mustParse(t, "A\n---\n1 -> B\n")
	_, err := New(g, nil).Resolve(context.Background(), "A", -1)
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("err = %v, want ErrUnresolved", err)
	}
}

func TestGuardFailureIsSoft(t *testing.T) {
	g := mustParse(t, "Never\n-----\n1 = 2\n")
	_, err := New(g, nil).Resolve(context.Background(), "Never", 0)
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("err = %v, want ErrUnresolved", err)
	}
	if errors.Is(err, ErrDataExhausted) || IsHardStop(err) {
		t.Errorf("guard failure must not be fatal: %v", err)
	}
}

func TestDataExhaustedIsFatal(t *testing.T) {
	src := candles([2]float64{1, 10}, [2]float64{1, 11})
	g := mustParse(t, "Walk\n----\nCandle.close price -> Close\n\n"+
		"Search\n------\nCandle.close price > 1000\n\n"+
		"Outer\n-----\nSearch.Candle.Index -> Found\n")
	r := New(g, map[string]model.DataSource{"Candle": src})

	_, err := r.Resolve(context.Background(), "Walk", 2)
	if !errors.Is(err, ErrDataExhausted) || !IsHardStop(err) {
		t.Fatalf("Walk past the end: err = %v, want ErrDataExhausted", err)
	}
	_, err = r.Resolve(context.Background(), "Outer", 0)
	if !errors.Is(err, ErrDataExhausted) {
		t.Fatalf("nested exhaustion: err = %v, want ErrDataExhausted", err)
	}
}

func TestExclusionOfResolvableTargetFails(t *testing.T) {
	g := mustParse(t, "B\n---\n5 -> X\nX -> !Y\n")
	_, err := New(g, nil).Resolve(context.Background(), "B", 0)
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("err = %v, want ErrUnresolved", err)
	}
}

func TestExclusionOfFailingBlockSucceeds(t *testing.T) {
	g := mustParse(t, "Never\n-----\n1 = 2\n\nTop\n---\n1 -> !Never.Flag\n7 -> Z\n")
	out, err := New(g, nil).Resolve(context.Background(), "Top", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := get(t, out, "Z"); got != 7 {
		t.Errorf("Z = %v, want 7", got)
	}
}

func TestGroupCopyLandsUnderTarget(t *testing.T) {
	src := candles([2]float64{3, 4})
	g := mustParse(t, "Copy\n----\nCandle -> Prev\n")
	out, err := New(g, map[string]model.DataSource{"Candle": src}).Resolve(context.Background(), "Copy", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := get(t, out, "Prev.close price"); got != 4 {
		t.Errorf("Prev.close price = %v, want 4", got)
	}
	if got := get(t, out, "Prev.open price"); got != 3 {
		t.Errorf("Prev.open price = %v, want 3", got)
	}
}

func TestWriteToDataSourceCommits(t *testing.T) {
	src := candles([2]float64{1, 10}, [2]float64{1, 11})
	g := mustParse(t, "Mark\n----\nCandle.close price * 2 -> Candle.double close\n")
	if _, err := New(g, map[string]model.DataSource{"Candle": src}).Resolve(context.Background(), "Mark", 0); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	x, ok := src.data[0].Get(model.Path{"double close"})
	if !ok || x != 20 {
		t.Errorf("row 0 double close = %v (%v), want 20", x, ok)
	}
	if src.commits != 1 {
		t.Errorf("commits = %d, want 1", src.commits)
	}
}

func TestUnknownBlock(t *testing.T) {
	_, err := New(mustParse(t, "A\n---\n1 -> B\n"), nil).Resolve(context.Background(), "Nope", 0)
	if !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("err = %v, want ErrUnknownBlock", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(mustParse(t, "A\n---\n1 -> B\n"), nil).Resolve(ctx, "A", 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCombine(t *testing.T) {
	group := model.Values{}
	group.Set(model.Path{"a"}, 1)
	group.Set(model.Path{"b"}, 2)

	v, ok := combine(single(10), multi(group), model.Path{"G"}, model.Add)
	if !ok || !v.isMulti() || v.group[model.Path{"b"}.Key()] != 12 {
		t.Errorf("scalar + group = %v %v", v, ok)
	}
	if _, ok := combine(single(1), multi(group), model.Path{"G"}, model.Equal); ok {
		t.Errorf("comparison against a group should fail when any member fails")
	}
	v, ok = combine(multi(group), single(5), model.Path{"X"}, model.Add)
	if !ok || v.group[model.Path{"X"}.Key()] != 5 || len(v.group) != 3 {
		t.Errorf("group + scalar = %v %v", v, ok)
	}
}
