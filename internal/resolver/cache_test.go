package resolver

import (
	"testing"

	"trading-formulas/internal/model"
)

func TestCacheRecordIsImmutable(t *testing.T) {
	c := NewCache(0)
	ctx := model.Path{"Bull"}
	const blk = "Bull"
	first := model.Values{}
	first.Set(model.Path{"X"}, 1)
	c.Record(blk, ctx, 0, first, nil)

	second := model.Values{}
	second.Set(model.Path{"X"}, 2)
	c.Record(blk, ctx, 0, second, nil)

	got, ok := c.At(blk, ctx, 0)
	if !ok || got[model.Path{"X"}.Key()] != 1 {
		t.Fatalf("At(0) = %v %v, want the first record", got, ok)
	}
	first.Set(model.Path{"X"}, 99)
	if got, _ := c.At(blk, ctx, 0); got[model.Path{"X"}.Key()] != 1 {
		t.Errorf("cache aliases caller values")
	}
}

func TestCacheResumePoint(t *testing.T) {
	c := NewCache(0)
	ctx := model.Path{"Walk"}
	const blk = "Walk"
	tick := model.Rule{From: model.Path{"Candle", "Index"}, Target: model.Path{"Candle", "Index"},
		Operand: model.OperandOf(model.Path{"1"}), Op: model.Add}

	c.Record(blk, ctx, 0, model.Values{}, nil)
	if _, _, _, ok := c.ResumePoint(blk, ctx, 3); ok {
		t.Fatalf("no resume point without virtual rules")
	}

	c.Record(blk, ctx, 1, model.Values{}, []model.Rule{tick})
	tests := []struct {
		required int
		ok       bool
	}{
		{0, false}, {1, false}, {2, true}, {9, true},
	}
	for _, tt := range tests {
		_, last, virtual, ok := c.ResumePoint(blk, ctx, tt.required)
		if ok != tt.ok {
			t.Errorf("ResumePoint(%d) ok = %v, want %v", tt.required, ok, tt.ok)
			continue
		}
		if ok && (last != 1 || len(virtual) != 1 || !virtual[0].Equal(tick)) {
			t.Errorf("ResumePoint(%d) = %d %v", tt.required, last, virtual)
		}
	}
	if _, _, _, ok := c.ResumePoint(blk, model.Path{"Other"}, 5); ok {
		t.Errorf("contexts must not share resume points")
	}
}

func TestCacheRetention(t *testing.T) {
	c := NewCache(2)
	ctx := model.Path{}
	const blk = "Walk"
	for i := 0; i < 5; i++ {
		c.Record(blk, ctx, i, model.Values{}, nil)
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.At(blk, ctx, 2); ok {
		t.Errorf("index 2 should have been evicted")
	}
	if _, ok := c.At(blk, ctx, 4); !ok {
		t.Errorf("index 4 should be kept")
	}
	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len after Reset = %d", c.Len())
	}
}

func TestCacheSeparatesBlocksInOneContext(t *testing.T) {
	c := NewCache(0)
	root := model.Path{}
	tick := model.Rule{From: model.Path{"Candle", "Index"}, Target: model.Path{"Candle", "Index"},
		Operand: model.OperandOf(model.Path{"1"}), Op: model.Add}

	a := model.Values{}
	a.Set(model.Path{"Close"}, 9)
	c.Record("A", root, 0, a, []model.Rule{tick})
	c.Record("A", root, 1, a, []model.Rule{tick})
	b := model.Values{}
	b.Set(model.Path{"C2"}, 4)
	c.Record("B", root, 0, b, []model.Rule{tick})

	if got, ok := c.At("B", root, 0); !ok || got[model.Path{"C2"}.Key()] != 4 || len(got) != 1 {
		t.Errorf("At(B, 0) = %v %v", got, ok)
	}
	if _, ok := c.At("B", root, 1); ok {
		t.Errorf("B picked up A's index 1")
	}
	if _, last, _, ok := c.ResumePoint("B", root, 2); !ok || last != 0 {
		t.Errorf("B resumes from %d (%v), want 0", last, ok)
	}
	if _, last, _, ok := c.ResumePoint("A", root, 2); !ok || last != 1 {
		t.Errorf("A resumes from %d (%v), want 1", last, ok)
	}
}
