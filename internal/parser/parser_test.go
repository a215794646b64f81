package parser

import (
	"testing"

	"trading-formulas/internal/lexer"
	"trading-formulas/internal/model"
)

func mustBlock(t *testing.T, g *model.Graph, id string) *model.Block {
	t.Helper()
	blk, ok := g.Block(id)
	if !ok {
		t.Fatalf("block %q missing; have %v", id, g.IDs())
	}
	return blk
}

func groups(src string) []Group {
	gr := NewGrouper(lexer.NewString(src), DefaultRules())
	var out []Group
	for {
		g, ok := gr.Next()
		if !ok {
			return out
		}
		out = append(out, g)
	}
}

func TestGrouperKinds(t *testing.T) {
	tests := []struct {
		src   string
		kinds []Kind
		texts []string
	}{
		{"a -> b", []Kind{KindIdentifier, KindFeed, KindNone, KindIdentifier}, []string{"a ", "->", " ", "b"}},
		{"a → b", []Kind{KindIdentifier, KindFeed, KindNone, KindIdentifier}, []string{"a ", "→", " ", "b"}},
		{"a ->> b", []Kind{KindIdentifier, KindFeed, KindNone, KindIdentifier}, []string{"a ", "->>", " ", "b"}},
		{"a -- b", []Kind{KindIdentifier, KindOperator, KindNone, KindIdentifier}, []string{"a ", "--", " ", "b"}},
		{"a - b", []Kind{KindIdentifier, KindOperator, KindNone, KindIdentifier}, []string{"a ", "-", " ", "b"}},
		{"a != b", []Kind{KindIdentifier, KindOperator, KindNone, KindIdentifier}, []string{"a ", "!=", " ", "b"}},
		{"X\n----\n", []Kind{KindIdentifier, KindDivider, KindNone}, []string{"X", "\n----", "\n"}},
		{"X\n++\n", []Kind{KindIdentifier, KindNone, KindOperator, KindNone}, []string{"X", "\n", "++", "\n"}},
		{"a\n\nb", []Kind{KindIdentifier, KindNone, KindNone, KindIdentifier}, []string{"a", "\n", "\n", "b"}},
	}
	for _, tt := range tests {
		got := groups(tt.src)
		if len(got) != len(tt.kinds) {
			t.Errorf("%q: got %d groups %v, want %d", tt.src, len(got), got, len(tt.kinds))
			continue
		}
		for i := range got {
			if got[i].Kind != tt.kinds[i] || got[i].Text() != tt.texts[i] {
				t.Errorf("%q group %d = %s %q, want %s %q",
					tt.src, i, got[i].Kind, got[i].Text(), tt.kinds[i], tt.texts[i])
			}
		}
	}
}

func TestParseFourRulesWithSharedSource(t *testing.T) {
	g, diags := Parse("X\n----\n6 -> Six\n7 -> Seven\nCool -> 7\nCool -> Man")
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	blk := mustBlock(t, g, "X")
	if len(blk.Rules) != 4 {
		t.Fatalf("got %d rules: %v", len(blk.Rules), blk.Rules)
	}
	targets := map[string]bool{}
	for _, r := range blk.Rules {
		if r.From.String() == "Cool" {
			targets[r.Target.String()] = true
		}
	}
	if !targets["7"] || !targets["Man"] || len(targets) != 2 {
		t.Fatalf("rules from Cool target %v", targets)
	}
}

func TestParseAbsoluteDifference(t *testing.T) {
	g, diags := Parse("Top\n===\n0.01 -> Threshold\nAbove.Pixel.Brightness -- Pixel.Brightness -> Difference")
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	blk := mustBlock(t, g, "Top")
	if len(blk.Rules) != 2 {
		t.Fatalf("got %d rules", len(blk.Rules))
	}
	first := blk.Rules[0]
	if v, ok := first.From.Literal(); !ok || v != 0.01 || first.Target.String() != "Threshold" {
		t.Errorf("first rule = %s", first)
	}
	r := blk.Rules[1]
	op, ok := r.Operand.Path()
	if r.Op != model.AbsDiff || !ok {
		t.Fatalf("second rule = %s", r)
	}
	if r.From.String() != "Above.Pixel.Brightness" || op.String() != "Pixel.Brightness" || r.Target.String() != "Difference" {
		t.Errorf("second rule = %s", r)
	}
}

func TestParseSiblingBlocks(t *testing.T) {
	src := "Deep Increment\n---------\n6 -> Six\nSix -> Increment.In Number\nIncrement.Out Number -> Seven\nShould Be Seven = Seven\n\n" +
		"Increment\n++++++++++++++\n1 -> One\nIn Number + One -> Out Number\n"
	g, diags := Parse(src)
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	if g.Len() != 2 {
		t.Fatalf("got %d blocks: %v", g.Len(), g.IDs())
	}
	if n := len(mustBlock(t, g, "Deep Increment").Rules); n != 4 {
		t.Errorf("Deep Increment has %d rules, want 4", n)
	}
	inc := mustBlock(t, g, "Increment")
	if len(inc.Rules) != 2 {
		t.Fatalf("Increment has %d rules, want 2", len(inc.Rules))
	}
	if r := inc.Rules[1]; r.From.String() != "In Number" || r.Op != model.Add || r.Target.String() != "Out Number" {
		t.Errorf("Increment rule = %s", r)
	}
	guard := mustBlock(t, g, "Deep Increment").Rules[3]
	if !guard.IsGuard() || guard.Op != model.Equal {
		t.Errorf("guard = %s", guard)
	}
}

func TestParseSignedLiterals(t *testing.T) {
	g, _ := Parse("B\n---\n-10 -> Start\nX + -1 -> Y\nX - 1 -> Z\n")
	blk := mustBlock(t, g, "B")
	if len(blk.Rules) != 3 {
		t.Fatalf("rules = %v", blk.Rules)
	}
	if v, ok := blk.Rules[0].From.Literal(); !ok || v != -10 || blk.Rules[0].Op != model.Feed {
		t.Errorf("rule 0 = %s", blk.Rules[0])
	}
	op, _ := blk.Rules[1].Operand.Path()
	if blk.Rules[1].Op != model.Add || op.String() != "-1" {
		t.Errorf("rule 1 = %s", blk.Rules[1])
	}
	op, _ = blk.Rules[2].Operand.Path()
	if blk.Rules[2].Op != model.Subtract || op.String() != "1" {
		t.Errorf("rule 2 = %s", blk.Rules[2])
	}
}

func TestParseExclusionTarget(t *testing.T) {
	g, _ := Parse("B\n---\nX -> !Even Worse\n")
	r := mustBlock(t, g, "B").Rules[0]
	if r.Target.String() != "!Even Worse" || !r.Target.IsExclusion() {
		t.Fatalf("rule = %s (%#v)", r, r.Target)
	}
}

func TestParseDiagnostics(t *testing.T) {
	src := "stray -> line\nB\n---\nA <> B -> C\nA ; B\n"
	g, diags := Parse(src)
	if g.Len() != 1 {
		t.Fatalf("blocks = %v", g.IDs())
	}
	for _, want := range []struct{ msg, text string }{
		{"unknown operator", "<>"},
		{"unknown operator", ";"},
		{"rule outside of any block", "stray → line"},
	} {
		if !hasMessage(diags, want.msg, want.text) {
			t.Errorf("missing %q for %q in %v", want.msg, want.text, diags)
		}
	}
	if diags.HasErrors() {
		t.Errorf("only warnings expected: %v", diags)
	}
}

func hasMessage(ds Diagnostics, msg, text string) bool {
	for _, d := range ds {
		if d.Message == msg && d.Text == text {
			return true
		}
	}
	return false
}

func TestParseOperatorWithoutLeftOperand(t *testing.T) {
	g, diags := Parse("B\n---\n--5 -> q\n")
	if !hasMessage(diags, "operator without a left operand", "--") {
		t.Fatalf("missing diagnostic in %v", diags)
	}
	if diags.HasErrors() {
		t.Errorf("only warnings expected: %v", diags)
	}
	if blk := mustBlock(t, g, "B"); len(blk.Rules) != 1 || blk.Rules[0].Op != model.Feed {
		t.Errorf("rules = %v", blk.Rules)
	}
}

func TestParseDividerWithoutLabel(t *testing.T) {
	_, diags := Parse("----\nA -> B\n")
	if !diags.HasErrors() {
		t.Fatalf("expected an error diagnostic, got %v", diags)
	}
}

func TestFoldCase(t *testing.T) {
	src := "Walk\n----\nCandle.INDEX + 1 -> candle.index\n"
	g, _ := Parse(src)
	r := mustBlock(t, g, "Walk").Rules[0]
	if r.From.String() != "Candle.INDEX" {
		t.Errorf("case should be preserved by default, got %s", r.From)
	}

	g, _ = Parse(src, WithFoldCase(true))
	r = mustBlock(t, g, "walk").Rules[0]
	if r.From.String() != "candle.Index" || r.Target.String() != "candle.Index" {
		t.Errorf("folded rule = %s", r)
	}
	if !r.IsSelfReferential() {
		t.Errorf("folded rule should be self-referential")
	}
}

func TestRenderRoundTrip(t *testing.T) {
	src := "Walk\n----\nCandle.close price -> Close\nClose > Limit\n105 -> Limit\n-10 -> Floor\nX + -1 -> Y\nA // 2 -> !Half\n\n" +
		"Increment\n+++++\nIn + 1 -> Out\nOut != 3\n"
	g, diags := Parse(src)
	if len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	text := Render(g)
	back, diags := Parse(text)
	if len(diags) != 0 {
		t.Fatalf("re-parse diagnostics: %v\n%s", diags, text)
	}
	if back.Len() != g.Len() {
		t.Fatalf("blocks %v vs %v", back.IDs(), g.IDs())
	}
	for _, id := range g.IDs() {
		want := mustBlock(t, g, id).Rules
		got := mustBlock(t, back, id).Rules
		if len(got) != len(want) {
			t.Fatalf("%s: %d rules vs %d\n%s", id, len(got), len(want), text)
		}
		for _, w := range want {
			found := false
			for _, r := range got {
				if r.Equal(w) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("%s: rule %q lost in round trip\n%s", id, w, text)
			}
		}
	}
	walk := mustBlock(t, back, "Walk").Rules
	if !walk[0].IsValueFeed() || !walk[1].IsValueFeed() {
		t.Errorf("value feeds should lead: %v", walk)
	}
}
