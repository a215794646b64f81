package parser

import "trading-formulas/internal/lexer"

// identifierRule groups free text and inner whitespace: "In Number".
type identifierRule struct{}

func (identifierRule) Kind() Kind { return KindIdentifier }

func (identifierRule) Enter(toks []lexer.Token) Decision {
	blank := true
	for _, t := range toks {
		if t.Class == lexer.Symbol {
			return Reject
		}
		if t.Class != lexer.Space {
			blank = false
		}
	}
	if blank {
		return Reject
	}
	return Accept
}

func (identifierRule) Continue(toks []lexer.Token) Decision {
	if toks[len(toks)-1].Class == lexer.Symbol {
		return Reject
	}
	return Accept
}

// feedRule groups "→", "->" and "->>".
type feedRule struct{}

func (feedRule) Kind() Kind { return KindFeed }

func (feedRule) Enter(toks []lexer.Token) Decision {
	switch len(toks) {
	case 1:
		switch toks[0].Text {
		case "→":
			return Accept
		case "-":
			return Undecided
		}
	case 2:
		if toks[0].Text == "-" && toks[1].Text == ">" {
			return Accept
		}
	}
	return Reject
}

func (feedRule) Continue(toks []lexer.Token) Decision {
	n := len(toks)
	if n == 3 && toks[0].Text == "-" && toks[1].Text == ">" && toks[2].Text == ">" {
		return AcceptAndFinish
	}
	return Reject
}

// dividerRule groups a block header underline: an optional leading newline
// followed by three or more identical symbol characters.
type dividerRule struct{}

// minDividerRun is the shortest run accepted as a divider.
const minDividerRun = 3

func (dividerRule) Kind() Kind { return KindDivider }

func (dividerRule) Enter(toks []lexer.Token) Decision {
	run := toks
	if len(run) > 0 && run[0].IsNewline() {
		run = run[1:]
	}
	for _, t := range run {
		if t.Class != lexer.Symbol || t.IsNewline() || t.Text != run[0].Text {
			return Reject
		}
	}
	if len(run) >= minDividerRun {
		return Accept
	}
	return Undecided
}

func (dividerRule) Continue(toks []lexer.Token) Decision {
	last := toks[len(toks)-1]
	if last.Class == lexer.Symbol && !last.IsNewline() && last.Text == toks[len(toks)-2].Text {
		return Accept
	}
	return Reject
}

// operatorRule groups a run of symbol characters on one line: "**", "!=".
type operatorRule struct{}

func (operatorRule) Kind() Kind { return KindOperator }

func (operatorRule) Enter(toks []lexer.Token) Decision {
	for _, t := range toks {
		if t.Class != lexer.Symbol || t.IsNewline() {
			return Reject
		}
	}
	return Accept
}

func (operatorRule) Continue(toks []lexer.Token) Decision {
	last := toks[len(toks)-1]
	if last.Class != lexer.Symbol || last.IsNewline() {
		return Reject
	}
	return Accept
}
