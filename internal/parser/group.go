package parser

import (
	"strings"

	"trading-formulas/internal/lexer"
)

// Decision is a group rule's verdict on the tokens collected so far.
type Decision int

const (
	// Reject means the tokens do not belong to this rule.
	Reject Decision = iota
	// Accept commits the rule and keeps extending the group.
	Accept
	// AcceptAndFinish commits the rule and closes the group.
	AcceptAndFinish
	// Undecided asks for one more token before deciding.
	Undecided
)

// Kind tags a group with the rule that produced it.
type Kind int

const (
	KindNone Kind = iota
	KindIdentifier
	KindFeed
	KindDivider
	KindOperator
)

func (k Kind) String() string {
	switch k {
	case KindIdentifier:
		return "identifier"
	case KindFeed:
		return "feed"
	case KindDivider:
		return "divider"
	case KindOperator:
		return "operator"
	default:
		return "none"
	}
}

// GroupRule decides whether a run of tokens forms one lexical group.
type GroupRule interface {
	Kind() Kind
	// Enter is asked with the candidate tokens while the group is not yet
	// committed. Undecided keeps feeding tokens into Enter.
	Enter(toks []lexer.Token) Decision
	// Continue is asked after commit with the group plus one new token.
	// Reject returns the new token to the stream.
	Continue(toks []lexer.Token) Decision
}

// Group is a run of tokens matched by one rule, or a single passthrough
// token with KindNone.
type Group struct {
	Kind   Kind
	Tokens []lexer.Token
}

// Text joins the group's token text.
func (g Group) Text() string {
	if len(g.Tokens) == 1 {
		return g.Tokens[0].Text
	}
	var sb strings.Builder
	for _, t := range g.Tokens {
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// Offset returns the byte offset of the first token.
func (g Group) Offset() int {
	if len(g.Tokens) == 0 {
		return 0
	}
	return g.Tokens[0].Offset
}

// Len returns the byte length covered by the group.
func (g Group) Len() int {
	n := 0
	for _, t := range g.Tokens {
		n += len(t.Text)
	}
	return n
}

// DefaultRules returns the group rules in priority order.
func DefaultRules() []GroupRule {
	return []GroupRule{identifierRule{}, feedRule{}, dividerRule{}, operatorRule{}}
}

// Grouper merges lexer tokens into groups. The first rule to accept a token
// wins; undecided rules may read ahead and give the tokens back on reject.
type Grouper struct {
	lx    *lexer.Lexer
	rules []GroupRule
}

// NewGrouper returns a grouper reading from lx with the given rules.
func NewGrouper(lx *lexer.Lexer, rules []GroupRule) *Grouper {
	return &Grouper{lx: lx, rules: rules}
}

// Next returns the next group, or false at end of input.
func (g *Grouper) Next() (Group, bool) {
	tok, ok := g.lx.Next()
	if !ok {
		return Group{}, false
	}
	first := []lexer.Token{tok}
	for _, rule := range g.rules {
		switch rule.Enter(first) {
		case Accept:
			return g.extend(rule, first), true
		case AcceptAndFinish:
			return Group{Kind: rule.Kind(), Tokens: first}, true
		case Undecided:
			toks, d := g.lookahead(rule, first)
			switch d {
			case Accept:
				return g.extend(rule, toks), true
			case AcceptAndFinish:
				return Group{Kind: rule.Kind(), Tokens: toks}, true
			}
			g.lx.Replay(len(toks) - 1)
		}
	}
	return Group{Kind: KindNone, Tokens: first}, true
}

// lookahead feeds tokens into rule.Enter until it decides. Running out of
// input counts as a reject.
func (g *Grouper) lookahead(rule GroupRule, first []lexer.Token) ([]lexer.Token, Decision) {
	toks := append([]lexer.Token(nil), first...)
	for {
		tok, ok := g.lx.Next()
		if !ok {
			return toks, Reject
		}
		toks = append(toks, tok)
		if d := rule.Enter(toks); d != Undecided {
			return toks, d
		}
	}
}

func (g *Grouper) extend(rule GroupRule, toks []lexer.Token) Group {
	toks = append([]lexer.Token(nil), toks...)
	for {
		tok, ok := g.lx.Next()
		if !ok {
			break
		}
		toks = append(toks, tok)
		switch rule.Continue(toks) {
		case AcceptAndFinish:
			return Group{Kind: rule.Kind(), Tokens: toks}
		case Reject:
			g.lx.Replay(1)
			return Group{Kind: rule.Kind(), Tokens: toks[:len(toks)-1]}
		}
	}
	return Group{Kind: rule.Kind(), Tokens: toks}
}
