// Package lexer splits formula source into classified tokens: single
// operator symbols, runs of whitespace and runs of free text. Consumers may
// push recently read tokens back with Replay.
package lexer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultReplayDepth is how many tokens Replay can push back by default.
const DefaultReplayDepth = 10

// DefaultSymbols are the operator-symbol characters. Each one is emitted as
// its own token.
const DefaultSymbols = "/\\*[]{}():;,?|+-=^%&<>→!\n"

// DefaultWhitespace are the sticky whitespace characters.
const DefaultWhitespace = " \t\r"

// Class tells what kind of run a token holds.
type Class int

const (
	Plain Class = iota
	Symbol
	Space
)

func (c Class) String() string {
	switch c {
	case Symbol:
		return "symbol"
	case Space:
		return "space"
	default:
		return "plain"
	}
}

// Token is one lexical unit with its byte offset in the source.
type Token struct {
	Text   string
	Class  Class
	Offset int
}

// IsNewline reports whether the token is a line break.
func (t Token) IsNewline() bool { return t.Class == Symbol && t.Text == "\n" }

func (t Token) String() string {
	return fmt.Sprintf("%s(%q@%d)", t.Class, t.Text, t.Offset)
}

// Option configures a Lexer.
type Option func(*Lexer)

// WithReplayDepth sets how many tokens can be replayed.
func WithReplayDepth(n int) Option {
	return func(l *Lexer) { l.hist = newHistory(n) }
}

// WithSymbols replaces the operator-symbol set.
func WithSymbols(chars string) Option {
	return func(l *Lexer) { l.symbols = runeSet(chars) }
}

// WithWhitespace replaces the sticky whitespace set.
func WithWhitespace(chars string) Option {
	return func(l *Lexer) { l.space = runeSet(chars) }
}

// Lexer reads tokens from a rune stream. Not safe for concurrent use.
type Lexer struct {
	r       io.RuneReader
	symbols map[rune]bool
	space   map[rune]bool
	hist    *history
	pending int // tokens to serve from hist before reading again
	offset  int

	held     rune
	heldSize int
	hasHeld  bool

	err error
}

// New returns a lexer over r.
func New(r io.Reader, opts ...Option) *Lexer {
	rr, ok := r.(io.RuneReader)
	if !ok {
		rr = bufio.NewReader(r)
	}
	l := &Lexer{
		r:       rr,
		symbols: runeSet(DefaultSymbols),
		space:   runeSet(DefaultWhitespace),
		hist:    newHistory(DefaultReplayDepth),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewString returns a lexer over s.
func NewString(s string, opts ...Option) *Lexer {
	return New(strings.NewReader(s), opts...)
}

// Err returns the first read error other than io.EOF.
func (l *Lexer) Err() error { return l.err }

// Replay pushes back the n most recently returned tokens. Calls accumulate;
// the total is capped by the replay depth and the tokens seen so far.
func (l *Lexer) Replay(n int) {
	if n <= 0 {
		return
	}
	l.pending += n
	if n := l.hist.len(); l.pending > n {
		l.pending = n
	}
}

// Next returns the next token, or false at end of input.
func (l *Lexer) Next() (Token, bool) {
	if l.pending > 0 {
		t := l.hist.fromEnd(l.pending)
		l.pending--
		return t, true
	}
	t, ok := l.scan()
	if ok {
		l.hist.push(t)
	}
	return t, ok
}

func (l *Lexer) scan() (Token, bool) {
	var sb strings.Builder
	var tok Token
	for {
		r, off, ok := l.read()
		if !ok {
			break
		}
		switch {
		case l.space[r]:
			if sb.Len() > 0 && tok.Class != Space {
				l.unread()
				return l.emit(tok, &sb), true
			}
			if sb.Len() == 0 {
				tok = Token{Class: Space, Offset: off}
			}
			sb.WriteRune(r)
		case l.symbols[r]:
			if sb.Len() > 0 {
				l.unread()
				return l.emit(tok, &sb), true
			}
			return Token{Text: string(r), Class: Symbol, Offset: off}, true
		default:
			if sb.Len() > 0 && tok.Class == Space {
				l.unread()
				return l.emit(tok, &sb), true
			}
			if sb.Len() == 0 {
				tok = Token{Class: Plain, Offset: off}
			}
			sb.WriteRune(r)
		}
	}
	if sb.Len() > 0 {
		return l.emit(tok, &sb), true
	}
	return Token{}, false
}

func (l *Lexer) emit(t Token, sb *strings.Builder) Token {
	t.Text = sb.String()
	return t
}

func (l *Lexer) read() (rune, int, bool) {
	if l.hasHeld {
		l.hasHeld = false
		off := l.offset
		l.offset += l.heldSize
		return l.held, off, true
	}
	if l.err != nil {
		return 0, 0, false
	}
	r, size, err := l.r.ReadRune()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			l.err = fmt.Errorf("lexer: read at offset %d: %w", l.offset, err)
		}
		l.r = eofReader{}
		return 0, 0, false
	}
	off := l.offset
	l.offset += size
	l.held, l.heldSize = r, size
	return r, off, true
}

// unread holds back the rune returned by the last read.
func (l *Lexer) unread() {
	l.hasHeld = true
	l.offset -= l.heldSize
}

func runeSet(chars string) map[rune]bool {
	m := make(map[rune]bool, len(chars))
	for _, r := range chars {
		m[r] = true
	}
	return m
}

type eofReader struct{}

func (eofReader) ReadRune() (rune, int, error) { return 0, 0, io.EOF }
