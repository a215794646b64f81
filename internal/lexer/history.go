package lexer

// history is a fixed-size circular buffer of the most recently emitted
// tokens. Overwrites the oldest entry when full.
type history struct {
	buf  []Token
	cap  int
	pos  int // next write position
	full bool
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultReplayDepth
	}
	return &history{buf: make([]Token, capacity), cap: capacity}
}

func (h *history) push(t Token) {
	h.buf[h.pos] = t
	h.pos = (h.pos + 1) % h.cap
	if h.pos == 0 && !h.full {
		h.full = true
	}
}

func (h *history) len() int {
	if h.full {
		return h.cap
	}
	return h.pos
}

// fromEnd returns the token n positions back; fromEnd(1) is the newest.
func (h *history) fromEnd(n int) Token {
	return h.buf[(h.pos-n+h.cap)%h.cap]
}
