package indicator

// RSI is the Relative Strength Index with Wilder's smoothing, seeded by the
// mean gain and loss of the first period deltas.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string { return name("rsi", r.period) }

func (r *RSI) Update(price float64) {
	r.count++
	if r.count == 1 {
		r.prevClose = price
		return
	}

	gain, loss := split(price - r.prevClose)
	r.prevClose = price
	p := float64(r.period)

	switch {
	case r.count <= r.period:
		r.avgGain += gain
		r.avgLoss += loss
		return
	case r.count == r.period+1:
		r.avgGain = (r.avgGain + gain) / p
		r.avgLoss = (r.avgLoss + loss) / p
	default:
		r.avgGain = (r.avgGain*(p-1) + gain) / p
		r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	}
	r.current = strength(r.avgGain, r.avgLoss)
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }

// split returns a price change as a (gain, loss) pair, both non-negative.
func split(delta float64) (float64, float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func strength(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}
