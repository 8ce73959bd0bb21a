package marketdata

import "sync"

// rsiPeriod is the standard Wilder smoothing period.
const rsiPeriod = 14

// MomentumTracker maintains a streaming Wilder RSI per symbol so quote
// providers can populate the momentum indicator without candle history.
type MomentumTracker struct {
	mu     sync.Mutex
	states map[string]*rsiState
}

type rsiState struct {
	prev     float64
	avgGain  float64
	avgLoss  float64
	observed int
}

// NewMomentumTracker creates an empty tracker.
func NewMomentumTracker() *MomentumTracker {
	return &MomentumTracker{states: make(map[string]*rsiState)}
}

// Update feeds a new price observation and returns the current RSI for
// the symbol. Until a full period of observations has accumulated it
// returns a neutral 50 so the early readings neither arm nor trigger
// momentum exits.
func (t *MomentumTracker) Update(symbol string, price float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[symbol]
	if !ok {
		t.states[symbol] = &rsiState{prev: price, observed: 1}
		return 50
	}

	change := price - s.prev
	s.prev = price
	s.observed++

	var gain, loss float64
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	changes := s.observed - 1
	if changes <= rsiPeriod {
		// Still building the initial averages.
		s.avgGain += gain / rsiPeriod
		s.avgLoss += loss / rsiPeriod
		if changes < rsiPeriod {
			return 50
		}
	} else {
		s.avgGain = (s.avgGain*(rsiPeriod-1) + gain) / rsiPeriod
		s.avgLoss = (s.avgLoss*(rsiPeriod-1) + loss) / rsiPeriod
	}

	if s.avgLoss == 0 {
		return 100
	}
	rs := s.avgGain / s.avgLoss
	return 100 - (100 / (1 + rs))
}

// Forget drops per-symbol state after a position is closed.
func (t *MomentumTracker) Forget(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, symbol)
}
