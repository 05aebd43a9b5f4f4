package strategy

import (
	"errors"

	"cryptoSpotBot/internal/domain"
)

// ErrInvalidMaxBarCount is returned when a series is built with a zero or
// negative maximum bar count.
var ErrInvalidMaxBarCount = errors.New("maximum bar count must be positive")

// BarSeries is a bounded, chronologically ordered series of completed bars.
// Once maxCount bars are held, adding another evicts the oldest, so memory
// stays constant and indices always address the most recent window of bars.
//
// The series is not safe for concurrent use; it belongs to the goroutine that
// processes bars.
type BarSeries struct {
	maxCount int
	bars     []domain.Bar
}

// NewBarSeries builds an empty series holding at most maxCount bars.
func NewBarSeries(maxCount int) (*BarSeries, error) {
	if maxCount <= 0 {
		return nil, ErrInvalidMaxBarCount
	}
	return &BarSeries{
		maxCount: maxCount,
		bars:     make([]domain.Bar, 0, maxCount),
	}, nil
}

// Add appends a bar, evicting the oldest bar when the series is full.
func (s *BarSeries) Add(bar domain.Bar) {
	if len(s.bars) == s.maxCount {
		copy(s.bars, s.bars[1:])
		s.bars[len(s.bars)-1] = bar
		return
	}
	s.bars = append(s.bars, bar)
}

// Len returns the number of bars currently held.
func (s *BarSeries) Len() int {
	return len(s.bars)
}

// MaxCount returns the capacity the series was built with.
func (s *BarSeries) MaxCount() int {
	return s.maxCount
}

// EndIndex returns the index of the most recent bar, or -1 when empty.
func (s *BarSeries) EndIndex() int {
	return len(s.bars) - 1
}

// Bar returns the bar at the given index. Index 0 is the oldest bar still
// held. Out-of-range indices panic, like a slice access.
func (s *BarSeries) Bar(i int) domain.Bar {
	return s.bars[i]
}

// Last returns the most recent bar, if any.
func (s *BarSeries) Last() (domain.Bar, bool) {
	if len(s.bars) == 0 {
		return domain.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Bars returns a read-only view of the held bars, oldest first. The returned
// slice is only valid until the next Add.
func (s *BarSeries) Bars() []domain.Bar {
	return s.bars
}
