package adapter

import (
	"PerpFunding/internal/event"

	"github.com/google/uuid"
)

// MockPositionManager is a scripted test double: prices, TWAPs, time, and
// block height are set explicitly, and orders fill at the scripted price.
// Limit orders rest until a matching market order crosses them, moving the
// current price to the limit pip, which is how tests drive price changes.
type MockPositionManager struct {
	currentPip map[string]int64
	twapPrice  map[string]int64 // Price scale
	mockTime   int64
	mockHeight int64
	nextSeq    int64
	restingPip map[string]int64 // Last resting limit pip per market
}

func NewMockPositionManager() *MockPositionManager {
	return &MockPositionManager{
		currentPip: make(map[string]int64),
		twapPrice:  make(map[string]int64),
		restingPip: make(map[string]int64),
	}
}

// SetMockPrice scripts the current pip price for a market.
func (m *MockPositionManager) SetMockPrice(marketID string, pip int64) {
	m.currentPip[marketID] = pip
}

// SetMockTwap scripts the mark TWAP (price scale) for a market.
func (m *MockPositionManager) SetMockTwap(marketID string, twap int64) {
	m.twapPrice[marketID] = twap
}

// SetMockTimeAndBlock scripts the clock and block height used on fills.
func (m *MockPositionManager) SetMockTimeAndBlock(time, height int64) {
	m.mockTime = time
	m.mockHeight = height
}

func (m *MockPositionManager) CurrentPrice(marketID string) (int64, error) {
	pip, ok := m.currentPip[marketID]
	if !ok {
		return 0, ErrNoLiquidity
	}
	return pip, nil
}

func (m *MockPositionManager) TwapPrice(marketID string, windowSeconds int64) (int64, error) {
	twap, ok := m.twapPrice[marketID]
	if !ok {
		return 0, ErrNoLiquidity
	}
	return twap, nil
}

func (m *MockPositionManager) OpenLimit(marketID string, side event.Side, quantity, pip, leverage int64) (Fill, error) {
	if quantity <= 0 || pip <= 0 {
		return Fill{}, ErrNoLiquidity
	}
	m.restingPip[marketID] = pip
	seq := m.nextSeq
	m.nextSeq++
	return Fill{
		FillID:       uuid.New(),
		Quantity:     quantity,
		Pip:          pip,
		FillSequence: seq,
		Timestamp:    m.mockTime,
	}, nil
}

func (m *MockPositionManager) OpenMarket(marketID string, side event.Side, quantity, leverage int64) (Fill, error) {
	pip, ok := m.restingPip[marketID]
	if !ok {
		pip, ok = m.currentPip[marketID]
		if !ok {
			return Fill{}, ErrNoLiquidity
		}
	}
	// Crossing the resting order moves the traded price to its pip.
	m.currentPip[marketID] = pip
	delete(m.restingPip, marketID)
	seq := m.nextSeq
	m.nextSeq++
	return Fill{
		FillID:       uuid.New(),
		Quantity:     quantity,
		Pip:          pip,
		FillSequence: seq,
		Timestamp:    m.mockTime,
	}, nil
}
