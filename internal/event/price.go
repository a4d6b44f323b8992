package event

import "fmt"

// PriceTick carries one mark/index price observation for a market. The
// core appends it to the TWAP accumulators; ticks older than the latest
// recorded timestamp are rejected per market.
type PriceTick struct {
	Market         string
	MarkPip        int64 // Fixed-point: pip scale
	IndexPip       int64 // Fixed-point: pip scale (external reference price)
	PriceSequence  int64 // Monotonic per market; gaps tolerated
	PriceTimestamp int64 // Unix seconds (versioned input)
	BlockHeight    int64
}

func (p *PriceTick) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Market, p.PriceSequence)
}

func (p *PriceTick) EventType() EventType {
	return EventTypePriceTick
}

func (p *PriceTick) MarketID() *string {
	m := p.Market
	return &m
}

func (p *PriceTick) SourceSequence() int64 {
	return p.PriceSequence
}
