package event

import (
	"fmt"
)

// FundingPay marks a funding-period boundary for a market. The core
// computes the mark and index TWAPs as of Timestamp and folds the period's
// premium fraction into the market's global accumulator. No position is
// touched; settlement is lazy. Idempotency key: "{market}:{epoch_id}:pay".
type FundingPay struct {
	Market    string
	EpochID   int64 // Monotonic per market
	Timestamp int64 // Epoch boundary, unix seconds (versioned input)
}

func (f *FundingPay) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:pay", f.Market, f.EpochID)
}

func (f *FundingPay) EventType() EventType {
	return EventTypeFundingPay
}

func (f *FundingPay) MarketID() *string {
	s := f.Market
	return &s
}

func (f *FundingPay) SourceSequence() int64 {
	return f.EpochID
}
