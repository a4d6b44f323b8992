package event

import (
	"time"

	"github.com/google/uuid"
)

// MarginDeposit credits collateral to a trader's account.
// Idempotency key: deposit_id.
type MarginDeposit struct {
	DepositID uuid.UUID
	UserID    uuid.UUID
	Asset     string
	Amount    int64 // Quote scale
	Sequence  int64
	Timestamp time.Time
}

func (d *MarginDeposit) IdempotencyKey() string { return d.DepositID.String() }
func (d *MarginDeposit) EventType() EventType   { return EventTypeMarginDeposit }
func (d *MarginDeposit) MarketID() *string      { return nil }
func (d *MarginDeposit) SourceSequence() int64  { return d.Sequence }

// MarginWithdraw debits free collateral from a trader's account. Rejected
// when the available balance is insufficient.
type MarginWithdraw struct {
	WithdrawalID uuid.UUID
	UserID       uuid.UUID
	Asset        string
	Amount       int64 // Quote scale
	Sequence     int64
	Timestamp    time.Time
}

func (w *MarginWithdraw) IdempotencyKey() string { return w.WithdrawalID.String() }
func (w *MarginWithdraw) EventType() EventType   { return EventTypeMarginWithdraw }
func (w *MarginWithdraw) MarketID() *string      { return nil }
func (w *MarginWithdraw) SourceSequence() int64  { return w.Sequence }

// MarginAdd moves free collateral into a position's margin. The position
// is reconciled against pending funding before the credit applies.
type MarginAdd struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Market    string
	Amount    int64 // Quote scale
	Sequence  int64
	Timestamp time.Time
}

func (m *MarginAdd) IdempotencyKey() string { return m.RequestID.String() }
func (m *MarginAdd) EventType() EventType   { return EventTypeMarginAdd }
func (m *MarginAdd) MarketID() *string      { s := m.Market; return &s }
func (m *MarginAdd) SourceSequence() int64  { return m.Sequence }

// MarginRemove moves position margin back to free collateral. Rejected
// when it would drop the margin ratio below the maintenance threshold.
type MarginRemove struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Market    string
	Amount    int64 // Quote scale
	Sequence  int64
	Timestamp time.Time
}

func (m *MarginRemove) IdempotencyKey() string { return m.RequestID.String() }
func (m *MarginRemove) EventType() EventType   { return EventTypeMarginRemove }
func (m *MarginRemove) MarketID() *string      { s := m.Market; return &s }
func (m *MarginRemove) SourceSequence() int64  { return m.Sequence }

// MarginClaim pays out margin in excess of the remaining position's
// requirement (claimFund).
type MarginClaim struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Market    string
	Sequence  int64
	Timestamp time.Time
}

func (m *MarginClaim) IdempotencyKey() string { return m.RequestID.String() }
func (m *MarginClaim) EventType() EventType   { return EventTypeMarginClaim }
func (m *MarginClaim) MarketID() *string      { s := m.Market; return &s }
func (m *MarginClaim) SourceSequence() int64  { return m.Sequence }
