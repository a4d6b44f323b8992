package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence restores the sequence counter (snapshot recovery)
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendJournal(
	batch *Batch,
	debit, credit AccountKey,
	assetID AssetID,
	amount int64,
	journalType JournalType,
) {
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   journalType,
		Timestamp:     batch.Timestamp,
	})
}

// GenerateDeposit credits collateral from custody.
// Moves funds: external:custody → user:collateral
func (jg *JournalGenerator) GenerateDeposit(
	userID uuid.UUID,
	depositID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(depositID.String(), timestamp, 1)
	jg.appendJournal(batch,
		NewUserAccountKey(userID, SubTypeCollateral, assetID),
		NewExternalAccountKey(SubTypeExternalCustody, assetID),
		assetID, amount, JournalTypeDeposit)
	jg.sequence++
	return batch, nil
}

// GenerateWithdrawal debits free collateral back to custody.
// Pre-check: user must have sufficient available balance.
func (jg *JournalGenerator) GenerateWithdrawal(
	userID uuid.UUID,
	withdrawalID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientAvailable(userID, assetID, amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}

	batch := jg.newBatch(withdrawalID.String(), timestamp, 1)
	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalCustody, assetID),
		NewUserAccountKey(userID, SubTypeCollateral, assetID),
		assetID, amount, JournalTypeWithdrawal)
	jg.sequence++
	return batch, nil
}

// GenerateTradeFill creates journals for a fill: fee, margin reserve on
// open/increase, realized PnL and margin release on reduce/close. Any
// funding payment applied by the pre-fill reconcile is journaled too.
func (jg *JournalGenerator) GenerateTradeFill(
	userID uuid.UUID,
	fillID uuid.UUID,
	marketID string,
	feeAmount int64,
	marginReserveAmount int64,
	marginReleaseAmount int64,
	realizedPnL int64,
	fundingPayment int64,
	quoteAssetID AssetID,
	timestamp int64,
) (*Batch, error) {
	// PRE-CHECK: opening legs must be funded from free collateral
	if required := feeAmount + marginReserveAmount; required > 0 {
		if err := jg.balanceTracker.ValidateSufficientAvailable(userID, quoteAssetID, required); err != nil {
			return nil, fmt.Errorf("trade pre-check failed: %w", err)
		}
	}

	batch := jg.newBatch(fillID.String(), timestamp, 5)

	if fundingPayment != 0 {
		jg.appendFundingReconcile(batch, userID, marketID, fundingPayment, quoteAssetID)
	}

	if feeAmount > 0 {
		jg.appendJournal(batch,
			NewSystemAccountKey(marketID, SubTypeSystemFees, quoteAssetID),
			NewUserAccountKey(userID, SubTypeCollateral, quoteAssetID),
			quoteAssetID, feeAmount, JournalTypeTradeFee)
	}

	if marginReserveAmount > 0 {
		jg.appendJournal(batch,
			NewUserAccountKey(userID, SubTypeMargin, quoteAssetID),
			NewUserAccountKey(userID, SubTypeCollateral, quoteAssetID),
			quoteAssetID, marginReserveAmount, JournalTypeMarginReserve)
	}

	if realizedPnL > 0 {
		jg.appendJournal(batch,
			NewUserAccountKey(userID, SubTypeCollateral, quoteAssetID),
			NewUserAccountKey(userID, SubTypePnL, quoteAssetID),
			quoteAssetID, realizedPnL, JournalTypeTradePnL)
	} else if realizedPnL < 0 {
		jg.appendJournal(batch,
			NewUserAccountKey(userID, SubTypePnL, quoteAssetID),
			NewUserAccountKey(userID, SubTypeCollateral, quoteAssetID),
			quoteAssetID, -realizedPnL, JournalTypeTradePnL)
	}

	if marginReleaseAmount > 0 {
		jg.appendJournal(batch,
			NewUserAccountKey(userID, SubTypeCollateral, quoteAssetID),
			NewUserAccountKey(userID, SubTypeMargin, quoteAssetID),
			quoteAssetID, marginReleaseAmount, JournalTypeMarginRelease)
	}

	jg.sequence++
	return batch, nil
}

// GenerateMarginAdd locks free collateral as position margin.
func (jg *JournalGenerator) GenerateMarginAdd(
	userID uuid.UUID,
	requestID uuid.UUID,
	marketID string,
	amount int64,
	fundingPayment int64,
	quoteAssetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientAvailable(userID, quoteAssetID, amount); err != nil {
		return nil, fmt.Errorf("margin add pre-check failed: %w", err)
	}

	batch := jg.newBatch(requestID.String(), timestamp, 2)
	if fundingPayment != 0 {
		jg.appendFundingReconcile(batch, userID, marketID, fundingPayment, quoteAssetID)
	}
	jg.appendJournal(batch,
		NewUserAccountKey(userID, SubTypeMargin, quoteAssetID),
		NewUserAccountKey(userID, SubTypeCollateral, quoteAssetID),
		quoteAssetID, amount, JournalTypeMarginReserve)
	jg.sequence++
	return batch, nil
}

// GenerateMarginRemove releases position margin back to free collateral.
// The maintenance-ratio check happens in the position ledger; this only
// verifies the locked balance covers the release.
func (jg *JournalGenerator) GenerateMarginRemove(
	userID uuid.UUID,
	requestID uuid.UUID,
	marketID string,
	amount int64,
	fundingPayment int64,
	quoteAssetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientMargin(userID, quoteAssetID, amount); err != nil {
		return nil, fmt.Errorf("margin remove pre-check failed: %w", err)
	}

	batch := jg.newBatch(requestID.String(), timestamp, 2)
	if fundingPayment != 0 {
		jg.appendFundingReconcile(batch, userID, marketID, fundingPayment, quoteAssetID)
	}
	jg.appendJournal(batch,
		NewUserAccountKey(userID, SubTypeCollateral, quoteAssetID),
		NewUserAccountKey(userID, SubTypeMargin, quoteAssetID),
		quoteAssetID, amount, JournalTypeMarginRelease)
	jg.sequence++
	return batch, nil
}

// GenerateMarginClaim pays out claimable margin excess to free collateral.
func (jg *JournalGenerator) GenerateMarginClaim(
	userID uuid.UUID,
	requestID uuid.UUID,
	marketID string,
	claimed int64,
	fundingPayment int64,
	quoteAssetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(requestID.String(), timestamp, 2)
	if fundingPayment != 0 {
		jg.appendFundingReconcile(batch, userID, marketID, fundingPayment, quoteAssetID)
	}
	if claimed > 0 {
		jg.appendJournal(batch,
			NewUserAccountKey(userID, SubTypeCollateral, quoteAssetID),
			NewUserAccountKey(userID, SubTypeMargin, quoteAssetID),
			quoteAssetID, claimed, JournalTypeMarginClaim)
	}
	if len(batch.Journals) == 0 {
		return nil, nil
	}
	jg.sequence++
	return batch, nil
}

// GenerateFundingReconcile journals a lazily settled funding payment for
// one position. The payment moves between the user's margin account and
// the market's funding pool; the pool nets to the skew absorption across
// all reconciles of one epoch delta.
func (jg *JournalGenerator) GenerateFundingReconcile(
	userID uuid.UUID,
	marketID string,
	eventRef string,
	fundingPayment int64,
	quoteAssetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if fundingPayment == 0 {
		return nil, nil
	}
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.appendFundingReconcile(batch, userID, marketID, fundingPayment, quoteAssetID)
	jg.sequence++
	return batch, nil
}

func (jg *JournalGenerator) appendFundingReconcile(
	batch *Batch,
	userID uuid.UUID,
	marketID string,
	fundingPayment int64,
	quoteAssetID AssetID,
) {
	if fundingPayment > 0 {
		// Position receives funding
		jg.appendJournal(batch,
			NewUserAccountKey(userID, SubTypeMargin, quoteAssetID),
			NewSystemAccountKey(marketID, SubTypeSystemFundingPool, quoteAssetID),
			quoteAssetID, fundingPayment, JournalTypeFundingReconcile)
	} else {
		// Position pays funding
		jg.appendJournal(batch,
			NewSystemAccountKey(marketID, SubTypeSystemFundingPool, quoteAssetID),
			NewUserAccountKey(userID, SubTypeMargin, quoteAssetID),
			quoteAssetID, -fundingPayment, JournalTypeFundingReconcile)
	}
}

// GenerateFundingSkew settles one epoch's open-interest imbalance between
// the funding pool and the insurance fund, keeping the books zero-sum
// without touching any position.
func (jg *JournalGenerator) GenerateFundingSkew(
	marketID string,
	epochID int64,
	skewAmount int64,
	quoteAssetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if skewAmount == 0 {
		return nil, nil
	}

	eventRef := fmt.Sprintf("%s:%d:skew", marketID, epochID)
	batch := jg.newBatch(eventRef, timestamp, 1)

	if skewAmount > 0 {
		// Imbalanced side will over-receive; insurance fund backs the pool.
		jg.appendJournal(batch,
			NewSystemAccountKey(marketID, SubTypeSystemFundingPool, quoteAssetID),
			NewSystemAccountKey("insurance", SubTypeSystemInsuranceFund, quoteAssetID),
			quoteAssetID, skewAmount, JournalTypeFundingSkew)
	} else {
		// Pool will over-collect; excess accrues to the insurance fund.
		jg.appendJournal(batch,
			NewSystemAccountKey("insurance", SubTypeSystemInsuranceFund, quoteAssetID),
			NewSystemAccountKey(marketID, SubTypeSystemFundingPool, quoteAssetID),
			quoteAssetID, -skewAmount, JournalTypeFundingSkew)
	}

	jg.sequence++
	return batch, nil
}

// GenerateInsuranceCoverage creates journals for the insurance fund
// covering a bankruptcy deficit.
func (jg *JournalGenerator) GenerateInsuranceCoverage(
	userID uuid.UUID,
	referenceID uuid.UUID,
	coverageAmount int64,
	quoteAssetID AssetID,
	timestamp int64,
) (*Batch, error) {
	eventRef := fmt.Sprintf("%s:insurance", referenceID)
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.appendJournal(batch,
		NewUserAccountKey(userID, SubTypeCollateral, quoteAssetID),
		NewSystemAccountKey("insurance", SubTypeSystemInsuranceFund, quoteAssetID),
		quoteAssetID, coverageAmount, JournalTypeInsuranceFundDebit)
	jg.sequence++
	return batch, nil
}
