package donation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"tithe/core/events"
)

var (
	errNilState           = errors.New("donation engine: state not configured")
	errVaultNotSet        = errors.New("donation engine: vault adapter not configured")
	errTokenNotSet        = errors.New("donation engine: token mover not configured")
	errFeeCollectorNotSet = errors.New("donation engine: fee collector not configured")
	errCustodyNotSet      = errors.New("donation engine: custody account not configured")

	// ErrAmountZero rejects operations invoked with a zero or negative amount.
	ErrAmountZero = errors.New("donation engine: amount must be positive")
	// ErrInsufficientBalance rejects operations exceeding the caller's funds or shares.
	ErrInsufficientBalance = errors.New("donation engine: insufficient balance")
	// ErrBatchMinimumNotReached rejects a cooldown start below the configured threshold.
	ErrBatchMinimumNotReached = errors.New("donation engine: batch minimum not reached")
	// ErrCooldownActive rejects a cooldown start while the active batch is already cooling.
	ErrCooldownActive = errors.New("donation engine: cooldown already active")
	// ErrAlreadyClaimed rejects a repeat claim for an epoch the caller already consumed.
	ErrAlreadyClaimed = errors.New("donation engine: entitlement already claimed")
	// ErrInvalidProof rejects a claim whose proof does not match the commitment root.
	ErrInvalidProof = errors.New("donation engine: invalid claim proof")
)

const (
	feeRatePercent   = 5
	donorRatePercent = 70
)

// TokenMover moves settlement currency between ledger accounts.
type TokenMover interface {
	BalanceOf(addr [20]byte) (*big.Int, error)
	Transfer(from [20]byte, to [20]byte, amount *big.Int) error
}

// VaultAdapter exposes the yield-bearing reserve holding the pooled donations.
type VaultAdapter interface {
	Deposit(amount *big.Int) error
	ConvertToShares(amount *big.Int) (*big.Int, error)
	PreviewRedeem(shares *big.Int) (*big.Int, error)
	Cooldown(shares *big.Int) error
	Unstake() (*big.Int, error)
}

type engineState interface {
	DonationDonorGet(addr [20]byte) (*DonorRecord, bool, error)
	DonationDonorPut(rec *DonorRecord) error
	DonationRecipientGet(addr [20]byte) (*RecipientRecord, bool, error)
	DonationRecipientPut(rec *RecipientRecord) error
	DonationBatchGet(epoch uint64) (*Batch, bool, error)
	DonationBatchPut(batch *Batch) error
	DonationShareEntryGet(epoch uint64, participant [20]byte) (*ShareEntry, bool, error)
	DonationShareEntryPut(entry *ShareEntry) error
	DonationCountersGet() (*Counters, error)
	DonationCountersPut(counters *Counters) error
}

// Engine wires the donation settlement business logic with persistence, the
// external vault/token collaborators and event emission. Operations validate
// input before touching state; fund-moving flows update internal bookkeeping
// before invoking the token and vault collaborators.
type Engine struct {
	state        engineState
	vault        VaultAdapter
	token        TokenMover
	emitter      events.Emitter
	nowFn        func() int64
	feeCollector [20]byte
	custody      [20]byte
	minBatch     *big.Int
}

// NewEngine constructs a settlement engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
		minBatch: big.NewInt(0),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault configures the yield-bearing reserve adapter.
func (e *Engine) SetVault(vault VaultAdapter) { e.vault = vault }

// SetToken configures the settlement-currency mover.
func (e *Engine) SetToken(token TokenMover) { e.token = token }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetFeeCollector configures the operating address receiving donation fees.
func (e *Engine) SetFeeCollector(addr [20]byte) { e.feeCollector = addr }

// SetCustody configures the account holding pooled funds awaiting the vault
// and matured funds awaiting claims.
func (e *Engine) SetCustody(addr [20]byte) { e.custody = addr }

// SetMinimumBatchThreshold configures the smallest queued amount eligible for
// a cooldown start.
func (e *Engine) SetMinimumBatchThreshold(min *big.Int) {
	e.minBatch = newBigInt(min)
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newDonorRecord(addr [20]byte) *DonorRecord {
	return &DonorRecord{
		Address:        addr,
		TotalGross:     big.NewInt(0),
		NetContributed: big.NewInt(0),
		TotalShares:    big.NewInt(0),
	}
}

func newRecipientRecord(addr [20]byte) *RecipientRecord {
	return &RecipientRecord{
		Address:         addr,
		TotalReceived:   big.NewInt(0),
		ClaimableShares: big.NewInt(0),
	}
}

func newBatch(epoch uint64) *Batch {
	return &Batch{Epoch: epoch, QueuedShares: big.NewInt(0)}
}

func newShareEntry(epoch uint64, participant [20]byte) *ShareEntry {
	return &ShareEntry{
		Epoch:         epoch,
		Participant:   participant,
		Shares:        big.NewInt(0),
		YieldBasis:    big.NewInt(0),
		ClaimedAmount: big.NewInt(0),
	}
}

func (e *Engine) counters() (*Counters, error) {
	counters, err := e.state.DonationCountersGet()
	if err != nil {
		return nil, err
	}
	if counters == nil {
		counters = &Counters{TotalDonationsGross: big.NewInt(0), TotalClaimed: big.NewInt(0)}
	}
	return counters, nil
}

func (e *Engine) batchOrNew(epoch uint64) (*Batch, error) {
	batch, ok, err := e.state.DonationBatchGet(epoch)
	if err != nil {
		return nil, err
	}
	if !ok || batch == nil {
		batch = newBatch(epoch)
	}
	return batch, nil
}

// SplitDonation derives the fee and the donor/recipient yield-basis portions
// for a gross amount. The recipient portion absorbs any floor-division
// remainder so the three always sum back to gross.
func SplitDonation(gross *big.Int) (fee, donorPortion, recipientPortion *big.Int) {
	fee = new(big.Int).Mul(gross, big.NewInt(feeRatePercent))
	fee.Div(fee, big.NewInt(100))
	net := new(big.Int).Sub(gross, fee)
	donorPortion = new(big.Int).Mul(net, big.NewInt(donorRatePercent))
	donorPortion.Div(donorPortion, big.NewInt(100))
	recipientPortion = new(big.Int).Sub(net, donorPortion)
	return fee, donorPortion, recipientPortion
}

// Donate records a donation, splitting the gross amount between the operating
// fee, the donor yield basis and the recipient yield basis, then forwards the
// fee to the collector and the net amount into the vault.
func (e *Engine) Donate(donor [20]byte, recipient [20]byte, gross *big.Int) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.vault == nil {
		return nil, errVaultNotSet
	}
	if e.token == nil {
		return nil, errTokenNotSet
	}
	if isZeroAddress(e.feeCollector) {
		return nil, errFeeCollectorNotSet
	}
	if isZeroAddress(e.custody) {
		return nil, errCustodyNotSet
	}
	if gross == nil || gross.Sign() <= 0 {
		return nil, ErrAmountZero
	}
	balance, err := e.token.BalanceOf(donor)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Cmp(gross) < 0 {
		return nil, fmt.Errorf("%w: donor %s holds %s, needs %s", ErrInsufficientBalance, hexAddr(donor), bigString(balance), gross)
	}

	fee, donorPortion, recipientPortion := SplitDonation(gross)
	net := new(big.Int).Add(donorPortion, recipientPortion)
	donorShares, err := e.vault.ConvertToShares(donorPortion)
	if err != nil {
		return nil, err
	}
	netShares, err := e.vault.ConvertToShares(net)
	if err != nil {
		return nil, err
	}
	// Recipient shares are the difference so the two sides always sum to the
	// net conversion even when the vault rate is non-linear.
	recipientShares := new(big.Int).Sub(netShares, donorShares)

	counters, err := e.counters()
	if err != nil {
		return nil, err
	}
	epoch := counters.CurrentEpoch
	now := e.now()

	donorRec, ok, err := e.state.DonationDonorGet(donor)
	if err != nil {
		return nil, err
	}
	if !ok || donorRec == nil {
		donorRec = newDonorRecord(donor)
	}
	donorRec.TotalGross = new(big.Int).Add(donorRec.TotalGross, gross)
	donorRec.NetContributed = new(big.Int).Add(donorRec.NetContributed, net)
	donorRec.TotalShares = new(big.Int).Add(donorRec.TotalShares, donorShares)
	if err := e.state.DonationDonorPut(donorRec); err != nil {
		return nil, err
	}

	recipientRec, ok, err := e.state.DonationRecipientGet(recipient)
	if err != nil {
		return nil, err
	}
	if !ok || recipientRec == nil {
		recipientRec = newRecipientRecord(recipient)
	}
	recipientRec.TotalReceived = new(big.Int).Add(recipientRec.TotalReceived, net)
	recipientRec.ClaimableShares = new(big.Int).Add(recipientRec.ClaimableShares, recipientShares)
	if err := e.state.DonationRecipientPut(recipientRec); err != nil {
		return nil, err
	}

	if err := e.accrueShareEntry(epoch, donor, donorShares, donorPortion); err != nil {
		return nil, err
	}
	if err := e.accrueShareEntry(epoch, recipient, recipientShares, recipientPortion); err != nil {
		return nil, err
	}

	counters.TotalDonationsGross = new(big.Int).Add(counters.TotalDonationsGross, gross)
	if err := e.state.DonationCountersPut(counters); err != nil {
		return nil, err
	}

	if fee.Sign() > 0 {
		if err := e.token.Transfer(donor, e.feeCollector, fee); err != nil {
			return nil, err
		}
	}
	if err := e.token.Transfer(donor, e.custody, net); err != nil {
		return nil, err
	}
	if err := e.vault.Deposit(net); err != nil {
		return nil, err
	}

	e.emit(DonationRecordedEvent(hexAddr(donor), hexAddr(recipient), gross.String(), net.String(), donorShares.String(), now))
	return &Receipt{
		Donor:           donor,
		Recipient:       recipient,
		Gross:           newBigInt(gross),
		Fee:             fee,
		Net:             net,
		DonorShares:     donorShares,
		RecipientShares: recipientShares,
		Epoch:           epoch,
		RecordedAt:      now,
	}, nil
}

func (e *Engine) accrueShareEntry(epoch uint64, participant [20]byte, shares, basis *big.Int) error {
	entry, ok, err := e.state.DonationShareEntryGet(epoch, participant)
	if err != nil {
		return err
	}
	if !ok || entry == nil {
		entry = newShareEntry(epoch, participant)
	}
	entry.Shares = new(big.Int).Add(entry.Shares, shares)
	entry.YieldBasis = new(big.Int).Add(entry.YieldBasis, basis)
	return e.state.DonationShareEntryPut(entry)
}

// QueueWithdrawal moves recipient shares into the batch for the active epoch,
// or the following epoch when the active batch is already cooling down.
func (e *Engine) QueueWithdrawal(recipient [20]byte, shares *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if shares == nil || shares.Sign() <= 0 {
		return ErrAmountZero
	}
	recipientRec, ok, err := e.state.DonationRecipientGet(recipient)
	if err != nil {
		return err
	}
	if !ok || recipientRec == nil {
		recipientRec = newRecipientRecord(recipient)
	}
	if recipientRec.ClaimableShares.Cmp(shares) < 0 {
		return fmt.Errorf("%w: recipient %s has %s claimable shares, requested %s", ErrInsufficientBalance, hexAddr(recipient), recipientRec.ClaimableShares, shares)
	}
	counters, err := e.counters()
	if err != nil {
		return err
	}
	active, err := e.batchOrNew(counters.CurrentEpoch)
	if err != nil {
		return err
	}
	target := active
	if active.InCooldown {
		target, err = e.batchOrNew(counters.CurrentEpoch + 1)
		if err != nil {
			return err
		}
	}
	now := e.now()
	if target.CooldownStartedAt == 0 {
		target.CooldownStartedAt = now
	}
	target.QueuedShares = new(big.Int).Add(target.QueuedShares, shares)
	if err := e.state.DonationBatchPut(target); err != nil {
		return err
	}
	recipientRec.ClaimableShares = new(big.Int).Sub(recipientRec.ClaimableShares, shares)
	if err := e.state.DonationRecipientPut(recipientRec); err != nil {
		return err
	}
	e.emit(WithdrawalQueuedEvent(hexAddr(recipient), shares.String(), target.Epoch, now))
	return nil
}

// StartCooldown freezes the active batch and instructs the vault to begin the
// cooldown for its queued shares. Re-invocation while the batch is already
// cooling is rejected, as is a batch with nothing queued. The batch is only
// marked cooling once the vault has accepted the cooldown, so a vault failure
// leaves the batch open for a retry.
func (e *Engine) StartCooldown() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == nil {
		return errVaultNotSet
	}
	counters, err := e.counters()
	if err != nil {
		return err
	}
	batch, err := e.batchOrNew(counters.CurrentEpoch)
	if err != nil {
		return err
	}
	if batch.InCooldown {
		return fmt.Errorf("%w: epoch %d", ErrCooldownActive, batch.Epoch)
	}
	if batch.QueuedShares.Sign() == 0 {
		return fmt.Errorf("%w: epoch %d has no queued shares", ErrBatchMinimumNotReached, batch.Epoch)
	}
	if batch.QueuedShares.Cmp(e.minBatch) < 0 {
		return fmt.Errorf("%w: epoch %d queued %s below threshold %s", ErrBatchMinimumNotReached, batch.Epoch, batch.QueuedShares, e.minBatch)
	}
	if err := e.vault.Cooldown(batch.QueuedShares); err != nil {
		return err
	}
	batch.InCooldown = true
	if err := e.state.DonationBatchPut(batch); err != nil {
		return err
	}
	e.emit(BatchCooldownStartedEvent(batch.Epoch, batch.QueuedShares.String(), e.now()))
	return nil
}

// CompleteUnstake releases the cooled-down funds into ledger custody and
// advances the epoch counter by exactly one, opening a fresh idle batch.
func (e *Engine) CompleteUnstake() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == nil {
		return errVaultNotSet
	}
	counters, err := e.counters()
	if err != nil {
		return err
	}
	released, err := e.vault.Unstake()
	if err != nil {
		return err
	}
	settled := counters.CurrentEpoch
	counters.CurrentEpoch = settled + 1
	if err := e.state.DonationCountersPut(counters); err != nil {
		return err
	}
	fresh, err := e.batchOrNew(counters.CurrentEpoch)
	if err != nil {
		return err
	}
	if err := e.state.DonationBatchPut(fresh); err != nil {
		return err
	}
	e.emit(BatchSettledEvent(settled, bigString(released), counters.CurrentEpoch, e.now()))
	return nil
}

// SetCommitmentRoot overwrites the published claim root wholesale.
func (e *Engine) SetCommitmentRoot(root [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	counters, err := e.counters()
	if err != nil {
		return err
	}
	counters.CommitmentRoot = root
	if err := e.state.DonationCountersPut(counters); err != nil {
		return err
	}
	e.emit(CommitmentRootUpdatedEvent("0x"+hex.EncodeToString(root[:]), counters.CurrentEpoch, e.now()))
	return nil
}

// Claim verifies the caller's inclusion proof against the commitment root and
// pays the amount from ledger custody. A claim succeeds at most once per
// (epoch, caller).
func (e *Engine) Claim(caller [20]byte, amount *big.Int, leafIndex uint64, proof [][32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errTokenNotSet
	}
	if isZeroAddress(e.custody) {
		return errCustodyNotSet
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	counters, err := e.counters()
	if err != nil {
		return err
	}
	epoch := counters.CurrentEpoch
	entry, ok, err := e.state.DonationShareEntryGet(epoch, caller)
	if err != nil {
		return err
	}
	if ok && entry != nil && entry.Claimed {
		return fmt.Errorf("%w: epoch %d participant %s", ErrAlreadyClaimed, epoch, hexAddr(caller))
	}
	leaf := ClaimLeaf(caller, amount)
	if !VerifyClaimProof(leaf, leafIndex, proof, counters.CommitmentRoot) {
		return fmt.Errorf("%w: epoch %d participant %s amount %s", ErrInvalidProof, epoch, hexAddr(caller), amount)
	}
	// Custody must cover the payout before the entitlement is consumed, so a
	// failed transfer never burns a valid claim.
	if amount.Sign() > 0 {
		custodyBalance, err := e.token.BalanceOf(e.custody)
		if err != nil {
			return err
		}
		if custodyBalance == nil || custodyBalance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: custody %s holds %s, claim needs %s", ErrInsufficientBalance, hexAddr(e.custody), bigString(custodyBalance), amount)
		}
	}

	if !ok || entry == nil {
		entry = newShareEntry(epoch, caller)
	}
	entry.Claimed = true
	entry.ClaimedAmount = new(big.Int).Add(entry.ClaimedAmount, amount)
	if err := e.state.DonationShareEntryPut(entry); err != nil {
		return err
	}
	now := e.now()
	donorRec, ok, err := e.state.DonationDonorGet(caller)
	if err != nil {
		return err
	}
	if ok && donorRec != nil {
		donorRec.LastClaimedAt = now
		if err := e.state.DonationDonorPut(donorRec); err != nil {
			return err
		}
	}
	recipientRec, ok, err := e.state.DonationRecipientGet(caller)
	if err != nil {
		return err
	}
	if ok && recipientRec != nil {
		recipientRec.LastClaimedAt = now
		if err := e.state.DonationRecipientPut(recipientRec); err != nil {
			return err
		}
	}
	counters.TotalClaimed = new(big.Int).Add(counters.TotalClaimed, amount)
	if err := e.state.DonationCountersPut(counters); err != nil {
		return err
	}
	if amount.Sign() > 0 {
		if err := e.token.Transfer(e.custody, caller, amount); err != nil {
			return err
		}
	}
	e.emit(ClaimPaidEvent(hexAddr(caller), amount.String(), epoch, now))
	return nil
}

// Yield returns realized value minus the recorded yield basis for the given
// (epoch, participant). The result is negative when the vault has lost value
// since deposit. Never mutates state.
func (e *Engine) Yield(epoch uint64, participant [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	entry, ok, err := e.state.DonationShareEntryGet(epoch, participant)
	if err != nil {
		return nil, err
	}
	if !ok || entry == nil {
		return big.NewInt(0), nil
	}
	var realized *big.Int
	if entry.Claimed {
		realized = newBigInt(entry.ClaimedAmount)
	} else {
		if e.vault == nil {
			return nil, errVaultNotSet
		}
		realized, err = e.vault.PreviewRedeem(entry.Shares)
		if err != nil {
			return nil, err
		}
		realized = newBigInt(realized)
	}
	return realized.Sub(realized, newBigInt(entry.YieldBasis)), nil
}

// BatchInfo returns the batch tracked for the supplied epoch without mutating
// state. A zero-valued batch is returned for an untouched index.
func (e *Engine) BatchInfo(epoch uint64) (*Batch, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	batch, ok, err := e.state.DonationBatchGet(epoch)
	if err != nil {
		return nil, err
	}
	if !ok || batch == nil {
		batch = newBatch(epoch)
	}
	return batch.Clone(), nil
}

// Donor returns the cumulative record for the supplied donor identity.
func (e *Engine) Donor(addr [20]byte) (*DonorRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rec, ok, err := e.state.DonationDonorGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || rec == nil {
		rec = newDonorRecord(addr)
	}
	return rec.Clone(), nil
}

// Recipient returns the cumulative record for the supplied recipient identity.
func (e *Engine) Recipient(addr [20]byte) (*RecipientRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rec, ok, err := e.state.DonationRecipientGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || rec == nil {
		rec = newRecipientRecord(addr)
	}
	return rec.Clone(), nil
}

// ShareEntryAt returns the per-epoch share accounting for a participant.
func (e *Engine) ShareEntryAt(epoch uint64, participant [20]byte) (*ShareEntry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	entry, ok, err := e.state.DonationShareEntryGet(epoch, participant)
	if err != nil {
		return nil, err
	}
	if !ok || entry == nil {
		entry = newShareEntry(epoch, participant)
	}
	return entry.Clone(), nil
}

// CountersView returns the ledger-wide counters without mutating state.
func (e *Engine) CountersView() (*Counters, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	counters, err := e.counters()
	if err != nil {
		return nil, err
	}
	return counters.Clone(), nil
}
