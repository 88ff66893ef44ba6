package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tithe/core/types"
	"tithe/native/donation"
	"tithe/storage"
)

// ErrInsufficientFunds is returned by Transfer when the source account cannot
// cover the requested amount.
var ErrInsufficientFunds = errors.New("state: insufficient funds")

// Manager persists the settlement ledger tables and the settlement-currency
// account balances over a key-value database. Records are RLP encoded under
// keccak-hashed prefixed keys. It backs both the engine's state seam and its
// token mover.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func donorKey(addr [20]byte) []byte {
	return prefixedKey(donationDonorPrefix, addr[:])
}

func recipientKey(addr [20]byte) []byte {
	return prefixedKey(donationRecipientPrefix, addr[:])
}

func batchKey(epoch uint64) []byte {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], epoch)
	return prefixedKey(donationBatchPrefix, idx[:])
}

func shareEntryKey(epoch uint64, participant [20]byte) []byte {
	buf := make([]byte, 8+len(participant))
	binary.BigEndian.PutUint64(buf[:8], epoch)
	copy(buf[8:], participant[:])
	return prefixedKey(donationShareEntryPrefix, buf)
}

func countersKey() []byte {
	return ethcrypto.Keccak256(donationCountersKeyBytes)
}

func accountKey(addr [20]byte) []byte {
	return prefixedKey(accountPrefix, addr[:])
}

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) write(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) read(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// --- Donor records ---

type storedDonor struct {
	Address        [20]byte
	TotalGross     *big.Int
	NetContributed *big.Int
	TotalShares    *big.Int
	LastClaimedAt  *big.Int
}

// DonationDonorGet loads the cumulative record for a donor identity.
func (m *Manager) DonationDonorGet(addr [20]byte) (*donation.DonorRecord, bool, error) {
	stored := new(storedDonor)
	ok, err := m.read(donorKey(addr), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	rec := &donation.DonorRecord{
		Address:        stored.Address,
		TotalGross:     copyBigInt(stored.TotalGross),
		NetContributed: copyBigInt(stored.NetContributed),
		TotalShares:    copyBigInt(stored.TotalShares),
	}
	if stored.LastClaimedAt != nil {
		rec.LastClaimedAt = stored.LastClaimedAt.Int64()
	}
	return rec, true, nil
}

// DonationDonorPut persists the cumulative record for a donor identity.
func (m *Manager) DonationDonorPut(rec *donation.DonorRecord) error {
	if rec == nil {
		return fmt.Errorf("state: nil donor record")
	}
	return m.write(donorKey(rec.Address), &storedDonor{
		Address:        rec.Address,
		TotalGross:     copyBigInt(rec.TotalGross),
		NetContributed: copyBigInt(rec.NetContributed),
		TotalShares:    copyBigInt(rec.TotalShares),
		LastClaimedAt:  big.NewInt(rec.LastClaimedAt),
	})
}

// --- Recipient records ---

type storedRecipient struct {
	Address         [20]byte
	TotalReceived   *big.Int
	ClaimableShares *big.Int
	LastClaimedAt   *big.Int
}

// DonationRecipientGet loads the cumulative record for a recipient identity.
func (m *Manager) DonationRecipientGet(addr [20]byte) (*donation.RecipientRecord, bool, error) {
	stored := new(storedRecipient)
	ok, err := m.read(recipientKey(addr), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	rec := &donation.RecipientRecord{
		Address:         stored.Address,
		TotalReceived:   copyBigInt(stored.TotalReceived),
		ClaimableShares: copyBigInt(stored.ClaimableShares),
	}
	if stored.LastClaimedAt != nil {
		rec.LastClaimedAt = stored.LastClaimedAt.Int64()
	}
	return rec, true, nil
}

// DonationRecipientPut persists the cumulative record for a recipient identity.
func (m *Manager) DonationRecipientPut(rec *donation.RecipientRecord) error {
	if rec == nil {
		return fmt.Errorf("state: nil recipient record")
	}
	return m.write(recipientKey(rec.Address), &storedRecipient{
		Address:         rec.Address,
		TotalReceived:   copyBigInt(rec.TotalReceived),
		ClaimableShares: copyBigInt(rec.ClaimableShares),
		LastClaimedAt:   big.NewInt(rec.LastClaimedAt),
	})
}

// --- Batches ---

type storedBatch struct {
	Epoch             uint64
	QueuedShares      *big.Int
	CooldownStartedAt *big.Int
	InCooldown        bool
}

// DonationBatchGet loads the batch tracked for an epoch index.
func (m *Manager) DonationBatchGet(epoch uint64) (*donation.Batch, bool, error) {
	stored := new(storedBatch)
	ok, err := m.read(batchKey(epoch), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	batch := &donation.Batch{
		Epoch:        stored.Epoch,
		QueuedShares: copyBigInt(stored.QueuedShares),
		InCooldown:   stored.InCooldown,
	}
	if stored.CooldownStartedAt != nil {
		batch.CooldownStartedAt = stored.CooldownStartedAt.Int64()
	}
	return batch, true, nil
}

// DonationBatchPut persists the batch for its epoch index.
func (m *Manager) DonationBatchPut(batch *donation.Batch) error {
	if batch == nil {
		return fmt.Errorf("state: nil batch")
	}
	return m.write(batchKey(batch.Epoch), &storedBatch{
		Epoch:             batch.Epoch,
		QueuedShares:      copyBigInt(batch.QueuedShares),
		CooldownStartedAt: big.NewInt(batch.CooldownStartedAt),
		InCooldown:        batch.InCooldown,
	})
}

// --- Share entries ---

type storedShareEntry struct {
	Epoch         uint64
	Participant   [20]byte
	Shares        *big.Int
	YieldBasis    *big.Int
	ClaimedAmount *big.Int
	Claimed       bool
}

// DonationShareEntryGet loads the per-epoch share accounting for a participant.
func (m *Manager) DonationShareEntryGet(epoch uint64, participant [20]byte) (*donation.ShareEntry, bool, error) {
	stored := new(storedShareEntry)
	ok, err := m.read(shareEntryKey(epoch, participant), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &donation.ShareEntry{
		Epoch:         stored.Epoch,
		Participant:   stored.Participant,
		Shares:        copyBigInt(stored.Shares),
		YieldBasis:    copyBigInt(stored.YieldBasis),
		ClaimedAmount: copyBigInt(stored.ClaimedAmount),
		Claimed:       stored.Claimed,
	}, true, nil
}

// DonationShareEntryPut persists the per-epoch share accounting for a participant.
func (m *Manager) DonationShareEntryPut(entry *donation.ShareEntry) error {
	if entry == nil {
		return fmt.Errorf("state: nil share entry")
	}
	return m.write(shareEntryKey(entry.Epoch, entry.Participant), &storedShareEntry{
		Epoch:         entry.Epoch,
		Participant:   entry.Participant,
		Shares:        copyBigInt(entry.Shares),
		YieldBasis:    copyBigInt(entry.YieldBasis),
		ClaimedAmount: copyBigInt(entry.ClaimedAmount),
		Claimed:       entry.Claimed,
	})
}

// --- Counters ---

type storedCounters struct {
	CurrentEpoch        uint64
	TotalDonationsGross *big.Int
	TotalClaimed        *big.Int
	CommitmentRoot      [32]byte
}

// DonationCountersGet loads the ledger-wide counters, zero-valued when unset.
func (m *Manager) DonationCountersGet() (*donation.Counters, error) {
	stored := new(storedCounters)
	ok, err := m.read(countersKey(), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &donation.Counters{
			TotalDonationsGross: big.NewInt(0),
			TotalClaimed:        big.NewInt(0),
		}, nil
	}
	return &donation.Counters{
		CurrentEpoch:        stored.CurrentEpoch,
		TotalDonationsGross: copyBigInt(stored.TotalDonationsGross),
		TotalClaimed:        copyBigInt(stored.TotalClaimed),
		CommitmentRoot:      stored.CommitmentRoot,
	}, nil
}

// DonationCountersPut persists the ledger-wide counters.
func (m *Manager) DonationCountersPut(counters *donation.Counters) error {
	if counters == nil {
		return fmt.Errorf("state: nil counters")
	}
	return m.write(countersKey(), &storedCounters{
		CurrentEpoch:        counters.CurrentEpoch,
		TotalDonationsGross: copyBigInt(counters.TotalDonationsGross),
		TotalClaimed:        copyBigInt(counters.TotalClaimed),
		CommitmentRoot:      counters.CommitmentRoot,
	})
}

// --- Settlement-currency accounts ---

type storedAccount struct {
	Balance *big.Int
	Nonce   uint64
}

// GetAccount loads the settlement account for an address. Unknown addresses
// resolve to an empty account.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.read(accountKey(addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return &types.Account{Balance: copyBigInt(stored.Balance), Nonce: stored.Nonce}, nil
}

// PutAccount persists the settlement account for an address.
func (m *Manager) PutAccount(addr [20]byte, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("state: nil account")
	}
	return m.write(accountKey(addr), &storedAccount{
		Balance: copyBigInt(acc.Balance),
		Nonce:   acc.Nonce,
	})
}

// BalanceOf implements the engine's token mover read side.
func (m *Manager) BalanceOf(addr [20]byte) (*big.Int, error) {
	acc, err := m.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return copyBigInt(acc.Balance), nil
}

// Transfer moves settlement currency between two accounts.
func (m *Manager) Transfer(from [20]byte, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer amount must be non-negative")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	source, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	if source.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %x holds %s, needs %s", ErrInsufficientFunds, from, source.Balance, amount)
	}
	dest, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	source.Balance = new(big.Int).Sub(source.Balance, amount)
	dest.Balance = new(big.Int).Add(dest.Balance, amount)
	if err := m.PutAccount(from, source); err != nil {
		return err
	}
	return m.PutAccount(to, dest)
}

// Credit mints settlement currency into an account. Used for funding
// participants in development networks and tests.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	acc, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return m.PutAccount(addr, acc)
}
