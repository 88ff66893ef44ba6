package donation

import "math/big"

// DonorRecord maintains the cumulative accounting for a single donor. A record
// is created on the donor's first contribution and is never destroyed.
type DonorRecord struct {
	Address        [20]byte `json:"address"`
	TotalGross     *big.Int `json:"totalGross"`
	NetContributed *big.Int `json:"netContributed"`
	TotalShares    *big.Int `json:"totalShares"`
	LastClaimedAt  int64    `json:"lastClaimedAt"`
}

// Clone returns a deep copy of the donor record.
func (d *DonorRecord) Clone() *DonorRecord {
	if d == nil {
		return nil
	}
	clone := *d
	clone.TotalGross = newBigInt(d.TotalGross)
	clone.NetContributed = newBigInt(d.NetContributed)
	clone.TotalShares = newBigInt(d.TotalShares)
	return &clone
}

// RecipientRecord maintains the cumulative accounting for a recipient.
// ClaimableShares decreases only through withdrawal initiation and never goes
// negative.
type RecipientRecord struct {
	Address         [20]byte `json:"address"`
	TotalReceived   *big.Int `json:"totalReceived"`
	ClaimableShares *big.Int `json:"claimableShares"`
	LastClaimedAt   int64    `json:"lastClaimedAt"`
}

// Clone returns a deep copy of the recipient record.
func (r *RecipientRecord) Clone() *RecipientRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TotalReceived = newBigInt(r.TotalReceived)
	clone.ClaimableShares = newBigInt(r.ClaimableShares)
	return &clone
}

// Batch tracks the withdrawal volume accumulated for one epoch index. Once
// InCooldown flips the queued amount is frozen and new requests route to the
// next index.
type Batch struct {
	Epoch             uint64   `json:"epoch"`
	QueuedShares      *big.Int `json:"queuedShares"`
	CooldownStartedAt int64    `json:"cooldownStartedAt"`
	InCooldown        bool     `json:"inCooldown"`
}

// Clone returns a deep copy of the batch.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	clone := *b
	clone.QueuedShares = newBigInt(b.QueuedShares)
	return &clone
}

// ShareEntry accumulates the vault shares and yield basis recorded for a
// participant within one epoch. ClaimedAmount is non-decreasing and the entry
// is permanently consumed once a claim succeeds.
type ShareEntry struct {
	Epoch         uint64   `json:"epoch"`
	Participant   [20]byte `json:"participant"`
	Shares        *big.Int `json:"shares"`
	YieldBasis    *big.Int `json:"yieldBasis"`
	ClaimedAmount *big.Int `json:"claimedAmount"`
	Claimed       bool     `json:"claimed"`
}

// Clone returns a deep copy of the share entry.
func (s *ShareEntry) Clone() *ShareEntry {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Shares = newBigInt(s.Shares)
	clone.YieldBasis = newBigInt(s.YieldBasis)
	clone.ClaimedAmount = newBigInt(s.ClaimedAmount)
	return &clone
}

// Counters carries the ledger-wide scalars alongside the published commitment
// root for proof-gated claims.
type Counters struct {
	CurrentEpoch        uint64   `json:"currentEpoch"`
	TotalDonationsGross *big.Int `json:"totalDonationsGross"`
	TotalClaimed        *big.Int `json:"totalClaimed"`
	CommitmentRoot      [32]byte `json:"commitmentRoot"`
}

// Clone returns a deep copy of the counters.
func (c *Counters) Clone() *Counters {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TotalDonationsGross = newBigInt(c.TotalDonationsGross)
	clone.TotalClaimed = newBigInt(c.TotalClaimed)
	return &clone
}

// Receipt summarises the split applied to a single donation.
type Receipt struct {
	Donor           [20]byte `json:"donor"`
	Recipient       [20]byte `json:"recipient"`
	Gross           *big.Int `json:"gross"`
	Fee             *big.Int `json:"fee"`
	Net             *big.Int `json:"net"`
	DonorShares     *big.Int `json:"donorShares"`
	RecipientShares *big.Int `json:"recipientShares"`
	Epoch           uint64   `json:"epoch"`
	RecordedAt      int64    `json:"recordedAt"`
}

func newBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
