package state

import (
	"errors"
	"math/big"
	"testing"

	"tithe/native/donation"
	"tithe/storage"
)

func testAddr(last byte) [20]byte {
	var out [20]byte
	out[19] = last
	return out
}

func TestDonorRecordRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := testAddr(0x01)

	if _, ok, err := m.DonationDonorGet(addr); err != nil || ok {
		t.Fatalf("expected miss for unknown donor: ok=%v err=%v", ok, err)
	}
	rec := &donation.DonorRecord{
		Address:        addr,
		TotalGross:     big.NewInt(1_000),
		NetContributed: big.NewInt(950),
		TotalShares:    big.NewInt(665),
		LastClaimedAt:  1234,
	}
	if err := m.DonationDonorPut(rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	loaded, ok, err := m.DonationDonorGet(addr)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if loaded.TotalGross.Cmp(rec.TotalGross) != 0 || loaded.NetContributed.Cmp(rec.NetContributed) != 0 ||
		loaded.TotalShares.Cmp(rec.TotalShares) != 0 || loaded.LastClaimedAt != rec.LastClaimedAt {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	// The loaded record must not alias the stored one.
	loaded.TotalGross.SetInt64(0)
	again, _, _ := m.DonationDonorGet(addr)
	if again.TotalGross.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("stored record aliased by reader")
	}
}

func TestRecipientAndBatchRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := testAddr(0x02)

	rec := &donation.RecipientRecord{
		Address:         addr,
		TotalReceived:   big.NewInt(950),
		ClaimableShares: big.NewInt(285),
		LastClaimedAt:   77,
	}
	if err := m.DonationRecipientPut(rec); err != nil {
		t.Fatalf("recipient put failed: %v", err)
	}
	loadedRec, ok, err := m.DonationRecipientGet(addr)
	if err != nil || !ok {
		t.Fatalf("recipient get failed: ok=%v err=%v", ok, err)
	}
	if loadedRec.ClaimableShares.Cmp(big.NewInt(285)) != 0 || loadedRec.LastClaimedAt != 77 {
		t.Fatalf("recipient round trip mismatch: %+v", loadedRec)
	}

	batch := &donation.Batch{Epoch: 3, QueuedShares: big.NewInt(300), CooldownStartedAt: 900, InCooldown: true}
	if err := m.DonationBatchPut(batch); err != nil {
		t.Fatalf("batch put failed: %v", err)
	}
	loadedBatch, ok, err := m.DonationBatchGet(3)
	if err != nil || !ok {
		t.Fatalf("batch get failed: ok=%v err=%v", ok, err)
	}
	if loadedBatch.QueuedShares.Cmp(big.NewInt(300)) != 0 || !loadedBatch.InCooldown || loadedBatch.CooldownStartedAt != 900 {
		t.Fatalf("batch round trip mismatch: %+v", loadedBatch)
	}
	if _, ok, _ := m.DonationBatchGet(4); ok {
		t.Fatalf("expected miss for untouched epoch")
	}
}

func TestShareEntryAndCountersRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	participant := testAddr(0x03)

	entry := &donation.ShareEntry{
		Epoch:         2,
		Participant:   participant,
		Shares:        big.NewInt(665),
		YieldBasis:    big.NewInt(665),
		ClaimedAmount: big.NewInt(700),
		Claimed:       true,
	}
	if err := m.DonationShareEntryPut(entry); err != nil {
		t.Fatalf("entry put failed: %v", err)
	}
	loaded, ok, err := m.DonationShareEntryGet(2, participant)
	if err != nil || !ok {
		t.Fatalf("entry get failed: ok=%v err=%v", ok, err)
	}
	if !loaded.Claimed || loaded.ClaimedAmount.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("entry round trip mismatch: %+v", loaded)
	}
	if _, ok, _ := m.DonationShareEntryGet(1, participant); ok {
		t.Fatalf("entry found under the wrong epoch")
	}

	counters, err := m.DonationCountersGet()
	if err != nil {
		t.Fatalf("counters get failed: %v", err)
	}
	if counters.CurrentEpoch != 0 || counters.TotalDonationsGross.Sign() != 0 {
		t.Fatalf("fresh counters not zero valued: %+v", counters)
	}
	counters.CurrentEpoch = 5
	counters.TotalDonationsGross = big.NewInt(10_000)
	counters.TotalClaimed = big.NewInt(100)
	counters.CommitmentRoot[0] = 0xAB
	if err := m.DonationCountersPut(counters); err != nil {
		t.Fatalf("counters put failed: %v", err)
	}
	loadedCounters, err := m.DonationCountersGet()
	if err != nil {
		t.Fatalf("counters reload failed: %v", err)
	}
	if loadedCounters.CurrentEpoch != 5 || loadedCounters.CommitmentRoot[0] != 0xAB ||
		loadedCounters.TotalDonationsGross.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("counters round trip mismatch: %+v", loadedCounters)
	}
}

func TestTransferMovesBalances(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	alice := testAddr(0x0A)
	bob := testAddr(0x0B)

	if err := m.Credit(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if err := m.Transfer(alice, bob, big.NewInt(300)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	aliceBal, err := m.BalanceOf(alice)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	bobBal, err := m.BalanceOf(bob)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if aliceBal.Cmp(big.NewInt(700)) != 0 || bobBal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("balances wrong: alice=%s bob=%s", aliceBal, bobBal)
	}

	if err := m.Transfer(alice, bob, big.NewInt(701)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := m.Transfer(alice, alice, big.NewInt(100)); err != nil {
		t.Fatalf("self transfer should be a no-op: %v", err)
	}
	aliceBal, _ = m.BalanceOf(alice)
	if aliceBal.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("self transfer changed balance: %s", aliceBal)
	}
}

func TestManagerSatisfiesEngineSeams(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	engine := donation.NewEngine()
	engine.SetState(m)
	engine.SetToken(m)
	var _ donation.TokenMover = m
}
