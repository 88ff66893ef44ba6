package vault

import (
	"errors"
	"math/big"
	"testing"
)

func TestDepositBootstrapsOneToOne(t *testing.T) {
	v := NewReserveVault(0)
	shares, err := v.ConvertToShares(big.NewInt(1_000))
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if shares.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("bootstrap rate not 1:1: %s", shares)
	}
	if err := v.Deposit(big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if v.TotalAssets().Cmp(big.NewInt(1_000)) != 0 || v.TotalShares().Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("pool not seeded: assets=%s shares=%s", v.TotalAssets(), v.TotalShares())
	}
}

func TestAccrueMovesSharePrice(t *testing.T) {
	v := NewReserveVault(0)
	if err := v.Deposit(big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	v.Accrue(big.NewInt(500))

	// 1000 shares now redeem 1500 assets.
	assets, err := v.PreviewRedeem(big.NewInt(100))
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if assets.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("redeem preview wrong after accrual: %s", assets)
	}

	// New deposits mint fewer shares at the richer rate.
	shares, err := v.ConvertToShares(big.NewInt(300))
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if shares.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("mint preview wrong after accrual: %s", shares)
	}

	v.Accrue(big.NewInt(-2_000))
	if v.TotalAssets().Sign() != 0 {
		t.Fatalf("drawdown went below zero: %s", v.TotalAssets())
	}
}

func TestCooldownUnstakeCycle(t *testing.T) {
	clock := int64(100)
	v := NewReserveVault(60)
	v.SetNowFunc(func() int64 { return clock })
	if err := v.Deposit(big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	v.Accrue(big.NewInt(200))

	if err := v.Cooldown(big.NewInt(400)); err != nil {
		t.Fatalf("cooldown failed: %v", err)
	}
	if _, err := v.Unstake(); !errors.Is(err, ErrCooldownPending) {
		t.Fatalf("expected pending rejection, got %v", err)
	}

	clock = 160
	released, err := v.Unstake()
	if err != nil {
		t.Fatalf("unstake failed: %v", err)
	}
	// 400 of 1000 shares over 1200 assets.
	if released.Cmp(big.NewInt(480)) != 0 {
		t.Fatalf("released amount wrong: %s", released)
	}
	if v.TotalShares().Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("shares not burned: %s", v.TotalShares())
	}
	if v.TotalAssets().Cmp(big.NewInt(720)) != 0 {
		t.Fatalf("assets not released: %s", v.TotalAssets())
	}

	if _, err := v.Unstake(); !errors.Is(err, ErrNothingCooling) {
		t.Fatalf("expected empty-bucket rejection, got %v", err)
	}
}

func TestCooldownRejectsMoreThanOutstanding(t *testing.T) {
	v := NewReserveVault(0)
	if err := v.Deposit(big.NewInt(100)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := v.Cooldown(big.NewInt(101)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected insufficient-shares rejection, got %v", err)
	}
}
