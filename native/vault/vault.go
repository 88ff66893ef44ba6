package vault

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrInvalidAmount rejects zero or negative deposits and share amounts.
	ErrInvalidAmount = errors.New("reserve vault: amount must be positive")
	// ErrInsufficientShares rejects redemptions exceeding the outstanding shares.
	ErrInsufficientShares = errors.New("reserve vault: insufficient shares")
	// ErrNothingCooling is returned by Unstake when no cooldown is pending.
	ErrNothingCooling = errors.New("reserve vault: no cooldown pending")
	// ErrCooldownPending is returned by Unstake before the maturity window elapses.
	ErrCooldownPending = errors.New("reserve vault: cooldown not matured")
)

// ReserveVault is an in-process yield-bearing reserve with integer share
// accounting. It backs the engine's VaultAdapter seam in the daemon and in
// tests; any external staking venue satisfying the same interface can replace
// it.
type ReserveVault struct {
	totalAssets *big.Int
	totalShares *big.Int

	coolingShares    *big.Int
	coolingStartedAt int64
	cooldownSeconds  int64

	nowFn func() int64
}

// NewReserveVault constructs an empty vault with the supplied cooldown window.
func NewReserveVault(cooldownSeconds int64) *ReserveVault {
	return &ReserveVault{
		totalAssets:     big.NewInt(0),
		totalShares:     big.NewInt(0),
		coolingShares:   big.NewInt(0),
		cooldownSeconds: cooldownSeconds,
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetNowFunc overrides the time source used for deterministic testing.
func (v *ReserveVault) SetNowFunc(now func() int64) {
	if now == nil {
		v.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	v.nowFn = now
}

func (v *ReserveVault) now() int64 {
	if v == nil || v.nowFn == nil {
		return time.Now().Unix()
	}
	return v.nowFn()
}

// TotalAssets returns the assets currently held by the vault.
func (v *ReserveVault) TotalAssets() *big.Int { return new(big.Int).Set(v.totalAssets) }

// TotalShares returns the shares currently outstanding.
func (v *ReserveVault) TotalShares() *big.Int { return new(big.Int).Set(v.totalShares) }

// ConvertToShares previews how many shares a deposit of the supplied amount
// would mint at the current rate. Pure read.
func (v *ReserveVault) ConvertToShares(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return convertToShares(amount, v.totalShares, v.totalAssets), nil
}

// PreviewRedeem previews the assets returned for redeeming the supplied
// shares at the current rate. Pure read.
func (v *ReserveVault) PreviewRedeem(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return previewRedeem(shares, v.totalShares, v.totalAssets), nil
}

// Deposit stakes the supplied amount, minting pool shares at the current rate.
func (v *ReserveVault) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	minted := convertToShares(amount, v.totalShares, v.totalAssets)
	v.totalAssets = new(big.Int).Add(v.totalAssets, amount)
	v.totalShares = new(big.Int).Add(v.totalShares, minted)
	return nil
}

// Accrue adds yield to the reserve without minting shares, moving the share
// price. A negative delta models a drawdown; the reserve never goes below
// zero.
func (v *ReserveVault) Accrue(delta *big.Int) {
	if delta == nil || delta.Sign() == 0 {
		return
	}
	next := new(big.Int).Add(v.totalAssets, delta)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	v.totalAssets = next
}

// Cooldown moves the supplied shares into the maturity window. Additional
// calls extend the pending amount and restart the window.
func (v *ReserveVault) Cooldown(shares *big.Int) error {
	if shares == nil || shares.Sign() < 0 {
		return ErrInvalidAmount
	}
	pending := new(big.Int).Add(v.coolingShares, shares)
	if pending.Cmp(v.totalShares) > 0 {
		return fmt.Errorf("%w: cooling %s of %s outstanding", ErrInsufficientShares, pending, v.totalShares)
	}
	v.coolingShares = pending
	v.coolingStartedAt = v.now()
	return nil
}

// Unstake redeems the matured cooldown bucket and returns the released
// assets.
func (v *ReserveVault) Unstake() (*big.Int, error) {
	if v.coolingShares.Sign() == 0 {
		return nil, ErrNothingCooling
	}
	if elapsed := v.now() - v.coolingStartedAt; elapsed < v.cooldownSeconds {
		return nil, fmt.Errorf("%w: %ds of %ds elapsed", ErrCooldownPending, elapsed, v.cooldownSeconds)
	}
	released := previewRedeem(v.coolingShares, v.totalShares, v.totalAssets)
	v.totalShares = new(big.Int).Sub(v.totalShares, v.coolingShares)
	v.totalAssets = new(big.Int).Sub(v.totalAssets, released)
	v.coolingShares = big.NewInt(0)
	v.coolingStartedAt = 0
	return released, nil
}
