package vault

import "math/big"

// Share math follows the usual tokenized-vault convention: floor division in
// both directions, with a 1:1 rate while the pool is empty.

func convertToShares(amount, totalShares, totalAssets *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	if totalShares == nil || totalShares.Sign() == 0 || totalAssets == nil || totalAssets.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	minted := new(big.Int).Mul(amount, totalShares)
	return minted.Div(minted, totalAssets)
}

func previewRedeem(shares, totalShares, totalAssets *big.Int) *big.Int {
	if shares == nil || shares.Sign() == 0 {
		return big.NewInt(0)
	}
	if totalShares == nil || totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	if totalAssets == nil || totalAssets.Sign() == 0 {
		return big.NewInt(0)
	}
	assets := new(big.Int).Mul(shares, totalAssets)
	return assets.Div(assets, totalShares)
}
