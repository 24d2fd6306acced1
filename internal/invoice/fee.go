package invoice

import "math/big"

// feeDenominator converts a resolution rate in basis points to a
// fraction of the reference amount.
const feeDenominator = 10_000

// ResolverFee computes the potential arbitration fee: referenceAmount
// scaled by the resolution rate in basis points. Integer math only, so
// repeated calls with the same inputs are bit-identical. The reference
// is either the outstanding due amount or a caller-supplied sum of
// proposed milestone values.
func ResolverFee(rateBasisPoints int64, reference *big.Int) *big.Int {
	if reference == nil || reference.Sign() <= 0 || rateBasisPoints <= 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(reference, big.NewInt(rateBasisPoints))
	return fee.Quo(fee, big.NewInt(feeDenominator))
}
