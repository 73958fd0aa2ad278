// Package fees derives gas and blob-gas fee suggestions for blob
// transactions: the EIP-4844 fake-exponential base fee from excess blob gas,
// and the EIP-7918 lookback regime over recent fee history.
package fees

import "math/big"

// EIP-4844 blob gas constants.
const (
	// BlobGasPerBlob is the blob gas consumed by one blob.
	BlobGasPerBlob = 1 << 17 // 131072

	// MinBlobGasPrice is the blob base fee floor (1 wei).
	MinBlobGasPrice = 1

	// BlobBaseFeeUpdateFraction controls the blob base fee update rate.
	BlobBaseFeeUpdateFraction = 3338477

	// lookbackBlocks is the fee-history window for the EIP-7918 regime.
	lookbackBlocks = 5
)

// CalcBlobFee computes the blob base fee from a block's excess blob gas
// using the EIP-4844 fake_exponential formula.
func CalcBlobFee(excessBlobGas uint64) *big.Int {
	return FakeExponential(
		big.NewInt(MinBlobGasPrice),
		new(big.Int).SetUint64(excessBlobGas),
		big.NewInt(BlobBaseFeeUpdateFraction),
	)
}

// FakeExponential approximates factor * e ** (numerator / denominator)
// using the Taylor expansion from the Ethereum specification. Integer
// arithmetic only; monotonically non-decreasing in numerator.
func FakeExponential(factor, numerator, denominator *big.Int) *big.Int {
	i := new(big.Int).SetUint64(1)
	output := new(big.Int)
	numeratorAccum := new(big.Int).Mul(factor, denominator)
	// Temporary values for the loop.
	tmp := new(big.Int)
	denom := new(big.Int)
	for numeratorAccum.Sign() > 0 {
		output.Add(output, numeratorAccum)
		// numeratorAccum = numeratorAccum * numerator / (denominator * i)
		tmp.Mul(numeratorAccum, numerator)
		denom.Mul(denominator, i)
		numeratorAccum.Div(tmp, denom)
		i.Add(i, big.NewInt(1))
	}
	output.Div(output, denominator)
	return output
}
