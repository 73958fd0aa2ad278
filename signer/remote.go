package signer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// digestOracle is a remote ECDSA service producing DER signatures over
// pre-hashed digests and SPKI-encoded public keys. The AWS and GCP adapters
// implement it; tests substitute a local fake.
type digestOracle interface {
	// PublicKey returns the SPKI DER document for the signing key.
	PublicKey(ctx context.Context) ([]byte, error)

	// SignDigest signs a 32-byte digest and returns the DER signature.
	SignDigest(ctx context.Context, digest [32]byte) ([]byte, error)
}

// Remote adapts a digestOracle into a Signer. The public key is fetched
// once at construction; signatures are normalized and recovery-id resolved
// per signature.
type Remote struct {
	oracle   digestOracle
	provider string
	addr     common.Address
}

// newRemote fetches and parses the oracle's public key and returns the
// ready signer.
func newRemote(ctx context.Context, provider string, oracle digestOracle) (*Remote, error) {
	spki, err := oracle.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("signer: fetching %s public key: %w", provider, err)
	}
	point, err := ParseSPKIPublicKey(spki)
	if err != nil {
		return nil, fmt.Errorf("signer: %s public key: %w", provider, err)
	}
	addr, err := AddressFromPoint(point)
	if err != nil {
		return nil, err
	}
	return &Remote{oracle: oracle, provider: provider, addr: addr}, nil
}

// Provider returns the oracle provider name ("aws-kms", "gcp-kms").
func (r *Remote) Provider() string { return r.provider }

// Address implements Signer.
func (r *Remote) Address() common.Address { return r.addr }

// SignRawDigest implements Signer.
func (r *Remote) SignRawDigest(ctx context.Context, digest [32]byte) ([]byte, error) {
	der, err := r.oracle.SignDigest(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("signer: %s sign: %w", r.provider, err)
	}
	return ethSignatureFromDER(digest, der, r.addr)
}

// SignMessage implements Signer.
func (r *Remote) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return signMessageWith(ctx, r, msg)
}

// SignTypedData implements Signer.
func (r *Remote) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	return signTypedDataWith(ctx, r, td)
}

// SignTransaction implements Signer.
func (r *Remote) SignTransaction(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return signTransactionWith(ctx, r, tx, chainID)
}
