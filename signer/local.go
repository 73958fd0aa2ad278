package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Local signs with an in-process secp256k1 private key.
type Local struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocal creates a Local signer from a hex-encoded private key (with or
// without 0x prefix).
func NewLocal(hexKey string) (*Local, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	return &Local{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewLocalFromKey wraps an existing private key.
func NewLocalFromKey(key *ecdsa.PrivateKey) *Local {
	return &Local{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address implements Signer.
func (l *Local) Address() common.Address { return l.addr }

// SignRawDigest implements Signer. go-ethereum's Sign is already low-S; the
// recovery id is shifted to the Ethereum 27/28 convention.
func (l *Local) SignRawDigest(ctx context.Context, digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], l.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignMessage implements Signer.
func (l *Local) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return signMessageWith(ctx, l, msg)
}

// SignTypedData implements Signer.
func (l *Local) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	return signTypedDataWith(ctx, l, td)
}

// SignTransaction implements Signer.
func (l *Local) SignTransaction(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return signTransactionWith(ctx, l, tx, chainID)
}
