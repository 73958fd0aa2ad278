// Package signer abstracts Ethereum ECDSA signing over secp256k1 behind one
// capability interface with three implementations: a local private key and
// two cloud KMS providers (AWS, GCP). The KMS paths share the DER and SPKI
// plumbing required to turn a remote ECDSA oracle into Ethereum-compatible
// 65-byte (r,s,v) signatures.
package signer

import (
	"context"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/sha3"
)

// Signer signs digests, messages, typed data and transactions for one
// Ethereum address. Implementations are safe for concurrent use.
type Signer interface {
	// Address returns the signer's Ethereum address.
	Address() common.Address

	// SignRawDigest signs a 32-byte digest and returns a 65-byte signature
	// r || s || v with v in {27, 28}, s low-S normalized.
	SignRawDigest(ctx context.Context, digest [32]byte) ([]byte, error)

	// SignMessage signs an EIP-191 personal message.
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)

	// SignTypedData signs an EIP-712 typed data structure.
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)

	// SignTransaction signs a transaction for the given chain and returns
	// the signed copy.
	SignTransaction(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// PersonalDigest computes the EIP-191 personal-message digest:
// keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg).
func PersonalDigest(msg []byte) [32]byte {
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte("\x19Ethereum Signed Message:\n"))
	d.Write([]byte(strconv.Itoa(len(msg))))
	d.Write(msg)
	var out [32]byte
	copy(out[:], d.Sum(nil))
	return out
}

// signMessageWith implements SignMessage on top of SignRawDigest.
func signMessageWith(ctx context.Context, s Signer, msg []byte) ([]byte, error) {
	return s.SignRawDigest(ctx, PersonalDigest(msg))
}

// signTypedDataWith implements SignTypedData on top of SignRawDigest.
func signTypedDataWith(ctx context.Context, s Signer, td apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, err
	}
	var digest [32]byte
	copy(digest[:], hash)
	return s.SignRawDigest(ctx, digest)
}

// signTransactionWith implements SignTransaction on top of SignRawDigest.
// The sender field is implicit in the signature, so any From context is
// discarded; To must already be a resolved address (go-ethereum transactions
// carry no name forms).
func signTransactionWith(ctx context.Context, s Signer, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	es := types.LatestSignerForChainID(chainID)
	digest := es.Hash(tx)

	sig, err := s.SignRawDigest(ctx, [32]byte(digest))
	if err != nil {
		return nil, err
	}
	// WithSignature expects the recovery id as 0/1, not 27/28.
	recovery := make([]byte, 65)
	copy(recovery, sig)
	recovery[64] = sig[64] - 27
	return tx.WithSignature(es, recovery)
}
