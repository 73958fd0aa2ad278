package txblob

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/blobrelay/blobrelay/kzg"
)

// BlobTxType is the EIP-2718 type byte of blob transactions.
const BlobTxType = 0x03

// DefaultWrapperVersion is the cell-proof network wrapper version byte.
const DefaultWrapperVersion = 1

// txPayload is the unsigned field list. Its RLP encoding prefixed with the
// type byte is what gets hashed for signing.
type txPayload struct {
	ChainID    *uint256.Int
	Nonce      uint64
	GasTipCap  *uint256.Int
	GasFeeCap  *uint256.Int
	Gas        uint64
	To         common.Address
	Value      *uint256.Int
	Data       []byte
	AccessList types.AccessList
	BlobFeeCap *uint256.Int
	BlobHashes []common.Hash
}

// signedTx is the canonical signed form: payload fields plus the signature.
// keccak256(0x03 || rlp(signedTx)) is the transaction hash. The fields are
// spelled out because rlp encodes embedded structs as nested lists.
type signedTx struct {
	ChainID    *uint256.Int
	Nonce      uint64
	GasTipCap  *uint256.Int
	GasFeeCap  *uint256.Int
	Gas        uint64
	To         common.Address
	Value      *uint256.Int
	Data       []byte
	AccessList types.AccessList
	BlobFeeCap *uint256.Int
	BlobHashes []common.Hash
	V          *uint256.Int
	R          *uint256.Int
	S          *uint256.Int
}

// networkTx4844 is the EIP-4844 broadcast envelope: the signed transaction
// nested alongside its sidecar.
type networkTx4844 struct {
	Tx          signedTx
	Blobs       []kzg.Blob
	Commitments []kzg.Commitment
	Proofs      []kzg.Proof
}

// networkTx7594 is the flat EIP-7594 envelope: base fields, signature,
// wrapper version, then the sidecar arrays, all in one list.
type networkTx7594 struct {
	ChainID        *uint256.Int
	Nonce          uint64
	GasTipCap      *uint256.Int
	GasFeeCap      *uint256.Int
	Gas            uint64
	To             common.Address
	Value          *uint256.Int
	Data           []byte
	AccessList     types.AccessList
	BlobFeeCap     *uint256.Int
	BlobHashes     []common.Hash
	V              *uint256.Int
	R              *uint256.Int
	S              *uint256.Int
	WrapperVersion uint64
	Blobs          []kzg.Blob
	Commitments    []kzg.Commitment
	Proofs         []kzg.Proof
}

func prefixed(payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = BlobTxType
	copy(out[1:], payload)
	return out
}

func keccakPrefixed(payload []byte) common.Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte{BlobTxType})
	d.Write(payload)
	var h common.Hash
	copy(h[:], d.Sum(nil))
	return h
}

// SigningHash is keccak256(0x03 || rlp(unsigned field list)). Both wrapper
// versions sign over the same base list.
func (p *txPayload) SigningHash() (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(p)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encoding signing payload: %w", err)
	}
	return keccakPrefixed(enc), nil
}

// withSignature attaches a 65-byte (r || s || v) signature with v in {27, 28}.
func (p *txPayload) withSignature(sig []byte) (*signedTx, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature length %d, want 65", len(sig))
	}
	v := sig[64]
	if v != 27 && v != 28 {
		return nil, fmt.Errorf("signature recovery id %d, want 27 or 28", v)
	}
	return &signedTx{
		ChainID:    p.ChainID,
		Nonce:      p.Nonce,
		GasTipCap:  p.GasTipCap,
		GasFeeCap:  p.GasFeeCap,
		Gas:        p.Gas,
		To:         p.To,
		Value:      p.Value,
		Data:       p.Data,
		AccessList: p.AccessList,
		BlobFeeCap: p.BlobFeeCap,
		BlobHashes: p.BlobHashes,
		V:          uint256.NewInt(uint64(v - 27)),
		R:          new(uint256.Int).SetBytes(sig[:32]),
		S:          new(uint256.Int).SetBytes(sig[32:64]),
	}, nil
}

// Hash is the canonical transaction hash, computed over the signed list
// without any network wrapper.
func (s *signedTx) Hash() (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encoding signed tx: %w", err)
	}
	return keccakPrefixed(enc), nil
}

// encodeForBroadcast produces the raw bytes handed to eth_sendRawTransaction:
// the type byte followed by the network wrapper carrying the sidecar.
func encodeForBroadcast(s *signedTx, blobs []kzg.Blob, commitments []kzg.Commitment, proofs []kzg.Proof, version kzg.Version) ([]byte, error) {
	var (
		enc []byte
		err error
	)
	switch version {
	case kzg.V4844:
		enc, err = rlp.EncodeToBytes(&networkTx4844{
			Tx:          *s,
			Blobs:       blobs,
			Commitments: commitments,
			Proofs:      proofs,
		})
	case kzg.V7594:
		enc, err = rlp.EncodeToBytes(&networkTx7594{
			ChainID:        s.ChainID,
			Nonce:          s.Nonce,
			GasTipCap:      s.GasTipCap,
			GasFeeCap:      s.GasFeeCap,
			Gas:            s.Gas,
			To:             s.To,
			Value:          s.Value,
			Data:           s.Data,
			AccessList:     s.AccessList,
			BlobFeeCap:     s.BlobFeeCap,
			BlobHashes:     s.BlobHashes,
			V:              s.V,
			R:              s.R,
			S:              s.S,
			WrapperVersion: DefaultWrapperVersion,
			Blobs:          blobs,
			Commitments:    commitments,
			Proofs:         proofs,
		})
	default:
		return nil, fmt.Errorf("unknown blob wrapper version %d", version)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding network wrapper: %w", err)
	}
	return prefixed(enc), nil
}
