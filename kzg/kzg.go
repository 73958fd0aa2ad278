// Package kzg implements the blob engine for EIP-4844 and EIP-7594: payload
// encoding into field-element-constrained blobs, KZG commitment and proof
// generation backed by the Ethereum ceremony trusted setup, and versioned
// hash derivation.
package kzg

import (
	"crypto/sha256"
	"errors"
	"fmt"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
)

// Blob geometry constants per EIP-4844.
const (
	// BytesPerBlob is the fixed blob size.
	BytesPerBlob = 131072

	// FieldElementsPerBlob is the number of 32-byte field elements per blob.
	FieldElementsPerBlob = 4096

	// BytesPerFieldElement is the field element width.
	BytesPerFieldElement = 32

	// usableBytesPerElement is the payload capacity of one field element.
	// The leading byte stays zero so the element is a canonical BLS12-381
	// scalar.
	usableBytesPerElement = BytesPerFieldElement - 1

	// headerSize is the length prefix prepended to the payload: a 24-bit
	// big-endian byte count plus one reserved zero byte.
	headerSize = 4

	// MaxPayloadSize is the usable payload capacity of one blob.
	MaxPayloadSize = FieldElementsPerBlob*usableBytesPerElement - headerSize // 126972

	// BytesPerCommitment is the compressed G1 commitment size.
	BytesPerCommitment = 48

	// BytesPerProof is the compressed G1 proof size.
	BytesPerProof = 48

	// CellProofsPerBlob is the number of per-cell proofs for one blob under
	// EIP-7594.
	CellProofsPerBlob = goethkzg.CellsPerExtBlob // 128

	// VersionedHashVersion is the version byte prefixing every blob
	// versioned hash.
	VersionedHashVersion byte = 0x01
)

var (
	// ErrPayloadEmpty is returned when encoding a zero-length payload.
	ErrPayloadEmpty = errors.New("kzg: payload is empty")

	// ErrPayloadTooLarge is returned when the payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("kzg: payload exceeds blob capacity")

	// ErrBlobSizeInvalid is returned when a blob is not exactly BytesPerBlob.
	ErrBlobSizeInvalid = errors.New("kzg: blob must be exactly 131072 bytes")

	// ErrProofInvalid is returned when a blob proof fails verification.
	ErrProofInvalid = errors.New("kzg: blob proof verification failed")
)

// Blob is a fixed-size EIP-4844 blob.
type Blob [BytesPerBlob]byte

// Commitment is a 48-byte compressed KZG commitment.
type Commitment [BytesPerCommitment]byte

// Proof is a 48-byte compressed KZG proof, either a whole-blob proof
// (EIP-4844) or a single cell proof (EIP-7594).
type Proof [BytesPerProof]byte

// Version selects the proof scheme for a blob transaction.
type Version int

const (
	// V4844 uses a single whole-blob proof (RLP sidecar wrapper).
	V4844 Version = iota

	// V7594 uses 128 per-cell proofs (network envelope wrapper).
	V7594
)

// String returns a human-readable name for the version.
func (v Version) String() string {
	switch v {
	case V7594:
		return "eip7594"
	default:
		return "eip4844"
	}
}

// Engine wraps a loaded trusted setup and exposes commitment and proof
// generation. The zero value is unusable; build one with NewEngine from the
// composition root and share it. All methods are safe for concurrent use
// once NewEngine has returned.
type Engine struct {
	ctx *goethkzg.Context
}

// NewEngine loads the embedded Ethereum ceremony trusted setup and returns a
// ready engine. Loading processes the SRS points and takes a few seconds, so
// call it once at startup and pass the handle down.
func NewEngine() (*Engine, error) {
	ctx, err := goethkzg.NewContext4096Secure()
	if err != nil {
		return nil, fmt.Errorf("kzg: loading trusted setup: %w", err)
	}
	return &Engine{ctx: ctx}, nil
}

// Commit computes the KZG commitment of a blob.
func (e *Engine) Commit(blob *Blob) (Commitment, error) {
	b := goethkzg.Blob(*blob)
	comm, err := e.ctx.BlobToKZGCommitment(&b, 0)
	if err != nil {
		return Commitment{}, fmt.Errorf("kzg: commitment failed: %w", err)
	}
	return Commitment(comm), nil
}

// ComputeProofs computes the proof vector for a blob: a single whole-blob
// proof for V4844, or the 128 per-cell proofs for V7594.
func (e *Engine) ComputeProofs(blob *Blob, commitment Commitment, version Version) ([]Proof, error) {
	b := goethkzg.Blob(*blob)
	switch version {
	case V7594:
		_, cellProofs, err := e.ctx.ComputeCellsAndKZGProofs(&b, 0)
		if err != nil {
			return nil, fmt.Errorf("kzg: cell proofs failed: %w", err)
		}
		proofs := make([]Proof, len(cellProofs))
		for i, p := range cellProofs {
			proofs[i] = Proof(p)
		}
		return proofs, nil
	default:
		proof, err := e.ctx.ComputeBlobKZGProof(&b, goethkzg.KZGCommitment(commitment), 0)
		if err != nil {
			return nil, fmt.Errorf("kzg: blob proof failed: %w", err)
		}
		return []Proof{Proof(proof)}, nil
	}
}

// VerifyBlobProof checks a whole-blob proof against its commitment.
func (e *Engine) VerifyBlobProof(blob *Blob, commitment Commitment, proof Proof) error {
	b := goethkzg.Blob(*blob)
	err := e.ctx.VerifyBlobKZGProof(&b, goethkzg.KZGCommitment(commitment), goethkzg.KZGProof(proof))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	return nil
}

// VersionedHash derives the blob versioned hash from a commitment:
// 0x01 || sha256(commitment)[1:].
func VersionedHash(commitment Commitment) [32]byte {
	h := sha256.Sum256(commitment[:])
	h[0] = VersionedHashVersion
	return h
}
