package signer

// DER and SPKI plumbing for remote ECDSA oracles.
//
// Cloud KMS services return raw ECDSA signatures as DER
// SEQUENCE { INTEGER r, INTEGER s } and public keys as SPKI documents.
// Ethereum needs 65-byte r || s || v with low-S and a recovery id, so every
// oracle signature goes through: parse DER, strip sign padding, normalize s
// to the low half of the curve order, then search v in {27, 28} by
// recovering the public key and comparing addresses.

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrRecoveryFailed means neither recovery id reproduced the signer's
	// address from the signature.
	ErrRecoveryFailed = errors.New("signer: no recovery id matches signer address")

	errMalformedDER  = errors.New("signer: malformed DER signature")
	errMalformedSPKI = errors.New("signer: malformed SPKI public key")
)

// secp256k1HalfN is n/2 for the low-S check.
var secp256k1HalfN = new(big.Int).Rsh(crypto.S256().Params().N, 1)

// derReader walks TLV structures in a DER buffer.
type derReader struct {
	buf []byte
	pos int
}

// readHeader consumes a tag and length, returning both. Supports the
// long-form lengths KMS providers emit for >127-byte sequences.
func (r *derReader) readHeader() (tag byte, length int, err error) {
	if r.pos+2 > len(r.buf) {
		return 0, 0, errMalformedDER
	}
	tag = r.buf[r.pos]
	r.pos++
	first := r.buf[r.pos]
	r.pos++
	if first < 0x80 {
		return tag, int(first), nil
	}
	n := int(first & 0x7f)
	if n == 0 || n > 4 || r.pos+n > len(r.buf) {
		return 0, 0, errMalformedDER
	}
	for i := 0; i < n; i++ {
		length = length<<8 | int(r.buf[r.pos])
		r.pos++
	}
	return tag, length, nil
}

// readBytes consumes length bytes.
func (r *derReader) readBytes(length int) ([]byte, error) {
	if length < 0 || r.pos+length > len(r.buf) {
		return nil, errMalformedDER
	}
	out := r.buf[r.pos : r.pos+length]
	r.pos += length
	return out, nil
}

// ParseDERSignature extracts (r, s) from a DER ECDSA signature. Leading
// 0x00 sign-padding bytes are dropped by the big-endian interpretation.
func ParseDERSignature(der []byte) (*big.Int, *big.Int, error) {
	rd := &derReader{buf: der}

	tag, seqLen, err := rd.readHeader()
	if err != nil {
		return nil, nil, err
	}
	if tag != 0x30 || seqLen != len(der)-rd.pos {
		return nil, nil, errMalformedDER
	}

	readInt := func() (*big.Int, error) {
		tag, l, err := rd.readHeader()
		if err != nil {
			return nil, err
		}
		if tag != 0x02 || l == 0 {
			return nil, errMalformedDER
		}
		b, err := rd.readBytes(l)
		if err != nil {
			return nil, err
		}
		return new(big.Int).SetBytes(b), nil
	}

	r, err := readInt()
	if err != nil {
		return nil, nil, err
	}
	s, err := readInt()
	if err != nil {
		return nil, nil, err
	}
	return r, s, nil
}

// NormalizeS maps s into the low half of the curve order. Post-Homestead
// nodes reject high-S signatures, so this is mandatory for every oracle
// signature.
func NormalizeS(s *big.Int) *big.Int {
	if s.Cmp(secp256k1HalfN) > 0 {
		return new(big.Int).Sub(crypto.S256().Params().N, s)
	}
	return new(big.Int).Set(s)
}

// ParseSPKIPublicKey extracts the 65-byte uncompressed EC point from an SPKI
// document: SEQUENCE { AlgorithmIdentifier, BIT STRING }. The bit string's
// unused-bits byte must be zero and the point must begin with 0x04.
func ParseSPKIPublicKey(spki []byte) ([]byte, error) {
	rd := &derReader{buf: spki}

	tag, _, err := rd.readHeader()
	if err != nil || tag != 0x30 {
		return nil, errMalformedSPKI
	}

	// Skip the AlgorithmIdentifier SEQUENCE wholesale.
	tag, algLen, err := rd.readHeader()
	if err != nil || tag != 0x30 {
		return nil, errMalformedSPKI
	}
	if _, err := rd.readBytes(algLen); err != nil {
		return nil, errMalformedSPKI
	}

	tag, bitLen, err := rd.readHeader()
	if err != nil || tag != 0x03 {
		return nil, errMalformedSPKI
	}
	bits, err := rd.readBytes(bitLen)
	if err != nil {
		return nil, errMalformedSPKI
	}
	if len(bits) != 66 || bits[0] != 0 || bits[1] != 0x04 {
		return nil, errMalformedSPKI
	}
	return bits[1:], nil
}

// AddressFromPoint derives the Ethereum address from a 65-byte uncompressed
// public key point: keccak256(point[1:])[12:].
func AddressFromPoint(point []byte) (common.Address, error) {
	if len(point) != 65 || point[0] != 0x04 {
		return common.Address{}, errMalformedSPKI
	}
	return common.BytesToAddress(crypto.Keccak256(point[1:])[12:]), nil
}

// ethSignatureFromDER converts a DER oracle signature over digest into a
// 65-byte Ethereum signature for the given address: low-S normalization,
// then recovery-id search over v in {27, 28}.
func ethSignatureFromDER(digest [32]byte, der []byte, addr common.Address) ([]byte, error) {
	r, s, err := ParseDERSignature(der)
	if err != nil {
		return nil, err
	}
	s = NormalizeS(s)

	sig := make([]byte, 65)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])

	for v := byte(0); v < 2; v++ {
		sig[64] = v
		pub, err := crypto.Ecrecover(digest[:], sig)
		if err != nil {
			continue
		}
		recovered, err := AddressFromPoint(pub)
		if err != nil {
			continue
		}
		if recovered == addr {
			sig[64] = v + 27
			return sig, nil
		}
	}
	return nil, fmt.Errorf("%w (address %s)", ErrRecoveryFailed, addr.Hex())
}
