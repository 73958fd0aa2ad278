package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// fakeOracle implements digestOracle over a local key, emitting the DER and
// SPKI formats a cloud KMS produces. forceHighS flips s into the high half
// to exercise the mandatory normalization.
type fakeOracle struct {
	key        *ecdsa.PrivateKey
	forceHighS bool
}

func (f *fakeOracle) PublicKey(ctx context.Context) ([]byte, error) {
	return buildSPKI(crypto.FromECDSAPub(&f.key.PublicKey)), nil
}

func (f *fakeOracle) SignDigest(ctx context.Context, digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], f.key)
	if err != nil {
		return nil, err
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if f.forceHighS {
		s = new(big.Int).Sub(crypto.S256().Params().N, s)
	}
	return derEncodeSig(r, s), nil
}

func newTestRemote(t *testing.T, forceHighS bool) (*Remote, *ecdsa.PrivateKey) {
	t.Helper()
	key := mustKey(t)
	r, err := newRemote(context.Background(), "fake-kms", &fakeOracle{key: key, forceHighS: forceHighS})
	if err != nil {
		t.Fatalf("newRemote: %v", err)
	}
	return r, key
}

func TestRemoteAddress(t *testing.T) {
	r, key := newTestRemote(t, false)
	if r.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("address = %s, want %s", r.Address().Hex(), crypto.PubkeyToAddress(key.PublicKey).Hex())
	}
	if r.Provider() != "fake-kms" {
		t.Errorf("provider = %s", r.Provider())
	}
}

func TestRemoteSignRawDigest(t *testing.T) {
	for _, highS := range []bool{false, true} {
		name := "low-s oracle"
		if highS {
			name = "high-s oracle"
		}
		t.Run(name, func(t *testing.T) {
			r, _ := newTestRemote(t, highS)
			digest := [32]byte(crypto.Keccak256Hash([]byte("remote digest")))

			sig, err := r.SignRawDigest(context.Background(), digest)
			if err != nil {
				t.Fatalf("SignRawDigest: %v", err)
			}
			if len(sig) != 65 {
				t.Fatalf("signature length = %d, want 65", len(sig))
			}
			if s := new(big.Int).SetBytes(sig[32:64]); s.Cmp(secp256k1HalfN) > 0 {
				t.Error("s exceeds n/2")
			}
			if sig[64] != 27 && sig[64] != 28 {
				t.Errorf("v = %d, want 27 or 28", sig[64])
			}

			rec := append([]byte(nil), sig...)
			rec[64] -= 27
			pub, err := crypto.Ecrecover(digest[:], rec)
			if err != nil {
				t.Fatalf("Ecrecover: %v", err)
			}
			addr, _ := AddressFromPoint(pub)
			if addr != r.Address() {
				t.Errorf("recovered %s, want %s", addr.Hex(), r.Address().Hex())
			}
		})
	}
}

func TestSignMessageRecovers(t *testing.T) {
	// Local and remote must agree on the EIP-191 digest scheme.
	key := mustKey(t)
	local := NewLocalFromKey(key)
	remote, err := newRemote(context.Background(), "fake-kms", &fakeOracle{key: key})
	if err != nil {
		t.Fatalf("newRemote: %v", err)
	}

	msg := []byte("payload to authorize")
	for name, s := range map[string]Signer{"local": local, "remote": remote} {
		sig, err := s.SignMessage(context.Background(), msg)
		if err != nil {
			t.Fatalf("%s: SignMessage: %v", name, err)
		}
		digest := PersonalDigest(msg)
		rec := append([]byte(nil), sig...)
		rec[64] -= 27
		pub, err := crypto.SigToPub(digest[:], rec)
		if err != nil {
			t.Fatalf("%s: SigToPub: %v", name, err)
		}
		if crypto.PubkeyToAddress(*pub) != s.Address() {
			t.Errorf("%s: message signature does not recover to signer", name)
		}
	}
}

func TestSignTransactionBlobTx(t *testing.T) {
	r, _ := newTestRemote(t, true)
	chainID := big.NewInt(11155111)

	to := common.HexToAddress("0x0000000000000000000000000000000000000000")
	tx := types.NewTx(&types.BlobTx{
		ChainID:    uint256.MustFromBig(chainID),
		Nonce:      7,
		GasTipCap:  uint256.NewInt(1_000_000_000),
		GasFeeCap:  uint256.NewInt(20_000_000_000),
		Gas:        21000,
		To:         to,
		BlobFeeCap: uint256.NewInt(100),
		BlobHashes: []common.Hash{{0x01}},
	})

	signed, err := r.SignTransaction(context.Background(), tx, chainID)
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("Sender: %v", err)
	}
	if sender != r.Address() {
		t.Errorf("sender = %s, want %s", sender.Hex(), r.Address().Hex())
	}
}

func TestSignTypedData(t *testing.T) {
	local := NewLocalFromKey(mustKey(t))
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
			},
			"Envelope": {
				{Name: "contents", Type: "string"},
			},
		},
		PrimaryType: "Envelope",
		Domain:      apitypes.TypedDataDomain{Name: "blobrelay", Version: "1"},
		Message:     apitypes.TypedDataMessage{"contents": "hello"},
	}

	sig, err := local.SignTypedData(context.Background(), td)
	if err != nil {
		t.Fatalf("SignTypedData: %v", err)
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		t.Fatalf("TypedDataAndHash: %v", err)
	}
	rec := append([]byte(nil), sig...)
	rec[64] -= 27
	pub, err := crypto.SigToPub(hash, rec)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != local.Address() {
		t.Error("typed data signature does not recover to signer")
	}
}
