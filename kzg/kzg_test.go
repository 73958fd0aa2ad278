package kzg

import (
	"crypto/sha256"
	"sync"
	"testing"
)

var (
	testEngineOnce sync.Once
	testEngine     *Engine
	testEngineErr  error
)

// sharedEngine loads the trusted setup once for the whole test package.
func sharedEngine(t *testing.T) *Engine {
	t.Helper()
	testEngineOnce.Do(func() {
		testEngine, testEngineErr = NewEngine()
	})
	if testEngineErr != nil {
		t.Fatalf("NewEngine: %v", testEngineErr)
	}
	return testEngine
}

func TestCommitAndVersionedHash(t *testing.T) {
	e := sharedEngine(t)

	blob, err := EncodeBlob([]byte("hello blob"))
	if err != nil {
		t.Fatalf("EncodeBlob: %v", err)
	}
	commitment, err := e.Commit(blob)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if commitment == (Commitment{}) {
		t.Fatal("commitment should not be all zero")
	}

	vh := VersionedHash(commitment)
	if vh[0] != VersionedHashVersion {
		t.Errorf("versioned hash version byte = 0x%02x, want 0x01", vh[0])
	}
	sum := sha256.Sum256(commitment[:])
	for i := 1; i < 32; i++ {
		if vh[i] != sum[i] {
			t.Fatalf("versioned hash byte %d = 0x%02x, want sha256 byte 0x%02x", i, vh[i], sum[i])
		}
	}
}

func TestBlobProofRoundTrip(t *testing.T) {
	e := sharedEngine(t)

	blob, err := EncodeBlob([]byte("proof me"))
	if err != nil {
		t.Fatalf("EncodeBlob: %v", err)
	}
	commitment, err := e.Commit(blob)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	proofs, err := e.ComputeProofs(blob, commitment, V4844)
	if err != nil {
		t.Fatalf("ComputeProofs: %v", err)
	}
	if len(proofs) != 1 {
		t.Fatalf("v4844 proof count = %d, want 1", len(proofs))
	}
	if err := e.VerifyBlobProof(blob, commitment, proofs[0]); err != nil {
		t.Errorf("VerifyBlobProof: %v", err)
	}

	// A tampered blob must not verify against the original proof.
	var bad Blob = *blob
	bad[33] ^= 0x01
	if err := e.VerifyBlobProof(&bad, commitment, proofs[0]); err == nil {
		t.Error("tampered blob unexpectedly verified")
	}
}

func TestCellProofs(t *testing.T) {
	e := sharedEngine(t)

	blob, err := EncodeBlob([]byte("cells"))
	if err != nil {
		t.Fatalf("EncodeBlob: %v", err)
	}
	commitment, err := e.Commit(blob)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	proofs, err := e.ComputeProofs(blob, commitment, V7594)
	if err != nil {
		t.Fatalf("ComputeProofs(v7594): %v", err)
	}
	if len(proofs) != CellProofsPerBlob {
		t.Fatalf("cell proof count = %d, want %d", len(proofs), CellProofsPerBlob)
	}
}

func TestEngineConcurrentUse(t *testing.T) {
	e := sharedEngine(t)

	var wg sync.WaitGroup
	errc := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			blob, err := EncodeBlob([]byte{seed, seed + 1, seed + 2})
			if err != nil {
				errc <- err
				return
			}
			if _, err := e.Commit(blob); err != nil {
				errc <- err
			}
		}(byte(i))
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Errorf("concurrent commit: %v", err)
	}
}
