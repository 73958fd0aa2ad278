package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/blobrelay/blobrelay/fault"
	"github.com/blobrelay/blobrelay/kzg"
	"github.com/blobrelay/blobrelay/txblob"
)

// Store key prefixes. Locks, cached results and completion intents share one
// store; the prefixes keep the scans disjoint.
const (
	lockPrefix   = "lock/"
	resultPrefix = "result/"
	intentPrefix = "intent/"
)

// Intent states.
const (
	StatePending           = "pending"
	StateInFlight          = "in_flight"
	StateSucceeded         = "succeeded"
	StatePermanentlyFailed = "permanently_failed"
)

// Intent is the durable record of an obligation to call completeJob on
// chain. At most one non-terminal intent exists per job id.
type Intent struct {
	JobID         common.Hash   `json:"jobId"`
	BlobTxHash    common.Hash   `json:"blobTxHash"`
	Proof         hexutil.Bytes `json:"proof"`
	CreatedAt     time.Time     `json:"createdAt"`
	Attempts      int           `json:"attempts"`
	NextAttemptAt time.Time     `json:"nextAttemptAt"`
	State         string        `json:"state"`
}

func (in *Intent) encode() []byte {
	buf, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("jobs: encoding intent: %v", err))
	}
	return buf
}

func decodeIntent(buf []byte) (*Intent, error) {
	var in Intent
	if err := json.Unmarshal(buf, &in); err != nil {
		return nil, fmt.Errorf("jobs: decoding intent: %w", err)
	}
	return &in, nil
}

func lockKey(jobID common.Hash) string   { return lockPrefix + jobID.Hex() }
func resultKey(jobID common.Hash) string { return resultPrefix + jobID.Hex() }
func intentKey(jobID common.Hash) string { return intentPrefix + jobID.Hex() }

// receiptRecord is the JSON form of a BlobReceipt in the result cache.
type receiptRecord struct {
	JobID             common.Hash     `json:"jobId"`
	BlobTxHash        common.Hash     `json:"blobTxHash"`
	BlockNumber       uint64          `json:"blockNumber"`
	BlobVersionedHash common.Hash     `json:"blobVersionedHash"`
	Commitment        hexutil.Bytes   `json:"commitment"`
	Proofs            []hexutil.Bytes `json:"proofs"`
	BlobProof         hexutil.Bytes   `json:"blobProof"`
	BlobIndex         uint64          `json:"blobIndex"`
	Meta              txblob.Meta     `json:"meta"`
}

// outcome is a cached terminal result for a job id: either a receipt or a
// permanent failure recorded to short-circuit repeats.
type outcome struct {
	Receipt      *receiptRecord `json:"receipt,omitempty"`
	FaultKind    string         `json:"faultKind,omitempty"`
	FaultMessage string         `json:"faultMessage,omitempty"`
}

func successOutcome(r *txblob.Receipt) *outcome {
	rec := &receiptRecord{
		JobID:             r.JobID,
		BlobTxHash:        r.BlobTxHash,
		BlockNumber:       r.BlockNumber,
		BlobVersionedHash: r.BlobVersionedHash,
		Commitment:        append(hexutil.Bytes(nil), r.Commitment[:]...),
		BlobProof:         append(hexutil.Bytes(nil), r.BlobProof[:]...),
		BlobIndex:         r.BlobIndex,
		Meta:              r.Meta,
	}
	for _, p := range r.Proofs {
		rec.Proofs = append(rec.Proofs, append(hexutil.Bytes(nil), p[:]...))
	}
	return &outcome{Receipt: rec}
}

func failureOutcome(err error) *outcome {
	return &outcome{
		FaultKind:    fault.KindOf(err).String(),
		FaultMessage: err.Error(),
	}
}

func (o *outcome) encode() []byte {
	buf, err := json.Marshal(o)
	if err != nil {
		panic(fmt.Sprintf("jobs: encoding outcome: %v", err))
	}
	return buf
}

func decodeOutcome(buf []byte) (*outcome, error) {
	var o outcome
	if err := json.Unmarshal(buf, &o); err != nil {
		return nil, fmt.Errorf("jobs: decoding outcome: %w", err)
	}
	return &o, nil
}

// receipt converts the cached record back to a BlobReceipt.
func (o *outcome) receipt() (*txblob.Receipt, error) {
	rec := o.Receipt
	if rec == nil {
		return nil, fmt.Errorf("jobs: outcome has no receipt")
	}
	out := &txblob.Receipt{
		JobID:             rec.JobID,
		BlobTxHash:        rec.BlobTxHash,
		BlockNumber:       rec.BlockNumber,
		BlobVersionedHash: rec.BlobVersionedHash,
		BlobIndex:         rec.BlobIndex,
		Meta:              rec.Meta,
	}
	if len(rec.Commitment) != len(out.Commitment) {
		return nil, fmt.Errorf("jobs: cached commitment length %d", len(rec.Commitment))
	}
	copy(out.Commitment[:], rec.Commitment)
	if len(rec.BlobProof) > 0 {
		if len(rec.BlobProof) != len(out.BlobProof) {
			return nil, fmt.Errorf("jobs: cached blob proof length %d", len(rec.BlobProof))
		}
		copy(out.BlobProof[:], rec.BlobProof)
	}
	for _, p := range rec.Proofs {
		var proof kzg.Proof
		if len(p) != len(proof) {
			return nil, fmt.Errorf("jobs: cached proof length %d", len(p))
		}
		copy(proof[:], p)
		out.Proofs = append(out.Proofs, proof)
	}
	return out, nil
}

// fault converts a cached negative outcome back to its error.
func (o *outcome) fault() error {
	return fault.New(fault.ParseKind(o.FaultKind), "%s", o.FaultMessage)
}
