// Package txblob assembles, signs, broadcasts and confirms EIP-4844 blob
// transactions. It sits between the job coordinator and the chain: payload
// in, BlobReceipt out. The EIP-7594 cell-proof wrapper is supported behind
// the same entry point.
package txblob

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/blobrelay/blobrelay/fault"
	"github.com/blobrelay/blobrelay/fees"
	"github.com/blobrelay/blobrelay/kzg"
	"github.com/blobrelay/blobrelay/log"
	"github.com/blobrelay/blobrelay/metrics"
	"github.com/blobrelay/blobrelay/signer"
)

// DefaultTxTimeout bounds the confirmation wait after broadcast.
const DefaultTxTimeout = 120 * time.Second

// fallbackGasLimit is used when eth_estimateGas fails; blob carriers with
// empty calldata never need more.
const fallbackGasLimit = 200000

// Meta is client-supplied blob metadata, carried through to the receipt.
type Meta struct {
	AppID       string            `json:"appId"`
	Codec       string            `json:"codec,omitempty"`
	ContentHash string            `json:"contentHash,omitempty"`
	TTLBlocks   uint64            `json:"ttlBlocks,omitempty"`
	Timestamp   uint64            `json:"timestamp,omitempty"`
	Filename    string            `json:"filename,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Receipt describes one confirmed blob submission. JobID is filled in by the
// coordinator; direct submissions leave it zero.
type Receipt struct {
	JobID             common.Hash
	BlobTxHash        common.Hash
	BlockNumber       uint64
	BlobVersionedHash common.Hash
	Commitment        kzg.Commitment
	Proofs            []kzg.Proof
	// BlobProof is the whole-blob KZG proof regardless of the broadcast
	// wrapper. Under V7594 Proofs holds the per-cell vector for the network
	// envelope, which is useless to the escrow; completion always carries
	// this one.
	BlobProof kzg.Proof
	BlobIndex uint64
	Meta      Meta
}

// Quoter supplies fee caps for a blob count. *fees.Oracle implements it.
type Quoter interface {
	Suggest(ctx context.Context, blobs int) (*fees.Quote, error)
}

// Backend is the chain surface the engine needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Engine builds and lands blob transactions for one signer.
type Engine struct {
	backend   Backend
	quoter    Quoter
	signer    signer.Signer
	kzg       *kzg.Engine
	chainID   *big.Int
	txTimeout time.Duration
	logger    *log.Logger
}

// NewEngine wires a blob transaction engine. A txTimeout of zero selects
// DefaultTxTimeout.
func NewEngine(backend Backend, quoter Quoter, sgn signer.Signer, eng *kzg.Engine, chainID *big.Int, txTimeout time.Duration, logger *log.Logger) *Engine {
	if txTimeout <= 0 {
		txTimeout = DefaultTxTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		backend:   backend,
		quoter:    quoter,
		signer:    sgn,
		kzg:       eng,
		chainID:   chainID,
		txTimeout: txTimeout,
		logger:    logger.Module("txblob"),
	}
}

// Submit encodes the payload into a blob, lands it on chain as a Type-3
// transaction and waits for the receipt. Blob transactions always target the
// zero address with empty calldata; the payload travels only in the sidecar.
func (e *Engine) Submit(ctx context.Context, payload []byte, meta Meta, version kzg.Version) (*Receipt, error) {
	blob, err := kzg.EncodeBlob(payload)
	if err != nil {
		return nil, fault.Wrap(fault.ValidationFailed, err, "encoding payload")
	}
	commitment, err := e.kzg.Commit(blob)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "computing commitment")
	}
	blobProofs, err := e.kzg.ComputeProofs(blob, commitment, kzg.V4844)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "computing blob proof")
	}
	blobProof := blobProofs[0]
	// Whole-blob proofs are cheap to verify; catch a bad sidecar before
	// it costs a broadcast fee.
	if err := e.kzg.VerifyBlobProof(blob, commitment, blobProof); err != nil {
		return nil, fault.Wrap(fault.Internal, err, "verifying blob proof")
	}
	proofs := blobProofs
	if version == kzg.V7594 {
		proofs, err = e.kzg.ComputeProofs(blob, commitment, version)
		if err != nil {
			return nil, fault.Wrap(fault.Internal, err, "computing cell proofs")
		}
	}
	versionedHash := common.Hash(kzg.VersionedHash(commitment))

	quote, err := e.quoter.Suggest(ctx, 1)
	if err != nil {
		return nil, err
	}
	from := e.signer.Address()
	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamUnavailable, err, "fetching nonce")
	}

	to := common.Address{}
	gas, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to})
	if err != nil {
		e.logger.Debug("gas estimation failed, using fallback", "err", err, "gas", fallbackGasLimit)
		gas = fallbackGasLimit
	} else {
		gas = gas * 110 / 100
	}

	unsigned := &txPayload{
		ChainID:    uint256.MustFromBig(e.chainID),
		Nonce:      nonce,
		GasTipCap:  uint256.MustFromBig(quote.MaxPriorityFeePerGas),
		GasFeeCap:  uint256.MustFromBig(quote.MaxFeePerGas),
		Gas:        gas,
		To:         to,
		Value:      uint256.NewInt(0),
		Data:       []byte{},
		AccessList: types.AccessList{},
		BlobFeeCap: uint256.MustFromBig(quote.MaxFeePerBlobGas),
		BlobHashes: []common.Hash{versionedHash},
	}
	sigHash, err := unsigned.SigningHash()
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "hashing transaction")
	}
	sig, err := e.signer.SignRawDigest(ctx, sigHash)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamUnavailable, err, "signing transaction")
	}
	signed, err := unsigned.withSignature(sig)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "attaching signature")
	}
	txHash, err := signed.Hash()
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "hashing signed transaction")
	}

	raw, err := encodeForBroadcast(signed, []kzg.Blob{*blob}, []kzg.Commitment{commitment}, proofs, version)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "serializing transaction")
	}

	e.logger.Info("broadcasting blob transaction",
		"tx", txHash.Hex(), "blobHash", versionedHash.Hex(),
		"nonce", nonce, "gas", gas, "wrapper", version,
		"maxFeePerBlobGas", quote.MaxFeePerBlobGas)

	if err := e.backend.SendRawTransaction(ctx, raw); err != nil {
		return nil, fault.New(fault.BlobSubmissionFailed,
			"broadcast failed: %s", fault.TruncateMessage(err.Error()))
	}
	metrics.BlobsBroadcast.Inc()

	receipt, err := e.waitMined(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fault.New(fault.BlobSubmissionFailed,
			"blob transaction %s reverted in block %d", txHash.Hex(), receipt.BlockNumber)
	}

	e.logger.Info("blob transaction confirmed",
		"tx", txHash.Hex(), "block", receipt.BlockNumber)

	return &Receipt{
		BlobTxHash:        txHash,
		BlockNumber:       receipt.BlockNumber.Uint64(),
		BlobVersionedHash: versionedHash,
		Commitment:        commitment,
		Proofs:            proofs,
		BlobProof:         blobProof,
		BlobIndex:         0,
		Meta:              meta,
	}, nil
}

// EstimateCost returns the quoted blob fee for one blob at current prices.
// The coordinator compares it against the escrow deposit; execution gas is
// deliberately not part of the threshold.
func (e *Engine) EstimateCost(ctx context.Context) (*big.Int, error) {
	quote, err := e.quoter.Suggest(ctx, 1)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(quote.BlobFee), nil
}

// waitMined polls for the receipt until the confirmation timeout elapses.
// The context is honored so shutdown can cut the wait short.
func (e *Engine) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(e.txTimeout)
	for {
		receipt, err := e.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, fault.New(fault.BlobSubmissionFailed,
				"blob transaction %s not confirmed within %s", txHash.Hex(), e.txTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, fault.Wrap(fault.BlobSubmissionFailed, ctx.Err(), "confirmation wait aborted")
		case <-time.After(2 * time.Second):
		}
	}
}
