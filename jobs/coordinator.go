// Package jobs coordinates blob submissions against the on-chain escrow:
// precondition checks, per-job locking, idempotent replies from the result
// cache, and the durable completion retry queue that guarantees completeJob
// is eventually called for every landed blob.
package jobs

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blobrelay/blobrelay/escrow"
	"github.com/blobrelay/blobrelay/fault"
	"github.com/blobrelay/blobrelay/kzg"
	"github.com/blobrelay/blobrelay/log"
	"github.com/blobrelay/blobrelay/metrics"
	"github.com/blobrelay/blobrelay/signer"
	"github.com/blobrelay/blobrelay/store"
	"github.com/blobrelay/blobrelay/txblob"
)

const (
	// LockTTL bounds how long a submission may hold a job lock.
	LockTTL = 60 * time.Second

	// ResultTTL keeps receipts available for idempotent client retries.
	ResultTTL = 24 * time.Hour

	// DefaultJobTimeout is used when the escrow's jobTimeout cannot be read
	// at bootstrap.
	DefaultJobTimeout = 300 * time.Second

	maxAppIDLen = 50
	maxMetaTags = 10
)

// Submitter lands blobs on chain. *txblob.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, payload []byte, meta txblob.Meta, version kzg.Version) (*txblob.Receipt, error)
	EstimateCost(ctx context.Context) (*big.Int, error)
}

// Escrow is the contract surface the coordinator reads and the queue writes.
// *escrow.Client implements it.
type Escrow interface {
	GetJob(ctx context.Context, jobID [32]byte) (*escrow.Job, error)
	IsProxyAuthorized(ctx context.Context, proxy common.Address) (bool, error)
	JobTimeout(ctx context.Context) (uint64, error)
	CompleteJob(ctx context.Context, jobID, blobTxHash [32]byte, proof []byte) (common.Hash, error)
}

// Request is one incoming blob write.
type Request struct {
	JobID         common.Hash
	PaymentTxHash common.Hash
	Payload       []byte
	Signature     []byte
	Meta          txblob.Meta
}

// Health is the coordinator's liveness report.
type Health struct {
	Status          string         `json:"status"`
	ChainID         uint64         `json:"chainId"`
	EscrowContract  common.Address `json:"escrowContract"`
	ProxyFeePercent int            `json:"proxyFeePercent"`
	MaxBlobSize     int            `json:"maxBlobSize"`
}

// Config carries the coordinator's static parameters.
type Config struct {
	ChainID         *big.Int
	EscrowContract  common.Address
	ProxyAddress    common.Address
	ProxyFeePercent int
	Wrapper         kzg.Version
}

// Coordinator owns JobLock, JobResultCache and CompletionIntent lifetimes.
// On-chain job state belongs to the escrow contract; it is only read here.
type Coordinator struct {
	cfg        Config
	store      store.Store
	escrow     Escrow
	engine     Submitter
	jobTimeout time.Duration
	authorized bool
	now        func() time.Time
	logger     *log.Logger
}

// NewCoordinator wires a coordinator. Bootstrap must be called before it
// accepts requests.
func NewCoordinator(cfg Config, st store.Store, esc Escrow, engine Submitter, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		cfg:        cfg,
		store:      st,
		escrow:     esc,
		engine:     engine,
		jobTimeout: DefaultJobTimeout,
		now:        time.Now,
		logger:     logger.Module("jobs"),
	}
}

// Bootstrap verifies the proxy is authorized on the escrow and caches the
// refund timeout. An unreachable RPC fails startup; serving requests that
// can never complete would strand client deposits.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	ok, err := c.escrow.IsProxyAuthorized(ctx, c.cfg.ProxyAddress)
	if err != nil {
		return fault.Wrap(fault.UpstreamUnavailable, err, "verifying proxy authorization")
	}
	if !ok {
		return fault.New(fault.Internal, "proxy %s is not authorized on escrow %s",
			c.cfg.ProxyAddress.Hex(), c.cfg.EscrowContract.Hex())
	}
	c.authorized = true

	timeout, err := c.escrow.JobTimeout(ctx)
	if err != nil {
		c.logger.Warn("reading jobTimeout failed, using default",
			"err", err, "default", DefaultJobTimeout)
	} else if timeout > 0 {
		c.jobTimeout = time.Duration(timeout) * time.Second
	}

	c.logger.Info("coordinator ready",
		"proxy", c.cfg.ProxyAddress.Hex(),
		"escrow", c.cfg.EscrowContract.Hex(),
		"jobTimeout", c.jobTimeout)
	return nil
}

// JobTimeout returns the cached refund timeout.
func (c *Coordinator) JobTimeout() time.Duration { return c.jobTimeout }

// Health implements the health endpoint contract.
func (c *Coordinator) Health() Health {
	status := "healthy"
	if !c.authorized {
		status = "unhealthy"
	}
	return Health{
		Status:          status,
		ChainID:         c.cfg.ChainID.Uint64(),
		EscrowContract:  c.cfg.EscrowContract,
		ProxyFeePercent: c.cfg.ProxyFeePercent,
		MaxBlobSize:     kzg.BytesPerBlob,
	}
}

// SubmitJob validates the request against escrow state, submits the blob
// exactly once per job id, and returns the receipt. Preconditions
// short-circuit before any blob work so a rejected job's refund path stays
// open.
func (c *Coordinator) SubmitJob(ctx context.Context, req *Request) (*txblob.Receipt, error) {
	timer := metrics.NewTimer(metrics.JobSubmitTime)
	defer timer.Stop()

	receipt, err := c.submitJob(ctx, req)
	if err != nil {
		metrics.JobsRejected.Inc()
		return nil, err
	}
	return receipt, nil
}

func (c *Coordinator) submitJob(ctx context.Context, req *Request) (*txblob.Receipt, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	job, err := c.escrow.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if !job.Exists {
		return nil, fault.New(fault.JobNotFound, "no escrow job for id %s", req.JobID.Hex())
	}
	if err := c.verifyDepositor(req, job.User); err != nil {
		return nil, err
	}

	cost, err := c.engine.EstimateCost(ctx)
	if err != nil {
		return nil, err
	}
	if job.Amount.Cmp(cost) < 0 {
		return nil, fault.New(fault.InsufficientDeposit,
			"deposit %s wei below estimated cost %s wei", job.Amount, cost)
	}

	if job.Completed {
		if out, ok := c.cachedOutcome(req.JobID); ok && out.Receipt != nil {
			return out.receipt()
		}
		return nil, fault.New(fault.JobAlreadyCompleted, "job %s already completed", req.JobID.Hex())
	}
	if age := c.now().Sub(time.Unix(int64(job.Timestamp), 0)); age >= c.jobTimeout {
		return nil, fault.New(fault.JobExpired,
			"job %s is %s old, refund window open after %s", req.JobID.Hex(), age, c.jobTimeout)
	}

	acquired, err := c.store.SetIfAbsent(lockKey(req.JobID), []byte{1}, store.Options{TTL: LockTTL})
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "acquiring job lock")
	}
	if !acquired {
		return nil, fault.New(fault.JobInFlight, "job %s has a submission in flight", req.JobID.Hex())
	}
	metrics.JobsInFlight.Inc()
	defer func() {
		metrics.JobsInFlight.Dec()
		if err := c.store.Delete(lockKey(req.JobID)); err != nil {
			c.logger.Warn("releasing job lock failed", "jobId", req.JobID.Hex(), "err", err)
		}
	}()

	// Another submission may have finished between the precondition reads
	// and the lock acquisition.
	if out, ok := c.cachedOutcome(req.JobID); ok {
		metrics.JobsCachedReplies.Inc()
		if out.Receipt != nil {
			return out.receipt()
		}
		return nil, out.fault()
	}

	// The broadcast must survive a client disconnect: aborting after the
	// transaction is out would double-spend the deposit on retry.
	sctx := context.WithoutCancel(ctx)
	receipt, err := c.engine.Submit(sctx, req.Payload, req.Meta, c.cfg.Wrapper)
	if err != nil {
		metrics.BlobsFailed.Inc()
		if fault.Permanent(err) {
			c.cacheOutcome(req.JobID, failureOutcome(err))
		}
		return nil, err
	}
	receipt.JobID = req.JobID
	metrics.BlobsConfirmed.Inc()
	metrics.JobsSubmitted.Inc()

	c.cacheOutcome(req.JobID, successOutcome(receipt))
	if err := c.enqueueIntent(receipt); err != nil {
		// The blob is on chain; losing the intent would forfeit payment.
		// Surface loudly but still hand the client its receipt.
		c.logger.Error("persisting completion intent failed",
			"jobId", req.JobID.Hex(), "tx", receipt.BlobTxHash.Hex(), "err", err)
	}

	c.logger.Info("job submitted",
		"jobId", req.JobID.Hex(), "tx", receipt.BlobTxHash.Hex(), "block", receipt.BlockNumber)
	return receipt, nil
}

func validateRequest(req *Request) error {
	if req == nil {
		return fault.New(fault.ValidationFailed, "empty request")
	}
	if len(req.Payload) == 0 {
		return fault.New(fault.ValidationFailed, "payload is empty")
	}
	if len(req.Payload) > kzg.BytesPerBlob {
		return fault.New(fault.ValidationFailed,
			"payload is %d bytes, maximum is %d", len(req.Payload), kzg.BytesPerBlob)
	}
	if req.JobID == (common.Hash{}) {
		return fault.New(fault.ValidationFailed, "jobId is required")
	}
	if req.PaymentTxHash == (common.Hash{}) {
		return fault.New(fault.ValidationFailed, "paymentTxHash is required")
	}
	if len(req.Signature) != 65 {
		return fault.New(fault.ValidationFailed, "signature must be 65 bytes, got %d", len(req.Signature))
	}
	if n := len(req.Meta.AppID); n == 0 || n > maxAppIDLen {
		return fault.New(fault.ValidationFailed, "meta.appId must be 1..%d characters", maxAppIDLen)
	}
	if len(req.Meta.Tags) > maxMetaTags {
		return fault.New(fault.ValidationFailed, "meta.tags allows at most %d entries", maxMetaTags)
	}
	return nil
}

// verifyDepositor checks the EIP-191 signature over the raw payload against
// the job's depositor. The signature does not bind jobId or paymentTxHash,
// so a signed payload is replayable across that user's jobs; each job still
// pays at most once thanks to the lock and cache.
func (c *Coordinator) verifyDepositor(req *Request, user common.Address) error {
	digest := signer.PersonalDigest(req.Payload)
	sig := make([]byte, 65)
	copy(sig, req.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return fault.Wrap(fault.SignatureMismatch, err, "recovering payload signer")
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != user {
		return fault.New(fault.SignatureMismatch,
			"payload signed by %s, job belongs to %s", recovered.Hex(), user.Hex())
	}
	return nil
}

func (c *Coordinator) cachedOutcome(jobID common.Hash) (*outcome, bool) {
	buf, ok, err := c.store.Get(resultKey(jobID))
	if err != nil || !ok {
		return nil, false
	}
	out, err := decodeOutcome(buf)
	if err != nil {
		c.logger.Warn("dropping corrupt cached result", "jobId", jobID.Hex(), "err", err)
		return nil, false
	}
	return out, true
}

func (c *Coordinator) cacheOutcome(jobID common.Hash, out *outcome) {
	if err := c.store.Set(resultKey(jobID), out.encode(), store.Options{TTL: ResultTTL}); err != nil {
		c.logger.Warn("caching result failed", "jobId", jobID.Hex(), "err", err)
	}
}

// enqueueIntent persists the completion obligation. Set-if-absent keeps the
// at-most-one-non-terminal-intent invariant even if a duplicate submission
// slips through. The escrow gets the whole-blob proof; under the 7594
// wrapper Proofs carries per-cell proofs for the envelope instead.
func (c *Coordinator) enqueueIntent(receipt *txblob.Receipt) error {
	now := c.now()
	in := &Intent{
		JobID:         receipt.JobID,
		BlobTxHash:    receipt.BlobTxHash,
		Proof:         append(hexutil.Bytes(nil), receipt.BlobProof[:]...),
		CreatedAt:     now,
		Attempts:      0,
		NextAttemptAt: now,
		State:         StatePending,
	}
	_, err := c.store.SetIfAbsent(intentKey(receipt.JobID), in.encode(), store.Options{DueAt: now})
	return err
}
