// Package escrow wraps the on-chain blob escrow contract surface the proxy
// consumes: job reads, proxy authorization checks, the job timeout, and the
// completeJob call that claims payment after a successful blob submission.
// The contract itself is external; only its ABI is bound here.
package escrow

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blobrelay/blobrelay/fault"
	"github.com/blobrelay/blobrelay/log"
	"github.com/blobrelay/blobrelay/signer"
)

// escrowABI is the consumed contract surface. authorizedProxies is the
// legacy name of isProxyAuthorized on older escrow deployments.
const escrowABI = `[
	{"name":"getJob","type":"function","stateMutability":"view","inputs":[{"name":"jobId","type":"bytes32"}],"outputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"},{"name":"completed","type":"bool"},{"name":"timestamp","type":"uint256"},{"name":"blobTxHash","type":"bytes32"}]},
	{"name":"isProxyAuthorized","type":"function","stateMutability":"view","inputs":[{"name":"proxy","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"authorizedProxies","type":"function","stateMutability":"view","inputs":[{"name":"proxy","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"jobTimeout","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"completeJob","type":"function","stateMutability":"nonpayable","inputs":[{"name":"jobId","type":"bytes32"},{"name":"blobTxHash","type":"bytes32"},{"name":"proof","type":"bytes"}],"outputs":[]}
]`

// Job is the on-chain job record. Exists is derived: the contract returns a
// zero user for unknown job ids.
type Job struct {
	Exists     bool
	User       common.Address
	Amount     *big.Int
	Completed  bool
	Timestamp  uint64
	BlobTxHash common.Hash
}

// Backend is the chain surface the client needs. *ethclient.Client
// implements it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client talks to one escrow contract with one proxy signer.
type Client struct {
	backend   Backend
	contract  common.Address
	abi       abi.ABI
	signer    signer.Signer
	chainID   *big.Int
	txTimeout time.Duration
	logger    *log.Logger
}

// NewClient binds the escrow ABI at the given contract address. txTimeout
// bounds the wait for completeJob receipts.
func NewClient(backend Backend, contract common.Address, sgn signer.Signer, chainID *big.Int, txTimeout time.Duration, logger *log.Logger) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("escrow: parsing ABI: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	if txTimeout <= 0 {
		txTimeout = 2 * time.Minute
	}
	return &Client{
		backend:   backend,
		contract:  contract,
		abi:       parsed,
		signer:    sgn,
		chainID:   chainID,
		txTimeout: txTimeout,
		logger:    logger.Module("escrow"),
	}, nil
}

// Contract returns the bound contract address.
func (c *Client) Contract() common.Address { return c.contract }

// call packs, executes and returns the raw output of a view method.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("escrow: packing %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetJob reads the job record for a job id.
func (c *Client) GetJob(ctx context.Context, jobID [32]byte) (*Job, error) {
	out, err := c.call(ctx, "getJob", jobID)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamUnavailable, err, "reading job")
	}
	vals, err := c.abi.Unpack("getJob", out)
	if err != nil || len(vals) != 5 {
		return nil, fault.Wrap(fault.UpstreamUnavailable, err, "decoding job")
	}

	job := &Job{
		User:      vals[0].(common.Address),
		Amount:    vals[1].(*big.Int),
		Completed: vals[2].(bool),
	}
	job.Timestamp = vals[3].(*big.Int).Uint64()
	job.BlobTxHash = common.Hash(vals[4].([32]byte))
	job.Exists = job.User != (common.Address{})
	return job, nil
}

// IsProxyAuthorized checks whether the proxy address may complete jobs,
// falling back to the legacy authorizedProxies accessor for older escrow
// versions.
func (c *Client) IsProxyAuthorized(ctx context.Context, proxy common.Address) (bool, error) {
	out, err := c.call(ctx, "isProxyAuthorized", proxy)
	if err != nil {
		c.logger.Debug("isProxyAuthorized unavailable, trying legacy accessor", "err", err)
		out, err = c.call(ctx, "authorizedProxies", proxy)
		if err != nil {
			return false, fault.Wrap(fault.UpstreamUnavailable, err, "checking proxy authorization")
		}
		vals, err := c.abi.Unpack("authorizedProxies", out)
		if err != nil || len(vals) != 1 {
			return false, fault.Wrap(fault.UpstreamUnavailable, err, "decoding authorization")
		}
		return vals[0].(bool), nil
	}
	vals, err := c.abi.Unpack("isProxyAuthorized", out)
	if err != nil || len(vals) != 1 {
		return false, fault.Wrap(fault.UpstreamUnavailable, err, "decoding authorization")
	}
	return vals[0].(bool), nil
}

// JobTimeout reads the escrow's refund timeout in seconds.
func (c *Client) JobTimeout(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "jobTimeout")
	if err != nil {
		return 0, fault.Wrap(fault.UpstreamUnavailable, err, "reading job timeout")
	}
	vals, err := c.abi.Unpack("jobTimeout", out)
	if err != nil || len(vals) != 1 {
		return 0, fault.Wrap(fault.UpstreamUnavailable, err, "decoding job timeout")
	}
	return vals[0].(*big.Int).Uint64(), nil
}

// CompleteJob sends the on-chain completion call and waits for its receipt.
// Replays against an already-completed job revert; callers check the job
// state first and treat that revert as retry fodder.
func (c *Client) CompleteJob(ctx context.Context, jobID, blobTxHash [32]byte, proof []byte) (common.Hash, error) {
	data, err := c.abi.Pack("completeJob", jobID, blobTxHash, proof)
	if err != nil {
		return common.Hash{}, fmt.Errorf("escrow: packing completeJob: %w", err)
	}

	from := c.signer.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fault.Wrap(fault.UpstreamUnavailable, err, "fetching nonce")
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fault.Wrap(fault.UpstreamUnavailable, err, "fetching head")
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		tip = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Lsh(head.BaseFee, 1))
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data})
	if err != nil {
		// Likely a revert (double completion or deauthorized proxy).
		return common.Hash{}, fmt.Errorf("escrow: completeJob estimate: %w", err)
	}
	gas = gas * 110 / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &c.contract,
		Data:      data,
	})
	signed, err := c.signer.SignTransaction(ctx, tx, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("escrow: signing completeJob: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fault.Wrap(fault.UpstreamUnavailable, err, "broadcasting completeJob")
	}

	c.logger.Info("completion transaction sent",
		"jobId", common.Hash(jobID).Hex(), "tx", signed.Hash().Hex())

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return common.Hash{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("escrow: completeJob reverted in block %d", receipt.BlockNumber)
	}
	return signed.Hash(), nil
}

// waitMined polls for the receipt until the tx timeout elapses.
func (c *Client) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(c.txTimeout)
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("escrow: completeJob %s not mined within %s", txHash.Hex(), c.txTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
