package fees

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/blobrelay/blobrelay/fault"
	"github.com/blobrelay/blobrelay/log"
)

// oneGwei is the priority fee and pre-Cancun blob fee fallback.
var oneGwei = big.NewInt(1_000_000_000)

// Backend is the chain surface the oracle reads. *ClientBackend implements
// it over a live node; tests substitute fakes.
type Backend interface {
	// HeaderByNumber returns the header for the given block, or the latest
	// when number is nil.
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// SuggestGasTipCap returns the node's suggested priority fee.
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// BlobBaseFeeHistory returns the per-block blob base fees for the most
	// recent blocks, oldest first.
	BlobBaseFeeHistory(ctx context.Context, blocks int) ([]*big.Int, error)
}

// ClientBackend adapts an RPC client to the Backend interface.
type ClientBackend struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// NewClientBackend wraps a connected RPC client.
func NewClientBackend(c *rpc.Client) *ClientBackend {
	return &ClientBackend{eth: ethclient.NewClient(c), rpc: c}
}

// HeaderByNumber implements Backend.
func (b *ClientBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return b.eth.HeaderByNumber(ctx, number)
}

// SuggestGasTipCap implements Backend.
func (b *ClientBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return b.eth.SuggestGasTipCap(ctx)
}

// feeHistoryResult mirrors the eth_feeHistory response fields the oracle
// consumes. The ethclient FeeHistory helper omits the blob columns, so the
// call goes through the raw RPC client.
type feeHistoryResult struct {
	OldestBlock       *hexutil.Big   `json:"oldestBlock"`
	BaseFeePerGas     []*hexutil.Big `json:"baseFeePerGas"`
	GasUsedRatio      []float64      `json:"gasUsedRatio"`
	BaseFeePerBlobGas []*hexutil.Big `json:"baseFeePerBlobGas"`
	BlobGasUsedRatio  []float64      `json:"blobGasUsedRatio"`
}

// BlobBaseFeeHistory implements Backend via eth_feeHistory.
func (b *ClientBackend) BlobBaseFeeHistory(ctx context.Context, blocks int) ([]*big.Int, error) {
	var res feeHistoryResult
	err := b.rpc.CallContext(ctx, &res, "eth_feeHistory",
		hexutil.Uint64(blocks), "latest", []float64{})
	if err != nil {
		return nil, err
	}
	fees := make([]*big.Int, 0, len(res.BaseFeePerBlobGas))
	for _, f := range res.BaseFeePerBlobGas {
		if f != nil {
			fees = append(fees, f.ToInt())
		}
	}
	return fees, nil
}

// Quote is a complete fee suggestion for a transaction carrying blobs.
type Quote struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	MaxFeePerBlobGas     *big.Int
	// BlobFee is the expected total blob cost: base fee per blob gas times
	// blob gas for the requested blob count.
	BlobFee *big.Int
}

// Oracle produces Quotes from live chain state. Safe for concurrent use.
type Oracle struct {
	backend Backend
	eip7918 bool
	history *History
	logger  *log.Logger
}

// NewOracle creates an Oracle. When eip7918 is set, the blob fee cap comes
// from the maximum blob base fee over the last five blocks of fee history
// instead of the fake-exponential projection.
func NewOracle(backend Backend, eip7918 bool, logger *log.Logger) *Oracle {
	if logger == nil {
		logger = log.Default()
	}
	return &Oracle{
		backend: backend,
		eip7918: eip7918,
		history: NewHistory(DefaultHistoryWindow),
		logger:  logger.Module("fees"),
	}
}

// Suggest returns a fee quote for a transaction carrying the given number
// of blobs.
func (o *Oracle) Suggest(ctx context.Context, blobs int) (*Quote, error) {
	head, err := o.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamUnavailable, err, "fetching latest header")
	}

	tip, err := o.backend.SuggestGasTipCap(ctx)
	if err != nil || tip == nil || tip.Sign() == 0 {
		tip = new(big.Int).Set(oneGwei)
	}

	// Provider convention: maxFeePerGas = 2*baseFee + priority fee.
	maxFee := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		maxFee.Add(maxFee, new(big.Int).Lsh(head.BaseFee, 1))
	}

	maxBlobFee, err := o.blobFeeCap(ctx, head)
	if err != nil {
		return nil, err
	}

	blobFee := new(big.Int).Mul(maxBlobFee, big.NewInt(BlobGasPerBlob))
	blobFee.Mul(blobFee, big.NewInt(int64(blobs)))

	return &Quote{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		MaxFeePerBlobGas:     maxBlobFee,
		BlobFee:              blobFee,
	}, nil
}

// blobFeeCap selects the blob fee regime for the current head.
func (o *Oracle) blobFeeCap(ctx context.Context, head *types.Header) (*big.Int, error) {
	if head.ExcessBlobGas == nil {
		// Pre-Cancun chain: no blob fee market exists.
		o.logger.Warn("header lacks excessBlobGas, falling back to 1 gwei blob fee",
			"block", head.Number)
		return new(big.Int).Set(oneGwei), nil
	}

	if o.eip7918 {
		fees, err := o.backend.BlobBaseFeeHistory(ctx, lookbackBlocks)
		if err != nil {
			return nil, fault.Wrap(fault.UpstreamUnavailable, err, "fetching blob fee history")
		}
		max := big.NewInt(MinBlobGasPrice)
		for _, f := range fees {
			if f.Cmp(max) > 0 {
				max = new(big.Int).Set(f)
			}
		}
		if spike, ratio := o.history.ObserveIsSpike(head.Number.Uint64(), max); spike {
			o.logger.Warn("blob base fee spike detected",
				"block", head.Number, "fee", max, "ratio", ratio)
		}
		return max, nil
	}

	base := CalcBlobFee(*head.ExcessBlobGas)
	if spike, ratio := o.history.ObserveIsSpike(head.Number.Uint64(), base); spike {
		o.logger.Warn("blob base fee spike detected",
			"block", head.Number, "fee", base, "ratio", ratio)
	}
	return base, nil
}
