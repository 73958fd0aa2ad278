package txblob

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ClientBackend adapts an RPC client to the Backend interface. Broadcast
// goes through the raw RPC client because the network wrapper is serialized
// here, not by ethclient.
type ClientBackend struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// NewClientBackend wraps a connected RPC client.
func NewClientBackend(c *rpc.Client) *ClientBackend {
	return &ClientBackend{eth: ethclient.NewClient(c), rpc: c}
}

// ChainID returns the chain id reported by the node.
func (b *ClientBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.eth.ChainID(ctx)
}

// PendingNonceAt implements Backend.
func (b *ClientBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.eth.PendingNonceAt(ctx, account)
}

// EstimateGas implements Backend.
func (b *ClientBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return b.eth.EstimateGas(ctx, msg)
}

// SendRawTransaction implements Backend over eth_sendRawTransaction.
func (b *ClientBackend) SendRawTransaction(ctx context.Context, raw []byte) error {
	return b.rpc.CallContext(ctx, nil, "eth_sendRawTransaction", hexutil.Encode(raw))
}

// TransactionReceipt implements Backend.
func (b *ClientBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return b.eth.TransactionReceipt(ctx, txHash)
}
