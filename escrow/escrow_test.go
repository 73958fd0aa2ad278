package escrow

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blobrelay/blobrelay/fault"
	"github.com/blobrelay/blobrelay/signer"
)

var testABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// fakeBackend answers contract calls from a handler and records sent
// transactions.
type fakeBackend struct {
	onCall func(msg ethereum.CallMsg) ([]byte, error)
	sent   []*types.Transaction
	status uint64
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return b.onCall(msg)
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: big.NewInt(12)}, nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2), nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if len(b.sent) == 0 {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: b.status, TxHash: txHash, BlockNumber: big.NewInt(101)}, nil
}

func packOutput(t *testing.T, method string, vals ...any) []byte {
	t.Helper()
	out, err := testABI.Methods[method].Outputs.Pack(vals...)
	if err != nil {
		t.Fatalf("packing %s outputs: %v", method, err)
	}
	return out
}

func selector(method string) [4]byte {
	return [4]byte(testABI.Methods[method].ID)
}

func newTestClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	sgn, err := signer.NewLocal("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("local signer: %v", err)
	}
	c, err := NewClient(backend, common.HexToAddress("0x00000000000000000000000000000000000e5c12"), sgn, big.NewInt(1), 10*time.Second, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestGetJob(t *testing.T) {
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	blobTx := common.HexToHash("0xbb")
	backend := &fakeBackend{onCall: func(msg ethereum.CallMsg) ([]byte, error) {
		if [4]byte(msg.Data[:4]) != selector("getJob") {
			return nil, errors.New("unexpected method")
		}
		return packOutput(t, "getJob", user, big.NewInt(5000), true, big.NewInt(1700000000), [32]byte(blobTx)), nil
	}}
	c := newTestClient(t, backend)

	job, err := c.GetJob(context.Background(), [32]byte(common.HexToHash("0x01")))
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !job.Exists {
		t.Error("job with non-zero user should exist")
	}
	if job.User != user || !job.Completed || job.Amount.Int64() != 5000 {
		t.Errorf("decoded job mismatch: %+v", job)
	}
	if job.Timestamp != 1700000000 || job.BlobTxHash != blobTx {
		t.Errorf("decoded job mismatch: %+v", job)
	}
}

func TestGetJobMissing(t *testing.T) {
	backend := &fakeBackend{onCall: func(ethereum.CallMsg) ([]byte, error) {
		return packOutput(t, "getJob", common.Address{}, big.NewInt(0), false, big.NewInt(0), [32]byte{}), nil
	}}
	c := newTestClient(t, backend)

	job, err := c.GetJob(context.Background(), [32]byte{1})
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Exists {
		t.Error("zero-user job should not exist")
	}
}

func TestGetJobUpstreamError(t *testing.T) {
	backend := &fakeBackend{onCall: func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}
	c := newTestClient(t, backend)

	_, err := c.GetJob(context.Background(), [32]byte{1})
	if !fault.IsKind(err, fault.UpstreamUnavailable) {
		t.Errorf("want upstream_unavailable, got %v", err)
	}
}

func TestIsProxyAuthorized(t *testing.T) {
	proxy := common.HexToAddress("0x2222222222222222222222222222222222222222")
	backend := &fakeBackend{onCall: func(msg ethereum.CallMsg) ([]byte, error) {
		if [4]byte(msg.Data[:4]) != selector("isProxyAuthorized") {
			return nil, errors.New("unexpected method")
		}
		return packOutput(t, "isProxyAuthorized", true), nil
	}}
	c := newTestClient(t, backend)

	ok, err := c.IsProxyAuthorized(context.Background(), proxy)
	if err != nil || !ok {
		t.Fatalf("IsProxyAuthorized = %v, %v", ok, err)
	}
}

func TestIsProxyAuthorizedLegacyFallback(t *testing.T) {
	backend := &fakeBackend{onCall: func(msg ethereum.CallMsg) ([]byte, error) {
		switch [4]byte(msg.Data[:4]) {
		case selector("isProxyAuthorized"):
			return nil, errors.New("execution reverted")
		case selector("authorizedProxies"):
			return packOutput(t, "authorizedProxies", true), nil
		}
		return nil, errors.New("unexpected method")
	}}
	c := newTestClient(t, backend)

	ok, err := c.IsProxyAuthorized(context.Background(), common.Address{0x22})
	if err != nil || !ok {
		t.Fatalf("legacy fallback = %v, %v", ok, err)
	}
}

func TestJobTimeout(t *testing.T) {
	backend := &fakeBackend{onCall: func(ethereum.CallMsg) ([]byte, error) {
		return packOutput(t, "jobTimeout", big.NewInt(86400)), nil
	}}
	c := newTestClient(t, backend)

	timeout, err := c.JobTimeout(context.Background())
	if err != nil {
		t.Fatalf("JobTimeout: %v", err)
	}
	if timeout != 86400 {
		t.Errorf("timeout = %d, want 86400", timeout)
	}
}

func TestCompleteJob(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful}
	c := newTestClient(t, backend)

	jobID := [32]byte(common.HexToHash("0x01"))
	blobTx := [32]byte(common.HexToHash("0x02"))
	hash, err := c.CompleteJob(context.Background(), jobID, blobTx, []byte("sig"))
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Hash() != hash {
		t.Error("returned hash does not match sent transaction")
	}
	if [4]byte(tx.Data()[:4]) != selector("completeJob") {
		t.Error("calldata is not a completeJob call")
	}
	if tx.Gas() != 110000 {
		t.Errorf("gas = %d, want 110000 (estimate + 10%%)", tx.Gas())
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	if err != nil || from != c.signer.Address() {
		t.Errorf("sender = %v, %v, want %v", from, err, c.signer.Address())
	}

	args, err := testABI.Methods["completeJob"].Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpacking calldata: %v", err)
	}
	if args[0].([32]byte) != jobID || args[1].([32]byte) != blobTx {
		t.Error("calldata ids do not round-trip")
	}
	if string(args[2].([]byte)) != "sig" {
		t.Error("calldata proof does not round-trip")
	}
}

func TestCompleteJobReverted(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusFailed}
	c := newTestClient(t, backend)

	_, err := c.CompleteJob(context.Background(), [32]byte{1}, [32]byte{2}, nil)
	if err == nil || !strings.Contains(err.Error(), "reverted") {
		t.Errorf("want revert error, got %v", err)
	}
}
