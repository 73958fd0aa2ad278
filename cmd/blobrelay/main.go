// Command blobrelay runs the blob relay: an HTTP service that accepts
// payloads, posts them to Ethereum as EIP-4844 blob transactions, and claims
// escrowed payments once the blobs land.
//
// Configuration comes from BLOBRELAY_* environment variables; flags override
// them:
//
//	--rpc-url      Execution-layer JSON-RPC endpoint
//	--chain-id     Chain id used for signing
//	--escrow       Escrow contract address
//	--listen       HTTP API bind address (default: :8080)
//	--datadir      Durable store directory (default: blobrelay-data)
//	--wrapper      Broadcast envelope: 4844 or 7594 (default: 4844)
//	--verbosity    Log level: debug, info, warn, error (default: info)
//	--send         One-shot mode: post the named file as a blob and exit
//	--version      Print version and exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/blobrelay/blobrelay/config"
	"github.com/blobrelay/blobrelay/fees"
	"github.com/blobrelay/blobrelay/kzg"
	"github.com/blobrelay/blobrelay/log"
	"github.com/blobrelay/blobrelay/node"
	"github.com/blobrelay/blobrelay/signer"
	"github.com/blobrelay/blobrelay/txblob"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v1.1.0 -X main.commit=abc1234"
var (
	version = "v1.0.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, err := config.ParseEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("blobrelay", flag.ContinueOnError)
	rpcURL := fs.String("rpc-url", cfg.RPCURL, "execution-layer JSON-RPC endpoint")
	chainID := fs.Uint64("chain-id", cfg.ChainID, "chain id used for signing")
	escrowAddr := fs.String("escrow", cfg.EscrowContract.Hex(), "escrow contract address")
	listen := fs.String("listen", cfg.ListenAddr, "HTTP API bind address")
	dataDir := fs.String("datadir", cfg.DataDir, "durable store directory")
	wrapper := fs.String("wrapper", cfg.Wrapper, "broadcast envelope (4844 or 7594)")
	verbosity := fs.String("verbosity", cfg.LogLevel, "log level (debug, info, warn, error)")
	sendFile := fs.String("send", "", "one-shot mode: post the named file as a blob and exit")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("blobrelay %s (commit %s)\n", version, commit)
		return 0
	}

	cfg.RPCURL = *rpcURL
	cfg.ChainID = *chainID
	cfg.EscrowContract = common.HexToAddress(*escrowAddr)
	cfg.ListenAddr = *listen
	cfg.DataDir = *dataDir
	cfg.Wrapper = *wrapper
	cfg.LogLevel = *verbosity

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *sendFile != "" {
		return runSend(ctx, cfg, *sendFile)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	n, err := node.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := n.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runSend posts a single file as a blob transaction directly, with no escrow
// involved. It needs the RPC endpoint, chain id, and a local private key.
func runSend(ctx context.Context, cfg config.Config, path string) int {
	if cfg.RPCURL == "" || cfg.ChainID == 0 {
		fmt.Fprintln(os.Stderr, "Error: --send needs --rpc-url and --chain-id")
		return 2
	}
	if cfg.LocalPrivateKey == "" {
		fmt.Fprintln(os.Stderr, "Error: --send needs BLOBRELAY_PRIVATE_KEY")
		return 2
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := log.New(log.ParseLevel(cfg.LogLevel))

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: dial %s: %v\n", cfg.RPCURL, err)
		return 1
	}
	defer rpcClient.Close()

	sgn, err := signer.NewLocal(cfg.LocalPrivateKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	kzgEngine, err := kzg.NewEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	oracle := fees.NewOracle(fees.NewClientBackend(rpcClient), cfg.EIP7918, logger)
	engine := txblob.NewEngine(txblob.NewClientBackend(rpcClient), oracle, sgn, kzgEngine,
		new(big.Int).SetUint64(cfg.ChainID), cfg.TxTimeout, logger)

	wrapper := kzg.V4844
	if cfg.Wrapper == config.Wrapper7594 {
		wrapper = kzg.V7594
	}
	meta := txblob.Meta{
		Codec:     "raw",
		Timestamp: uint64(time.Now().Unix()),
		Filename:  path,
	}
	receipt, err := engine.Submit(ctx, payload, meta, wrapper)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(receipt, "", "  ")
	fmt.Println(string(out))
	return 0
}
