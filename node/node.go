// Package node assembles a relay process: it dials the execution client,
// builds the signer, store, KZG engine, fee oracle, escrow client, blob
// engine, coordinator and queue, and runs them under the lifecycle manager.
package node

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/blobrelay/blobrelay/api"
	"github.com/blobrelay/blobrelay/config"
	"github.com/blobrelay/blobrelay/escrow"
	"github.com/blobrelay/blobrelay/fees"
	"github.com/blobrelay/blobrelay/jobs"
	"github.com/blobrelay/blobrelay/kzg"
	"github.com/blobrelay/blobrelay/log"
	"github.com/blobrelay/blobrelay/signer"
	"github.com/blobrelay/blobrelay/store"
	"github.com/blobrelay/blobrelay/txblob"
)

// Node is a fully wired relay process.
type Node struct {
	cfg    config.Config
	logger *log.Logger

	rpcClient *rpc.Client
	store     store.Store
	coord     *jobs.Coordinator
	queue     *jobs.Queue
	server    *api.Server
	lifecycle *LifecycleManager
}

// New builds a Node from configuration. It dials the RPC endpoint, verifies
// the chain id, and constructs every subsystem, but does not start serving.
func New(ctx context.Context, cfg config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.New(log.ParseLevel(cfg.LogLevel))

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	eth := ethclient.NewClient(rpcClient)

	remoteID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	chainID := new(big.Int).SetUint64(cfg.ChainID)
	if remoteID.Cmp(chainID) != 0 {
		rpcClient.Close()
		return nil, fmt.Errorf("chain id mismatch: configured %d, endpoint reports %s", cfg.ChainID, remoteID)
	}

	sgn, err := buildSigner(ctx, cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	logger.Info("signer ready", "address", sgn.Address())

	kzgEngine, err := kzg.NewEngine()
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("kzg setup: %w", err)
	}

	st, err := store.OpenPebble(cfg.DataDir)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("open store %s: %w", cfg.DataDir, err)
	}

	oracle := fees.NewOracle(fees.NewClientBackend(rpcClient), cfg.EIP7918, logger)

	esc, err := escrow.NewClient(eth, cfg.EscrowContract, sgn, chainID, cfg.TxTimeout, logger)
	if err != nil {
		st.Close()
		rpcClient.Close()
		return nil, err
	}

	engine := txblob.NewEngine(txblob.NewClientBackend(rpcClient), oracle, sgn, kzgEngine, chainID, cfg.TxTimeout, logger)

	wrapper := kzg.V4844
	if cfg.Wrapper == config.Wrapper7594 {
		wrapper = kzg.V7594
	}
	coord := jobs.NewCoordinator(jobs.Config{
		ChainID:         chainID,
		EscrowContract:  cfg.EscrowContract,
		ProxyAddress:    sgn.Address(),
		ProxyFeePercent: cfg.ProxyFeePercent,
		Wrapper:         wrapper,
	}, st, esc, engine, logger)

	queue := jobs.NewQueue(st, esc, cfg.QueueWorkers, logger)
	server := api.NewServer(cfg.ListenAddr, coord, logger)

	n := &Node{
		cfg:       cfg,
		logger:    logger,
		rpcClient: rpcClient,
		store:     st,
		coord:     coord,
		queue:     queue,
		server:    server,
		lifecycle: NewLifecycleManager(DefaultLifecycleConfig()),
	}
	// Queue before API: pending completions resume before new traffic lands,
	// and on shutdown the API drains first.
	if err := n.lifecycle.Register(queueService{queue}, 10); err != nil {
		n.close()
		return nil, err
	}
	if err := n.lifecycle.Register(server, 20); err != nil {
		n.close()
		return nil, err
	}
	return n, nil
}

// Run bootstraps the coordinator, starts all services, then blocks until ctx
// is cancelled and shuts everything down in reverse order.
func (n *Node) Run(ctx context.Context) error {
	if err := n.coord.Bootstrap(ctx); err != nil {
		n.close()
		return err
	}
	if errs := n.lifecycle.StartAll(); len(errs) > 0 {
		n.lifecycle.StopAll()
		n.close()
		return errs[0]
	}
	n.logger.Info("relay running",
		"listen", n.cfg.ListenAddr,
		"chainId", n.cfg.ChainID,
		"escrow", n.cfg.EscrowContract,
		"wrapper", n.cfg.Wrapper)

	<-ctx.Done()
	n.logger.Info("shutting down")

	var firstErr error
	for _, err := range n.lifecycle.StopAll() {
		n.logger.Error("service stop failed", "err", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	n.close()
	return firstErr
}

// Coordinator exposes the job coordinator, mainly for tests.
func (n *Node) Coordinator() *jobs.Coordinator { return n.coord }

func (n *Node) close() {
	if err := n.store.Close(); err != nil {
		n.logger.Error("store close failed", "err", err)
	}
	n.rpcClient.Close()
}

// buildSigner constructs the signing backend the configuration selects.
func buildSigner(ctx context.Context, cfg config.Config) (signer.Signer, error) {
	switch {
	case cfg.LocalPrivateKey != "":
		return signer.NewLocal(cfg.LocalPrivateKey)
	case cfg.KMSKeyID != "":
		return signer.NewAWSKMS(ctx, cfg.KMSKeyID, cfg.KMSRegion)
	case cfg.KMSKeyName != "":
		return signer.NewGCPKMS(ctx, cfg.KMSKeyName)
	default:
		return nil, fmt.Errorf("config: no signer configured")
	}
}

// queueService adapts the completion queue to the Service interface.
type queueService struct {
	q *jobs.Queue
}

func (s queueService) Start() error { s.q.Start(); return nil }
func (s queueService) Stop() error  { s.q.Stop(); return nil }
func (s queueService) Name() string { return "completion-queue" }
