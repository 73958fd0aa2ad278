// Package config holds the relay's runtime configuration, loaded from the
// environment and validated before any subsystem starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Wrapper selections for the blob transaction envelope.
const (
	Wrapper4844 = "4844"
	Wrapper7594 = "7594"
)

// Config holds all configuration for a relay process.
type Config struct {
	// RPCURL is the execution-layer JSON-RPC endpoint.
	RPCURL string

	// ChainID is the network id used for transaction signing.
	ChainID uint64

	// EscrowContract is the deployed escrow address.
	EscrowContract common.Address

	// ProxyFeePercent is the advertised relay fee, 0..10. Advisory: it is
	// reported on the health endpoint and enforced by the escrow contract.
	ProxyFeePercent int

	// TxTimeout bounds the blob transaction confirmation wait.
	TxTimeout time.Duration

	// EIP7918 switches the fee oracle to the fee-history regime.
	EIP7918 bool

	// Wrapper selects the broadcast envelope: "4844" or "7594".
	Wrapper string

	// ListenAddr is the HTTP API bind address.
	ListenAddr string

	// DataDir is the durable store directory.
	DataDir string

	// QueueWorkers is the completion retry worker count.
	QueueWorkers int

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string

	// LocalPrivateKey is a hex-encoded secp256k1 key. Exactly one of the
	// signer options must be set.
	LocalPrivateKey string

	// KMSKeyID and KMSRegion select an AWS KMS signing key.
	KMSKeyID  string
	KMSRegion string

	// KMSKeyName selects a GCP KMS signing key by resource name.
	KMSKeyName string
}

// Default returns a Config with the defaults applied. Required fields stay
// empty and fail Validate until set.
func Default() Config {
	return Config{
		TxTimeout:    120 * time.Second,
		Wrapper:      Wrapper4844,
		ListenAddr:   ":8080",
		DataDir:      "blobrelay-data",
		QueueWorkers: 2,
		LogLevel:     "info",
	}
}

// FromEnv loads configuration from BLOBRELAY_* environment variables on top
// of the defaults and validates the result.
func FromEnv() (Config, error) {
	cfg, err := ParseEnv()
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ParseEnv reads BLOBRELAY_* environment variables without validating, so
// callers can layer flag overrides before calling Validate.
func ParseEnv() (Config, error) {
	cfg := Default()

	cfg.RPCURL = os.Getenv("BLOBRELAY_RPC_URL")
	if v := os.Getenv("BLOBRELAY_CHAIN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: BLOBRELAY_CHAIN_ID: %w", err)
		}
		cfg.ChainID = id
	}
	if v := os.Getenv("BLOBRELAY_ESCROW_CONTRACT"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("config: BLOBRELAY_ESCROW_CONTRACT: %q is not an address", v)
		}
		cfg.EscrowContract = common.HexToAddress(v)
	}
	if v := os.Getenv("BLOBRELAY_PROXY_FEE_PERCENT"); v != "" {
		pct, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: BLOBRELAY_PROXY_FEE_PERCENT: %w", err)
		}
		cfg.ProxyFeePercent = pct
	}
	if v := os.Getenv("BLOBRELAY_TX_TIMEOUT_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: BLOBRELAY_TX_TIMEOUT_MS: %w", err)
		}
		cfg.TxTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("BLOBRELAY_EIP7918"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: BLOBRELAY_EIP7918: %w", err)
		}
		cfg.EIP7918 = b
	}
	if v := os.Getenv("BLOBRELAY_WRAPPER"); v != "" {
		cfg.Wrapper = v
	}
	if v := os.Getenv("BLOBRELAY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BLOBRELAY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BLOBRELAY_QUEUE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: BLOBRELAY_QUEUE_WORKERS: %w", err)
		}
		cfg.QueueWorkers = n
	}
	if v := os.Getenv("BLOBRELAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.LocalPrivateKey = os.Getenv("BLOBRELAY_PRIVATE_KEY")
	cfg.KMSKeyID = os.Getenv("BLOBRELAY_KMS_KEY_ID")
	cfg.KMSRegion = os.Getenv("BLOBRELAY_KMS_REGION")
	cfg.KMSKeyName = os.Getenv("BLOBRELAY_KMS_KEY_NAME")

	return cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("config: rpc url must not be empty")
	}
	if c.ChainID == 0 {
		return errors.New("config: chain id must be set")
	}
	if c.EscrowContract == (common.Address{}) {
		return errors.New("config: escrow contract must be set")
	}
	if c.ProxyFeePercent < 0 || c.ProxyFeePercent > 10 {
		return fmt.Errorf("config: proxy fee percent %d outside 0..10", c.ProxyFeePercent)
	}
	if c.TxTimeout <= 0 {
		return errors.New("config: tx timeout must be positive")
	}
	if c.Wrapper != Wrapper4844 && c.Wrapper != Wrapper7594 {
		return fmt.Errorf("config: unknown wrapper %q", c.Wrapper)
	}
	if c.DataDir == "" {
		return errors.New("config: data dir must not be empty")
	}
	if c.QueueWorkers <= 0 {
		return errors.New("config: queue workers must be positive")
	}
	return c.validateSigner()
}

// validateSigner requires exactly one signing backend.
func (c *Config) validateSigner() error {
	n := 0
	if c.LocalPrivateKey != "" {
		n++
	}
	if c.KMSKeyID != "" || c.KMSRegion != "" {
		if c.KMSKeyID == "" || c.KMSRegion == "" {
			return errors.New("config: AWS KMS needs both key id and region")
		}
		n++
	}
	if c.KMSKeyName != "" {
		n++
	}
	if n != 1 {
		return fmt.Errorf("config: exactly one signer required (private key, AWS KMS, or GCP KMS), got %d", n)
	}
	return nil
}
