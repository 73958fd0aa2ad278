package main

import (
	"context"
	"testing"

	"github.com/blobrelay/blobrelay/config"
)

func TestRunVersion(t *testing.T) {
	if code := run([]string{"--version"}); code != 0 {
		t.Fatalf("run --version = %d, want 0", code)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	if code := run([]string{"--no-such-flag"}); code != 2 {
		t.Fatalf("run with unknown flag = %d, want 2", code)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	// No RPC url, chain id, escrow, or signer configured.
	if code := run(nil); code != 2 {
		t.Fatalf("run with empty config = %d, want 2", code)
	}
}

func TestRunBadEnv(t *testing.T) {
	t.Setenv("BLOBRELAY_CHAIN_ID", "not-a-number")
	if code := run(nil); code != 2 {
		t.Fatalf("run with bad env = %d, want 2", code)
	}
}

func TestRunSendMissingArgs(t *testing.T) {
	cfg := config.Default()
	if code := runSend(context.Background(), cfg, "payload.bin"); code != 2 {
		t.Fatalf("runSend without rpc url = %d, want 2", code)
	}

	cfg.RPCURL = "http://localhost:8545"
	cfg.ChainID = 1
	if code := runSend(context.Background(), cfg, "payload.bin"); code != 2 {
		t.Fatalf("runSend without key = %d, want 2", code)
	}
}
