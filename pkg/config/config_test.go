package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"swarmcore/internal/testutil"
)

func TestLoadSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0o700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("network:\n  listen_addr: /ip4/0.0.0.0/tcp/5001\n" +
		"committee:\n  bootstrap_threshold: 7\n  k_target: 4\n")
	if err := sb.WriteFile("config/default.yaml", data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("config", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.ListenAddr != "/ip4/0.0.0.0/tcp/5001" {
		t.Fatalf("unexpected listen addr: %s", cfg.Network.ListenAddr)
	}
	if cfg.Committee.BootstrapThreshold != 7 {
		t.Fatalf("expected bootstrap threshold 7, got %d", cfg.Committee.BootstrapThreshold)
	}
	if cfg.Committee.KTarget != 4 {
		t.Fatalf("expected k_target 4, got %d", cfg.Committee.KTarget)
	}
}

func TestLoadOverride(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0o700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := sb.WriteFile("config/default.yaml", []byte("committee:\n  k_target: 5\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := sb.WriteFile("config/staging.yaml", []byte("committee:\n  k_target: 9\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("config", "staging")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Committee.KTarget != 9 {
		t.Fatalf("expected override k_target 9, got %d", cfg.Committee.KTarget)
	}
}
