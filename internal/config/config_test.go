package config_test

import (
	"os"
	"testing"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()
	if cfg.MetadataBaseURL != "http://169.254.169.254/latest" {
		t.Fatalf("unexpected metadata base url: %q", cfg.MetadataBaseURL)
	}
	if cfg.TrustStoreIsBundle {
		t.Fatal("expected TrustStoreIsBundle to default to false")
	}
	if cfg.SSHHostKeyDir != "/etc/ssh" {
		t.Fatalf("unexpected ssh host key dir: %q", cfg.SSHHostKeyDir)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("TRUST_STORE_PATH", "/custom/trust-bundle.pem")
	t.Setenv("TRUST_STORE_IS_BUNDLE", "true")

	cfg := config.Load()
	if cfg.TrustStorePath != "/custom/trust-bundle.pem" {
		t.Fatalf("unexpected trust store path: %q", cfg.TrustStorePath)
	}
	if !cfg.TrustStoreIsBundle {
		t.Fatal("expected TrustStoreIsBundle to be true")
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"METADATA_BASE_URL", "TRUST_STORE_PATH", "TRUST_STORE_IS_BUNDLE",
		"SSH_HOST_KEY_DIR", "HYPERVISOR_UUID_PATH", "DMI_ASSET_TAG_PATH", "SCRATCH_BASE",
	} {
		if _, ok := os.LookupEnv(key); ok {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}
