// Package config resolves the environment-variable configuration both
// entry points need, optionally loaded from a dotenv-style defaults file.
// Grounded on the teacher's cmd/cli/config.go loadConfig/getEnv pattern.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// DefaultsFile is loaded, if present, before environment variables are
// read. Values already set in the environment take precedence —
// godotenv.Load never overwrites an existing variable.
const DefaultsFile = "/etc/default/ec2-managed-ssh-authd.env"

// Config holds every environment-tunable path and endpoint the agent and
// publisher need. All fields have sane production defaults; tests override
// individual fields directly rather than going through environment
// variables.
type Config struct {
	MetadataBaseURL string

	// TrustStorePath points at either a directory of hashed PEM files or
	// a single concatenated bundle file; TrustStoreIsBundle disambiguates.
	TrustStorePath     string
	TrustStoreIsBundle bool

	SSHHostKeyDir string

	HypervisorUUIDPath string
	DMIAssetTagPath    string

	ScratchBase string
}

// Load reads DefaultsFile (if present) and then the process environment,
// returning a Config with production defaults for anything unset.
func Load() Config {
	if _, err := os.Stat(DefaultsFile); err == nil {
		godotenv.Load(DefaultsFile)
	}

	return Config{
		MetadataBaseURL:    getEnv("METADATA_BASE_URL", "http://169.254.169.254/latest"),
		TrustStorePath:     getEnv("TRUST_STORE_PATH", "/etc/ec2-managed-ssh-authd/trust"),
		TrustStoreIsBundle: getEnvBool("TRUST_STORE_IS_BUNDLE", false),
		SSHHostKeyDir:      getEnv("SSH_HOST_KEY_DIR", "/etc/ssh"),
		HypervisorUUIDPath: getEnv("HYPERVISOR_UUID_PATH", "/sys/hypervisor/uuid"),
		DMIAssetTagPath:    getEnv("DMI_ASSET_TAG_PATH", "/sys/devices/virtual/dmi/id/board_asset_tag"),
		ScratchBase:        getEnv("SCRATCH_BASE", "/dev/shm"),
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	switch value {
	case "1", "true", "TRUE", "True":
		return true
	case "0", "false", "FALSE", "False":
		return false
	default:
		return defaultVal
	}
}
