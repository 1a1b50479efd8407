package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"lendledger/native/lending"
)

// Config is the node's on-disk configuration.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	LogPath        string `toml:"LogPath"`
	// AuthSecretEnv names the environment variable carrying the JWT signing
	// secret; the secret itself never lives in the file.
	AuthSecretEnv    string         `toml:"AuthSecretEnv"`
	RateLimitPerMin  int            `toml:"RateLimitPerMin"`
	AdminAddress     string         `toml:"AdminAddress"`
	VaultAddress     string         `toml:"VaultAddress"`
	OracleMaxAgeSecs int64          `toml:"OracleMaxAgeSecs"`
	Lending          lending.Config `toml:"Lending"`
}

// Load reads the configuration at path, writing a default file first when
// none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(cfg)

	if strings.TrimSpace(cfg.AdminAddress) == "" {
		return nil, fmt.Errorf("config: AdminAddress is required in %s", path)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9090"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lend-data"
	}
	if strings.TrimSpace(cfg.AuthSecretEnv) == "" {
		cfg.AuthSecretEnv = "LENDLEDGER_AUTH_SECRET"
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 600
	}
	if cfg.OracleMaxAgeSecs <= 0 {
		cfg.OracleMaxAgeSecs = 300
	}
}

// createDefault writes a starter configuration. The admin address is left
// empty on purpose; the node refuses to start until the operator fills it in.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:       ":8080",
		MetricsAddress:   ":9090",
		DataDir:          "./lend-data",
		AuthSecretEnv:    "LENDLEDGER_AUTH_SECRET",
		RateLimitPerMin:  600,
		OracleMaxAgeSecs: 300,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
