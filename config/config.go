package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	NetworkName string `toml:"NetworkName"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`
	// BlocksFile is a JSON lines file of blocks replayed at startup.
	BlocksFile string `toml:"BlocksFile"`
	RPCAddress string `toml:"RPCAddress"`
	// RPCRequestsPerMinute throttles the query API per client. Zero
	// disables throttling.
	RPCRequestsPerMinute float64 `toml:"RPCRequestsPerMinute"`
	RPCBurst             int     `toml:"RPCBurst"`
	Env                  string  `toml:"Env"`
	LogFile              string  `toml:"LogFile"`
	LogLevel             string  `toml:"LogLevel"`
	// PausedModules lists modules whose transactions are rejected.
	PausedModules []string   `toml:"PausedModules"`
	Loan          LoanConfig `toml:"loan"`
}

// Load loads the configuration from the given path. A missing file is
// replaced with the defaults, which are written back to path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "vault-local"
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		NetworkName:   "vault-local",
		DataDir:       "./vault-data",
		RPCAddress:    ":8080",
		RPCBurst:      20,
		LogLevel:      "info",
		PausedModules: []string{},
		Loan:          DefaultLoanConfig(),
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
