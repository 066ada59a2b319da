package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultchain/native/loan"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "vault-local", cfg.NetworkName)
	require.Equal(t, ":8080", cfg.RPCAddress)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "[loan]")

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Loan, reloaded.Loan)

	params, err := reloaded.Loan.Params()
	require.NoError(t, err)
	require.Equal(t, loan.DefaultParams(), params)
}

func TestLoadParsesLoanSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `DataDir = "./data"
NetworkName = "testnet"
RPCAddress = "127.0.0.1:9000"
Env = "test"
PausedModules = ["loan"]

[loan]
PrimaryToken = "dfi"
VaultCreationFee = "0.5"
CreationFeeBurnPct = 100
LiquidationPenaltyPct = "7.5"
MaxBatchCollateralValue = "2500"

[loan.pauses]
TakeLoan = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"loan"}, cfg.PausedModules)

	params, err := cfg.Loan.Params()
	require.NoError(t, err)
	require.Equal(t, "DFI", params.PrimaryToken)
	require.Equal(t, loan.COIN/2, params.VaultCreationFee)
	require.Equal(t, uint64(100), params.CreationFeeBurnPct)
	require.Equal(t, loan.MustParseAmount("7.5"), params.LiquidationPenaltyPct)
	require.Equal(t, loan.NewAmount(2500), params.MaxBatchCollateralValue)
	require.True(t, params.Pauses.TakeLoan)
	require.False(t, params.Pauses.Deposit)
	require.Equal(t, uint64(1_051_200), params.BlocksPerYear)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `DataDir = "./data"
ListenAddress = ":6001"

[loan]
Collateral = "x"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "ListenAddress"), err.Error())
	require.True(t, strings.Contains(err.Error(), "loan.Collateral"), err.Error())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "data dir", mutate: func(c *Config) { c.DataDir = " " }, want: "DataDir"},
		{name: "env", mutate: func(c *Config) { c.Env = "qa" }, want: "Env"},
		{name: "log level", mutate: func(c *Config) { c.LogLevel = "trace" }, want: "LogLevel"},
		{name: "rate", mutate: func(c *Config) { c.RPCRequestsPerMinute = -1 }, want: "RPCRequestsPerMinute"},
		{name: "negative fee", mutate: func(c *Config) { c.Loan.VaultCreationFee = "-1" }, want: "VaultCreationFee"},
		{name: "bad decimal", mutate: func(c *Config) { c.Loan.MaxBatchCollateralValue = "lots" }, want: "MaxBatchCollateralValue"},
		{name: "burn share", mutate: func(c *Config) { c.Loan.CreationFeeBurnPct = 101 }, want: "burn share"},
		{name: "min ratio", mutate: func(c *Config) { c.Loan.MinCollateralRatio = 99 }, want: "below 100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}
