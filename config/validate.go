package config

import (
	"fmt"
	"strings"
)

var validEnvs = map[string]struct{}{
	"":      {},
	"dev":   {},
	"test":  {},
	"stage": {},
	"prod":  {},
}

// Validate checks the node configuration, including the loan section.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config must not be nil")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if _, ok := validEnvs[strings.ToLower(strings.TrimSpace(c.Env))]; !ok {
		return fmt.Errorf("Env %q is not one of dev, test, stage, prod", c.Env)
	}
	if c.RPCRequestsPerMinute < 0 {
		return fmt.Errorf("RPCRequestsPerMinute must not be negative")
	}
	if c.RPCBurst < 0 {
		return fmt.Errorf("RPCBurst must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LogLevel %q is not supported", c.LogLevel)
	}
	if _, err := c.Loan.Params(); err != nil {
		return err
	}
	return nil
}
