package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Ledger configures the JSON-RPC connection to the settlement ledger.
type Ledger struct {
	RPCURL         string   `toml:"RPCURL"`
	AuthToken      string   `toml:"AuthToken"`
	RequestTimeout duration `toml:"RequestTimeout"`
	PollInterval   duration `toml:"PollInterval"`
	SubmitPerSec   int      `toml:"SubmitPerSec"`
	RetryAttempts  int      `toml:"RetryAttempts"`
	RetryBase      duration `toml:"RetryBase"`
}

// Conversion configures the contract-to-settlement currency unit.
type Conversion struct {
	Rate               string `toml:"Rate"`
	ContractCurrency   string `toml:"ContractCurrency"`
	SettlementCurrency string `toml:"SettlementCurrency"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddress string     `toml:"ListenAddress"`
	Environment   string     `toml:"Environment"`
	LogLevel      string     `toml:"LogLevel"`
	StorePath     string     `toml:"StorePath"`
	SweepInterval duration   `toml:"SweepInterval"`
	Ledger        Ledger     `toml:"Ledger"`
	Conversion    Conversion `toml:"Conversion"`
}

// duration decodes "30s" style TOML values.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when no file is supplied, pointed at
// the public test network.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		Environment:   "dev",
		LogLevel:      "info",
		StorePath:     "./milevault.db",
		SweepInterval: duration{5 * time.Minute},
		Ledger: Ledger{
			RPCURL:         "https://s.altnet.rippletest.net:51234",
			RequestTimeout: duration{10 * time.Second},
			PollInterval:   duration{time.Second},
			SubmitPerSec:   5,
			RetryAttempts:  4,
			RetryBase:      duration{250 * time.Millisecond},
		},
		Conversion: Conversion{
			Rate:               "0.50",
			ContractCurrency:   "USD",
			SettlementCurrency: "XRP",
		},
	}
}

// Load reads the configuration from path, filling unset fields with defaults.
// A missing file is not an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.Ledger.RPCURL) == "" {
		return fmt.Errorf("config: Ledger.RPCURL required")
	}
	if strings.TrimSpace(c.Conversion.Rate) == "" {
		return fmt.Errorf("config: Conversion.Rate required")
	}
	if c.Ledger.RetryAttempts < 1 {
		return fmt.Errorf("config: Ledger.RetryAttempts must be at least 1")
	}
	if c.Ledger.SubmitPerSec <= 0 {
		return fmt.Errorf("config: Ledger.SubmitPerSec must be positive")
	}
	if c.SweepInterval.Duration <= 0 {
		return fmt.Errorf("config: SweepInterval must be positive")
	}
	return nil
}
