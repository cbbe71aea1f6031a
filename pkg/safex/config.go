package safex

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

func parseAddr(s string) common.Address {
	return common.HexToAddress(s)
}

// NodeConfig is the daemon configuration loaded from YAML.
type NodeConfig struct {
	App    AppConfig     `yaml:"app"`
	RPC    RPCConfig     `yaml:"rpc"`
	Feed   FeedConfig    `yaml:"feed"`
	Engine EngineConfig  `yaml:"engine"`
	Tokens []TokenSeed   `yaml:"tokens"`
	Seeds  []BalanceSeed `yaml:"balances"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"logLevel"` // debug, info, warn, error
	DataDir  string `yaml:"dataDir"`  // empty = in-memory state only
}

type RPCConfig struct {
	Addr string `yaml:"addr"`
}

type FeedConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	PushInterval time.Duration `yaml:"pushInterval"`
	DepthLevels  int           `yaml:"depthLevels"`
}

type EngineConfig struct {
	Addr        string `yaml:"addr"`
	FeeTo       string `yaml:"feeTo"`
	NativeToken string `yaml:"nativeToken"` // empty = no native bridge
	Yield       string `yaml:"yield"`       // automatic, void, claimable
	Gas         string `yaml:"gas"`         // void, claimable
	Governor    string `yaml:"governor"`
}

type TokenSeed struct {
	Symbol   string `yaml:"symbol"`
	Addr     string `yaml:"addr"`
	Decimals uint8  `yaml:"decimals"`
}

type BalanceSeed struct {
	Token  string `yaml:"token"`
	Owner  string `yaml:"owner"`
	Amount string `yaml:"amount"` // decimal string, native token units
}

// LoadConfig loads, defaults, and validates the daemon configuration.
func LoadConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *NodeConfig) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "safexd"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.RPC.Addr == "" {
		c.RPC.Addr = ":12001"
	}
	if c.Feed.Addr == "" {
		c.Feed.Addr = ":12002"
	}
	if c.Feed.PushInterval == 0 {
		c.Feed.PushInterval = 3 * time.Second
	}
	if c.Feed.DepthLevels == 0 {
		c.Feed.DepthLevels = 20
	}
	if c.Engine.Yield == "" {
		c.Engine.Yield = "automatic"
	}
	if c.Engine.Gas == "" {
		c.Engine.Gas = "void"
	}
}

func (c *NodeConfig) Validate() error {
	if c.Engine.Addr == "" {
		return fmt.Errorf("engine.addr is required")
	}
	if c.Engine.FeeTo == "" {
		return fmt.Errorf("engine.feeTo is required")
	}
	if _, err := parseYield(c.Engine.Yield); err != nil {
		return err
	}
	if _, err := parseGas(c.Engine.Gas); err != nil {
		return err
	}
	for i, t := range c.Tokens {
		if t.Symbol == "" {
			return fmt.Errorf("tokens[%d].symbol is required", i)
		}
		if t.Addr == "" {
			return fmt.Errorf("tokens[%d].addr is required", i)
		}
		if t.Decimals > 18 {
			return fmt.Errorf("tokens[%d].decimals %d exceeds 18", i, t.Decimals)
		}
	}
	return nil
}

func parseYield(s string) (YieldMode, error) {
	switch s {
	case "automatic":
		return YieldAutomatic, nil
	case "void":
		return YieldVoid, nil
	case "claimable":
		return YieldClaimable, nil
	}
	return 0, fmt.Errorf("unknown yield mode %q", s)
}

func parseGas(s string) (GasMode, error) {
	switch s {
	case "void":
		return GasVoid, nil
	case "claimable":
		return GasClaimable, nil
	}
	return 0, fmt.Errorf("unknown gas mode %q", s)
}

// ChainOptions resolves the configured chain shim modes.
func (c *EngineConfig) ChainOptions() (ChainOptions, error) {
	y, err := parseYield(c.Yield)
	if err != nil {
		return ChainOptions{}, err
	}
	g, err := parseGas(c.Gas)
	if err != nil {
		return ChainOptions{}, err
	}
	opts := ChainOptions{Yield: y, Gas: g}
	if c.Governor != "" {
		opts.Governor = parseAddr(c.Governor)
	}
	return opts, nil
}
