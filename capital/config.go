package capital

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// configFile mirrors payoutd's YAML policy file shape, adapted from an
// asset-keyed list to the single process-wide capital tuning group.
type configFile struct {
	Kill         bool   `yaml:"kill"`
	DailyLossCap string `yaml:"daily_loss_cap"`
	AccountCap   string `yaml:"account_cap"`
	StrategyCap  string `yaml:"strategy_cap"`
}

// LoadConfig reads the capital.* tuning keys from a YAML file on disk.
func LoadConfig(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("capital: open config: %w", err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true) // reject unknown keys per spec.md §9
	var entry configFile
	if err := dec.Decode(&entry); err != nil {
		return Config{}, fmt.Errorf("capital: decode config: %w", err)
	}

	dailyLossCap, err := parseNonNegative(entry.DailyLossCap)
	if err != nil {
		return Config{}, fmt.Errorf("capital: daily_loss_cap: %w", err)
	}
	accountCap, err := parseNonNegative(entry.AccountCap)
	if err != nil {
		return Config{}, fmt.Errorf("capital: account_cap: %w", err)
	}
	strategyCap, err := parseNonNegative(entry.StrategyCap)
	if err != nil {
		return Config{}, fmt.Errorf("capital: strategy_cap: %w", err)
	}

	return Config{
		KillSwitch:   entry.Kill,
		DailyLossCap: dailyLossCap,
		AccountCap:   accountCap,
		StrategyCap:  strategyCap,
	}, nil
}

func parseNonNegative(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return value, nil
}

// ParseAmount exposes the same non-negative decimal parsing LoadConfig uses,
// for callers (e.g. the Config Daemon's reload listener) applying a capital
// tuning update pushed as decimal strings rather than read from a file.
func ParseAmount(raw string) (*big.Int, error) {
	return parseNonNegative(raw)
}
