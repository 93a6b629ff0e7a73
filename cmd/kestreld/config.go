package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"kestrel/relay"
)

// daemonConfig is the top-level wiring configuration for the kestreld
// binary: where things live and how to reach them. The hot-reloadable
// tuning surface (anti-MEV, router, capital caps) lives separately in
// config.Daemon's snapshot, reloaded on SIGHUP without a restart.
type daemonConfig struct {
	ListenAddress  string            `yaml:"listen_address"`
	SQLitePath     string            `yaml:"sqlite_path"`
	ReplayDBPath   string            `yaml:"replay_db_path"`
	AuditDir       string            `yaml:"audit_dir"`
	CapitalConfig  string            `yaml:"capital_config"`
	TuningConfig   string            `yaml:"tuning_config"`
	PostgresDSN    string            `yaml:"postgres_dsn"`
	SimulatorURL   string            `yaml:"simulator_url"`
	RelayEndpoints map[string]string `yaml:"relay_endpoints"`
	Lanes          []laneConfig      `yaml:"lanes"`
	Workers        int               `yaml:"workers"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint"`
	APIKeys        map[string]string `yaml:"api_keys"`
	NonceDBPath    string            `yaml:"nonce_db_path"`
	CORSOrigins    []string          `yaml:"cors_origins"`
	JWT            *jwtConfig        `yaml:"jwt"`
}

type jwtConfig struct {
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	Scopes     []string `yaml:"required_scopes"`
}

type laneConfig struct {
	ID            string  `yaml:"id"`
	Authenticated bool    `yaml:"authenticated"`
	RTTMs         float64 `yaml:"rtt_ms"`
	Score         float64 `yaml:"score"`
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return daemonConfig{}, fmt.Errorf("kestreld: open config: %w", err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	var cfg daemonConfig
	if err := dec.Decode(&cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("kestreld: decode config: %w", err)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return cfg, nil
}

func (c daemonConfig) laneHealth() []relay.LaneHealth {
	lanes := make([]relay.LaneHealth, 0, len(c.Lanes))
	for _, l := range c.Lanes {
		rtt := l.RTTMs
		score := l.Score
		lanes = append(lanes, relay.LaneHealth{
			ID:            l.ID,
			Healthy:       true,
			Authenticated: l.Authenticated,
			RTTMs:         &rtt,
			Score:         &score,
		})
	}
	return lanes
}
