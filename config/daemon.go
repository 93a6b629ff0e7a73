// Package config implements the Config Daemon (C12): a hot-updatable
// numeric/boolean tuning snapshot grouped by consumer, pushed to
// subscribers on change.
package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"gopkg.in/yaml.v3"
)

// AntiMEV groups the antimev.* tuning keys (spec.md §6).
type AntiMEV struct {
	JitterMaxMs int64   `yaml:"jitterMaxMs"`
	EpochMs     int64   `yaml:"epochMs"`
	DecoyPct    float64 `yaml:"decoyPct"`
}

// Router groups the router.* tuning keys.
type Router struct {
	BaseMs    int64   `yaml:"baseMs"`
	Factor    float64 `yaml:"factor"`
	MaxMs     int64   `yaml:"maxMs"`
	JitterPct float64 `yaml:"jitterPct"`
}

// Capital groups the capital.* tuning keys, expressed as decimal strings so
// they round-trip through YAML without float precision loss (mirrored by
// capital.LoadConfig's own decimal parsing).
type Capital struct {
	Kill         bool   `yaml:"kill"`
	AccountCap   string `yaml:"accountCap"`
	StrategyCap  string `yaml:"strategyCap"`
	DailyLossCap string `yaml:"dailyLossCap"`
}

// Snapshot is the full tuning surface, grouped by consumer (spec.md §4.12).
type Snapshot struct {
	AntiMEV AntiMEV `yaml:"antimev"`
	Router  Router  `yaml:"router"`
	Capital Capital `yaml:"capital"`
}

// Listener is notified with the new snapshot after a successful reload.
// Per spec.md §4.12, the daemon never calls back synchronously during a
// listener's own operation — listeners pull the latest snapshot at the
// start of each decision, and OnUpdate's only job is to hand them that
// pulled value at reload time.
type Listener func(Snapshot)

// Daemon holds a copy-on-write configuration snapshot (spec.md §5).
type Daemon struct {
	mu        sync.RWMutex
	path      string
	current   Snapshot
	listeners []Listener
}

// Load reads the initial snapshot from path, rejecting unknown keys
// (spec.md §9's "enumerate the recognized keys" redesign flag).
func Load(path string) (*Daemon, error) {
	snapshot, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return &Daemon{path: path, current: snapshot}, nil
}

func decodeFile(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	var snapshot Snapshot
	if err := dec.Decode(&snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return snapshot, nil
}

// Get returns the current snapshot. Readers take an immutable copy.
func (d *Daemon) Get() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// OnUpdate registers a listener invoked after every successful reload.
func (d *Daemon) OnUpdate(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Reload re-reads the config file and, on success, swaps the snapshot and
// notifies subscribers. A decode failure leaves the current snapshot
// untouched.
func (d *Daemon) Reload() error {
	snapshot, err := decodeFile(d.path)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.current = snapshot
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return nil
}

// WatchSIGHUP reloads on every SIGHUP until ctx is cancelled, logging
// reload failures via onError rather than crashing the process.
func (d *Daemon) WatchSIGHUP(ctx context.Context, onError func(error)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if err := d.Reload(); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
