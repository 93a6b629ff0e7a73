package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
antimev:
  jitterMaxMs: 200
  epochMs: 1000
  decoyPct: 0
router:
  baseMs: 100
  factor: 2
  maxMs: 5000
  jitterPct: 10
capital:
  kill: false
  accountCap: "1000000"
  strategyCap: "500000"
  dailyLossCap: "250000"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesAllGroups(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	d, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	snap := d.Get()
	if snap.AntiMEV.JitterMaxMs != 200 || snap.Router.BaseMs != 100 || snap.Capital.AccountCap != "1000000" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, sampleYAML+"\nbogus_key: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestReloadNotifiesListeners(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	d, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var notified Snapshot
	calls := 0
	d.OnUpdate(func(s Snapshot) {
		notified = s
		calls++
	})

	if err := os.WriteFile(path, []byte(`
antimev:
  jitterMaxMs: 999
  epochMs: 1000
  decoyPct: 0
router:
  baseMs: 100
  factor: 2
  maxMs: 5000
  jitterPct: 10
capital:
  kill: true
  accountCap: "1"
  strategyCap: "1"
  dailyLossCap: "1"
`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}
	if notified.AntiMEV.JitterMaxMs != 999 || !notified.Capital.Kill {
		t.Fatalf("expected listener to see reloaded snapshot, got %+v", notified)
	}
	if d.Get().AntiMEV.JitterMaxMs != 999 {
		t.Fatalf("expected Get() to reflect reload")
	}
}

func TestReloadLeavesSnapshotUntouchedOnDecodeFailure(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	d, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	before := d.Get()

	if err := os.WriteFile(path, []byte("not: [valid"), 0o600); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}
	if err := d.Reload(); err == nil {
		t.Fatalf("expected reload error on malformed yaml")
	}
	if d.Get() != before {
		t.Fatalf("expected snapshot unchanged after failed reload")
	}
}
