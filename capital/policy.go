// Package capital implements the fail-closed capital policy precheck (C5)
// consulted during the pipeline's Policy stage.
package capital

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"kestrel/pipeline"
)

// Reason strings returned on denial, per spec.md §4.5.
const (
	ReasonKillSwitch   = "kill_switch"
	ReasonDailyLoss    = "dailyLossCap"
	ReasonAccountCap   = "accountCap"
	ReasonStrategyCap  = "strategyCap"
)

// Config is the capital.* slice of the tunable configuration surface (C12).
type Config struct {
	KillSwitch   bool
	DailyLossCap *big.Int
	AccountCap   *big.Int
	StrategyCap  *big.Int
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// PolicyEnforcer guards the precheck/updateLoss/updateUsage read-modify
// sequence behind a single mutex (spec.md §5's shared-resource policy): the
// whole evaluation must be atomic, not just individual map writes.
type PolicyEnforcer struct {
	mu  sync.Mutex
	cfg Config

	dailyLoss    map[string]*big.Int // UTC day key -> realized loss
	accountUsed  map[string]*big.Int
	strategyUsed map[string]*big.Int

	now func() time.Time
}

// NewPolicyEnforcer constructs an enforcer with the given initial config.
func NewPolicyEnforcer(cfg Config) *PolicyEnforcer {
	return &PolicyEnforcer{
		cfg:          cfg,
		dailyLoss:    make(map[string]*big.Int),
		accountUsed:  make(map[string]*big.Int),
		strategyUsed: make(map[string]*big.Int),
		now:          time.Now,
	}
}

// ApplyConfig hot-swaps the capital.* tuning (pushed by the Config Daemon,
// C12). Configuration overrides take precedence over whatever was set
// before, per spec.md §4.5.
func (p *PolicyEnforcer) ApplyConfig(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Precheck implements pipeline.CapitalPolicy: fail-closed evaluation in the
// exact order kill switch → daily loss cap → account cap → strategy cap
// (spec.md §4.5). A denied decision never mutates counters.
func (p *PolicyEnforcer) Precheck(ctx context.Context, req pipeline.PrecheckRequest) (pipeline.PrecheckDecision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	notional := zeroIfNil(req.Notional)
	account := strings.TrimSpace(req.Account)
	strategy := strings.TrimSpace(req.StrategyID)

	if p.cfg.KillSwitch {
		return p.denyLocked(ReasonKillSwitch), nil
	}

	today := dayKey(p.now())
	loss := zeroIfNil(p.dailyLoss[today])
	if loss.Cmp(zeroIfNil(p.cfg.DailyLossCap)) >= 0 {
		return p.denyLocked(ReasonDailyLoss), nil
	}

	accountUsed := zeroIfNil(p.accountUsed[account])
	if account != "" {
		projected := new(big.Int).Add(accountUsed, notional)
		if projected.Cmp(zeroIfNil(p.cfg.AccountCap)) > 0 {
			return p.denyLocked(ReasonAccountCap), nil
		}
	}

	strategyUsed := zeroIfNil(p.strategyUsed[strategy])
	if strategy != "" {
		projected := new(big.Int).Add(strategyUsed, notional)
		if projected.Cmp(zeroIfNil(p.cfg.StrategyCap)) > 0 {
			return p.denyLocked(ReasonStrategyCap), nil
		}
	}

	return pipeline.PrecheckDecision{
		Allow: true,
		Used: map[string]*big.Int{
			"account":  new(big.Int).Set(accountUsed),
			"strategy": new(big.Int).Set(strategyUsed),
			"dailyLoss": new(big.Int).Set(loss),
		},
		Caps: p.capsLocked(),
	}, nil
}

func (p *PolicyEnforcer) denyLocked(reason string) pipeline.PrecheckDecision {
	return pipeline.PrecheckDecision{Allow: false, Reason: reason, Caps: p.capsLocked()}
}

func (p *PolicyEnforcer) capsLocked() map[string]*big.Int {
	return map[string]*big.Int{
		"dailyLossCap": new(big.Int).Set(zeroIfNil(p.cfg.DailyLossCap)),
		"accountCap":   new(big.Int).Set(zeroIfNil(p.cfg.AccountCap)),
		"strategyCap":  new(big.Int).Set(zeroIfNil(p.cfg.StrategyCap)),
	}
}

// UpdateLoss records a realized-loss delta against today's UTC bucket,
// clamped to ≥ 0 (spec.md §4.5's "Updates" clause).
func (p *PolicyEnforcer) UpdateLoss(delta *big.Int, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := dayKey(at)
	current := zeroIfNil(p.dailyLoss[key])
	next := new(big.Int).Add(current, delta)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	p.dailyLoss[key] = next
}

// UpdateUsage records a notional-used delta for an account and/or strategy,
// each clamped independently to ≥ 0.
func (p *PolicyEnforcer) UpdateUsage(account, strategy string, delta *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	account = strings.TrimSpace(account)
	strategy = strings.TrimSpace(strategy)
	if account != "" {
		next := new(big.Int).Add(zeroIfNil(p.accountUsed[account]), delta)
		if next.Sign() < 0 {
			next = big.NewInt(0)
		}
		p.accountUsed[account] = next
	}
	if strategy != "" {
		next := new(big.Int).Add(zeroIfNil(p.strategyUsed[strategy]), delta)
		if next.Sign() < 0 {
			next = big.NewInt(0)
		}
		p.strategyUsed[strategy] = next
	}
}

// Snapshot returns the numeric used/cap values for the audit log (spec.md
// §4.5: "All decisions written to the audit log with numeric snapshots").
func (p *PolicyEnforcer) Snapshot(at time.Time) map[string]*big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.capsLocked()
	out["dailyLossUsed"] = new(big.Int).Set(zeroIfNil(p.dailyLoss[dayKey(at)]))
	return out
}
