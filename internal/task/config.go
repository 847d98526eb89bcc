package task

import (
	"errors"
	"fmt"

	"pm-arb-worker/internal/exec"
	"pm-arb-worker/internal/pm/clob"
)

// Config describes one monitored market and how to trade it. It travels as
// JSON in control messages and in Redis.
type Config struct {
	TaskID       string           `json:"task_id"`
	Market       string           `json:"market"`
	Mode         string           `json:"mode"`
	Strategies   []StrategyConfig `json:"strategies"`
	AutoBuy      AutoBuy          `json:"auto_buy"`
	MinOrderSize float64          `json:"min_order_size,omitempty"`
	OrderKind    string           `json:"order_kind,omitempty"`
	ExpirationS  int64            `json:"expiration_seconds,omitempty"`
}

type StrategyConfig struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// AutoBuy controls unattended execution. Rules are keyed by strategy name;
// a strategy without a rule never auto-executes.
type AutoBuy struct {
	Enabled bool            `json:"enabled"`
	Rules   map[string]Rule `json:"rules,omitempty"`
}

type Rule struct {
	Enabled   bool    `json:"enabled"`
	Amount    float64 `json:"amount,omitempty"`
	RoundSize bool    `json:"round_size,omitempty"`
}

// Clone deep-copies the config. Snapshots handed across goroutines must
// never share the nested maps with the live value a patch mutates.
func (c Config) Clone() Config {
	out := c
	if c.Strategies != nil {
		out.Strategies = make([]StrategyConfig, len(c.Strategies))
		for i, sc := range c.Strategies {
			out.Strategies[i] = sc
			if sc.Params != nil {
				params := make(map[string]any, len(sc.Params))
				for k, v := range sc.Params {
					params[k] = v
				}
				out.Strategies[i].Params = params
			}
		}
	}
	if c.AutoBuy.Rules != nil {
		rules := make(map[string]Rule, len(c.AutoBuy.Rules))
		for name, rule := range c.AutoBuy.Rules {
			rules[name] = rule
		}
		out.AutoBuy.Rules = rules
	}
	return out
}

func (c *Config) Validate() error {
	if c.TaskID == "" {
		return errors.New("task config: task_id is required")
	}
	if c.Market == "" {
		return errors.New("task config: market is required")
	}
	if len(c.Strategies) == 0 {
		return errors.New("task config: at least one strategy is required")
	}
	switch exec.Mode(c.Mode) {
	case exec.Simulation, exec.Real:
	case "":
		c.Mode = string(exec.Simulation)
	default:
		return fmt.Errorf("task config: unknown mode %q", c.Mode)
	}
	switch clob.OrderKind(c.OrderKind) {
	case clob.GTC, "":
	case clob.GTD:
		if c.ExpirationS <= 0 {
			return errors.New("task config: GTD orders need expiration_seconds")
		}
	default:
		return fmt.Errorf("task config: unknown order kind %q", c.OrderKind)
	}
	return nil
}

// Patch is a partial config update. Only set fields are applied; nested
// auto-buy rules merge field by field instead of replacing the rule set.
type Patch struct {
	Mode         *string           `json:"mode,omitempty"`
	Strategies   *[]StrategyConfig `json:"strategies,omitempty"`
	AutoBuy      *AutoBuyPatch     `json:"auto_buy,omitempty"`
	MinOrderSize *float64          `json:"min_order_size,omitempty"`
	OrderKind    *string           `json:"order_kind,omitempty"`
	ExpirationS  *int64            `json:"expiration_seconds,omitempty"`
}

type AutoBuyPatch struct {
	Enabled *bool                `json:"enabled,omitempty"`
	Rules   map[string]RulePatch `json:"rules,omitempty"`
}

type RulePatch struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	Amount    *float64 `json:"amount,omitempty"`
	RoundSize *bool    `json:"round_size,omitempty"`
}

// Apply merges the patch into cfg. Unset fields stay untouched.
func (p *Patch) Apply(cfg *Config) {
	if p == nil {
		return
	}
	if p.Mode != nil {
		cfg.Mode = *p.Mode
	}
	if p.Strategies != nil {
		cfg.Strategies = *p.Strategies
	}
	if p.MinOrderSize != nil {
		cfg.MinOrderSize = *p.MinOrderSize
	}
	if p.OrderKind != nil {
		cfg.OrderKind = *p.OrderKind
	}
	if p.ExpirationS != nil {
		cfg.ExpirationS = *p.ExpirationS
	}
	if p.AutoBuy != nil {
		p.AutoBuy.apply(&cfg.AutoBuy)
	}
}

func (p *AutoBuyPatch) apply(ab *AutoBuy) {
	if p.Enabled != nil {
		ab.Enabled = *p.Enabled
	}
	if len(p.Rules) == 0 {
		return
	}
	if ab.Rules == nil {
		ab.Rules = make(map[string]Rule, len(p.Rules))
	}
	for name, rp := range p.Rules {
		rule := ab.Rules[name]
		if rp.Enabled != nil {
			rule.Enabled = *rp.Enabled
		}
		if rp.Amount != nil {
			rule.Amount = *rp.Amount
		}
		if rp.RoundSize != nil {
			rule.RoundSize = *rp.RoundSize
		}
		ab.Rules[name] = rule
	}
}
