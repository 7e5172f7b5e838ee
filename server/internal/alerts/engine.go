package alerts

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/obsidianstack/spikeqc/pkg/types"
	"github.com/obsidianstack/spikeqc/server/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is a single alert event produced by the rule engine.
type Alert struct {
	ID         string      `json:"id"`
	RuleName   string      `json:"rule_name"`
	SessionID  string      `json:"session_id"`
	UnitID     string      `json:"unit_id,omitempty"`
	Severity   string      `json:"severity"`
	Message    string      `json:"message"`
	Value      types.Value `json:"value"`
	FiredAt    time.Time   `json:"fired_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	State      string      `json:"state"`
}

type rule struct {
	config.AlertRule
	cond config.Condition
	unit bool
}

// Engine evaluates alert rules against incoming QualityReports and delivers
// webhook notifications when alerts fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: rule:session[:unit]
	lastFire map[string]time.Time // cooldown bookkeeping per key
	history  []*Alert             // resolved alerts, oldest first
	client   *http.Client
	now      func() time.Time
}

// New creates an Engine from the server alert configuration. Rules whose
// condition does not parse are skipped with a warning; config validation
// rejects them before this point.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	for _, r := range cfg.Rules {
		c, err := config.ParseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: skipping rule", "rule", r.Name, "err", err)
			continue
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c, unit: !sessionField(c.Field)})
	}
	return e
}

// hit is one (session or unit) target whose condition currently holds.
type hit struct {
	unitID string
	value  float64
}

// Evaluate tests every rule against r. New matches fire (subject to the rule
// cooldown); firing alerts of the same session whose condition no longer
// holds are resolved. Unit rules are left untouched for reports that failed
// to load, since those carry no unit rows.
func (e *Engine) Evaluate(r *types.QualityReport) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	var notify []*Alert

	e.mu.Lock()
	for _, rl := range e.rules {
		if rl.unit && r.ErrorMessage != "" {
			continue
		}

		prefix := rl.Name + ":" + r.SessionID
		firing := make(map[string]bool)
		for _, h := range matches(rl, r) {
			key := prefix
			if rl.unit {
				key += ":" + h.unitID
			}
			firing[key] = true

			if a, ok := e.active[key]; ok {
				a.Value = types.Value(h.value)
				continue
			}
			cooldown := rl.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if last, ok := e.lastFire[key]; ok && now.Sub(last) <= cooldown {
				continue
			}
			a := e.fire(rl, r.SessionID, h, now)
			e.active[key] = a
			e.lastFire[key] = now
			cp := *a
			notify = append(notify, &cp)
		}

		for key, a := range e.active {
			if a.RuleName != rl.Name || a.SessionID != r.SessionID || firing[key] {
				continue
			}
			resolved := now
			a.State = StateResolved
			a.ResolvedAt = &resolved
			delete(e.active, key)
			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = append(notify, &cp)
		}
	}
	e.mu.Unlock()

	for _, a := range notify {
		if a.State == StateFiring {
			slog.Warn("alerts: alert fired",
				"rule", a.RuleName,
				"session", a.SessionID,
				"unit", a.UnitID,
				"value", float64(a.Value),
				"severity", a.Severity,
			)
		} else {
			slog.Info("alerts: alert resolved", "rule", a.RuleName, "session", a.SessionID, "unit", a.UnitID)
		}
		go e.deliver(a)
	}
}

func (e *Engine) fire(rl rule, sessionID string, h hit, now time.Time) *Alert {
	sev := rl.Severity
	if sev == "" {
		sev = "warning"
	}
	target := sessionID
	if h.unitID != "" {
		target += " unit " + h.unitID
	}
	msg := fmt.Sprintf("[%s] %s fired on %s: %s", sev, rl.Name, target, rl.Condition)
	if !math.IsNaN(h.value) {
		msg += " (value " + strconv.FormatFloat(h.value, 'g', 4, 64) + ")"
	}
	return &Alert{
		ID:        fmt.Sprintf("%s:%s:%s:%d", rl.Name, sessionID, h.unitID, now.UnixNano()),
		RuleName:  rl.Name,
		SessionID: sessionID,
		UnitID:    h.unitID,
		Severity:  sev,
		Message:   msg,
		Value:     types.Value(h.value),
		FiredAt:   now,
		State:     StateFiring,
	}
}

// Active returns copies of all firing alerts plus alerts resolved within the
// past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].FiredAt.After(out[j].FiredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Firing returns the number of currently firing alerts.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
