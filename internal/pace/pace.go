// Package pace implements the tracker's adaptive polling schedule: a tick
// interval that is either fixed by configuration or derived from how
// recently the user was active.
package pace

import (
	"sync"
	"time"

	"incomed/internal/settings"
)

const (
	// Fixed intervals selectable in settings.
	Fast   = 1 * time.Second
	Normal = 3 * time.Second
	Slow   = 5 * time.Second

	// Adaptive mode switches between these two based on recent activity.
	ActiveInterval = 1 * time.Second
	IdleInterval   = 5 * time.Second

	// IdleAfter is how long without an activity signal counts as idle.
	IdleAfter = 30 * time.Second

	minCustom = 100 * time.Millisecond
	maxCustom = 60 * time.Second
)

// Plan is the resolved scheduling choice for one consumer.
type Plan struct {
	Adaptive bool
	Interval time.Duration // fixed interval; ignored when Adaptive
}

// PlanFrom maps the updateFrequency setting to a Plan. Custom intervals
// are clamped to [100ms, 60s]; anything unrecognized runs adaptive.
func PlanFrom(frequency string, customMs int) Plan {
	switch frequency {
	case settings.FrequencyFast:
		return Plan{Interval: Fast}
	case settings.FrequencyNormal:
		return Plan{Interval: Normal}
	case settings.FrequencySlow:
		return Plan{Interval: Slow}
	case settings.FrequencyCustom:
		d := time.Duration(customMs) * time.Millisecond
		if d < minCustom {
			d = minCustom
		}
		if d > maxCustom {
			d = maxCustom
		}
		return Plan{Interval: d}
	default:
		return Plan{Adaptive: true, Interval: ActiveInterval}
	}
}

// Pacer tracks activity signals and answers "what should the tick
// interval be right now" for the current plan.
type Pacer struct {
	mu           sync.Mutex
	plan         Plan
	lastActivity time.Time
	now          func() time.Time
}

func NewPacer(plan Plan) *Pacer {
	p := &Pacer{plan: plan, now: time.Now}
	p.lastActivity = p.now()
	return p
}

// Touch records an activity signal. Fixed plans do not track activity
// at all, so signals are dropped there.
func (p *Pacer) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.plan.Adaptive {
		return
	}
	p.lastActivity = p.now()
}

// SetPlan swaps the scheduling choice; the next Interval call reflects it.
func (p *Pacer) SetPlan(plan Plan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plan = plan
}

// Plan returns the current scheduling choice.
func (p *Pacer) Plan() Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plan
}

// Interval resolves the tick interval for "now": the fixed interval, or
// the active/idle choice in adaptive mode.
func (p *Pacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.plan.Adaptive {
		return p.plan.Interval
	}
	if p.now().Sub(p.lastActivity) < IdleAfter {
		return ActiveInterval
	}
	return IdleInterval
}
