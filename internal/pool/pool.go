// Package pool bounds how many completion calls may be in flight, per model
// and overall. Slots are handed out as leases that must be released.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/valpere/llmjudger/internal"
)

// ConfigError reports a setup problem: a bad model configuration or a model
// the pool does not know about.
type ConfigError struct {
	Model  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Model == "" {
		return "pool config: " + e.Reason
	}
	return fmt.Sprintf("pool config: model %s: %s", e.Model, e.Reason)
}

type modelSlots struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
}

type Pool struct {
	models   map[string]*modelSlots
	global   *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
}

// New builds a pool with one counting slot per configured instance and a
// global ceiling of maxConcurrent.
func New(configs []internal.ModelConfig, maxConcurrent int) (*Pool, error) {
	if len(configs) == 0 {
		return nil, &ConfigError{Reason: "no models configured"}
	}
	if maxConcurrent < 1 {
		return nil, &ConfigError{Reason: fmt.Sprintf("max concurrent must be at least 1, got %d", maxConcurrent)}
	}

	p := &Pool{
		models:   make(map[string]*modelSlots, len(configs)),
		global:   semaphore.NewWeighted(int64(maxConcurrent)),
		capacity: maxConcurrent,
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, &ConfigError{Model: cfg.Name, Reason: err.Error()}
		}
		if _, dup := p.models[cfg.Name]; dup {
			return nil, &ConfigError{Model: cfg.Name, Reason: "configured more than once"}
		}
		p.models[cfg.Name] = &modelSlots{
			sem:  semaphore.NewWeighted(int64(cfg.Instances)),
			size: cfg.Instances,
		}
	}
	return p, nil
}

// Acquire blocks until both a slot for model and a global slot are free.
// The model slot is taken first so a waiter for a saturated model never
// sits on a global slot. On cancellation nothing is held.
func (p *Pool) Acquire(ctx context.Context, model string) (*Lease, error) {
	slots, ok := p.models[model]
	if !ok {
		return nil, &ConfigError{Model: model, Reason: "not configured in pool"}
	}
	if err := slots.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := p.global.Acquire(ctx, 1); err != nil {
		slots.sem.Release(1)
		return nil, err
	}
	slots.inFlight.Add(1)
	p.inFlight.Add(1)
	return &Lease{pool: p, slots: slots, model: model}, nil
}

// InFlight reports the leases currently held for model.
func (p *Pool) InFlight(model string) int {
	if s, ok := p.models[model]; ok {
		return int(s.inFlight.Load())
	}
	return 0
}

// InFlightTotal reports the leases currently held across all models.
func (p *Pool) InFlightTotal() int {
	return int(p.inFlight.Load())
}

// Capacity reports the global ceiling.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Instances reports the slot count for model, 0 when unknown.
func (p *Pool) Instances(model string) int {
	if s, ok := p.models[model]; ok {
		return s.size
	}
	return 0
}

// Models returns the configured model names, sorted.
func (p *Pool) Models() []string {
	names := make([]string, 0, len(p.models))
	for name := range p.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lease is one held (model slot, global slot) pair.
type Lease struct {
	pool  *Pool
	slots *modelSlots
	model string
	once  sync.Once
}

func (l *Lease) Model() string { return l.model }

// Release returns both slots. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.slots.inFlight.Add(-1)
		l.pool.inFlight.Add(-1)
		l.pool.global.Release(1)
		l.slots.sem.Release(1)
	})
}
