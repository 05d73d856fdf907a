package pricing

import (
	"sync"
	"time"
)

const (
	unhealthyFailureThreshold = 3
	unhealthySuccessWindow    = 5 * time.Minute
)

// ProviderHealth is a point-in-time view of one provider's recent behaviour.
type ProviderHealth struct {
	Provider         string
	LastSuccess      time.Time
	ConsecutiveFails int
	Healthy          bool
}

// HealthRegistry tracks per-provider success/failure history. It is owned by
// the composition root and shared by all concurrent resolutions; every update
// to one provider's record happens under the registry lock.
//
// Health is observability only: the fallback engine records outcomes here but
// still tries providers in fixed priority order.
type HealthRegistry struct {
	mu      sync.Mutex
	records map[string]*providerRecord
	now     func() time.Time
}

type providerRecord struct {
	lastSuccess      time.Time
	consecutiveFails int
}

// NewHealthRegistry constructs an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{
		records: make(map[string]*providerRecord),
		now:     time.Now,
	}
}

// RecordSuccess marks a provider healthy.
func (r *HealthRegistry) RecordSuccess(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.record(provider)
	rec.lastSuccess = r.now()
	rec.consecutiveFails = 0
}

// RecordFailure increments a provider's consecutive failure count.
func (r *HealthRegistry) RecordFailure(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(provider).consecutiveFails++
}

// Healthy reports whether the provider is currently considered healthy.
// A provider with no history yet is healthy.
func (r *HealthRegistry) Healthy(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthyLocked(r.record(provider))
}

// Snapshot returns a copy of every tracked provider's health.
func (r *HealthRegistry) Snapshot() []ProviderHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ProviderHealth, 0, len(r.records))
	for name, rec := range r.records {
		out = append(out, ProviderHealth{
			Provider:         name,
			LastSuccess:      rec.lastSuccess,
			ConsecutiveFails: rec.consecutiveFails,
			Healthy:          r.healthyLocked(rec),
		})
	}
	return out
}

func (r *HealthRegistry) record(provider string) *providerRecord {
	rec, ok := r.records[provider]
	if !ok {
		rec = &providerRecord{}
		r.records[provider] = rec
	}
	return rec
}

func (r *HealthRegistry) healthyLocked(rec *providerRecord) bool {
	if rec.consecutiveFails >= unhealthyFailureThreshold {
		return false
	}
	if rec.consecutiveFails > 0 && !rec.lastSuccess.IsZero() && r.now().Sub(rec.lastSuccess) > unhealthySuccessWindow {
		return false
	}
	return true
}
