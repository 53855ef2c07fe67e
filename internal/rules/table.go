package rules

import (
	"sync/atomic"
	"time"
)

// AggregatorStrict is the sentinel aggregator for unknown jurisdiction keys.
// The submission pipeline refuses to deliver to it, so an unmapped visit
// surfaces as a configuration error instead of reaching the wrong aggregator.
const AggregatorStrict = "DEFAULT_STRICT"

// Key identifies a jurisdiction rule set.
type Key struct {
	State       string
	PayerType   string
	ServiceType string
}

// RuleSet is one jurisdiction's EVV policy. Zero threshold values mean "use
// the engine default"; the resolver never mutates entries after load.
type RuleSet struct {
	Key                      Key
	RequiredCredentials      []string
	RequiredScreening        bool
	EarlyClockInGrace        time.Duration
	RequireClientSignature   bool
	AggregatorID             string
	GeofenceRadiusMeters     float64
	SpoofAccuracyFloorMeters float64
	MaxTravelSpeedMPS        float64
	AllowManualException     bool
	Citation                 string
}

// Snapshot is an immutable rule table. Readers share one snapshot; updates
// build a new one and swap it wholesale so no reader observes a partial table.
type Snapshot struct {
	version int64
	entries map[Key]RuleSet
	strict  RuleSet
}

// NewSnapshot builds a snapshot from entries. The strict fallback is the
// fail-closed answer for unknown keys: every credential class required, no
// grace, signature mandatory, no manual exception.
func NewSnapshot(version int64, entries []RuleSet) *Snapshot {
	table := make(map[Key]RuleSet, len(entries))
	for _, e := range entries {
		table[e.Key] = e
	}
	return &Snapshot{
		version: version,
		entries: table,
		strict: RuleSet{
			RequiredCredentials:    []string{CredentialBackgroundScreen, CredentialCertification},
			RequiredScreening:      true,
			EarlyClockInGrace:      0,
			RequireClientSignature: true,
			AggregatorID:           AggregatorStrict,
			AllowManualException:   false,
			Citation:               "unknown jurisdiction: strict defaults applied",
		},
	}
}

// Version identifies the loaded rule generation.
func (s *Snapshot) Version() int64 {
	return s.version
}

// Resolve returns the rule set for the key. Unknown combinations fail closed:
// the strict default is returned with found=false, never a permissive set.
func (s *Snapshot) Resolve(key Key) (RuleSet, bool) {
	if rs, ok := s.entries[key]; ok {
		return rs, true
	}
	strict := s.strict
	strict.Key = key
	return strict, false
}

// Registry hands out the current snapshot to concurrent readers and swaps it
// atomically on reload.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry starts with the provided snapshot.
func NewRegistry(initial *Snapshot) *Registry {
	r := &Registry{}
	if initial == nil {
		initial = NewSnapshot(0, nil)
	}
	r.current.Store(initial)
	return r
}

// Current returns the active snapshot.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Replace installs a new snapshot wholesale.
func (r *Registry) Replace(s *Snapshot) {
	if s == nil {
		return
	}
	r.current.Store(s)
}

// Resolve is a convenience over the current snapshot.
func (r *Registry) Resolve(key Key) (RuleSet, bool) {
	return r.Current().Resolve(key)
}
