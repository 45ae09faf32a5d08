package simulation

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// EmissionKey uniquely identifies a reproducible synthetic traffic run.
// Two runs with the same EmissionKey and identical engine configuration
// produce the same observation stream, field for field.
type EmissionKey int64

// NewEmissionKey creates an EmissionKey from a seed value.
func NewEmissionKey(seed int64) EmissionKey {
	return EmissionKey(seed)
}

// RNG subsystem names. Pacing jitter and pattern shaping draw from separate
// streams so changing one shaper never perturbs the others.
const (
	// SubsystemMixer picks the concrete pattern per emission in MIXED runs.
	SubsystemMixer = "mixer"
)

// SubsystemShaper returns the subsystem name for one anomaly pattern's
// traffic shaper.
func SubsystemShaper(pattern string) string {
	return fmt.Sprintf("shape_%s", pattern)
}

// PartitionedRNG provides deterministic, isolated RNG instances per
// subsystem. Each subsystem's seed is the master seed XORed with a 64-bit
// FNV-1a hash of the subsystem name.
//
// Thread-safety: NOT thread-safe. The emission loop is a single goroutine.
type PartitionedRNG struct {
	key        EmissionKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from an EmissionKey.
func NewPartitionedRNG(key EmissionKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named
// subsystem. The same name always returns the same *rand.Rand instance.
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Key returns the EmissionKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() EmissionKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
