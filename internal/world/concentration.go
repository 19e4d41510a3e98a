package world

import "slices"

// ConcentrationPool is a caster's bounded set of concentration slots. Each
// pulsing effect holds one slot, keyed by effect id, for its whole lifetime.
type ConcentrationPool struct {
	capacity int
	held     map[uint64]struct{}
}

// NewConcentrationPool creates a pool with capacity slots.
func NewConcentrationPool(capacity int) *ConcentrationPool {
	return &ConcentrationPool{
		capacity: capacity,
		held:     make(map[uint64]struct{}),
	}
}

// TryAcquire takes a slot for effectID. It fails when the pool is full or the
// effect already holds a slot.
func (p *ConcentrationPool) TryAcquire(effectID uint64) bool {
	if _, ok := p.held[effectID]; ok {
		return false
	}
	if len(p.held) >= p.capacity {
		return false
	}
	p.held[effectID] = struct{}{}
	return true
}

// Release frees the slot of effectID. Only the first call for an effect
// returns true.
func (p *ConcentrationPool) Release(effectID uint64) bool {
	if _, ok := p.held[effectID]; !ok {
		return false
	}
	delete(p.held, effectID)
	return true
}

// Holds reports whether effectID currently holds a slot.
func (p *ConcentrationPool) Holds(effectID uint64) bool {
	_, ok := p.held[effectID]
	return ok
}

// Held returns the effect ids holding slots, oldest id first.
func (p *ConcentrationPool) Held() []uint64 {
	ids := make([]uint64, 0, len(p.held))
	for id := range p.held {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Used returns the number of slots in use.
func (p *ConcentrationPool) Used() int { return len(p.held) }

// Capacity returns the total number of slots.
func (p *ConcentrationPool) Capacity() int { return p.capacity }

// Free returns the number of slots still available.
func (p *ConcentrationPool) Free() int { return max(p.capacity-len(p.held), 0) }
