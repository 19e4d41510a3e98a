package effects

import (
	"errors"

	"github.com/energizer-project/realmcore/internal/scheduler"
	"github.com/energizer-project/realmcore/internal/skills"
)

var ErrStaleLOSResponse = errors.New("stale los response")

// LOSKind separates the damage and resist query tables.
type LOSKind int

const (
	LOSDamage LOSKind = iota
	LOSResist
)

func (k LOSKind) String() string {
	if k == LOSResist {
		return "resist"
	}
	return "damage"
}

// LOSKey identifies a pending query by requester and target object id.
type LOSKey struct {
	Requester uint32
	Target    uint16
}

// LOSQuery is a deferred action waiting on a client line-of-sight answer.
type LOSQuery struct {
	Key           LOSKey
	Kind          LOSKind
	CasterID      uint32
	TargetID      uint32
	Spell         skills.Spell
	EffectID      uint64 // zero for instant spells
	Effectiveness int
	IssuedAt      scheduler.Tick
}

// LOSTable holds pending queries. A newer query for the same key and kind
// replaces the older one.
type LOSTable struct {
	tables [2]map[LOSKey]LOSQuery
}

// NewLOSTable creates empty damage and resist tables.
func NewLOSTable() *LOSTable {
	return &LOSTable{tables: [2]map[LOSKey]LOSQuery{
		make(map[LOSKey]LOSQuery),
		make(map[LOSKey]LOSQuery),
	}}
}

// Add records q, returning true when it replaced a pending query.
func (t *LOSTable) Add(q LOSQuery) bool {
	_, replaced := t.tables[q.Kind][q.Key]
	t.tables[q.Kind][q.Key] = q
	return replaced
}

// Take removes and returns the pending query.
func (t *LOSTable) Take(kind LOSKind, key LOSKey) (LOSQuery, bool) {
	q, ok := t.tables[kind][key]
	if ok {
		delete(t.tables[kind], key)
	}
	return q, ok
}

// Pending reports whether a query is waiting.
func (t *LOSTable) Pending(kind LOSKind, key LOSKey) bool {
	_, ok := t.tables[kind][key]
	return ok
}

// DropActor removes every query the actor requested or is the target of.
func (t *LOSTable) DropActor(id uint32) int {
	return t.dropWhere(func(q LOSQuery) bool {
		return q.Key.Requester == id || q.CasterID == id || q.TargetID == id
	})
}

// DropEffect removes every query issued on behalf of an effect.
func (t *LOSTable) DropEffect(effectID uint64) int {
	if effectID == 0 {
		return 0
	}
	return t.dropWhere(func(q LOSQuery) bool { return q.EffectID == effectID })
}

// Expire removes queries issued before cutoff.
func (t *LOSTable) Expire(cutoff scheduler.Tick) int {
	return t.dropWhere(func(q LOSQuery) bool { return q.IssuedAt < cutoff })
}

// Len returns the number of pending queries across both tables.
func (t *LOSTable) Len() int {
	return len(t.tables[LOSDamage]) + len(t.tables[LOSResist])
}

func (t *LOSTable) dropWhere(match func(LOSQuery) bool) int {
	n := 0
	for _, table := range t.tables {
		for k, q := range table {
			if match(q) {
				delete(table, k)
				n++
			}
		}
	}
	return n
}
