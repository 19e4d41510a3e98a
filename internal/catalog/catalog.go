// Package catalog loads the static skill and spell content the simulation
// core resolves client requests against.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/energizer-project/realmcore/internal/skills"
	"github.com/energizer-project/realmcore/internal/world"
)

//go:embed default_catalog.json
var defaultCatalog []byte

var ErrInvalidCatalog = errors.New("invalid catalog")

type skillDef struct {
	skill     skills.Skill
	grantedBy int
}

// Catalog is an immutable skill and spell catalog. It is safe for concurrent use.
type Catalog struct {
	skills []skillDef
	lines  []skills.SpellLine
	spells map[uint16]skills.Spell
	byID   map[int]skills.Skill
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	return c
}

// Load reads a catalog file. An empty path or a missing file falls back to
// the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("catalog file not found, using built-in catalog")
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from JSON content.
func Parse(data []byte) (*Catalog, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("malformed json: %w", ErrInvalidCatalog)
	}
	root := gjson.ParseBytes(data)
	c := &Catalog{
		spells: make(map[uint16]skills.Spell),
		byID:   make(map[int]skills.Skill),
	}

	var parseErr error
	root.Get("spell_lines").ForEach(func(_, line gjson.Result) bool {
		sl := skills.SpellLine{
			ID:   int(line.Get("id").Int()),
			Name: line.Get("name").String(),
		}
		line.Get("spells").ForEach(func(_, sp gjson.Result) bool {
			s, err := parseSpell(sp)
			if err != nil {
				parseErr = fmt.Errorf("spell line %q: %w", sl.Name, err)
				return false
			}
			if _, dup := c.spells[s.ID]; dup {
				parseErr = fmt.Errorf("duplicate spell %d: %w", s.ID, ErrInvalidCatalog)
				return false
			}
			c.spells[s.ID] = s
			sl.Spells = append(sl.Spells, s)
			return true
		})
		c.lines = append(c.lines, sl)
		return parseErr == nil
	})
	if parseErr != nil {
		return nil, parseErr
	}

	root.Get("skills").ForEach(func(_, sk gjson.Result) bool {
		kind, ok := skills.ParseKind(sk.Get("kind").String())
		if !ok {
			parseErr = fmt.Errorf("skill %q kind %q: %w", sk.Get("name").String(), sk.Get("kind").String(), ErrInvalidCatalog)
			return false
		}
		s := skills.Skill{
			ID:           int(sk.Get("id").Int()),
			Name:         sk.Get("name").String(),
			Kind:         kind,
			Level:        int(sk.Get("level").Int()),
			ReuseSeconds: int(sk.Get("reuse").Int()),
			Executor:     sk.Get("executor").String(),
			SpellID:      uint16(sk.Get("spell_id").Uint()),
		}
		if kind == skills.KindSpell {
			if _, ok := c.spells[s.SpellID]; !ok {
				parseErr = fmt.Errorf("skill %q references spell %d: %w", s.Name, s.SpellID, ErrInvalidCatalog)
				return false
			}
		}
		c.byID[s.ID] = s
		c.skills = append(c.skills, skillDef{skill: s, grantedBy: int(sk.Get("granted_by").Int())})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	// specializations lead the usable list
	slices.SortStableFunc(c.skills, func(a, b skillDef) int {
		as := a.skill.Kind == skills.KindSpecialization
		bs := b.skill.Kind == skills.KindSpecialization
		switch {
		case as && !bs:
			return -1
		case !as && bs:
			return 1
		}
		return 0
	})
	return c, nil
}

func parseSpell(sp gjson.Result) (skills.Spell, error) {
	s := skills.Spell{
		ID:               uint16(sp.Get("id").Uint()),
		Name:             sp.Get("name").String(),
		Type:             sp.Get("type").String(),
		Level:            int(sp.Get("level").Int()),
		Target:           sp.Get("target").String(),
		Range:            int(sp.Get("range").Int()),
		Radius:           int(sp.Get("radius").Int()),
		Damage:           int(sp.Get("damage").Int()),
		Value:            int(sp.Get("value").Int()),
		DurationTicks:    sp.Get("duration_ticks").Uint(),
		FrequencyTicks:   sp.Get("frequency_ticks").Uint(),
		CastTicks:        sp.Get("cast_ticks").Uint(),
		ReuseSeconds:     int(sp.Get("reuse").Int()),
		Concentration:    sp.Get("concentration").Bool(),
		Frontal:          sp.Get("frontal").Bool(),
		LifeDrainPercent: int(sp.Get("lifedrain_percent").Int()),
		Charges:          int(sp.Get("charges").Int()),
	}
	if s.ID == 0 || s.Type == "" {
		return s, fmt.Errorf("spell %q needs id and type: %w", s.Name, ErrInvalidCatalog)
	}
	if dt := sp.Get("damage_type"); dt.Exists() {
		v, ok := world.ParseDamageType(dt.String())
		if !ok {
			return s, fmt.Errorf("spell %q damage type %q: %w", s.Name, dt.String(), ErrInvalidCatalog)
		}
		s.DamageType = v
	}
	if p := sp.Get("property"); p.Exists() {
		v, ok := world.ParseProperty(p.String())
		if !ok {
			return s, fmt.Errorf("spell %q property %q: %w", s.Name, p.String(), ErrInvalidCatalog)
		}
		s.Property = v
	}
	if s.Concentration && s.FrequencyTicks == 0 {
		return s, fmt.Errorf("spell %q holds concentration without a frequency: %w", s.Name, ErrInvalidCatalog)
	}
	return s, nil
}

// UsableSkills returns the entries available at the actor's level,
// specializations first.
func (c *Catalog) UsableSkills(a *world.Actor) []skills.Entry {
	out := make([]skills.Entry, 0, len(c.skills))
	for _, d := range c.skills {
		if d.skill.Level > a.Level {
			continue
		}
		out = append(out, skills.Entry{Skill: d.skill, Related: c.byID[d.grantedBy]})
	}
	return out
}

// SpellLines returns every spell line. Level checks happen at resolution.
func (c *Catalog) SpellLines(*world.Actor) []skills.SpellLine {
	return c.lines
}

// Spell looks up a spell by id.
func (c *Catalog) Spell(id uint16) (skills.Spell, bool) {
	s, ok := c.spells[id]
	return s, ok
}

// Counts returns the number of skills and spells.
func (c *Catalog) Counts() (int, int) {
	return len(c.skills), len(c.spells)
}
