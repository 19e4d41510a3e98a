package combat

import (
	"fmt"

	"github.com/energizer-project/realmcore/internal/world"
)

const (
	MsgDiseased    = "You are diseased!"
	MsgCannotDrain = "You cannot absorb any more life."
)

// DrainResult is the outcome of a life drain.
type DrainResult struct {
	Heal     int
	Messages []string
}

// LifeDrain heals the attacker by percent of the attack's total damage. A
// diseased attacker heals half. A non-positive heal before clamping produces
// no heal message; a heal clamped to zero reports that no life was absorbed.
func LifeDrain(attacker *world.Actor, ad AttackData, percent int) DrainResult {
	var res DrainResult
	heal := ad.Total() * percent / 100
	if attacker.Diseased {
		res.Messages = append(res.Messages, MsgDiseased)
		heal >>= 1
	}
	if heal <= 0 {
		return res
	}
	res.Heal = attacker.ChangeHealth(heal)
	if res.Heal > 0 {
		res.Messages = append(res.Messages, StealMessage(res.Heal))
	} else {
		res.Messages = append(res.Messages, MsgCannotDrain)
	}
	return res
}

// StealMessage reports a successful drain.
func StealMessage(heal int) string {
	if heal == 1 {
		return "You steal 1 hit point."
	}
	return fmt.Sprintf("You steal %d hit points.", heal)
}
