package skills

import (
	"fmt"
	"time"

	"github.com/energizer-project/realmcore/internal/world"
)

// BypassPrivLevel is the privilege level that ignores reuse timers.
const BypassPrivLevel = 2

// CooldownStore tracks reuse timers keyed by actor name and skill id.
type CooldownStore interface {
	Remaining(actor string, skillID int, now time.Time) time.Duration
	Start(actor string, skillID int, d time.Duration, now time.Time)
}

// CooldownMessage formats the remaining reuse time the way clients expect.
func CooldownMessage(remaining time.Duration) string {
	secs := int((remaining + time.Second - 1) / time.Second)
	if secs > 60 {
		return fmt.Sprintf("You must wait %d minutes %d seconds to use this ability!", secs/60, secs%60)
	}
	return fmt.Sprintf("You must wait %d seconds to use this ability!", secs)
}

// CheckCooldown fails with ErrActionOnCooldown while the skill's reuse timer
// runs. Actors at BypassPrivLevel or above skip the check.
func CheckCooldown(store CooldownStore, a *world.Actor, skillID int, now time.Time) error {
	if a.PrivLevel >= BypassPrivLevel {
		return nil
	}
	rem := store.Remaining(a.Name, skillID, now)
	if rem <= 0 {
		return nil
	}
	return &UserError{
		Err:     fmt.Errorf("skill %d: %w", skillID, ErrActionOnCooldown),
		Message: CooldownMessage(rem),
	}
}

// StartCooldown starts the reuse timer for a skill with a non-zero reuse time.
func StartCooldown(store CooldownStore, a *world.Actor, skillID, reuseSeconds int, now time.Time) {
	if reuseSeconds <= 0 {
		return
	}
	store.Start(a.Name, skillID, time.Duration(reuseSeconds)*time.Second, now)
}
