package registry

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/BTreeMap/ReactPipe/internal/models"
)

// AugmentProbability is the chance that a message triggers a surprise
// reaction being scheduled for its author.
const AugmentProbability = 0.05

// Augmenter occasionally schedules a surprise reaction for an active user,
// sampled from the pool of emojis anyone has ever scheduled. Randomness is
// injectable so tests can force or suppress the draw.
type Augmenter struct {
	registry  *Registry
	randFloat func() float64 // uniform in [0,1)
	randIntN  func(n int) int
}

// NewAugmenter creates an Augmenter using math/rand/v2 as its randomness source.
func NewAugmenter(reg *Registry) *Augmenter {
	return &Augmenter{
		registry:  reg,
		randFloat: rand.Float64,
		randIntN:  rand.IntN,
	}
}

// MaybeAugment rolls the augmentation probability for owner and, on success,
// schedules one emoji from the used pool that is not already active for them,
// for the default duration. It returns the scheduled emoji, or an empty
// string when nothing was added. The augmented emoji applies to future
// messages only; callers invoke this after reacting to the current one.
func (a *Augmenter) MaybeAugment(owner string) (string, error) {
	if a.randFloat() >= AugmentProbability {
		return "", nil
	}

	active, err := a.registry.Active(owner)
	if err != nil {
		return "", fmt.Errorf("failed to read active reactions for %s: %w", owner, err)
	}
	activeSet := make(map[string]struct{}, len(active))
	for _, emoji := range active {
		activeSet[emoji] = struct{}{}
	}

	var candidates []string
	for _, emoji := range a.registry.UsedEmojis() {
		if _, ok := activeSet[emoji]; !ok {
			candidates = append(candidates, emoji)
		}
	}
	if len(candidates) == 0 {
		slog.Debug("Augmenter found no candidate emojis", "owner", owner)
		return "", nil
	}

	picked := candidates[a.randIntN(len(candidates))]
	if err := a.registry.Schedule(owner, picked, models.DefaultReactionDays); err != nil {
		return "", fmt.Errorf("failed to schedule surprise reaction for %s: %w", owner, err)
	}

	slog.Info("Augmenter scheduled surprise reaction", "owner", owner, "emoji", picked, "days", models.DefaultReactionDays)
	return picked, nil
}
