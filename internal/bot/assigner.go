package bot

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

// WorkloadAssigner picks the least-loaded user in a tag group. Ties are
// broken uniformly at random: the eligible list is Fisher–Yates shuffled
// before a stable sort by score, so the comparator itself stays
// deterministic.
type WorkloadAssigner struct {
	users store.UserStore
	rng   *rand.Rand
}

// NewWorkloadAssigner creates an assigner. rng may be nil, in which case the
// global source is used; tests inject a seeded source for reproducibility.
func NewWorkloadAssigner(users store.UserStore, rng *rand.Rand) *WorkloadAssigner {
	return &WorkloadAssigner{users: users, rng: rng}
}

// Pick returns the least-loaded contactable user carrying the tag, or nil
// when the group is empty or nobody is contactable.
func (a *WorkloadAssigner) Pick(ctx context.Context, tag string) (*store.User, error) {
	candidates, err := a.users.ListByTagWithWorkload(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("list tag group %q: %w", tag, err)
	}

	eligible := candidates[:0:0]
	for _, c := range candidates {
		if c.User.OpenID != "" {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	// Shuffle first, then stable-sort: equal scores keep their shuffled
	// relative order, so ties are uniform across invocations.
	shuffle := rand.Shuffle
	if a.rng != nil {
		shuffle = a.rng.Shuffle
	}
	shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Hours < eligible[j].Hours
	})

	picked := eligible[0].User
	return &picked, nil
}
