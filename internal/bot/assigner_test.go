package bot

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

type fakeWorkloadUsers struct {
	store.UserStore
	workloads []store.UserWorkload
}

func (f *fakeWorkloadUsers) ListByTagWithWorkload(_ context.Context, _ string) ([]store.UserWorkload, error) {
	out := make([]store.UserWorkload, len(f.workloads))
	copy(out, f.workloads)
	return out, nil
}

func wl(openID string, hours float64) store.UserWorkload {
	return store.UserWorkload{
		User:  store.User{OpenID: openID, Name: openID},
		Hours: hours,
	}
}

func TestPick_EmptyGroup(t *testing.T) {
	a := NewWorkloadAssigner(&fakeWorkloadUsers{}, rand.New(rand.NewSource(1)))

	u, err := a.Pick(context.Background(), "backend")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil for empty group, got %v", u)
	}
}

func TestPick_SkipsUncontactableUsers(t *testing.T) {
	users := &fakeWorkloadUsers{workloads: []store.UserWorkload{
		wl("", 0),         // no open_id: not contactable
		wl("ou_bob", 8.0), // loaded but contactable
	}}
	a := NewWorkloadAssigner(users, rand.New(rand.NewSource(1)))

	u, err := a.Pick(context.Background(), "backend")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u == nil || u.OpenID != "ou_bob" {
		t.Errorf("expected ou_bob, got %v", u)
	}
}

func TestPick_AllUncontactable(t *testing.T) {
	users := &fakeWorkloadUsers{workloads: []store.UserWorkload{wl("", 1), wl("", 2)}}
	a := NewWorkloadAssigner(users, rand.New(rand.NewSource(1)))

	u, err := a.Pick(context.Background(), "backend")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil when nobody is contactable, got %v", u)
	}
}

func TestPick_DistinctScoresDeterministic(t *testing.T) {
	users := &fakeWorkloadUsers{workloads: []store.UserWorkload{
		wl("ou_heavy", 10),
		wl("ou_light", 1),
		wl("ou_medium", 5),
	}}
	a := NewWorkloadAssigner(users, rand.New(rand.NewSource(42)))

	// The minimum-score user must win on every trial regardless of shuffle.
	for i := 0; i < 50; i++ {
		u, err := a.Pick(context.Background(), "backend")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.OpenID != "ou_light" {
			t.Fatalf("trial %d: expected ou_light, got %s", i, u.OpenID)
		}
	}
}

func TestPick_TieBreakUniform(t *testing.T) {
	users := &fakeWorkloadUsers{workloads: []store.UserWorkload{
		wl("ou_a", 3), wl("ou_b", 3), wl("ou_c", 3),
	}}
	a := NewWorkloadAssigner(users, rand.New(rand.NewSource(7)))

	const trials = 3000
	counts := map[string]int{}
	for i := 0; i < trials; i++ {
		u, err := a.Pick(context.Background(), "backend")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[u.OpenID]++
	}

	// Each of the 3 tied users should win roughly a third of the time.
	want := float64(trials) / 3
	for _, id := range []string{"ou_a", "ou_b", "ou_c"} {
		got := float64(counts[id])
		if math.Abs(got-want)/want > 0.15 {
			t.Errorf("tie-break not uniform: %s won %d of %d trials", id, counts[id], trials)
		}
	}
}
