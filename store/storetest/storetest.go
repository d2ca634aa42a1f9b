// Package storetest provides integration testing facilities for game stores.
package storetest

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/idlerpg/player"
	"github.com/zephyrtronium/idlerpg/store"
)

// Test runs the integration test suite against stores produced by new.
// Each subtest closes the store it uses.
//
// If a store cannot be created without error, new should call t.Fatal.
func Test(ctx context.Context, t *testing.T, new func(context.Context) store.Store) {
	t.Run("player", testPlayer(ctx, new(ctx)))
	t.Run("missing", testMissing(ctx, new(ctx)))
	t.Run("replace", testReplace(ctx, new(ctx)))
	t.Run("top", testTop(ctx, new(ctx)))
	t.Run("online", testOnline(ctx, new(ctx)))
	t.Run("delete", testDelete(ctx, new(ctx)))
	t.Run("channels", testChannels(ctx, new(ctx)))
}

var players = [...]player.Record{
	{
		Name:      "bocchi",
		Pass:      "hash1",
		Class:     "guitarist",
		Online:    true,
		Level:     5,
		Next:      900,
		Idled:     10000,
		Penalties: 40,
		LastLogin: 1700000000,
		Items:     `{"helm":1,"shirt":0,"pants":0,"shoes":0,"gloves":0,"weapon":6,"shield":0,"ring":0,"amulet":0,"charm":0}`,
	},
	{
		Name:      "nijika",
		Pass:      "hash2",
		Class:     "drummer",
		Online:    false,
		Level:     5,
		Next:      300,
		Idled:     11000,
		LastLogin: 1700000100,
		IsAdmin:   true,
		Items:     `{}`,
	},
	{
		Name:      "ryo",
		Pass:      "hash3",
		Class:     "bassist",
		Online:    true,
		Level:     7,
		Next:      2000,
		Idled:     20000,
		Penalties: 1,
		LastLogin: 1700000200,
	},
	{
		Name:   "kita",
		Pass:   "hash4",
		Class:  "singer",
		Online: false,
		Level:  2,
		Next:   50,
		Idled:  1300,
	},
}

func seed(ctx context.Context, t *testing.T, s store.Store) {
	t.Helper()
	for _, p := range players {
		if err := s.SavePlayer(ctx, p); err != nil {
			t.Fatalf("couldn't save %s: %v", p.Name, err)
		}
	}
}

func closer(t *testing.T, s store.Store) {
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("couldn't close store: %v", err)
		}
	})
}

func testPlayer(ctx context.Context, s store.Store) func(t *testing.T) {
	return func(t *testing.T) {
		closer(t, s)
		seed(ctx, t, s)
		for _, want := range players {
			got, err := s.Player(ctx, want.Name)
			if err != nil {
				t.Errorf("couldn't load %s: %v", want.Name, err)
				continue
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("wrong record for %s (-want +got):\n%s", want.Name, diff)
			}
		}
	}
}

func testMissing(ctx context.Context, s store.Store) func(t *testing.T) {
	return func(t *testing.T) {
		closer(t, s)
		seed(ctx, t, s)
		_, err := s.Player(ctx, "seika")
		if !errors.Is(err, store.ErrNoPlayer) {
			t.Errorf("wrong error for missing player: %v", err)
		}
		// Names are exact.
		_, err = s.Player(ctx, "Bocchi")
		if !errors.Is(err, store.ErrNoPlayer) {
			t.Errorf("wrong error for differently cased name: %v", err)
		}
	}
}

func testReplace(ctx context.Context, s store.Store) func(t *testing.T) {
	return func(t *testing.T) {
		closer(t, s)
		seed(ctx, t, s)
		want := players[0]
		want.Level = 6
		want.Next = 1044
		want.Online = false
		if err := s.SavePlayer(ctx, want); err != nil {
			t.Fatal(err)
		}
		got, err := s.Player(ctx, want.Name)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("wrong record after replace (-want +got):\n%s", diff)
		}
		top, err := s.TopPlayers(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(top) != len(players) {
			t.Errorf("replace duplicated player: have %d records", len(top))
		}
	}
}

func names(r []player.Record) []string {
	s := make([]string, len(r))
	for i, p := range r {
		s[i] = p.Name
	}
	return s
}

func testTop(ctx context.Context, s store.Store) func(t *testing.T) {
	return func(t *testing.T) {
		closer(t, s)
		got, err := s.TopPlayers(ctx, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("empty store has top players: %q", names(got))
		}
		seed(ctx, t, s)
		cases := []struct {
			n    int
			want []string
		}{
			{1, []string{"ryo"}},
			{2, []string{"ryo", "nijika"}},
			{0, []string{"ryo", "nijika", "bocchi"}},
			{-1, []string{"ryo", "nijika", "bocchi"}},
			{10, []string{"ryo", "nijika", "bocchi", "kita"}},
		}
		for _, c := range cases {
			got, err := s.TopPlayers(ctx, c.n)
			if err != nil {
				t.Errorf("n=%d: %v", c.n, err)
				continue
			}
			if !slices.Equal(names(got), c.want) {
				t.Errorf("n=%d: want %q, got %q", c.n, c.want, names(got))
			}
		}
	}
}

func testOnline(ctx context.Context, s store.Store) func(t *testing.T) {
	return func(t *testing.T) {
		closer(t, s)
		seed(ctx, t, s)
		got, err := s.OnlinePlayers(ctx)
		if err != nil {
			t.Fatal(err)
		}
		n := names(got)
		slices.Sort(n)
		want := []string{"bocchi", "ryo"}
		if !slices.Equal(n, want) {
			t.Errorf("wrong online players: want %q, got %q", want, n)
		}
	}
}

func testDelete(ctx context.Context, s store.Store) func(t *testing.T) {
	return func(t *testing.T) {
		closer(t, s)
		seed(ctx, t, s)
		n, err := s.DeletePlayer(ctx, "kita")
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("deleting existing player removed %d", n)
		}
		if _, err := s.Player(ctx, "kita"); !errors.Is(err, store.ErrNoPlayer) {
			t.Errorf("deleted player still loads: %v", err)
		}
		n, err = s.DeletePlayer(ctx, "kita")
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("deleting missing player removed %d", n)
		}
		if _, err := s.Player(ctx, "bocchi"); err != nil {
			t.Errorf("delete removed another player: %v", err)
		}
	}
}

func testChannels(ctx context.Context, s store.Store) func(t *testing.T) {
	return func(t *testing.T) {
		closer(t, s)
		got, err := s.Channels(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("empty store has channels: %v", got)
		}
		chans := []store.Channel{
			{Key: "libera_#idlerpg", Options: []byte(`{"enabled":true}`)},
			{Key: "libera_#kessoku", Options: []byte(`{"enabled":false,"noticeBattles":false}`)},
		}
		if err := s.SaveChannels(ctx, chans); err != nil {
			t.Fatal(err)
		}
		// Upsert over an existing key.
		chans[0].Options = []byte(`{"enabled":false}`)
		if err := s.SaveChannels(ctx, chans[:1]); err != nil {
			t.Fatal(err)
		}
		got, err = s.Channels(ctx)
		if err != nil {
			t.Fatal(err)
		}
		slices.SortFunc(got, func(a, b store.Channel) int { return strings.Compare(a.Key, b.Key) })
		if diff := cmp.Diff(chans, got); diff != "" {
			t.Errorf("wrong channels (-want +got):\n%s", diff)
		}
	}
}
