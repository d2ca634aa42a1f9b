package game

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/zephyrtronium/idlerpg/metrics"
	"github.com/zephyrtronium/idlerpg/player"
)

func TestTickLevelUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	f.enable("#kessoku")
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	q := f.join(ctx, "ryo", "ryo", "bassist")
	q.Logout()
	p.Adjust(-595)
	f.e.tick(ctx, epoch.Add(5*time.Second))
	settle(ctx, f.e)
	if p.Level() != 1 || p.Next() != 696 {
		t.Errorf("wrong progress: level %d, next %d", p.Level(), p.Next())
	}
	if q.Level() != 0 || q.Next() != 600 {
		t.Errorf("offline player progressed: level %d, next %d", q.Level(), q.Next())
	}
	msgs := f.srv.to("#kessoku")
	if !slices.Contains(msgs, "IdleRPG: bocchi, the guitarist, has attained level 1! Next level in 0 days, 00:11:36.") {
		t.Errorf("no level up announcement in %q", msgs)
	}
	if !hasPrefix(msgs, "IdleRPG: bocchi found a level 1 ") {
		t.Errorf("no item find in %q", msgs)
	}
	if !slices.Contains(msgs, "IdleRPG: Top Players:") {
		t.Errorf("no top players report in %q", msgs)
	}
	if !hasPrefix(msgs, "IdleRPG: #1: bocchi, the level ") {
		t.Errorf("no top player in %q", msgs)
	}
	if p.ItemSum() != 1 {
		t.Errorf("found item not equipped: sum %d", p.ItemSum())
	}
	f.srv.take()

	// The next report waits for more game time.
	f.e.tick(ctx, epoch.Add(6*time.Second))
	settle(ctx, f.e)
	if msgs := f.srv.to("#kessoku"); len(msgs) != 0 {
		t.Errorf("unexpected messages %q", msgs)
	}
	if p.Next() != 695 || p.Idled() != 6 {
		t.Errorf("wrong progress: next %d, idled %d", p.Next(), p.Idled())
	}
}

func TestTickReportPeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	f.enable("#kessoku")
	f.join(ctx, "bocchi", "bocchi", "guitarist")
	f.e.cfg.ReportEvery = 10
	reports := 0
	for i := range 25 {
		f.e.tick(ctx, epoch.Add(time.Duration(i+1)*time.Second))
		settle(ctx, f.e)
		for _, m := range f.srv.take() {
			if m.text == "IdleRPG: Top Players:" {
				reports++
			}
		}
	}
	// Reports at 0, 10, and 20 seconds of game time.
	if reports != 3 {
		t.Errorf("wrong number of reports: %d", reports)
	}
}

func TestTickStopped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	f.e.cfg.Enabled = false
	f.e.tick(ctx, epoch.Add(100*time.Second))
	if p.Next() != 600 {
		t.Errorf("player progressed while stopped: %d", p.Next())
	}
	// Time spent stopped does not count once the game starts again.
	f.e.cfg.Enabled = true
	f.e.tick(ctx, epoch.Add(101*time.Second))
	if p.Next() != 599 {
		t.Errorf("wrong progress after restart: %d", p.Next())
	}
}

func TestTickBeforeSetup(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = true
	e := New(cfg, newMemStore(), new(fakeHost), discard(), metrics.New())
	p := player.New(&e.curve, "bocchi", "guitarist")
	p.Login(epoch)
	e.players[playerKey("libera", "bocchi")] = p
	e.tick(ctx, epoch)
	if p.Next() != 600 {
		t.Errorf("player progressed before setup: %d", p.Next())
	}
}

func TestAutosave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	f.e.nextReport = 1 << 40
	f.e.cfg.Autosave = 10
	f.e.nextSave = 10
	f.e.tick(ctx, epoch.Add(9*time.Second))
	settle(ctx, f.e)
	if r, _ := f.st.get("bocchi"); r.Idled != 0 {
		t.Errorf("saved early: %+v", r)
	}
	f.e.tick(ctx, epoch.Add(10*time.Second))
	settle(ctx, f.e)
	r, _ := f.st.get("bocchi")
	if r.Idled != 10 || r.Next != p.Next() {
		t.Errorf("wrong autosave: %+v", r)
	}
	if f.e.nextSave != 20 {
		t.Errorf("wrong next save %d", f.e.nextSave)
	}
}

func TestBattle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	f.enable("#kessoku")
	load := func(name, class string, level int) *player.Player {
		p, err := player.Load(&f.e.curve, player.Record{Name: name, Class: class, Level: level, Next: 1000})
		if err != nil {
			t.Fatal(err)
		}
		f.e.bind(ctx, playerKey("libera", name), p)
		return p
	}
	p := load("bocchi", "guitarist", 5)
	load("ryo", "bassist", 8)
	settle(ctx, f.e)
	f.e.battle(ctx, p)
	msgs := f.srv.to("#kessoku")
	if len(msgs) != 1 || !strings.Contains(msgs[0], "has challenged ryo") {
		t.Errorf("wrong battle messages %q", msgs)
	}
	switch p.Next() {
	case 930, 1070: // ok
	default:
		t.Errorf("wrong next after battle: %d", p.Next())
	}
}

func TestBattleLowLevel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	f.enable("#kessoku")
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	f.join(ctx, "ryo", "ryo", "bassist")
	f.e.battle(ctx, p)
	if msgs := f.srv.take(); len(msgs) != 0 {
		t.Errorf("low level player battled: %v", msgs)
	}
}

func TestFindItemKeepsBetter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	for _, s := range player.Slots {
		p.SetItem(s, 100)
	}
	f.e.findItem(ctx, p)
	for _, s := range player.Slots {
		if p.Item(s) != 100 {
			t.Errorf("worse item replaced %v: %d", s, p.Item(s))
		}
	}
}
