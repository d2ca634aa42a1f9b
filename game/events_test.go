package game

import (
	"context"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/idlerpg/channel"
	"github.com/zephyrtronium/idlerpg/metrics"
	"github.com/zephyrtronium/idlerpg/player"
)

func TestPenalizeMessage(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		enable  bool
		running bool
		nick    string
		to      string
		text    string
		want    int64
		reply   []said
	}{
		{
			name:    "penalized",
			enable:  true,
			running: true,
			nick:    "bocchi",
			to:      "#kessoku",
			text:    "hello world!",
			want:    612,
			reply: []said{
				{"bocchi", "IdleRPG: For the disgraceful act of sending a message in #kessoku, you have been penalized 12 seconds."},
			},
		},
		{
			name:    "runes",
			enable:  true,
			running: true,
			nick:    "bocchi",
			to:      "#kessoku",
			text:    "ぼっち",
			want:    603,
			reply: []said{
				{"bocchi", "IdleRPG: For the disgraceful act of sending a message in #kessoku, you have been penalized 3 seconds."},
			},
		},
		{
			name:    "disabled-channel",
			enable:  false,
			running: true,
			nick:    "bocchi",
			to:      "#kessoku",
			text:    "hello world!",
			want:    600,
		},
		{
			name:    "stopped",
			enable:  true,
			running: false,
			nick:    "bocchi",
			to:      "#kessoku",
			text:    "hello world!",
			want:    600,
		},
		{
			name:    "private",
			enable:  true,
			running: true,
			nick:    "bocchi",
			to:      "idlebot",
			text:    "hello world!",
			want:    600,
		},
		{
			name:    "someone-else",
			enable:  true,
			running: true,
			nick:    "ryo",
			to:      "#kessoku",
			text:    "hello world!",
			want:    600,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(ctx, t, nil)
			p := f.join(ctx, "bocchi", "bocchi", "guitarist")
			if c.enable {
				f.enable("#kessoku")
			}
			f.e.cfg.Enabled = c.running
			mc := &Context{Instance: "libera", Nick: c.nick, To: c.to}
			f.e.handleMessage(ctx, c.text, mc)
			settle(ctx, f.e)
			if got := p.Next(); got != c.want {
				t.Errorf("wrong next: want %d, got %d", c.want, got)
			}
			if diff := cmp.Diff(c.reply, f.srv.take(), cmp.AllowUnexported(said{})); diff != "" {
				t.Errorf("wrong messages (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPenalizeNotice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	f.enable("#kessoku")
	f.e.notice(ctx, "libera", "bocchi", "#kessoku", "rock")
	if got := p.Next(); got != 604 {
		t.Errorf("wrong next after channel notice: %d", got)
	}
	f.e.notice(ctx, "libera", "bocchi", "idlebot", "rock")
	if got := p.Next(); got != 604 {
		t.Errorf("private notice penalized: %d", got)
	}
}

func TestUnknownInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	f.enable("#kessoku")
	mc := &Context{Instance: "rizon", Nick: "bocchi", To: "#kessoku"}
	f.e.handleMessage(ctx, "hello", mc)
	if p.Next() != 600 {
		t.Errorf("message from unknown instance penalized: %d", p.Next())
	}
}

func TestProcessContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	p.SetAdmin(true)
	f.enable("#kessoku")
	mc := &Context{Instance: "libera", Nick: "bocchi", To: "#kessoku", Permissions: []string{"voice"}}
	if !f.e.processContext(mc) {
		t.Fatal("known instance rejected")
	}
	if mc.PM() || mc.Channel != "libera_#kessoku" || !mc.Enabled {
		t.Errorf("wrong channel info: pm=%t channel=%q enabled=%t", mc.PM(), mc.Channel, mc.Enabled)
	}
	if mc.Player != p {
		t.Errorf("wrong player %v", mc.Player)
	}
	if !slices.Equal(mc.Permissions, []string{"voice", "admin"}) {
		t.Errorf("wrong permissions %q", mc.Permissions)
	}

	pm := &Context{Instance: "libera", Nick: "ryo", To: "idlebot"}
	if !f.e.processContext(pm) {
		t.Fatal("known instance rejected")
	}
	if !pm.PM() || !pm.Enabled || pm.Player != nil {
		t.Errorf("wrong private context: pm=%t enabled=%t player=%v", pm.PM(), pm.Enabled, pm.Player)
	}
	pm.Reply(ctx, "hi", "")
	mc.Reply(ctx, "hi", "")
	mc.Reply(ctx, "hi", "bocchi")
	want := []said{{"ryo", "IdleRPG: hi"}, {"#kessoku", "IdleRPG: hi"}, {"bocchi", "IdleRPG: hi"}}
	if diff := cmp.Diff(want, f.srv.take(), cmp.AllowUnexported(said{})); diff != "" {
		t.Errorf("wrong replies (-want +got):\n%s", diff)
	}
}

func TestNick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	f.e.nick(ctx, "libera", "bocchi", "hitori")
	settle(ctx, f.e)
	if q := f.e.findPlayer(playerKey("libera", "bocchi")); q != nil {
		t.Errorf("player still bound to old nick: %v", q.Name())
	}
	if q := f.e.findPlayer(playerKey("libera", "hitori")); q != p {
		t.Errorf("player not bound to new nick: %v", q)
	}
	if p.Next() != 630 {
		t.Errorf("wrong next after nick change: %d", p.Next())
	}
	want := []said{{"hitori", "IdleRPG: You have been penalized 30 seconds for nick changing."}}
	if diff := cmp.Diff(want, f.srv.take(), cmp.AllowUnexported(said{})); diff != "" {
		t.Errorf("wrong messages (-want +got):\n%s", diff)
	}
}

func TestNickDisplaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	q := f.join(ctx, "ryo", "ryo", "bassist")
	f.e.nick(ctx, "libera", "bocchi", "ryo")
	settle(ctx, f.e)
	if q.Online() {
		t.Error("displaced player still online")
	}
	if r := f.e.findPlayer(playerKey("libera", "ryo")); r != p {
		t.Errorf("wrong player bound to nick: %v", r)
	}
	if r, ok := f.st.get("ryo"); !ok || r.Online {
		t.Errorf("displaced player not saved offline: %+v", r)
	}
}

func TestNickStopped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	f.e.cfg.Enabled = false
	f.e.nick(ctx, "libera", "bocchi", "hitori")
	if f.e.players[playerKey("libera", "hitori")] != p {
		t.Error("player not rebound while stopped")
	}
	if p.Next() != 600 {
		t.Errorf("penalized while stopped: %d", p.Next())
	}
}

func TestDepart(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		enable bool
		ch     string
		f      func(e *Engine, ctx context.Context, instance, ch, nick string)
		want   int64
		msg    []said
	}{
		{
			name:   "part",
			enable: true,
			ch:     "#kessoku",
			f:      (*Engine).part,
			want:   800,
			msg:    []said{{"bocchi", "IdleRPG: You have been penalized 200 seconds for parting #kessoku."}},
		},
		{
			name:   "kick",
			enable: true,
			ch:     "#kessoku",
			f:      (*Engine).kick,
			want:   850,
			msg:    []said{{"bocchi", "IdleRPG: You have been penalized 250 seconds for getting kicked from #kessoku."}},
		},
		{
			name:   "part-disabled",
			enable: false,
			ch:     "#kessoku",
			f:      (*Engine).part,
			want:   600,
		},
		{
			name:   "kick-unknown",
			enable: true,
			ch:     "#starry",
			f:      (*Engine).kick,
			want:   600,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(ctx, t, nil)
			p := f.join(ctx, "bocchi", "bocchi", "guitarist")
			if c.enable {
				f.enable("#kessoku")
			}
			c.f(f.e, ctx, "libera", c.ch, "bocchi")
			settle(ctx, f.e)
			if p.Next() != c.want {
				t.Errorf("wrong next: want %d, got %d", c.want, p.Next())
			}
			if diff := cmp.Diff(c.msg, f.srv.take(), cmp.AllowUnexported(said{})); diff != "" {
				t.Errorf("wrong messages (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQuit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	f.e.quit(ctx, "libera", "bocchi")
	settle(ctx, f.e)
	if p.Online() {
		t.Error("player online after quit")
	}
	if p.Next() != 620 {
		t.Errorf("wrong next after quit: %d", p.Next())
	}
	r, ok := f.st.get("bocchi")
	if !ok || r.Online || r.Next != 620 {
		t.Errorf("wrong saved record after quit: %+v", r)
	}
	// Quitting again does nothing.
	f.e.quit(ctx, "libera", "bocchi")
	if p.Next() != 620 {
		t.Errorf("offline player penalized: %d", p.Next())
	}
}

func TestConnectSetup(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.chans["libera_#kessoku"] = []byte(`{"enabled":true,"noticeStart":true}`)
	st.chans["libera_#starry"] = []byte(`{"enabled":false}`)
	st.chans["rizon_#kessoku"] = []byte(`{"enabled":true}`)
	st.players["ryo"] = player.Record{Name: "ryo", Class: "bassist", Online: true, Level: 3, Next: 100}
	f := newFixture(ctx, t, st)
	// newFixture discards setup messages, so check state instead.
	o, ok := f.e.channels.Lookup("libera_#kessoku")
	if !ok || !o.Enabled {
		t.Errorf("channel not loaded: %v, %t", o, ok)
	}
	if o, ok := f.e.channels.Lookup("libera_#starry"); !ok || o.Enabled {
		t.Errorf("disabled channel loaded wrong: %v, %t", o, ok)
	}
	if r, _ := st.get("ryo"); r.Online {
		t.Error("stale player left online")
	}

	// Reconnecting announces only on the reconnected instance.
	rizon := &fakeServer{id: "rizon", nick: "idlebot"}
	f.e.connect(ctx, rizon)
	settle(ctx, f.e)
	if got := f.srv.take(); len(got) != 0 {
		t.Errorf("announced on other instance: %v", got)
	}
	want := []said{{"#kessoku", "IdleRPG: " + startText}}
	if diff := cmp.Diff(want, rizon.take(), cmp.AllowUnexported(said{})); diff != "" {
		t.Errorf("wrong messages (-want +got):\n%s", diff)
	}
}

func TestConnectAnnounces(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.chans["libera_#kessoku"] = []byte(`{"enabled":true}`)
	st.chans["libera_#quiet"] = []byte(`{"enabled":true,"noticeStart":false}`)
	cfg := DefaultConfig()
	cfg.Enabled = true
	e := New(cfg, st, new(fakeHost), discard(), metrics.New())
	srv := &fakeServer{id: "libera", nick: "idlebot"}
	e.connect(ctx, srv)
	settle(ctx, e)
	want := []said{{"#kessoku", "IdleRPG: " + startText}}
	if diff := cmp.Diff(want, srv.take(), cmp.AllowUnexported(said{})); diff != "" {
		t.Errorf("wrong messages (-want +got):\n%s", diff)
	}
}

func TestSendMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	f.enable("#kessoku")
	f.enable("#quiet").SetNotice(channel.Level, false)
	f.e.channels.Options("libera_#starry")
	f.e.channels.Options("rizon_#kessoku").Enabled = true

	f.e.sendMessages(ctx, channel.Level, nil, "a", "b")
	want := []said{{"#kessoku", "IdleRPG: a"}, {"#kessoku", "IdleRPG: b"}}
	if diff := cmp.Diff(want, f.srv.take(), cmp.AllowUnexported(said{})); diff != "" {
		t.Errorf("wrong category broadcast (-want +got):\n%s", diff)
	}

	f.e.sendMessages(ctx, channel.Force, nil, "c")
	want = []said{{"#kessoku", "IdleRPG: c"}, {"#quiet", "IdleRPG: c"}}
	if diff := cmp.Diff(want, f.srv.take(), cmp.AllowUnexported(said{})); diff != "" {
		t.Errorf("wrong forced broadcast (-want +got):\n%s", diff)
	}

	only := func(key string, o *channel.Options) bool { return key == "libera_#quiet" }
	f.e.sendMessages(ctx, channel.Force, only, "d")
	want = []said{{"#quiet", "IdleRPG: d"}}
	if diff := cmp.Diff(want, f.srv.take(), cmp.AllowUnexported(said{})); diff != "" {
		t.Errorf("wrong filtered broadcast (-want +got):\n%s", diff)
	}

	if f.host.sent != 5 {
		t.Errorf("host saw %d sent messages, want 5", f.host.sent)
	}
}

func TestSendDrops(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	f.e.send(ctx, nil, "#kessoku", "a")
	f.e.send(ctx, f.srv, "", "a")
	f.e.send(ctx, f.srv, "#kessoku", "")
	if got := f.srv.take(); len(got) != 0 {
		t.Errorf("sent %v", got)
	}
	if f.host.sent != 0 {
		t.Errorf("host saw %d sent messages", f.host.sent)
	}
}

func TestQuitStopped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	f.enable("#kessoku")
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	p.SetAdmin(true)
	f.e.cfg.Enabled = false
	f.e.quit(ctx, "libera", "bocchi")
	settle(ctx, f.e)
	if p.Online() {
		t.Error("player online after quit")
	}
	if p.Next() != 600 {
		t.Errorf("player penalized while stopped: %d", p.Next())
	}
	if r, ok := f.st.get("bocchi"); !ok || r.Online {
		t.Errorf("wrong saved record after quit: %+v, %t", r, ok)
	}
	// Whoever takes the nick next is not the quitter.
	f.command(ctx, "bocchi", "#kessoku", "idle start")
	if f.e.cfg.Enabled {
		t.Error("new user on the nick had admin permissions")
	}
	if msgs := f.srv.take(); len(msgs) != 0 {
		t.Errorf("unexpected messages %v", msgs)
	}
}

func TestReconnectLogsOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(ctx, t, nil)
	p := f.join(ctx, "bocchi", "bocchi", "guitarist")
	rizon := &fakeServer{id: "rizon", nick: "idlebot"}
	f.e.connect(ctx, rizon)
	q := player.New(&f.e.curve, "ryo", "bassist")
	f.e.bind(ctx, playerKey("rizon", "ryo"), q)
	settle(ctx, f.e)

	f.e.connect(ctx, f.srv)
	settle(ctx, f.e)
	if p.Online() {
		t.Error("player still online after reconnect")
	}
	if f.e.players[playerKey("libera", "bocchi")] != nil {
		t.Error("player still bound after reconnect")
	}
	if r, ok := f.st.get("bocchi"); !ok || r.Online {
		t.Errorf("wrong saved record after reconnect: %+v, %t", r, ok)
	}
	if !q.Online() || f.e.findPlayer(playerKey("rizon", "ryo")) != q {
		t.Error("player on another instance logged out")
	}
}
