package main_test

import (
	"context"
	_ "embed"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	main "github.com/zephyrtronium/idlerpg"
)

//go:embed example.toml
var exampleToml string

func eqcase[T comparable](t *testing.T, name string, val T, eq T) {
	t.Helper()
	if val != eq {
		t.Errorf("wrong %s: want %#v, got %#v", name, eq, val)
	}
}

func TestExampleConfig(t *testing.T) {
	t.Setenv("IDLERPG_DB", "/srv/db")
	t.Setenv("IDLERPG_LIBERA_PASS", "hunter2")
	cfg, md, err := main.Load(context.Background(), strings.NewReader(exampleToml))
	if err != nil {
		t.Fatalf("failed to load example.toml: %v", err)
	}
	if u := md.Undecoded(); len(u) != 0 {
		t.Errorf("undecoded keys: %v", u)
	}

	eqcase(t, "State", cfg.State, `/var/idlerpg/state.toml`)
	eqcase(t, "Game.Enabled", cfg.Game.Enabled, true)
	eqcase(t, "Game.Base", cfg.Game.Base, 600)
	eqcase(t, "Game.Step", cfg.Game.Step, 1.16)
	eqcase(t, "Game.PStep", cfg.Game.PStep, 1.14)
	eqcase(t, "Game.PenaltyLimit", cfg.Game.PenaltyLimit, 0)
	eqcase(t, "Game.Tick", cfg.Game.Tick, 1)
	eqcase(t, "Game.ReportEvery", cfg.Game.ReportEvery, 36000)
	eqcase(t, "Game.ReportCount", cfg.Game.ReportCount, 3)
	eqcase(t, "Game.Autosave", cfg.Game.Autosave, 600)
	eqcase(t, "DB.SQL", cfg.DB.SQL, `file:/srv/db/idlerpg.db`)
	eqcase(t, "DB.KV", cfg.DB.KV, "")
	eqcase(t, "DB.KVFlag", cfg.DB.KVFlag, "")
	eqcase(t, "HTTP.Listen", cfg.HTTP.Listen, ":4959")
	eqcase(t, "len(Networks)", len(cfg.Networks), 2)
	eqcase(t, "Networks[0].ID", cfg.Networks[0].ID, "libera")
	eqcase(t, "Networks[0].Server", cfg.Networks[0].Server, "irc.libera.chat:6697")
	eqcase(t, "Networks[0].TLS", cfg.Networks[0].TLS, true)
	eqcase(t, "Networks[0].Nick", cfg.Networks[0].Nick, "idlerpg")
	eqcase(t, "Networks[0].Pass", cfg.Networks[0].Pass, "hunter2")
	eqcase(t, "Networks[0].Prefix", cfg.Networks[0].Prefix, "!")
	eqcase(t, "Networks[0].Rate.Every", cfg.Networks[0].Rate.Every, 2)
	eqcase(t, "Networks[0].Rate.Num", cfg.Networks[0].Rate.Num, 4)
	eqcase(t, "Networks[1].ID", cfg.Networks[1].ID, "rizon")
	eqcase(t, "Networks[1].TLS", cfg.Networks[1].TLS, false)
	eqcase(t, "Networks[1].Pass", cfg.Networks[1].Pass, "")
	eqcase(t, "Networks[1].Rate.Every", cfg.Networks[1].Rate.Every, 10.1)
	eqcase(t, "Networks[1].Rate.Num", cfg.Networks[1].Rate.Num, 2)
	if diff := cmp.Diff([]string{"idle-rpg", "idle", "irpg"}, cfg.Game.Triggers); diff != "" {
		t.Errorf("wrong Game.Triggers (-want/+got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"#idlerpg", "#kessoku"}, cfg.Networks[0].Channels); diff != "" {
		t.Errorf("wrong Networks[0].Channels (-want/+got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"zephyrtronium"}, cfg.Networks[0].Owners); diff != "" {
		t.Errorf("wrong Networks[0].Owners (-want/+got):\n%s", diff)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, _, err := main.Load(context.Background(), strings.NewReader(`
[db]
kv = '/var/idlerpg/kv'
`))
	if err != nil {
		t.Fatalf("failed to load minimal config: %v", err)
	}
	eqcase(t, "Game.Enabled", cfg.Game.Enabled, false)
	eqcase(t, "Game.Base", cfg.Game.Base, 600)
	eqcase(t, "Game.Step", cfg.Game.Step, 1.16)
	eqcase(t, "Game.PStep", cfg.Game.PStep, 1.14)
	eqcase(t, "Game.ReportCount", cfg.Game.ReportCount, 3)
	eqcase(t, "len(Game.Triggers)", len(cfg.Game.Triggers), 3)
	eqcase(t, "len(Networks)", len(cfg.Networks), 0)
}

func TestConfigInvalid(t *testing.T) {
	cases := []struct {
		name string
		toml string
		err  string
	}{
		{
			name: "no-db",
			toml: ``,
			err:  "exactly one",
		},
		{
			name: "both-db",
			toml: "[db]\nsqlite = 'file:x.db'\nkv = '/kv'",
			err:  "exactly one",
		},
		{
			name: "no-id",
			toml: "[db]\nkv = '/kv'\n[[network]]\nserver = 'irc:6667'\nnick = 'idlerpg'",
			err:  "no id",
		},
		{
			name: "underscore",
			toml: "[db]\nkv = '/kv'\n[[network]]\nid = 'libera_chat'\nserver = 'irc:6667'\nnick = 'idlerpg'",
			err:  "underscore",
		},
		{
			name: "duplicate",
			toml: "[db]\nkv = '/kv'\n[[network]]\nid = 'libera'\nserver = 'irc:6667'\nnick = 'idlerpg'\n[[network]]\nid = 'libera'\nserver = 'irc:6667'\nnick = 'idlerpg'",
			err:  "duplicate",
		},
		{
			name: "no-server",
			toml: "[db]\nkv = '/kv'\n[[network]]\nid = 'libera'\nnick = 'idlerpg'",
			err:  "no server",
		},
		{
			name: "no-nick",
			toml: "[db]\nkv = '/kv'\n[[network]]\nid = 'libera'\nserver = 'irc:6667'",
			err:  "no nick",
		},
		{
			name: "no-rate",
			toml: "[db]\nkv = '/kv'\n[[network]]\nid = 'libera'\nserver = 'irc:6667'\nnick = 'idlerpg'\nrate = { every = 1.0, num = 0 }",
			err:  "rate limit",
		},
		{
			name: "no-triggers",
			toml: "[db]\nkv = '/kv'\n[game]\ntriggers = []",
			err:  "triggers",
		},
		{
			name: "zero-base",
			toml: "[db]\nkv = '/kv'\n[game]\nbase = 0.0",
			err:  "game.base",
		},
		{
			name: "negative-step",
			toml: "[db]\nkv = '/kv'\n[game]\nstep = -1.16",
			err:  "game.step",
		},
		{
			name: "zero-pstep",
			toml: "[db]\nkv = '/kv'\n[game]\npstep = 0.0",
			err:  "game.pstep",
		},
		{
			name: "negative-pstep",
			toml: "[db]\nkv = '/kv'\n[game]\npstep = -1.14",
			err:  "game.pstep",
		},
		{
			name: "syntax",
			toml: "[db",
			err:  "decode",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, err := main.Load(context.Background(), strings.NewReader(c.toml))
			if err == nil {
				t.Fatal("no error")
			}
			if !strings.Contains(err.Error(), c.err) {
				t.Errorf("wrong error: want it to contain %q, got %v", c.err, err)
			}
		})
	}
}
