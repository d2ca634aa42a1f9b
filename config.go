package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/idlerpg/game"
	"github.com/zephyrtronium/idlerpg/store"
	"github.com/zephyrtronium/idlerpg/store/kvstore"
	"github.com/zephyrtronium/idlerpg/store/sqlstore"
)

// Load loads configuration from TOML.
// Game settings absent from the TOML keep their defaults.
func Load(ctx context.Context, r io.Reader) (*Config, *toml.MetaData, error) {
	cfg := Config{Game: game.DefaultConfig()}
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	expandcfg(&cfg, os.Getenv)
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, &md, nil
}

// loadConfig opens and loads the config file, including saved game state.
func loadConfig(ctx context.Context, file string) (*Config, error) {
	r, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer r.Close()
	cfg, md, err := Load(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("couldn't load config: %w", err)
	}
	for _, k := range md.Undecoded() {
		slog.WarnContext(ctx, "unknown config key", slog.String("key", k.String()))
	}
	if err := loadState(cfg.State, &cfg.Game); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("bad game state in %s: %w", cfg.State, err)
	}
	return cfg, nil
}

// Config is the marshaled structure of the bot's configuration.
type Config struct {
	// State is the path to a file in which the bot persists game settings
	// changed while running. Settings in it override the game table.
	State string `toml:"state"`
	// Game is the game settings.
	Game game.Config `toml:"game"`
	// DB is the table of database connection strings.
	DB DBCfg `toml:"db"`
	// HTTP is the configuration of the HTTP API.
	HTTP HTTPCfg `toml:"http"`
	// Networks are the chat networks to connect to.
	Networks []NetworkCfg `toml:"network"`
}

// DBCfg is the configuration of the game database. Exactly one of SQL and
// KV must be given.
type DBCfg struct {
	// SQL is the sqlite connection string.
	SQL string `toml:"sqlite"`
	// KV is the badger directory.
	KV string `toml:"kv"`
	// KVFlag is a badger option superflag.
	KVFlag string `toml:"kvflag"`
}

type HTTPCfg struct {
	// Listen is the address on which to serve the API.
	// If empty, there is no HTTP server.
	Listen string `toml:"listen"`
}

// NetworkCfg is the configuration for one IRC network instance.
type NetworkCfg struct {
	// ID names the instance. It must be unique and must not contain an
	// underscore.
	ID string `toml:"id"`
	// Server is the address of the IRC server as host:port.
	Server string `toml:"server"`
	// TLS is whether to connect using TLS.
	TLS bool `toml:"tls"`
	// Nick is the bot's nickname.
	Nick string `toml:"nick"`
	// Pass is the server password, if any.
	Pass string `toml:"pass"`
	// Channels are the channels to join.
	Channels []string `toml:"channels"`
	// Prefix begins messages addressed to the bot, in addition to the bot's
	// own nick.
	Prefix string `toml:"prefix"`
	// Owners are nicks with owner permissions.
	Owners []string `toml:"owners"`
	// Rate is the rate limit for sending messages.
	Rate Rate `toml:"rate"`
}

// Rate is a rate limit configuration.
type Rate struct {
	Every float64 `toml:"every"`
	Num   int     `toml:"num"`
}

func (c *Config) validate() error {
	if (c.DB.SQL == "") == (c.DB.KV == "") {
		return errors.New("exactly one of db.sqlite and db.kv must be set")
	}
	seen := make(map[string]bool, len(c.Networks))
	for i, n := range c.Networks {
		switch {
		case n.ID == "":
			return fmt.Errorf("network %d has no id", i)
		case strings.Contains(n.ID, "_"):
			return fmt.Errorf("network id %q contains an underscore", n.ID)
		case seen[n.ID]:
			return fmt.Errorf("duplicate network id %q", n.ID)
		case n.Server == "":
			return fmt.Errorf("network %q has no server", n.ID)
		case n.Nick == "":
			return fmt.Errorf("network %q has no nick", n.ID)
		case n.Rate.Every > 0 && n.Rate.Num < 1:
			return fmt.Errorf("network %q rate limit allows no messages", n.ID)
		}
		seen[n.ID] = true
	}
	if len(c.Game.Triggers) == 0 {
		return errors.New("game.triggers must not be empty")
	}
	switch {
	case c.Game.Base <= 0:
		return fmt.Errorf("game.base must be positive, not %v", c.Game.Base)
	case c.Game.Step <= 0:
		return fmt.Errorf("game.step must be positive, not %v", c.Game.Step)
	case c.Game.PStep <= 0:
		return fmt.Errorf("game.pstep must be positive, not %v", c.Game.PStep)
	}
	return nil
}

func expandcfg(cfg *Config, expand func(s string) string) {
	fields := []*string{
		&cfg.State,
		&cfg.DB.SQL,
		&cfg.DB.KV,
		&cfg.DB.KVFlag,
		&cfg.HTTP.Listen,
	}
	for _, f := range fields {
		*f = os.Expand(*f, expand)
	}
	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		n.Server = os.Expand(n.Server, expand)
		n.Nick = os.Expand(n.Nick, expand)
		n.Pass = os.Expand(n.Pass, expand)
		for j, s := range n.Channels {
			n.Channels[j] = os.Expand(s, expand)
		}
	}
}

func fseconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// loadState applies saved game settings. A missing state file is not an
// error.
func loadState(file string, cfg *game.Config) error {
	if file == "" {
		return nil
	}
	_, err := toml.DecodeFile(file, cfg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("couldn't load game state: %w", err)
	}
}

// saveState writes game settings to the state file.
func saveState(file string, cfg game.Config) error {
	f, err := os.CreateTemp(filepath.Dir(file), filepath.Base(file)+".*")
	if err != nil {
		return fmt.Errorf("couldn't create game state file: %w", err)
	}
	defer os.Remove(f.Name())
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("couldn't write game state: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("couldn't write game state: %w", err)
	}
	if err := os.Rename(f.Name(), file); err != nil {
		return fmt.Errorf("couldn't replace game state: %w", err)
	}
	return nil
}

// loadStore opens the game database.
func loadStore(ctx context.Context, cfg DBCfg) (store.Store, error) {
	if cfg.KV != "" {
		slog.DebugContext(ctx, "using kv store", slog.String("path", cfg.KV), slog.String("flags", cfg.KVFlag))
		opts := badger.DefaultOptions(cfg.KV)
		opts = opts.WithLogger(nil)
		opts = opts.WithCompression(options.None)
		opts = opts.WithBloomFalsePositive(0)
		db, err := badger.Open(opts.FromSuperFlag(cfg.KVFlag))
		if err != nil {
			return nil, fmt.Errorf("couldn't open kv store: %w", err)
		}
		return kvstore.New(db), nil
	}
	slog.DebugContext(ctx, "using sqlite store", slog.String("path", cfg.SQL))
	pool, err := sqlitex.NewPool(cfg.SQL, sqlitex.PoolOptions{PrepareConn: sqlstore.RecommendedPrep})
	if err != nil {
		return nil, fmt.Errorf("couldn't open sqlite store: %w", err)
	}
	st, err := sqlstore.Open(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("couldn't open sqlite store: %w", err)
	}
	return st, nil
}
