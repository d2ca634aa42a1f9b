// Package game implements the idle game engine.
//
// An [Engine] owns every player, channel, and network instance in the game.
// All game state changes happen on a single timeline driven by [Engine.Run];
// the exported event methods hand their work to that timeline, and store
// operations run on their own goroutines with results delivered back to it.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"gitlab.com/zephyrtronium/pick"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/zephyrtronium/idlerpg/channel"
	"github.com/zephyrtronium/idlerpg/metrics"
	"github.com/zephyrtronium/idlerpg/player"
	"github.com/zephyrtronium/idlerpg/store"
)

// Config is the game's tunable settings.
type Config struct {
	// Enabled is whether the game is running. Admin commands work regardless.
	Enabled bool `toml:"enabled"`
	// Base is the number of seconds needed to reach level 1.
	Base float64 `toml:"base"`
	// Step is the growth factor of each level's duration.
	Step float64 `toml:"step"`
	// PStep is the growth factor of penalties per level.
	PStep float64 `toml:"pstep"`
	// PenaltyLimit caps a single penalty in seconds. Zero means no limit.
	PenaltyLimit int64 `toml:"penalty_limit"`
	// Tick is the period of game updates in seconds.
	Tick float64 `toml:"tick"`
	// ReportEvery is the number of seconds of game time between top player
	// reports.
	ReportEvery int64 `toml:"report_every"`
	// ReportCount is the number of players in each top player report.
	ReportCount int `toml:"report_count"`
	// Autosave is the number of seconds of game time between saves.
	// Zero disables autosaving; state is still saved on unload.
	Autosave int64 `toml:"autosave"`
	// Triggers are the words which begin a game command.
	Triggers []string `toml:"triggers"`
}

// DefaultConfig returns the default game settings.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Base:        600,
		Step:        1.16,
		PStep:       1.14,
		Tick:        1,
		ReportEvery: 10 * 60 * 60,
		ReportCount: store.DefaultTop,
		Autosave:    10 * 60,
		Triggers:    []string{"idle-rpg", "idle", "irpg"},
	}
}

func (c *Config) tick() time.Duration {
	if c.Tick <= 0 {
		return time.Second
	}
	return time.Duration(c.Tick * float64(time.Second))
}

// Server is a connected chat network instance.
type Server interface {
	// ID returns the instance's unique identifier.
	ID() string
	// Nick returns the bot's nickname on the network.
	Nick() string
	// Say sends a message to a channel or user.
	// It must not wait on the network.
	Say(ctx context.Context, target, text string) error
}

// Host is the process hosting the game.
type Host interface {
	// SaveConfig persists the game's settings.
	SaveConfig(cfg Config) error
	// SentMessage reports a message the game sent.
	SentMessage(instance, nick, target, text string)
}

// Engine is the idle game.
type Engine struct {
	cfg     Config
	curve   player.Curve
	store   store.Store
	host    Host
	log     *slog.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	rng   *rand.Rand
	items *pick.Dist[player.Slot]
	fold  cases.Caser

	triggers []string
	commands []command

	// players maps runtime identities to players.
	players map[string]*player.Player
	// claims are names with registrations in flight.
	claims   map[string]bool
	channels *channel.Registry
	servers  map[string]Server

	// setup is whether first-time setup has happened.
	setup bool
	// last is the time of the last tick.
	last time.Time
	// ticked is the total game time in seconds.
	ticked     int64
	nextReport int64
	nextSave   int64

	inbox chan func(context.Context)
	stop  chan struct{}
	halt  sync.Once
	tasks errgroup.Group

	// ops are store operations waiting to run, in the order they were
	// started. At most one runs at a time.
	opmu     sync.Mutex
	ops      []storeOp
	draining bool
}

type storeOp struct {
	ctx context.Context
	op  func(context.Context) func(context.Context)
}

// New creates a game engine. The engine takes ownership of st.
func New(cfg Config, st store.Store, host Host, log *slog.Logger, m *metrics.Metrics) *Engine {
	e := &Engine{
		cfg:     cfg,
		store:   st,
		host:    host,
		log:     log,
		metrics: m,

		now:   time.Now,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		items: pick.New(itemSlots),
		fold:  cases.Fold(),

		players:  make(map[string]*player.Player),
		claims:   make(map[string]bool),
		channels: channel.NewRegistry(),
		servers:  make(map[string]Server),

		nextSave: cfg.Autosave,

		inbox: make(chan func(context.Context), 64),
		stop:  make(chan struct{}),
	}
	e.curve = player.Curve{
		Base:         cfg.Base,
		Step:         cfg.Step,
		PStep:        cfg.PStep,
		PenaltyLimit: cfg.PenaltyLimit,
	}
	for _, t := range cfg.Triggers {
		e.triggers = append(e.triggers, e.fold.String(t))
	}
	e.commands = e.register(commands)
	return e
}

// Run runs the game timeline until ctx is canceled.
// Run must be called at most once.
func (e *Engine) Run(ctx context.Context) error {
	defer e.halt.Do(func() { close(e.stop) })
	t := time.NewTicker(e.cfg.tick())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			e.guard(ctx, "tick", func(ctx context.Context) { e.tick(ctx, e.now()) })
		case f := <-e.inbox:
			e.guard(ctx, "event", f)
		}
	}
}

// guard runs f, logging rather than propagating any panic.
func (e *Engine) guard(ctx context.Context, what string, f func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "game panicked",
				slog.String("in", what),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	f(ctx)
}

// post hands f to the timeline.
func (e *Engine) post(ctx context.Context, f func(context.Context)) {
	select {
	case <-ctx.Done():
	case <-e.stop:
	case e.inbox <- f:
	}
}

// async runs op off the timeline. If op returns a non-nil function, that
// function runs on the timeline afterward.
// Ops run one at a time in the order async was called, so a store write
// never lands after a later one.
func (e *Engine) async(ctx context.Context, op func(context.Context) func(context.Context)) {
	e.opmu.Lock()
	defer e.opmu.Unlock()
	e.ops = append(e.ops, storeOp{ctx: ctx, op: op})
	if e.draining {
		return
	}
	e.draining = true
	e.tasks.Go(func() error {
		e.drain()
		return nil
	})
}

// drain runs queued ops until none remain.
func (e *Engine) drain() {
	for {
		e.opmu.Lock()
		if len(e.ops) == 0 {
			e.draining = false
			e.opmu.Unlock()
			return
		}
		t := e.ops[0]
		e.ops[0] = storeOp{}
		e.ops = e.ops[1:]
		e.opmu.Unlock()
		if done := t.op(t.ctx); done != nil {
			e.post(t.ctx, done)
		}
	}
}

// Unload saves all game state and closes the store.
// It must not be called while Run is running.
func (e *Engine) Unload(ctx context.Context) error {
	e.halt.Do(func() { close(e.stop) })
	e.tasks.Wait()
	e.log.InfoContext(ctx, "unloading",
		slog.Int("channels", e.channels.Len()),
		slog.Int("players", len(e.players)),
	)
	err := e.write(ctx, e.cfg, e.channelRecords(ctx), e.playerRecords())
	if cerr := e.store.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("couldn't close store: %w", cerr))
	}
	return err
}

// findPlayer returns the online player bound to an identity, or nil.
func (e *Engine) findPlayer(key string) *player.Player {
	p := e.players[key]
	if p == nil || !p.Online() {
		return nil
	}
	return p
}

// named returns a tracked player by name and its identity.
func (e *Engine) named(name string) (string, *player.Player) {
	for k, p := range e.players {
		if p.Name() == name {
			return k, p
		}
	}
	return "", nil
}

// playerKey is the runtime identity of a nick on a network instance.
func playerKey(instance, nick string) string {
	return instance + "_" + nick
}

func (e *Engine) playerRecords() []player.Record {
	seen := make(map[string]bool, len(e.players))
	r := make([]player.Record, 0, len(e.players))
	for _, k := range slices.Sorted(maps.Keys(e.players)) {
		p := e.players[k]
		if seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		r = append(r, p.Record())
	}
	return r
}

func (e *Engine) channelRecords(ctx context.Context) []store.Channel {
	r := make([]store.Channel, 0, e.channels.Len())
	for k, o := range e.channels.All() {
		b, err := o.Encode()
		if err != nil {
			e.log.ErrorContext(ctx, "couldn't encode channel options", slog.String("channel", k), slog.Any("err", err))
			continue
		}
		r = append(r, store.Channel{Key: k, Options: b})
	}
	return r
}

// write persists game settings, channels, and players.
func (e *Engine) write(ctx context.Context, cfg Config, chans []store.Channel, recs []player.Record) error {
	start := time.Now()
	var errs []error
	if err := e.host.SaveConfig(cfg); err != nil {
		errs = append(errs, fmt.Errorf("couldn't save config: %w", err))
	}
	if err := e.store.SaveChannels(ctx, chans); err != nil {
		errs = append(errs, err)
	}
	for _, r := range recs {
		if err := e.store.SavePlayer(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	e.metrics.Saves.Observe(time.Since(start).Seconds())
	e.log.DebugContext(ctx, "saved game",
		slog.Int("channels", len(chans)),
		slog.Int("players", len(recs)),
		slog.Duration("took", time.Since(start)),
	)
	return errors.Join(errs...)
}

// save writes a snapshot of the game off the timeline.
func (e *Engine) save(ctx context.Context) {
	cfg, chans, recs := e.cfg, e.channelRecords(ctx), e.playerRecords()
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		if err := e.write(ctx, cfg, chans, recs); err != nil {
			e.log.ErrorContext(ctx, "couldn't save game", slog.Any("err", err))
		}
		return nil
	})
}

// savePlayer writes a snapshot of one player off the timeline.
func (e *Engine) savePlayer(ctx context.Context, p *player.Player) {
	r := p.Record()
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		if err := e.store.SavePlayer(ctx, r); err != nil {
			e.log.ErrorContext(ctx, "couldn't save player", slog.String("player", r.Name), slog.Any("err", err))
		}
		return nil
	})
}

// saveChannels writes a snapshot of channel settings off the timeline.
func (e *Engine) saveChannels(ctx context.Context) {
	chans := e.channelRecords(ctx)
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		if err := e.store.SaveChannels(ctx, chans); err != nil {
			e.log.ErrorContext(ctx, "couldn't save channels", slog.Any("err", err))
		}
		return nil
	})
}

// saveConfig persists game settings off the timeline.
func (e *Engine) saveConfig(ctx context.Context) {
	cfg := e.cfg
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		if err := e.host.SaveConfig(cfg); err != nil {
			e.log.ErrorContext(ctx, "couldn't save config", slog.Any("err", err))
		}
		return nil
	})
}
