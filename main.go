package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/zephyrtronium/idlerpg/game"
	"github.com/zephyrtronium/idlerpg/metrics"
	"github.com/zephyrtronium/idlerpg/player"
)

var app = cli.Command{
	Name:  "idlerpg",
	Usage: "Idle RPG chat game",

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
	},
	Commands: []*cli.Command{
		{
			Name:   "init",
			Usage:  "Create the game database without serving",
			Action: cliInit,
		},
		{
			Name:    "top",
			Aliases: []string{"leaderboard"},
			Usage:   "Print the top players",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "n",
					Usage: "Number of players to print",
					Value: 10,
				},
			},
			Action: cliTop,
		},
		{
			Name:      "player",
			Usage:     "Print a player's record",
			ArgsUsage: "NAME",
			Action:    cliPlayer,
		},
	},
	Action: cliRun,

	Authors: []any{
		"Branden J Brown  @zephyrtronium",
	},
	Copyright: "Copyright 2024 Branden J Brown",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
	}
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	st, err := loadStore(ctx, cfg.DB)
	if err != nil {
		return err
	}
	m := metrics.New()
	h := &host{state: cfg.State, log: slog.Default()}
	engine := game.New(cfg.Game, st, h, slog.Default(), m)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return engine.Run(gctx) })
	for _, n := range cfg.Networks {
		nw := newNetwork(n, engine, slog.Default())
		group.Go(func() error { return nw.run(gctx) })
	}
	if cfg.HTTP.Listen != "" {
		a := &api{store: st, log: slog.Default()}
		group.Go(func() error { return a.serve(gctx, cfg.HTTP.Listen, m.Collectors()) })
	}
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	// The run context is done by now, so unloading gets its own.
	uctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if uerr := engine.Unload(uctx); uerr != nil {
		err = errors.Join(err, fmt.Errorf("couldn't unload game: %w", uerr))
	}
	return err
}

func cliInit(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	// Opening the store creates its schema.
	st, err := loadStore(ctx, cfg.DB)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "initialized game database")
	return st.Close()
}

func cliTop(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	st, err := loadStore(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer st.Close()
	top, err := st.TopPlayers(ctx, int(cmd.Int("n")))
	if err != nil {
		return fmt.Errorf("couldn't get top players: %w", err)
	}
	for i, r := range top {
		fmt.Printf("%d. %s\n", i+1, recordText(r))
	}
	return nil
}

func cliPlayer(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	name := cmd.Args().First()
	if name == "" {
		return errors.New("no player name given")
	}
	cfg, err := loadConfig(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	st, err := loadStore(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer st.Close()
	r, err := st.Player(ctx, name)
	if err != nil {
		return fmt.Errorf("couldn't get player %s: %w", name, err)
	}
	fmt.Println(recordText(r))
	eq, err := r.Equipment()
	if err != nil {
		return err
	}
	for _, s := range player.Slots {
		fmt.Printf("  %-7s %d\n", s, eq[s])
	}
	return nil
}

// recordText formats a player record for the terminal.
func recordText(r player.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, the level %d %s", r.Name, r.Level, r.Class)
	if r.Online {
		b.WriteString(" (online)")
	}
	if r.IsAdmin {
		b.WriteString(" (admin)")
	}
	fmt.Fprintf(&b, ": next level in %s, idled %s, penalized %s", game.Duration(r.Next), game.Duration(r.Idled), game.Duration(r.Penalties))
	return b.String()
}

var (
	flagConfig = cli.StringFlag{
		Name:       "config",
		Required:   true,
		Usage:      "TOML config file",
		Persistent: true,
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, either text or json",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}
)

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	var h slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	}
	return slog.New(h)
}
