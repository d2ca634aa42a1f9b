package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/zephyrtronium/idlerpg/channel"
	"github.com/zephyrtronium/idlerpg/player"
	"github.com/zephyrtronium/idlerpg/store"
)

// command is a game subcommand.
type command struct {
	// names are the names which invoke the command.
	names []string
	// admin commands work while the game is stopped and in disabled
	// channels.
	admin bool
	// bypass commands work in disabled channels.
	bypass bool
	// perms lists permissions of which the caller must have at least one.
	// Empty means anyone can use the command.
	perms []string
	fn    func(ctx context.Context, e *Engine, call *Context)
}

var adminPerms = []string{"owner", "admin"}

var commands = []command{
	{names: []string{"register"}, fn: cmdRegister},
	{names: []string{"login"}, fn: cmdLogin},
	{names: []string{"logout"}, fn: cmdLogout},
	{names: []string{"whoami", "info"}, bypass: true, fn: cmdWhoami},
	{names: []string{"top"}, bypass: true, fn: cmdTop},
	{names: []string{"help", "commands"}, bypass: true, fn: cmdHelp},
	{names: []string{"start"}, admin: true, perms: adminPerms, fn: cmdStart},
	{names: []string{"stop"}, admin: true, perms: adminPerms, fn: cmdStop},
	{names: []string{"enable"}, admin: true, perms: adminPerms, fn: cmdEnable},
	{names: []string{"disable"}, admin: true, perms: adminPerms, fn: cmdDisable},
	{names: []string{"notice"}, admin: true, perms: adminPerms, fn: cmdNotice},
	{names: []string{"save"}, admin: true, perms: adminPerms, fn: cmdSave},
	{names: []string{"del", "delete"}, admin: true, perms: adminPerms, fn: cmdDel},
	{names: []string{"push"}, admin: true, perms: adminPerms, fn: cmdPush},
	{names: []string{"admin"}, admin: true, perms: []string{"owner"}, fn: cmdAdmin},
}

// register prepares a command table for dispatch.
func (e *Engine) register(cmds []command) []command {
	r := make([]command, len(cmds))
	for i, c := range cmds {
		c.names = slices.Clone(c.names)
		for j, n := range c.names {
			c.names[j] = e.fold.String(n)
		}
		r[i] = c
	}
	return r
}

// dispatch runs a game command. The text must begin with a trigger word
// followed by a command name. Every command matching the name which the
// caller may use runs in table order.
func (e *Engine) dispatch(ctx context.Context, text string, mc *Context) {
	words := strings.Fields(text)
	if len(words) == 0 || !slices.Contains(e.triggers, e.fold.String(words[0])) {
		return
	}
	if len(words) < 2 {
		return
	}
	name := e.fold.String(words[1])
	mc.Command = words[1]
	mc.Args = strings.Join(words[2:], " ")
	for i := range e.commands {
		c := &e.commands[i]
		if !e.cfg.Enabled && !c.admin {
			continue
		}
		if !mc.Enabled && !(c.bypass || c.admin) {
			continue
		}
		if !slices.Contains(c.names, name) {
			continue
		}
		if len(c.perms) != 0 && !slices.ContainsFunc(c.perms, func(p string) bool { return slices.Contains(mc.Permissions, p) }) {
			e.log.DebugContext(ctx, "command requires permissions",
				slog.String("command", name),
				slog.String("nick", mc.Nick),
				slog.Any("perms", mc.Permissions),
			)
			continue
		}
		e.log.InfoContext(ctx, "command",
			slog.String("name", c.names[0]),
			slog.String("instance", mc.Instance),
			slog.String("nick", mc.Nick),
		)
		e.metrics.Commands.Observe(1, c.names[0])
		c.fn(ctx, e, mc)
	}
}

const defaultClass = "idler"

// validName reports whether s can be a player name.
func validName(s string) bool {
	if s == "" || len(s) > 16 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// bind logs p in under an identity. Any other player bound to the identity is
// logged out, and p's previous identity is released.
func (e *Engine) bind(ctx context.Context, id string, p *player.Player) {
	if q := e.players[id]; q != nil && q != p {
		q.Logout()
		e.savePlayer(ctx, q)
	}
	for k, q := range e.players {
		if q == p && k != id {
			delete(e.players, k)
		}
	}
	// A record loaded from the store may still claim to be online.
	p.Logout()
	p.Login(e.now())
	e.players[id] = p
}

func cmdRegister(ctx context.Context, e *Engine, call *Context) {
	if call.Player != nil {
		call.Reply(ctx, fmt.Sprintf("You are already logged in as %s.", call.Player.Name()), "")
		return
	}
	args := strings.Fields(call.Args)
	if len(args) < 2 {
		call.Reply(ctx, "Usage: register <name> <password> [class]", "")
		return
	}
	name, pass := args[0], args[1]
	class := strings.Join(args[2:], " ")
	if class == "" {
		class = defaultClass
	}
	if !validName(name) {
		call.Reply(ctx, "Names must be up to 16 letters, digits, dashes, or underscores.", "")
		return
	}
	if len(class) > 30 {
		call.Reply(ctx, "Classes must be at most 30 characters.", "")
		return
	}
	if _, p := e.named(name); p != nil || e.claims[name] {
		call.Reply(ctx, fmt.Sprintf("The name %s is already taken.", name), "")
		return
	}
	e.claims[name] = true
	id := playerKey(call.Instance, call.Nick)
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		_, err := e.store.Player(ctx, name)
		if err == nil {
			return func(ctx context.Context) {
				delete(e.claims, name)
				call.Reply(ctx, fmt.Sprintf("The name %s is already taken.", name), "")
			}
		}
		if !errors.Is(err, store.ErrNoPlayer) {
			return func(ctx context.Context) {
				delete(e.claims, name)
				e.log.ErrorContext(ctx, "couldn't check player name", slog.String("player", name), slog.Any("err", err))
				call.Reply(ctx, "Registration failed. Try again later.", "")
			}
		}
		hash, err := player.HashPassword(pass)
		return func(ctx context.Context) {
			delete(e.claims, name)
			if err != nil {
				e.log.WarnContext(ctx, "couldn't hash password", slog.String("player", name), slog.Any("err", err))
				call.Reply(ctx, "That password can't be used.", "")
				return
			}
			if q := e.findPlayer(id); q != nil {
				call.Reply(ctx, fmt.Sprintf("You are already logged in as %s.", q.Name()), "")
				return
			}
			p := player.New(&e.curve, name, class)
			p.SetPasswordHash(hash)
			e.bind(ctx, id, p)
			e.savePlayer(ctx, p)
			e.log.InfoContext(ctx, "registered", slog.String("player", name), slog.String("id", id))
			call.Reply(ctx, fmt.Sprintf("Welcome, %s the %s! Next level in %s.", name, class, Duration(p.Next())), "")
			e.sendMessages(ctx, channel.Join, nil, fmt.Sprintf("Welcome %s's new player %s, the %s! Next level in %s.", call.Nick, name, class, Duration(p.Next())))
		}
	})
}

func cmdLogin(ctx context.Context, e *Engine, call *Context) {
	if call.Player != nil {
		call.Reply(ctx, fmt.Sprintf("You are already logged in as %s.", call.Player.Name()), "")
		return
	}
	args := strings.Fields(call.Args)
	if len(args) != 2 {
		call.Reply(ctx, "Usage: login <name> <password>", "")
		return
	}
	name, pass := args[0], args[1]
	if e.claims[name] {
		call.Reply(ctx, fmt.Sprintf("%s is busy. Try again in a moment.", name), "")
		return
	}
	_, tracked := e.named(name)
	if tracked != nil && tracked.Online() {
		call.Reply(ctx, fmt.Sprintf("%s is already logged in.", name), "")
		return
	}
	hash := ""
	if tracked != nil {
		hash = tracked.PasswordHash()
	}
	e.claims[name] = true
	id := playerKey(call.Instance, call.Nick)
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		var rec player.Record
		var err error
		pw := hash
		if tracked == nil {
			rec, err = e.store.Player(ctx, name)
			pw = rec.Pass
		}
		ok := err == nil && player.CheckPassword(pw, pass)
		return func(ctx context.Context) {
			delete(e.claims, name)
			switch {
			case errors.Is(err, store.ErrNoPlayer), err == nil && !ok:
				e.log.InfoContext(ctx, "failed login", slog.String("player", name), slog.String("nick", call.Nick))
				call.Reply(ctx, "Wrong name or password.", "")
				return
			case err != nil:
				e.log.ErrorContext(ctx, "couldn't load player", slog.String("player", name), slog.Any("err", err))
				call.Reply(ctx, "Login failed. Try again later.", "")
				return
			}
			if q := e.findPlayer(id); q != nil {
				call.Reply(ctx, fmt.Sprintf("You are already logged in as %s.", q.Name()), "")
				return
			}
			_, p := e.named(name)
			switch {
			case p != nil && p.Online():
				call.Reply(ctx, fmt.Sprintf("%s is already logged in.", name), "")
				return
			case p == nil && tracked != nil:
				// The player was deleted while we checked the password.
				call.Reply(ctx, "Login failed. Try again later.", "")
				return
			case p == nil:
				var lerr error
				p, lerr = player.Load(&e.curve, rec)
				if lerr != nil {
					e.log.WarnContext(ctx, "couldn't load all of player", slog.String("player", name), slog.Any("err", lerr))
				}
			}
			e.bind(ctx, id, p)
			e.savePlayer(ctx, p)
			e.log.InfoContext(ctx, "login", slog.String("player", name), slog.String("id", id))
			call.Reply(ctx, fmt.Sprintf("Logon successful. Next level in %s.", Duration(p.Next())), "")
			e.sendMessages(ctx, channel.Login, nil, fmt.Sprintf("%s, the level %d %s, is now online from nickname %s. Next level in %s.", p.Name(), p.Level(), p.Class(), call.Nick, Duration(p.Next())))
		}
	})
}

func cmdLogout(ctx context.Context, e *Engine, call *Context) {
	p := call.Player
	if p == nil {
		call.Reply(ctx, "You are not logged in.", "")
		return
	}
	p.Logout()
	e.savePlayer(ctx, p)
	call.Reply(ctx, fmt.Sprintf("%s has been logged out.", p.Name()), "")
}

// describe summarizes a player.
func describe(r player.Record) string {
	eq, _ := r.Equipment()
	var items int
	for _, v := range eq {
		items += v
	}
	status := "offline"
	if r.Online {
		status = "online"
	}
	return fmt.Sprintf("%s, the level %d %s, is %s. Next level in %s. Idled %s. Penalized %s. Item level %d.",
		r.Name, r.Level, r.Class, status, Duration(r.Next), Duration(r.Idled), Duration(r.Penalties), items)
}

func cmdWhoami(ctx context.Context, e *Engine, call *Context) {
	name := strings.TrimSpace(call.Args)
	if name == "" {
		if call.Player == nil {
			call.Reply(ctx, "You are not logged in.", "")
			return
		}
		call.Reply(ctx, describe(call.Player.Record()), "")
		return
	}
	if _, p := e.named(name); p != nil {
		call.Reply(ctx, describe(p.Record()), "")
		return
	}
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		rec, err := e.store.Player(ctx, name)
		return func(ctx context.Context) {
			switch {
			case errors.Is(err, store.ErrNoPlayer):
				call.Reply(ctx, fmt.Sprintf("No player named %s.", name), "")
			case err != nil:
				e.log.ErrorContext(ctx, "couldn't load player", slog.String("player", name), slog.Any("err", err))
			default:
				call.Reply(ctx, describe(rec), "")
			}
		}
	})
}

// maxTop is the most players the top command lists.
const maxTop = 10

func cmdTop(ctx context.Context, e *Engine, call *Context) {
	n := e.cfg.ReportCount
	if a := strings.TrimSpace(call.Args); a != "" {
		v, err := strconv.Atoi(a)
		if err != nil || v < 1 {
			call.Reply(ctx, "Usage: top [count]", "")
			return
		}
		n = min(v, maxTop)
	}
	recs := e.playerRecords()
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		for _, r := range recs {
			if err := e.store.SavePlayer(ctx, r); err != nil {
				e.log.ErrorContext(ctx, "couldn't save player", slog.String("player", r.Name), slog.Any("err", err))
			}
		}
		top, err := e.store.TopPlayers(ctx, n)
		return func(ctx context.Context) {
			if err != nil {
				e.log.ErrorContext(ctx, "couldn't get top players", slog.Any("err", err))
				return
			}
			if len(top) == 0 {
				call.Reply(ctx, "No players found!", "")
				return
			}
			call.Reply(ctx, "Top Players:", "")
			for i, r := range top {
				call.Reply(ctx, fmt.Sprintf("#%d: %s, the level %d %s!", i+1, r.Name, r.Level, r.Class), "")
			}
		}
	})
}

func cmdHelp(ctx context.Context, e *Engine, call *Context) {
	var names []string
	for _, c := range e.commands {
		if len(c.perms) != 0 && !slices.ContainsFunc(c.perms, func(p string) bool { return slices.Contains(call.Permissions, p) }) {
			continue
		}
		names = append(names, c.names[0])
	}
	call.Reply(ctx, fmt.Sprintf("Commands: %s. Use %s <command>.", strings.Join(names, ", "), e.cfg.Triggers[0]), "")
}

func cmdStart(ctx context.Context, e *Engine, call *Context) {
	if e.cfg.Enabled {
		call.Reply(ctx, "The game is already running.", "")
		return
	}
	e.cfg.Enabled = true
	e.saveConfig(ctx)
	e.log.InfoContext(ctx, "game started", slog.String("by", call.Nick))
	call.Reply(ctx, "The game has started.", "")
	e.sendMessages(ctx, channel.Start, nil, startText)
}

func cmdStop(ctx context.Context, e *Engine, call *Context) {
	if !e.cfg.Enabled {
		call.Reply(ctx, "The game is not running.", "")
		return
	}
	e.cfg.Enabled = false
	e.saveConfig(ctx)
	e.log.InfoContext(ctx, "game stopped", slog.String("by", call.Nick))
	call.Reply(ctx, "The game has stopped.", "")
	e.sendMessages(ctx, channel.Admin, nil, "The game has been stopped. Talk freely!")
}

// targetChannel returns the channel key named by an optional argument or the
// channel where the command was sent.
func targetChannel(call *Context, arg string) (key, name string, ok bool) {
	name = arg
	if name == "" {
		name = call.To
	}
	if !channel.IsChannel(name) {
		return "", "", false
	}
	return channel.Key(call.Instance, name), name, true
}

func setEnabled(ctx context.Context, e *Engine, call *Context, enabled bool) {
	key, name, ok := targetChannel(call, strings.TrimSpace(call.Args))
	if !ok {
		call.Reply(ctx, fmt.Sprintf("Usage: %s [channel]", call.Command), "")
		return
	}
	if !e.channels.Exists(key) {
		e.log.InfoContext(ctx, "new channel", slog.String("channel", key))
	}
	e.channels.Options(key).Enabled = enabled
	e.saveChannels(ctx)
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	e.log.InfoContext(ctx, "channel "+state, slog.String("channel", key), slog.String("by", call.Nick))
	call.Reply(ctx, fmt.Sprintf("The game is now %s in %s.", state, name), "")
}

func cmdEnable(ctx context.Context, e *Engine, call *Context) {
	setEnabled(ctx, e, call, true)
}

func cmdDisable(ctx context.Context, e *Engine, call *Context) {
	setEnabled(ctx, e, call, false)
}

func cmdNotice(ctx context.Context, e *Engine, call *Context) {
	args := strings.Fields(call.Args)
	if len(args) < 2 || len(args) > 3 {
		call.Reply(ctx, "Usage: notice <category> on|off [channel]", "")
		return
	}
	cat, ok := channel.ParseCategory(args[0])
	if !ok || cat == channel.Force {
		var names []string
		for _, c := range channel.Categories() {
			names = append(names, c.String())
		}
		call.Reply(ctx, fmt.Sprintf("Categories are %s.", strings.Join(names, ", ")), "")
		return
	}
	var on bool
	switch strings.ToLower(args[1]) {
	case "on":
		on = true
	case "off":
		on = false
	default:
		call.Reply(ctx, "Usage: notice <category> on|off [channel]", "")
		return
	}
	var arg string
	if len(args) == 3 {
		arg = args[2]
	}
	key, name, ok := targetChannel(call, arg)
	if !ok {
		call.Reply(ctx, "Usage: notice <category> on|off [channel]", "")
		return
	}
	e.channels.Options(key).SetNotice(cat, on)
	e.saveChannels(ctx)
	call.Reply(ctx, fmt.Sprintf("Notices of %s are now %s in %s.", cat, args[1], name), "")
}

func cmdSave(ctx context.Context, e *Engine, call *Context) {
	e.save(ctx)
	call.Reply(ctx, "Saving the game.", "")
}

func cmdDel(ctx context.Context, e *Engine, call *Context) {
	name := strings.TrimSpace(call.Args)
	if name == "" {
		call.Reply(ctx, "Usage: del <name>", "")
		return
	}
	tracked := false
	for k, p := range e.players {
		if p.Name() == name {
			delete(e.players, k)
			tracked = true
		}
	}
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		n, err := e.store.DeletePlayer(ctx, name)
		return func(ctx context.Context) {
			if err != nil {
				e.log.ErrorContext(ctx, "couldn't delete player", slog.String("player", name), slog.Any("err", err))
				call.Reply(ctx, fmt.Sprintf("Couldn't delete %s.", name), "")
				return
			}
			if n == 0 && !tracked {
				call.Reply(ctx, fmt.Sprintf("No player named %s.", name), "")
				return
			}
			e.log.InfoContext(ctx, "deleted player", slog.String("player", name), slog.String("by", call.Nick))
			call.Reply(ctx, fmt.Sprintf("Deleted %s.", name), "")
			e.sendMessages(ctx, channel.Del, nil, fmt.Sprintf("%s has been deleted.", name))
		}
	})
}

func cmdPush(ctx context.Context, e *Engine, call *Context) {
	args := strings.Fields(call.Args)
	if len(args) != 2 {
		call.Reply(ctx, "Usage: push <name> <seconds>", "")
		return
	}
	name := args[0]
	_, p := e.named(name)
	if p == nil {
		call.Reply(ctx, fmt.Sprintf("%s is not playing right now.", name), "")
		return
	}
	secs, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		call.Reply(ctx, fmt.Sprintf("Can't push %s by %s.", name, DurationText(args[1])), "")
		return
	}
	p.Adjust(-secs)
	var msg string
	if secs >= 0 {
		msg = fmt.Sprintf("%s has been pushed %s toward level %d. Next level in %s.", name, Duration(secs), p.Level()+1, Duration(p.Next()))
	} else {
		msg = fmt.Sprintf("%s has been pushed %s away from level %d. Next level in %s.", name, Duration(-secs), p.Level()+1, Duration(p.Next()))
	}
	call.Reply(ctx, msg, "")
	e.sendMessages(ctx, channel.Push, nil, msg)
}

func cmdAdmin(ctx context.Context, e *Engine, call *Context) {
	args := strings.Fields(call.Args)
	if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
		call.Reply(ctx, "Usage: admin <name> on|off", "")
		return
	}
	_, p := e.named(args[0])
	if p == nil {
		call.Reply(ctx, fmt.Sprintf("%s is not playing right now.", args[0]), "")
		return
	}
	p.SetAdmin(args[1] == "on")
	e.savePlayer(ctx, p)
	call.Reply(ctx, fmt.Sprintf("%s is now %s.", p.Name(), map[bool]string{true: "an admin", false: "not an admin"}[p.Admin()]), "")
}
