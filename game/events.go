package game

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/zephyrtronium/idlerpg/channel"
	"github.com/zephyrtronium/idlerpg/message"
	"github.com/zephyrtronium/idlerpg/player"
)

// Context describes the origin of a chat message.
// The engine fills the unexported fields and those documented as its own.
type Context struct {
	// Instance is the ID of the network instance that received the message.
	Instance string
	// Nick is the sender's nickname.
	Nick string
	// To is the message target: a channel, or the bot for a private message.
	To string
	// Permissions are the sender's permissions with the host, e.g. "owner".
	Permissions []string

	// Enabled is whether the game runs where the message was sent.
	// Set by the engine.
	Enabled bool
	// Channel is the channel key of the target, or empty for a private
	// message. Set by the engine.
	Channel string
	// Player is the sender's online player, if any. Set by the engine.
	Player *player.Player

	// Command is the name of the game command being run.
	Command string
	// Args is the text following the command name.
	Args string

	send func(ctx context.Context, target, text string)
}

// PM reports whether the message was sent privately.
func (c *Context) PM() bool {
	return c.Channel == ""
}

// Reply sends text in response to the message. If target is empty, a private
// message is answered to its sender and a channel message to the channel.
func (c *Context) Reply(ctx context.Context, text, target string) {
	if c.send == nil {
		return
	}
	if target == "" {
		target = c.To
		if c.PM() {
			target = c.Nick
		}
	}
	c.send(ctx, target, text)
}

// Connect registers a network instance that has connected. The first
// connection after the engine starts also loads the game's saved channels.
func (e *Engine) Connect(ctx context.Context, srv Server) {
	e.post(ctx, func(ctx context.Context) { e.connect(ctx, srv) })
}

// HandleMessage processes an ordinary chat message.
// Private messages are treated as commands.
func (e *Engine) HandleMessage(ctx context.Context, text string, mc *Context) {
	e.post(ctx, func(ctx context.Context) { e.handleMessage(ctx, text, mc) })
}

// HandleCommand processes a message the host recognized as addressed to the
// bot.
func (e *Engine) HandleCommand(ctx context.Context, text string, mc *Context) {
	e.post(ctx, func(ctx context.Context) { e.handleCommand(ctx, text, mc) })
}

// Notice processes a notice sent by a user.
func (e *Engine) Notice(ctx context.Context, instance, nick, to, text string) {
	e.post(ctx, func(ctx context.Context) { e.notice(ctx, instance, nick, to, text) })
}

// Nick processes a nickname change.
func (e *Engine) Nick(ctx context.Context, instance, old, nick string) {
	e.post(ctx, func(ctx context.Context) { e.nick(ctx, instance, old, nick) })
}

// Part processes a user leaving a channel.
func (e *Engine) Part(ctx context.Context, instance, ch, nick string) {
	e.post(ctx, func(ctx context.Context) { e.part(ctx, instance, ch, nick) })
}

// Kick processes a user being removed from a channel.
func (e *Engine) Kick(ctx context.Context, instance, ch, nick string) {
	e.post(ctx, func(ctx context.Context) { e.kick(ctx, instance, ch, nick) })
}

// Quit processes a user disconnecting from a network.
func (e *Engine) Quit(ctx context.Context, instance, nick string) {
	e.post(ctx, func(ctx context.Context) { e.quit(ctx, instance, nick) })
}

// Fixed penalties in seconds.
const (
	nickPenalty = 30
	partPenalty = 200
	kickPenalty = 250
	quitPenalty = 20
)

// processContext fills the engine's fields of mc.
// It reports false if the message came from an unknown instance.
func (e *Engine) processContext(mc *Context) bool {
	srv := e.servers[mc.Instance]
	if srv == nil {
		e.log.Debug("message from unknown instance", slog.String("instance", mc.Instance))
		return false
	}
	if channel.IsChannel(mc.To) {
		mc.Channel = channel.Key(mc.Instance, mc.To)
		mc.Enabled = e.channels.Options(mc.Channel).Enabled
	} else {
		mc.Channel = ""
		mc.Enabled = true
	}
	mc.Player = e.findPlayer(playerKey(mc.Instance, mc.Nick))
	if mc.Player != nil && mc.Player.Admin() && !slices.Contains(mc.Permissions, "admin") {
		mc.Permissions = append(slices.Clip(mc.Permissions), "admin")
	}
	mc.send = func(ctx context.Context, target, text string) {
		e.send(ctx, srv, target, text)
	}
	return true
}

func (e *Engine) connect(ctx context.Context, srv Server) {
	id := srv.ID()
	e.servers[id] = srv
	e.log.InfoContext(ctx, "network connected", slog.String("instance", id), slog.String("nick", srv.Nick()))
	e.unbind(ctx, id)
	if e.setup {
		if e.cfg.Enabled {
			e.sendMessages(ctx, channel.Start, onInstance(id), startText)
		}
		return
	}
	e.setup = true
	e.last = e.now()
	e.loadChannels(ctx)
	e.resetPresence(ctx)
}

const startText = "The game is running. Stay idle!"

// onInstance selects channels on one network instance.
func onInstance(id string) func(key string, o *channel.Options) bool {
	return func(key string, o *channel.Options) bool {
		inst, _, _ := channel.SplitKey(key)
		return inst == id
	}
}

// loadChannels populates the channel registry from the store.
func (e *Engine) loadChannels(ctx context.Context) {
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		rows, err := e.store.Channels(ctx)
		return func(ctx context.Context) {
			if err != nil {
				e.log.ErrorContext(ctx, "couldn't load channels", slog.Any("err", err))
				return
			}
			e.log.DebugContext(ctx, "loading channels", slog.Int("count", len(rows)))
			for _, row := range rows {
				o := e.channels.Options(row.Key)
				if err := o.Decode(row.Options); err != nil {
					e.log.ErrorContext(ctx, "couldn't load channel", slog.String("channel", row.Key), slog.Any("err", err))
				}
			}
			if e.cfg.Enabled {
				e.sendMessages(ctx, channel.Start, nil, startText)
			}
		}
	})
}

// resetPresence marks players left online by a previous run as offline.
// Players already bound or being bound in this run are left alone.
func (e *Engine) resetPresence(ctx context.Context) {
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		recs, err := e.store.OnlinePlayers(ctx)
		return func(ctx context.Context) {
			if err != nil {
				e.log.ErrorContext(ctx, "couldn't find stale online players", slog.Any("err", err))
				return
			}
			var stale []player.Record
			for _, r := range recs {
				if _, p := e.named(r.Name); p != nil || e.claims[r.Name] {
					continue
				}
				r.Online = false
				stale = append(stale, r)
			}
			e.log.DebugContext(ctx, "reset presence", slog.Int("count", len(stale)))
			e.async(ctx, func(ctx context.Context) func(context.Context) {
				for _, r := range stale {
					if err := e.store.SavePlayer(ctx, r); err != nil {
						e.log.ErrorContext(ctx, "couldn't mark player offline", slog.String("player", r.Name), slog.Any("err", err))
					}
				}
				return nil
			})
		}
	})
}

func (e *Engine) handleMessage(ctx context.Context, text string, mc *Context) {
	if !e.processContext(mc) {
		return
	}
	if mc.PM() {
		// Private messages are never penalized.
		e.dispatch(ctx, text, mc)
		return
	}
	e.penalizeTalk(ctx, mc, text, "message")
}

func (e *Engine) handleCommand(ctx context.Context, text string, mc *Context) {
	if !e.processContext(mc) {
		return
	}
	e.dispatch(ctx, text, mc)
}

func (e *Engine) notice(ctx context.Context, instance, nick, to, text string) {
	mc := &Context{Instance: instance, Nick: nick, To: to}
	if !e.processContext(mc) || mc.PM() {
		return
	}
	e.penalizeTalk(ctx, mc, text, "notice")
}

// penalizeTalk penalizes the sender of a channel message by its length.
func (e *Engine) penalizeTalk(ctx context.Context, mc *Context, text, reason string) {
	if !e.cfg.Enabled || !mc.Enabled || mc.Player == nil {
		return
	}
	pen := mc.Player.Penalize(int64(utf8.RuneCountInString(text)))
	e.penalized(ctx, mc.Player, reason, pen)
	m := message.Format(mc.Nick, "For the disgraceful act of sending a message in %s, you have been penalized %d seconds.", mc.To, pen)
	mc.Reply(ctx, m.Text, m.To)
}

func (e *Engine) penalized(ctx context.Context, p *player.Player, reason string, pen int64) {
	e.metrics.Penalties.Observe(float64(pen), reason)
	e.log.DebugContext(ctx, "penalty",
		slog.String("player", p.Name()),
		slog.String("reason", reason),
		slog.Int64("seconds", pen),
	)
}

func (e *Engine) nick(ctx context.Context, instance, old, nick string) {
	from, to := playerKey(instance, old), playerKey(instance, nick)
	p := e.players[from]
	if p == nil {
		return
	}
	delete(e.players, from)
	if q := e.players[to]; q != nil && q != p {
		// Someone was bound to the new nick and is now displaced.
		q.Logout()
		e.savePlayer(ctx, q)
	}
	e.players[to] = p
	if !e.cfg.Enabled || !p.Online() {
		return
	}
	pen := p.Penalize(nickPenalty)
	e.penalized(ctx, p, "nick", pen)
	m := message.Format(nick, "You have been penalized %d seconds for nick changing.", pen)
	e.send(ctx, e.servers[instance], m.To, m.Text)
}

func (e *Engine) part(ctx context.Context, instance, ch, nick string) {
	pen, ok := e.depart(ctx, instance, ch, nick, "part", partPenalty)
	if !ok {
		return
	}
	m := message.Format(nick, "You have been penalized %d seconds for parting %s.", pen, ch)
	e.send(ctx, e.servers[instance], m.To, m.Text)
}

func (e *Engine) kick(ctx context.Context, instance, ch, nick string) {
	pen, ok := e.depart(ctx, instance, ch, nick, "kick", kickPenalty)
	if !ok {
		return
	}
	m := message.Format(nick, "You have been penalized %d seconds for getting kicked from %s.", pen, ch)
	e.send(ctx, e.servers[instance], m.To, m.Text)
}

// depart penalizes a player leaving an enabled channel.
func (e *Engine) depart(ctx context.Context, instance, ch, nick, reason string, amount int64) (int64, bool) {
	if !e.cfg.Enabled {
		return 0, false
	}
	o, ok := e.channels.Lookup(channel.Key(instance, ch))
	if !ok || !o.Enabled {
		return 0, false
	}
	p := e.findPlayer(playerKey(instance, nick))
	if p == nil {
		return 0, false
	}
	pen := p.Penalize(amount)
	e.penalized(ctx, p, reason, pen)
	return pen, true
}

// quit logs out a player who disconnected. The penalty applies only while
// the game runs, but the logout always happens.
func (e *Engine) quit(ctx context.Context, instance, nick string) {
	p := e.findPlayer(playerKey(instance, nick))
	if p == nil {
		return
	}
	if e.cfg.Enabled {
		pen := p.Penalize(quitPenalty)
		e.penalized(ctx, p, "quit", pen)
	}
	p.Logout()
	e.savePlayer(ctx, p)
}

// unbind logs out every player bound on an instance. Used when the instance
// reconnects, since departures while disconnected were never seen.
func (e *Engine) unbind(ctx context.Context, instance string) {
	prefix := instance + "_"
	for _, k := range slices.Sorted(maps.Keys(e.players)) {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		p := e.players[k]
		delete(e.players, k)
		if !p.Online() {
			continue
		}
		p.Logout()
		e.savePlayer(ctx, p)
		e.log.InfoContext(ctx, "logged out on reconnect", slog.String("player", p.Name()), slog.String("instance", instance))
	}
}
