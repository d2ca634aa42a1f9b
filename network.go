package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gitlab.com/zephyrtronium/tmi"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zephyrtronium/idlerpg/game"
	"github.com/zephyrtronium/idlerpg/message"
)

// network is a connection to one IRC network instance.
type network struct {
	cfg    NetworkCfg
	engine *game.Engine
	log    *slog.Logger
	// out holds messages waiting for the rate limit.
	out    chan *tmi.Message
	rate   *rate.Limiter
	owners map[string]bool
}

var _ game.Server = (*network)(nil)

func newNetwork(cfg NetworkCfg, engine *game.Engine, log *slog.Logger) *network {
	owners := make(map[string]bool, len(cfg.Owners))
	for _, o := range cfg.Owners {
		owners[strings.ToLower(o)] = true
	}
	return &network{
		cfg:    cfg,
		engine: engine,
		log:    log.With(slog.String("instance", cfg.ID)),
		out:    make(chan *tmi.Message, 64),
		rate:   rate.NewLimiter(rate.Every(fseconds(cfg.Rate.Every)), cfg.Rate.Num),
		owners: owners,
	}
}

func (n *network) ID() string   { return n.cfg.ID }
func (n *network) Nick() string { return n.cfg.Nick }

var errOutboxFull = errors.New("outbox full")

// Say queues a message to send once the rate limit allows.
func (n *network) Say(ctx context.Context, target, text string) error {
	select {
	case n.out <- message.ToTMI(message.Sent{To: target, Text: text}):
		return nil
	default:
		return errOutboxFull
	}
}

// run connects to the network and serves the game until ctx is canceled.
func (n *network) run(ctx context.Context) error {
	cfg := tmi.ConnectConfig{
		Dial:      n.dial,
		RetryWait: tmi.RetryList(true, 0, time.Second, time.Minute, 5*time.Minute),
		Nick:      n.cfg.Nick,
		Pass:      n.cfg.Pass,
		Timeout:   300 * time.Second,
	}
	send := make(chan *tmi.Message, 1)
	recv := make(chan *tmi.Message, 8) // 8 is enough for on-connect msgs
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		n.sender(ctx, send)
		return nil
	})
	group.Go(func() error {
		n.loop(ctx, send, recv)
		return nil
	})
	n.log.InfoContext(ctx, "connecting", slog.String("server", n.cfg.Server), slog.Bool("tls", n.cfg.TLS))
	tmi.Connect(ctx, cfg, tmi.Log(slog.NewLogLogger(n.log.Handler(), slog.LevelDebug), false), send, recv)
	group.Wait()
	return ctx.Err()
}

// dial connects to the configured server regardless of the requested address.
func (n *network) dial(ctx context.Context, _, _ string) (net.Conn, error) {
	if n.cfg.TLS {
		return new(tls.Dialer).DialContext(ctx, "tcp", n.cfg.Server)
	}
	return new(net.Dialer).DialContext(ctx, "tcp", n.cfg.Server)
}

// sender forwards queued messages to the connection at the configured rate.
func (n *network) sender(ctx context.Context, send chan<- *tmi.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.out:
			if err := n.rate.Wait(ctx); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case send <- msg:
			}
		}
	}
}

func (n *network) loop(ctx context.Context, send chan<- *tmi.Message, recv <-chan *tmi.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-recv:
			if !ok {
				return
			}
			n.event(ctx, send, message.FromTMI(msg))
		}
	}
}

// event hands an IRC event to the game.
func (n *network) event(ctx context.Context, send chan<- *tmi.Message, ev message.Event) {
	if n.ours(ev) {
		return
	}
	id := n.cfg.ID
	switch ev.Kind {
	case message.Privmsg:
		mc := &game.Context{
			Instance:    id,
			Nick:        ev.Nick,
			To:          ev.To,
			Permissions: n.perms(ev.Nick),
		}
		if cmd, ok := commandText(n.cfg.Prefix, n.cfg.Nick, ev.Text); ok {
			n.engine.HandleCommand(ctx, cmd, mc)
			return
		}
		n.engine.HandleMessage(ctx, ev.Text, mc)
	case message.Notice:
		n.engine.Notice(ctx, id, ev.Nick, ev.To, ev.Text)
	case message.Nick:
		n.engine.Nick(ctx, id, ev.Nick, ev.Text)
	case message.Part:
		n.engine.Part(ctx, id, ev.To, ev.Nick)
	case message.Kick:
		n.engine.Kick(ctx, id, ev.To, ev.Target)
	case message.Quit:
		n.engine.Quit(ctx, id, ev.Nick)
	case message.Welcome:
		n.log.InfoContext(ctx, "registered with server")
		go n.join(ctx, send)
		n.engine.Connect(ctx, n)
	}
}

// ours reports whether an event is the bot's own activity. Kicks by the bot
// are not, since they act on someone else.
func (n *network) ours(ev message.Event) bool {
	switch ev.Kind {
	case message.Welcome:
		return false
	case message.Kick:
		return strings.EqualFold(ev.Target, n.cfg.Nick)
	default:
		return strings.EqualFold(ev.Nick, n.cfg.Nick)
	}
}

func (n *network) perms(nick string) []string {
	if n.owners[strings.ToLower(nick)] {
		return []string{"owner"}
	}
	return nil
}

// join joins the configured channels.
func (n *network) join(ctx context.Context, send chan<- *tmi.Message) {
	ls := n.cfg.Channels
	burst := 10
	for len(ls) > 0 {
		l := ls[:min(burst, len(ls))]
		ls = ls[len(l):]
		msg := tmi.Message{
			Command: "JOIN",
			Params:  []string{strings.Join(l, ",")},
		}
		select {
		case <-ctx.Done():
			return
		case send <- &msg:
			n.log.InfoContext(ctx, "joining", slog.Any("channels", l))
		}
	}
}

// commandText returns the text of a message addressed to the bot, either by
// beginning with the command prefix or by naming the bot.
func commandText(prefix, name, text string) (string, bool) {
	if prefix != "" {
		if s, ok := strings.CutPrefix(strings.TrimSpace(text), prefix); ok {
			return strings.TrimSpace(s), true
		}
	}
	return parseCommand(name, text)
}

func parseCommand(name, text string) (string, bool) {
	text = strings.TrimSpace(text)
	text, _ = strings.CutPrefix(text, "@")
	if len(text) < len(name) {
		return "", false
	}
	if strings.EqualFold(text[:len(name)], name) {
		text = text[len(name):]
		r, _ := utf8.DecodeRuneInString(text)
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			// Our name is a prefix of a word.
			return "", false
		}
		// Skip to the next whitespace to get the text, so that punctuation
		// like "bot:" is dropped. If there is no whitespace, the text is empty.
		k := strings.IndexFunc(text, unicode.IsSpace)
		if k < 0 {
			k = len(text)
		}
		return strings.TrimSpace(text[k:]), true
	}
	if strings.EqualFold(text[len(text)-len(name):], name) {
		text = text[:len(text)-len(name)]
		r, _ := utf8.DecodeLastRuneInString(text)
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			// Our name is a suffix of a word.
			return "", false
		}
		k := strings.LastIndexFunc(text, unicode.IsSpace)
		if k < 0 {
			k = 0
		}
		return strings.TrimSpace(text[:k]), true
	}
	return "", false
}
