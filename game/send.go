package game

import (
	"context"
	"log/slog"

	"github.com/zephyrtronium/idlerpg/channel"
	"github.com/zephyrtronium/idlerpg/message"
)

// send delivers text to a channel or user on srv, tagged as coming from the
// game. Missing arguments drop the message.
func (e *Engine) send(ctx context.Context, srv Server, target, text string) {
	switch {
	case srv == nil:
		e.log.DebugContext(ctx, "tried to send message without a server", slog.String("to", target))
		return
	case target == "":
		e.log.DebugContext(ctx, "tried to send message without a target", slog.String("instance", srv.ID()))
		return
	case text == "":
		e.log.DebugContext(ctx, "tried to send message without a message", slog.String("instance", srv.ID()), slog.String("to", target))
		return
	}
	m := message.Sent{To: target, Text: text}
	if err := srv.Say(ctx, m.To, m.Tagged()); err != nil {
		e.log.ErrorContext(ctx, "couldn't send message",
			slog.String("instance", srv.ID()),
			slog.String("to", target),
			slog.Any("err", err),
		)
		return
	}
	e.metrics.Sent.Observe(1)
	e.host.SentMessage(srv.ID(), srv.Nick(), m.To, m.Text)
}

// sendMessages broadcasts msgs in order to every enabled channel that wants
// announcements of cat. If filter is not nil, only channels for which it
// returns true receive them. Channels on instances that are not connected are
// skipped.
func (e *Engine) sendMessages(ctx context.Context, cat channel.Category, filter func(key string, o *channel.Options) bool, msgs ...string) {
	for key, o := range e.channels.All() {
		if !o.Enabled || !o.Notice(cat) {
			continue
		}
		if filter != nil && !filter(key, o) {
			continue
		}
		inst, name, ok := channel.SplitKey(key)
		if !ok {
			continue
		}
		srv := e.servers[inst]
		if srv == nil {
			continue
		}
		for _, m := range msgs {
			e.send(ctx, srv, name, m)
		}
	}
}
