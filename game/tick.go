package game

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"gitlab.com/zephyrtronium/pick"

	"github.com/zephyrtronium/idlerpg/channel"
	"github.com/zephyrtronium/idlerpg/player"
)

// tick advances the game to now.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	if !e.setup {
		return
	}
	elapsed := now.Unix() - e.last.Unix()
	e.last = now
	if elapsed <= 0 || !e.cfg.Enabled {
		return
	}
	keys := slices.Sorted(maps.Keys(e.players))
	online := 0
	for _, k := range keys {
		if e.players[k].Online() {
			online++
		}
	}
	e.metrics.Online.Observe(float64(online))
	if online == 0 {
		return
	}
	if e.ticked >= e.nextReport {
		e.nextReport = e.ticked + e.cfg.ReportEvery
		e.reportTop(ctx)
	}
	for _, k := range keys {
		p := e.players[k]
		if p.Update(elapsed) {
			e.levelUp(ctx, p)
		}
	}
	e.ticked += elapsed
	if e.cfg.Autosave > 0 && e.ticked >= e.nextSave {
		e.nextSave = e.ticked + e.cfg.Autosave
		e.save(ctx)
	}
}

// reportTop saves the game, then announces the top players.
func (e *Engine) reportTop(ctx context.Context) {
	cfg, chans, recs := e.cfg, e.channelRecords(ctx), e.playerRecords()
	e.async(ctx, func(ctx context.Context) func(context.Context) {
		if err := e.write(ctx, cfg, chans, recs); err != nil {
			e.log.ErrorContext(ctx, "couldn't save game before top players", slog.Any("err", err))
		}
		top, err := e.store.TopPlayers(ctx, cfg.ReportCount)
		return func(ctx context.Context) {
			if err != nil {
				e.log.ErrorContext(ctx, "couldn't get top players", slog.Any("err", err))
				return
			}
			msgs := []string{"Top Players:"}
			for i, r := range top {
				msgs = append(msgs, fmt.Sprintf("#%d: %s, the level %d %s!", i+1, r.Name, r.Level, r.Class))
			}
			if len(top) == 0 {
				msgs = append(msgs, "No players found!")
			}
			e.sendMessages(ctx, channel.Top, nil, msgs...)
		}
	})
}

// levelUp announces a new level and gives the player a chance at an item and
// a battle.
func (e *Engine) levelUp(ctx context.Context, p *player.Player) {
	e.metrics.LevelUps.Observe(1)
	e.log.InfoContext(ctx, "level up", slog.String("player", p.Name()), slog.Int("level", p.Level()))
	msg := fmt.Sprintf("%s, the %s, has attained level %d! Next level in %s.", p.Name(), p.Class(), p.Level(), Duration(p.Next()))
	e.sendMessages(ctx, channel.Level, nil, msg)
	e.findItem(ctx, p)
	e.battle(ctx, p)
}

// itemSlots weights the slots in which players find items.
var itemSlots = []pick.Case[player.Slot]{
	{E: player.Helm, W: 10},
	{E: player.Shirt, W: 12},
	{E: player.Pants, W: 12},
	{E: player.Shoes, W: 10},
	{E: player.Gloves, W: 10},
	{E: player.Weapon, W: 6},
	{E: player.Shield, W: 8},
	{E: player.Ring, W: 4},
	{E: player.Amulet, W: 4},
	{E: player.Charm, W: 4},
}

// findItem gives the player an item of up to one and a half times its level.
// The item is kept only if it beats what the player has in that slot.
func (e *Engine) findItem(ctx context.Context, p *player.Player) {
	slot := e.items.Pick(e.rng.Uint32())
	level := 1 + e.rng.IntN(max(1, p.Level()*3/2))
	cur := p.Item(slot)
	var msg string
	if level > cur {
		p.SetItem(slot, level)
		msg = fmt.Sprintf("%s found a level %d %s! Their old %s was only level %d, so it seems Luck is with them!", p.Name(), level, slot, slot, cur)
	} else {
		msg = fmt.Sprintf("%s found a level %d %s, but their current %s is level %d, so it seems Luck is against them. They toss the %s.", p.Name(), level, slot, slot, cur, slot)
	}
	e.sendMessages(ctx, channel.Level, nil, msg)
}

// battle pits the player against a random online opponent. The winner is
// decided by rolls against each side's total item level. Winning removes time
// from the player's clock; losing adds it.
func (e *Engine) battle(ctx context.Context, p *player.Player) {
	if p.Level() < 2 || p.Next() <= 0 {
		return
	}
	var foes []*player.Player
	for _, k := range slices.Sorted(maps.Keys(e.players)) {
		q := e.players[k]
		if q != p && q.Online() {
			foes = append(foes, q)
		}
	}
	if len(foes) == 0 {
		return
	}
	q := foes[e.rng.IntN(len(foes))]
	mine, theirs := p.ItemSum(), q.ItemSum()
	a, b := e.rng.IntN(mine+1), e.rng.IntN(theirs+1)
	var msg string
	if a >= b {
		gain := p.Next() * int64(max(7, q.Level()/4)) / 100
		p.Adjust(-gain)
		msg = fmt.Sprintf("%s [%d/%d] has challenged %s [%d/%d] in combat and won! %s is removed from %s's clock. Next level in %s.",
			p.Name(), a, mine, q.Name(), b, theirs, Duration(gain), p.Name(), Duration(p.Next()))
	} else {
		loss := p.Next() * int64(max(7, q.Level()/7)) / 100
		p.Adjust(loss)
		msg = fmt.Sprintf("%s [%d/%d] has challenged %s [%d/%d] in combat and lost! %s is added to %s's clock. Next level in %s.",
			p.Name(), a, mine, q.Name(), b, theirs, Duration(loss), p.Name(), Duration(p.Next()))
	}
	e.log.DebugContext(ctx, "battle", slog.String("player", p.Name()), slog.String("foe", q.Name()), slog.Bool("won", a >= b))
	e.sendMessages(ctx, channel.Battle, nil, msg)
}
