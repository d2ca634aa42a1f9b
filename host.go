package main

import (
	"log/slog"
	"sync"

	"github.com/zephyrtronium/idlerpg/game"
)

// host persists game settings for the engine and records what it says.
type host struct {
	state string
	log   *slog.Logger
	// mu serializes writes to the state file.
	mu sync.Mutex
}

var _ game.Host = (*host)(nil)

func (h *host) SaveConfig(cfg game.Config) error {
	if h.state == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := saveState(h.state, cfg); err != nil {
		return err
	}
	h.log.Debug("saved game state", slog.String("file", h.state))
	return nil
}

func (h *host) SentMessage(instance, nick, target, text string) {
	h.log.Debug("sent",
		slog.String("instance", instance),
		slog.String("nick", nick),
		slog.String("target", target),
		slog.String("text", text),
	)
}
