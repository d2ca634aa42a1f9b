// Package store defines persistence of idle game state.
package store

import (
	"context"
	"errors"

	"github.com/zephyrtronium/idlerpg/player"
)

// ErrNoPlayer is returned when a requested player does not exist.
var ErrNoPlayer = errors.New("no such player")

// DefaultTop is the number of players returned by TopPlayers when a
// non-positive count is requested.
const DefaultTop = 3

// Channel is the stored settings of one channel.
type Channel struct {
	// Key is the channel's registry key, e.g. "libera_#idlerpg".
	Key string
	// Options is the JSON object of the channel's settings.
	Options []byte
}

// Store persists players and channel settings.
// Implementations must be safe for concurrent use.
type Store interface {
	// Channels returns every stored channel.
	Channels(ctx context.Context) ([]Channel, error)
	// SaveChannels upserts channels. A failure on one channel does not
	// prevent saving the others; the result joins all failures.
	SaveChannels(ctx context.Context, chans []Channel) error
	// TopPlayers returns up to n players ordered by level descending, then by
	// time to next level ascending. If n < 1, DefaultTop is used.
	TopPlayers(ctx context.Context, n int) ([]player.Record, error)
	// OnlinePlayers returns every player recorded as online.
	OnlinePlayers(ctx context.Context) ([]player.Record, error)
	// Player returns the player with the given name.
	// If there is none, the error is ErrNoPlayer.
	Player(ctx context.Context, name string) (player.Record, error)
	// SavePlayer upserts a player keyed by name.
	SavePlayer(ctx context.Context, p player.Record) error
	// DeletePlayer removes a player and returns the number of records
	// removed.
	DeletePlayer(ctx context.Context, name string) (int, error)
	// Close releases the store's resources.
	Close() error
}

// TopCount normalizes a requested number of top players.
func TopCount(n int) int {
	if n < 1 {
		return DefaultTop
	}
	return n
}
