// Package kvstore implements game persistence in a Badger key-value store.
package kvstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-json-experiment/json"

	"github.com/zephyrtronium/idlerpg/player"
	"github.com/zephyrtronium/idlerpg/store"
)

/*
Key structure:
- Players are keyed by "p\x00" followed by the player name. The value is the
	JSON encoding of the player record.
- Channels are keyed by "c\x00" followed by the channel key. The value is the
	channel's options object as stored.
*/

const (
	playerPrefix  = "p\x00"
	channelPrefix = "c\x00"
)

func playerKey(name string) []byte {
	return append([]byte(playerPrefix), name...)
}

func channelKey(key string) []byte {
	return append([]byte(channelPrefix), key...)
}

// Store is a game store backed by Badger.
type Store struct {
	db *badger.DB
}

var _ store.Store = (*Store)(nil)

// New returns a store within the given database.
// The store closes db when it is closed.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Channels returns every stored channel.
func (s *Store) Channels(ctx context.Context) ([]store.Channel, error) {
	var r []store.Channel
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(channelPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			k := item.Key()[len(channelPrefix):]
			r = append(r, store.Channel{Key: string(k), Options: v})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't load channels: %w", err)
	}
	return r, nil
}

// SaveChannels upserts channels, each in its own transaction.
func (s *Store) SaveChannels(ctx context.Context, chans []store.Channel) error {
	var errs []error
	for _, ch := range chans {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(channelKey(ch.Key), ch.Options)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("couldn't save channel %s: %w", ch.Key, err))
		}
	}
	return errors.Join(errs...)
}

// scan decodes every player for which keep returns true.
func (s *Store) scan(ctx context.Context, keep func(*player.Record) bool) ([]player.Record, error) {
	var r []player.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(playerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var p player.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				return fmt.Errorf("couldn't decode player at %q: %w", it.Item().Key(), err)
			}
			if keep(&p) {
				r = append(r, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't load players: %w", err)
	}
	return r, nil
}

// TopPlayers returns the highest ranked players.
func (s *Store) TopPlayers(ctx context.Context, n int) ([]player.Record, error) {
	r, err := s.scan(ctx, func(*player.Record) bool { return true })
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(r, func(a, b player.Record) int {
		if c := cmp.Compare(b.Level, a.Level); c != 0 {
			return c
		}
		return cmp.Compare(a.Next, b.Next)
	})
	n = store.TopCount(n)
	if len(r) > n {
		r = r[:n]
	}
	return r, nil
}

// OnlinePlayers returns every player recorded as online.
func (s *Store) OnlinePlayers(ctx context.Context) ([]player.Record, error) {
	return s.scan(ctx, func(p *player.Record) bool { return p.Online })
}

// Player returns the player with the given name.
func (s *Store) Player(ctx context.Context, name string) (player.Record, error) {
	var p player.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(playerKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return player.Record{}, fmt.Errorf("%w: %s", store.ErrNoPlayer, name)
	case err != nil:
		return player.Record{}, fmt.Errorf("couldn't load player %s: %w", name, err)
	}
	return p, nil
}

// SavePlayer upserts a player.
func (s *Store) SavePlayer(ctx context.Context, p player.Record) error {
	b, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("couldn't encode player %s: %w", p.Name, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(playerKey(p.Name), b)
	})
	if err != nil {
		return fmt.Errorf("couldn't save player %s: %w", p.Name, err)
	}
	return nil
}

// DeletePlayer removes a player.
func (s *Store) DeletePlayer(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.Update(func(txn *badger.Txn) error {
		k := playerKey(name)
		_, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		n = 1
		return txn.Delete(k)
	})
	if err != nil {
		return 0, fmt.Errorf("couldn't delete player %s: %w", name, err)
	}
	return n, nil
}
