// Package sqlstore implements game persistence in an SQLite database.
package sqlstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/idlerpg/player"
	"github.com/zephyrtronium/idlerpg/store"
)

// Store is a game store backed by an SQL database.
type Store struct {
	db *sqlitex.Pool
}

var _ store.Store = (*Store)(nil)

// Open returns a store within the given database, creating its tables if
// needed. The store closes db when it is closed.
func Open(ctx context.Context, db *sqlitex.Pool) (*Store, error) {
	if err := Init(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

//go:embed schema.sql
var schemaSQL string

// Init creates the game tables in an SQLite DB. It is safe to call on a
// database which already has them.
// For convenience, it accepts either a single connection or a pool.
func Init[DB *sqlite.Conn | *sqlitex.Pool](ctx context.Context, db DB) error {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get connection from pool: %w", err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schemaSQL, nil); err != nil {
		return fmt.Errorf("couldn't initialize game schema: %w", err)
	}
	return nil
}

// RecommendedPrep is an [sqlitex.ConnPrepareFunc] that sets options
// recommended for a game store.
func RecommendedPrep(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			return fmt.Errorf("couldn't run %s: %w", p, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Channels returns every stored channel.
func (s *Store) Channels(ctx context.Context) ([]store.Channel, error) {
	conn, err := s.db.Take(ctx)
	defer s.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection to load channels: %w", err)
	}
	var r []store.Channel
	opts := sqlitex.ExecOptions{
		ResultFunc: func(st *sqlite.Stmt) error {
			r = append(r, store.Channel{
				Key:     st.ColumnText(0),
				Options: []byte(st.ColumnText(1)),
			})
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT channel, options FROM channels`, &opts); err != nil {
		return nil, fmt.Errorf("couldn't load channels: %w", err)
	}
	return r, nil
}

// SaveChannels upserts channels.
func (s *Store) SaveChannels(ctx context.Context, chans []store.Channel) error {
	conn, err := s.db.Take(ctx)
	defer s.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to save channels: %w", err)
	}
	const upsert = `INSERT INTO channels (channel, options) VALUES (?, ?) ON CONFLICT (channel) DO UPDATE SET options = excluded.options`
	var errs []error
	for _, ch := range chans {
		opts := sqlitex.ExecOptions{Args: []any{ch.Key, string(ch.Options)}}
		if err := sqlitex.Execute(conn, upsert, &opts); err != nil {
			errs = append(errs, fmt.Errorf("couldn't save channel %s: %w", ch.Key, err))
		}
	}
	return errors.Join(errs...)
}

const playerCols = `name, pass, class, online, level, next, idled, penalties, lastLogin, isAdmin, items`

func scanPlayer(st *sqlite.Stmt) player.Record {
	return player.Record{
		Name:      st.ColumnText(0),
		Pass:      st.ColumnText(1),
		Class:     st.ColumnText(2),
		Online:    st.ColumnInt64(3) != 0,
		Level:     st.ColumnInt(4),
		Next:      st.ColumnInt64(5),
		Idled:     st.ColumnInt64(6),
		Penalties: st.ColumnInt64(7),
		LastLogin: st.ColumnInt64(8),
		IsAdmin:   st.ColumnInt64(9) != 0,
		Items:     st.ColumnText(10),
	}
}

func (s *Store) players(ctx context.Context, query string, args ...any) ([]player.Record, error) {
	conn, err := s.db.Take(ctx)
	defer s.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection to load players: %w", err)
	}
	var r []player.Record
	opts := sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(st *sqlite.Stmt) error {
			r = append(r, scanPlayer(st))
			return nil
		},
	}
	if err := sqlitex.Execute(conn, query, &opts); err != nil {
		return nil, fmt.Errorf("couldn't load players: %w", err)
	}
	return r, nil
}

// TopPlayers returns the highest ranked players.
func (s *Store) TopPlayers(ctx context.Context, n int) ([]player.Record, error) {
	const sel = `SELECT ` + playerCols + ` FROM players ORDER BY level DESC, next ASC LIMIT ?`
	return s.players(ctx, sel, store.TopCount(n))
}

// OnlinePlayers returns every player recorded as online.
func (s *Store) OnlinePlayers(ctx context.Context) ([]player.Record, error) {
	const sel = `SELECT ` + playerCols + ` FROM players WHERE online != 0`
	return s.players(ctx, sel)
}

// Player returns the player with the given name.
func (s *Store) Player(ctx context.Context, name string) (player.Record, error) {
	const sel = `SELECT ` + playerCols + ` FROM players WHERE name = ?`
	r, err := s.players(ctx, sel, name)
	if err != nil {
		return player.Record{}, err
	}
	if len(r) == 0 {
		return player.Record{}, fmt.Errorf("%w: %s", store.ErrNoPlayer, name)
	}
	return r[0], nil
}

// SavePlayer upserts a player.
func (s *Store) SavePlayer(ctx context.Context, p player.Record) error {
	conn, err := s.db.Take(ctx)
	defer s.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to save player: %w", err)
	}
	const upsert = `INSERT OR REPLACE INTO players (` + playerCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	opts := sqlitex.ExecOptions{
		Args: []any{
			p.Name,
			p.Pass,
			p.Class,
			b2i(p.Online),
			p.Level,
			p.Next,
			p.Idled,
			p.Penalties,
			p.LastLogin,
			b2i(p.IsAdmin),
			p.Items,
		},
	}
	if err := sqlitex.Execute(conn, upsert, &opts); err != nil {
		return fmt.Errorf("couldn't save player %s: %w", p.Name, err)
	}
	return nil
}

// DeletePlayer removes a player.
func (s *Store) DeletePlayer(ctx context.Context, name string) (int, error) {
	conn, err := s.db.Take(ctx)
	defer s.db.Put(conn)
	if err != nil {
		return 0, fmt.Errorf("couldn't get connection to delete player: %w", err)
	}
	opts := sqlitex.ExecOptions{Args: []any{name}}
	if err := sqlitex.Execute(conn, `DELETE FROM players WHERE name = ?`, &opts); err != nil {
		return 0, fmt.Errorf("couldn't delete player %s: %w", name, err)
	}
	return conn.Changes(), nil
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
