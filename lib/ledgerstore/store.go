// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledgerstore persists the gatekeeper's welcome and invite
// ledgers and its tracked rules messages in SQLite, so a restarted
// gatekeeper neither greets users twice nor forgets older rules posts.
package ledgerstore

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/gatekeeper"
	"github.com/bureau-foundation/gatekeeper/lib/ref"
	"github.com/bureau-foundation/gatekeeper/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS welcomed (
	user_id     TEXT PRIMARY KEY,
	recorded_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS invited (
	user_id     TEXT PRIMARY KEY,
	recorded_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tracked (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    TEXT NOT NULL UNIQUE,
	recorded_at INTEGER NOT NULL
);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// Clock stamps recorded rows. Default: clock.Real().
	Clock clock.Clock

	// Logger receives pool messages and warnings about unparseable
	// rows. Nil discards them.
	Logger *slog.Logger
}

// Store implements gatekeeper.Store.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

var _ gatekeeper.Store = (*Store)(nil)

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("ledgerstore: Path is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Schema: schema,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("ledgerstore: %w", err)
	}
	return &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Load reads everything recorded so far in one read transaction.
// Tracked messages come back in the order they were recorded.
func (s *Store) Load(ctx context.Context) (snapshot gatekeeper.Snapshot, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return gatekeeper.Snapshot{}, fmt.Errorf("ledgerstore: load: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction := sqlitex.Transaction(conn)
	defer endTransaction(&err)

	snapshot.Welcomed, err = s.loadUsers(conn, "SELECT user_id FROM welcomed ORDER BY user_id")
	if err != nil {
		return gatekeeper.Snapshot{}, fmt.Errorf("ledgerstore: loading welcomed: %w", err)
	}
	snapshot.Invited, err = s.loadUsers(conn, "SELECT user_id FROM invited ORDER BY user_id")
	if err != nil {
		return gatekeeper.Snapshot{}, fmt.Errorf("ledgerstore: loading invited: %w", err)
	}

	err = sqlitex.Execute(conn, "SELECT event_id FROM tracked ORDER BY seq", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			raw := stmt.ColumnText(0)
			eventID, parseErr := ref.ParseEventID(raw)
			if parseErr != nil {
				s.logger.Warn("skipping unparseable tracked event", "event_id", raw, "error", parseErr)
				return nil
			}
			snapshot.Tracked = append(snapshot.Tracked, eventID)
			return nil
		},
	})
	if err != nil {
		return gatekeeper.Snapshot{}, fmt.Errorf("ledgerstore: loading tracked: %w", err)
	}
	return snapshot, nil
}

func (s *Store) loadUsers(conn *sqlite.Conn, query string) ([]ref.UserID, error) {
	var users []ref.UserID
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			raw := stmt.ColumnText(0)
			userID, err := ref.ParseUserID(raw)
			if err != nil {
				s.logger.Warn("skipping unparseable user", "user_id", raw, "error", err)
				return nil
			}
			users = append(users, userID)
			return nil
		},
	})
	return users, err
}

// RecordWelcomed records that userID has been sent a welcome DM.
func (s *Store) RecordWelcomed(ctx context.Context, userID ref.UserID) error {
	return s.insert(ctx, "INSERT OR IGNORE INTO welcomed (user_id, recorded_at) VALUES (?, ?)", userID.String())
}

// RecordInvited records that userID has been invited to the space.
func (s *Store) RecordInvited(ctx context.Context, userID ref.UserID) error {
	return s.insert(ctx, "INSERT OR IGNORE INTO invited (user_id, recorded_at) VALUES (?, ?)", userID.String())
}

// RecordTracked appends eventID to the tracked rules messages.
// Recording an already tracked event keeps its original position.
func (s *Store) RecordTracked(ctx context.Context, eventID ref.EventID) error {
	return s.insert(ctx, "INSERT OR IGNORE INTO tracked (event_id, recorded_at) VALUES (?, ?)", eventID.String())
}

func (s *Store) insert(ctx context.Context, query, id string) error {
	if id == "" {
		return fmt.Errorf("ledgerstore: refusing to record an empty ID")
	}
	err := s.pool.WithConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{id, s.clock.Now().Unix()},
		})
	})
	if err != nil {
		return fmt.Errorf("ledgerstore: recording %s: %w", id, err)
	}
	return nil
}
