// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for gatekeeper state.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies one set
// of pragmas to every connection: WAL journaling, NORMAL synchronous,
// a five second busy timeout, and in-memory temp storage. NORMAL
// synchronous loses at most the last few commits on power failure,
// which for the gatekeeper means a user might be greeted twice.
//
// A schema script passed in [Config.Schema] runs on every new
// connection, so it must be idempotent (CREATE TABLE IF NOT EXISTS).
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/gatekeeper/state.db",
//	    Schema: schema,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.WithConn(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT ...", &sqlitex.ExecOptions{Args: args})
//	})
//
// Connections are not safe for concurrent use. Take and Put give a
// goroutine exclusive use of one; WithConn does both.
package sqlitepool
