package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the default on-disk record store.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("records: open database: %w", err)
	}
	// Single-connection mode avoids "database is locked" under the
	// single-instance desktop assumption.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hosts (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL,
			port INTEGER NOT NULL DEFAULT 22,
			username TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS snippets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			script TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS presets (
			id TEXT PRIMARY KEY,
			host_id TEXT NOT NULL DEFAULT '',
			protocol TEXT NOT NULL DEFAULT '',
			params TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("records: create tables: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Export(ctx context.Context) (Export, error) {
	out := Export{Settings: map[string]string{}}

	rows, err := s.db.QueryContext(ctx, `SELECT id, label, address, port, username FROM hosts ORDER BY id`)
	if err != nil {
		return Export{}, err
	}
	for rows.Next() {
		var h Host
		if err := rows.Scan(&h.ID, &h.Label, &h.Address, &h.Port, &h.Username); err != nil {
			rows.Close()
			return Export{}, err
		}
		out.Hosts = append(out.Hosts, h)
	}
	if err := rows.Close(); err != nil {
		return Export{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, name, script FROM snippets ORDER BY id`)
	if err != nil {
		return Export{}, err
	}
	for rows.Next() {
		var sn Snippet
		if err := rows.Scan(&sn.ID, &sn.Name, &sn.Script); err != nil {
			rows.Close()
			return Export{}, err
		}
		out.Snippets = append(out.Snippets, sn)
	}
	if err := rows.Close(); err != nil {
		return Export{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return Export{}, err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return Export{}, err
		}
		out.Settings[k] = v
	}
	if err := rows.Close(); err != nil {
		return Export{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, host_id, protocol, params FROM presets ORDER BY id`)
	if err != nil {
		return Export{}, err
	}
	for rows.Next() {
		var p Preset
		var params string
		if err := rows.Scan(&p.ID, &p.HostID, &p.Protocol, &params); err != nil {
			rows.Close()
			return Export{}, err
		}
		if err := json.Unmarshal([]byte(params), &p.Params); err != nil {
			p.Params = map[string]string{}
		}
		out.Presets = append(out.Presets, p)
	}
	if err := rows.Close(); err != nil {
		return Export{}, err
	}
	return out, nil
}

// Import replaces the whole store wholesale inside one transaction.
func (s *SQLiteStore) Import(ctx context.Context, data Export) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	defer tx.Rollback()

	for _, q := range []string{`DELETE FROM hosts`, `DELETE FROM snippets`, `DELETE FROM settings`, `DELETE FROM presets`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: %v", ErrTransaction, err)
		}
	}
	for _, h := range data.Hosts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hosts(id, label, address, port, username) VALUES(?, ?, ?, ?, ?)`,
			h.ID, h.Label, h.Address, h.Port, h.Username); err != nil {
			return fmt.Errorf("%w: %v", ErrTransaction, err)
		}
	}
	for _, sn := range data.Snippets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snippets(id, name, script) VALUES(?, ?, ?)`,
			sn.ID, sn.Name, sn.Script); err != nil {
			return fmt.Errorf("%w: %v", ErrTransaction, err)
		}
	}
	for k, v := range data.Settings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings(key, value) VALUES(?, ?)`, k, v); err != nil {
			return fmt.Errorf("%w: %v", ErrTransaction, err)
		}
	}
	for _, p := range data.Presets {
		params, err := json.Marshal(p.Params)
		if err != nil {
			params = []byte("{}")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO presets(id, host_id, protocol, params) VALUES(?, ?, ?, ?)`,
			p.ID, p.HostID, p.Protocol, string(params)); err != nil {
			return fmt.Errorf("%w: %v", ErrTransaction, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	return nil
}
