// Package postgres implements the interface for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/evannetwork/ui-angular-core-sub000/lib/queue"
	"github.com/evannetwork/ui-angular-core-sub000/lib/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS queue_store (
		key        TEXT PRIMARY KEY,
		entries    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		account    TEXT NOT NULL,
		account_id TEXT NOT NULL,
		alias      TEXT NOT NULL DEFAULT '',
		tags       TEXT[] NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL,
		PRIMARY KEY (account, account_id)
	)`,
}

// Postgres implements a connection to a PostgreSQL database storing the queue under key.
type Postgres struct {
	db  *sql.DB
	key string
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection, key string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	p, err := NewWithDB(db, key)
	if err != nil {
		db.Close()

		return nil, err
	}

	return p, nil
}

// NewWithDB uses an open database, creating the tables when missing.
func NewWithDB(db *sql.DB, key string) (*Postgres, error) {
	for _, s := range schema {
		if _, err := db.Exec(s); err != nil {
			return nil, fmt.Errorf("cannot create schema: %w", err)
		}
	}

	return &Postgres{db: db, key: key}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// LoadQueue loads the queue entries of the key. A missing row is an empty queue.
func (p *Postgres) LoadQueue(ctx context.Context) ([]*queue.Entry, error) {
	var b []byte

	err := p.db.QueryRowContext(ctx, `SELECT entries FROM queue_store WHERE key = $1`, p.key).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return []*queue.Entry{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("cannot load queue %s: %w", p.key, err)
	}

	return store.DecodeQueue(b)
}

// StoreQueue saves the queue entries of the key.
func (p *Postgres) StoreQueue(ctx context.Context, entries []*queue.Entry) error {
	b, err := store.EncodeQueue(entries)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `INSERT INTO queue_store (key, entries, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET entries = EXCLUDED.entries, updated_at = now()`, p.key, b)
	if err != nil {
		return fmt.Errorf("cannot store queue %s: %w", p.key, err)
	}

	return nil
}

// LoadContacts loads the contacts of account, oldest first.
func (p *Postgres) LoadContacts(ctx context.Context, account string) ([]store.Contact, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT account_id, alias, tags, created_at FROM contacts
		WHERE account = $1 ORDER BY created_at, account_id`, account)
	if err != nil {
		return nil, fmt.Errorf("cannot load contacts of %s: %w", account, err)
	}
	defer rows.Close()

	var cs []store.Contact

	for rows.Next() {
		var c store.Contact
		if err := rows.Scan(&c.AccountID, &c.Alias, pq.Array(&c.Tags), &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("cannot read contact of %s: %w", account, err)
		}

		cs = append(cs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot load contacts of %s: %w", account, err)
	}

	if len(cs) == 0 {
		return nil, store.ErrDataNotFound
	}

	return cs, nil
}

// SaveContacts replaces the contacts of account in one transaction.
func (p *Postgres) SaveContacts(ctx context.Context, account string, contacts []store.Contact) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot save contacts of %s: %w", account, err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM contacts WHERE account = $1`, account); err != nil {
		return fmt.Errorf("cannot save contacts of %s: %w", account, err)
	}

	for _, c := range contacts {
		tags := c.Tags
		if tags == nil {
			tags = []string{}
		}

		if _, err = tx.ExecContext(ctx, `INSERT INTO contacts (account, account_id, alias, tags, created_at)
			VALUES ($1, $2, $3, $4, $5)`, account, c.AccountID, c.Alias, pq.Array(tags), c.CreatedAt); err != nil {
			return fmt.Errorf("cannot save contact %s of %s: %w", c.AccountID, account, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("cannot save contacts of %s: %w", account, err)
	}

	return nil
}
