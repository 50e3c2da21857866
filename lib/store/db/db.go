// Package db implements the opening and graceful closing of database connections.
package db

import (
	"fmt"

	"github.com/evannetwork/ui-angular-core-sub000/lib/store"
	"github.com/evannetwork/ui-angular-core-sub000/lib/store/memory"
	"github.com/evannetwork/ui-angular-core-sub000/lib/store/mongo"
	"github.com/evannetwork/ui-angular-core-sub000/lib/store/postgres"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	MEMORY   string = "memory"
)

// New returns a new database connection according to the options (database type). The queue is stored under key.
func New(options, connection, key string) (store.DB, error) {
	switch options {
	case MONGODB:
		return mongo.New(connection, key)
	case POSTGRES:
		return postgres.New(connection, key)
	case MEMORY:
		return memory.New(), nil
	}

	return nil, fmt.Errorf("%s: %w", options, store.ErrUnknownDB)
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	case MEMORY:
		return dh.(*memory.Memory).Close()
	}

	return nil
}
