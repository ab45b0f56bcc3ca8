package app

import (
	"fmt"
	"strings"

	"github.com/shrimpsizemoose/tasksync/internal/store"
	"github.com/shrimpsizemoose/tasksync/internal/store/postgres"
	"github.com/shrimpsizemoose/tasksync/internal/store/sqlite"
)

func DetectDBType(dsn string) store.DatabaseType {
	if strings.HasPrefix(dsn, "postgres") {
		return store.DBTypePostgres
	}
	return store.DBTypeSQLite
}

func NewStore(cfg store.DBConfig) (store.Store, error) {
	if cfg.Type == "" {
		cfg.Type = DetectDBType(cfg.DSN)
	}
	if cfg.MigrationsDir == "" {
		cfg.MigrationsDir = "./migrations"
	}

	switch cfg.Type {
	case store.DBTypePostgres:
		return postgres.NewPostgresStore(cfg.DSN, cfg.MigrationsDir)
	case store.DBTypeSQLite:
		return sqlite.NewSQLiteStore(cfg.DSN, cfg.MigrationsDir)
	default:
		return nil, fmt.Errorf("unable to determine database type from DSN: %s", cfg.DSN)
	}
}
