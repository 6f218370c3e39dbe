package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/viper"

	"github.com/ledgermint/ledgermint/internal/common"
	"github.com/ledgermint/ledgermint/internal/config"
	"github.com/ledgermint/ledgermint/internal/legacy"
	"github.com/ledgermint/ledgermint/internal/rules"
	"github.com/ledgermint/ledgermint/internal/service"
	"github.com/ledgermint/ledgermint/internal/storage"
)

// initStorage opens the database named by the config, or the default
// location, and brings the schema current.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := config.ExpandPath(viper.GetString("database.path"))
	if dbPath == "" {
		dbPath = config.DefaultDatabasePath()
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("could not open database at %s", dbPath), err)
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initEngine wires the evaluation engine over the store with the legacy
// bridge attached.
func initEngine(ctx context.Context) (*rules.Engine, service.Storage, func(), error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() { _ = store.Close() }
	engine := rules.NewEngine(store, legacy.NewBridge(store))
	return engine, store, cleanup, nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %s", arg)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
