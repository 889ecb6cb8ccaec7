package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadify-flow/internal/config"
	"github.com/sells-group/leadify-flow/internal/store"
)

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch sc.Driver {
	case "", "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "leadify.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, sc.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
