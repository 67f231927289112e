package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/railwatch/pkg/config"
	"github.com/diagnosis/railwatch/pkg/database"
)

// Open builds the store selected by SCHEDULE_BACKEND. The returned func
// releases its connections.
func Open(ctx context.Context, cfg *config.Config, loc *time.Location) (Store, func(), error) {
	switch cfg.Schedule.Backend {
	case "", "memory":
		return NewMemoryStore(loc), func() {}, nil

	case "mongo":
		client, err := NewMongoClient(ctx, cfg.Mongo.URI, cfg.Mongo.User, cfg.Mongo.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		return NewMongoStore(client.Database(cfg.Mongo.Database), loc), closeFn, nil

	case "postgres":
		pool, err := database.Connect(ctx, cfg.Database.URL, database.Options{
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxLifetime: cfg.Database.MaxLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store := NewPostgresStore(pool, loc)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to prepare schedule schema: %w", err)
		}
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown schedule backend %q", cfg.Schedule.Backend)
}
