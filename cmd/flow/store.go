package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/flow"
	"github.com/deepnoodle-ai/flow/store/postgres"
	"github.com/deepnoodle-ai/flow/store/redis"
	"github.com/deepnoodle-ai/flow/store/sqlite"
)

// openStore opens the store named by location. The returned func releases
// any connection the store holds.
func openStore(ctx context.Context, location string) (flow.Store, func(), error) {
	noop := func() {}
	switch {
	case location == "":
		store, err := flow.NewFileStore("")
		return store, noop, err
	case strings.HasPrefix(location, "file://"):
		store, err := flow.NewFileStore(strings.TrimPrefix(location, "file://"))
		return store, noop, err
	case strings.HasPrefix(location, "sqlite://"):
		store, err := sqlite.Open(strings.TrimPrefix(location, "sqlite://"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case strings.HasPrefix(location, "redis://"):
		store, err := redis.New(ctx, redis.Options{Addr: strings.TrimPrefix(location, "redis://")})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		store, err := postgres.Open(ctx, location)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported store %q", location)
}
