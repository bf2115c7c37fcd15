package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roastline/menusync"
	"github.com/roastline/menusync/cache"
	"github.com/roastline/menusync/feed"
	"github.com/roastline/menusync/feed/pgfeed"
	"github.com/roastline/menusync/feed/wsfeed"
)

// runtime bundles everything a subcommand needs: the feed source, the local
// snapshot cache (doubling as the health prober), and the manager on top.
type runtime struct {
	source  feed.Source
	store   *cache.Store
	manager *menusync.Manager
}

func (r *runtime) close() {
	_ = r.manager.Close()
	if closer, ok := r.source.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	_ = r.store.Close()
}

// buildRuntime wires the manager from the command's persistent flags.
func buildRuntime(cmd *cobra.Command) (*runtime, error) {
	configPath, _ := cmd.Flags().GetString("config")
	pgConn, _ := cmd.Flags().GetString("pg")
	wsURL, _ := cmd.Flags().GetString("ws")
	dbPath, _ := cmd.Flags().GetString("db")

	var opts menusync.Options
	if configPath != "" {
		loaded, err := menusync.LoadOptions(configPath)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	source, err := buildSource(pgConn, wsURL)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewWithDataSource(dbPath)
	if err != nil {
		closeSource(source)
		return nil, err
	}

	manager := menusync.NewManager(source, store, opts)
	return &runtime{source: source, store: store, manager: manager}, nil
}

func buildSource(pgConn, wsURL string) (feed.Source, error) {
	switch {
	case wsURL != "":
		return wsfeed.Dial(&wsfeed.Config{URL: wsURL})
	case pgConn != "":
		return pgfeed.New(&pgfeed.Config{ConnString: pgConn})
	default:
		return nil, fmt.Errorf("a feed endpoint is required: pass --pg or --ws")
	}
}

func closeSource(source feed.Source) {
	if closer, ok := source.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
