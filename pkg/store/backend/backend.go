// Package backend opens the configured conversation store.
package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nstogner/agentchat/pkg/config"
	"github.com/nstogner/agentchat/pkg/store"
	"github.com/nstogner/agentchat/pkg/store/jsonl"
	"github.com/nstogner/agentchat/pkg/store/sqlite"
)

// Open returns the store selected by cfg.Driver and a function that
// releases it.
func Open(cfg config.StoreConfig) (store.ConversationStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, nil, fmt.Errorf("create store directory: %w", err)
		}
		st, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case config.DriverJSONL:
		st, err := jsonl.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
