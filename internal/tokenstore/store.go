package tokenstore

import (
	"context"
	"errors"
	"strings"

	"dailytask/pkg/logx"
)

// Well-known credential keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Store is the minimal persistence API used by the authenticated sessions.
type Store interface {
	Save(ctx context.Context, key, value string) error
	Load(ctx context.Context, key string) (value string, ok bool, err error)
	Close() error
}

// Config configures token persistence.
//
// Driver values:
//   - "file": one plain file per key under Path (a directory)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver string
	Path   string
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown tokenstore driver: " + driver)
	}
}
