package state

import (
	"context"
	"fmt"

	"github.com/connergroth/EcoVision/internal/config"
	"github.com/connergroth/EcoVision/internal/ledger"
	"github.com/connergroth/EcoVision/internal/logger"
)

// Open returns the ledger store selected by cfg.Driver
func Open(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (ledger.Store, error) {
	log = log.Named("state")

	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(ctx, cfg.Path, log)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, log)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
