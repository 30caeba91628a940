package migrations

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/server"
)

// migrateLedgerDir moves a ledger that was stored inside the data directory,
// as happens when --dbdir pointed at it, into the database directory.
func migrateLedgerDir(ctx context.Context, cfg *server.Config) error {
	oldDir := filepath.Join(cfg.DataDir, "ledger")
	if err := kv.Relocate(ctx, cfg.LedgerDir(), oldDir); err != nil {
		return fmt.Errorf("migrating ledger DB %s -> %s: %w", oldDir, cfg.LedgerDir(), err)
	}
	return nil
}
