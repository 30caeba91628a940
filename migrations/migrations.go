// Package migrations brings an existing data directory up to the layout the
// running trainmgrd expects. Migrations run before the server opens anything.
package migrations

import (
	"context"

	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/server"
)

func Migrate(ctx context.Context, cfg *server.Config) error {
	ctx = logging.NewContext(ctx, logging.FromContext(ctx).Named("migrations"))
	if err := migrateLedgerDir(ctx, cfg); err != nil {
		return err
	}
	return nil
}
