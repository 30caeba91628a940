package kv

import (
	"context"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/computeledger/trainmgr/logging"
)

// Relocate moves the database at oldDir to targetDir by copying every key
// in one transaction and then removing oldDir. It is a no-op when oldDir
// holds no database. The target must not exist yet.
func Relocate(ctx context.Context, targetDir, oldDir string) error {
	log := logging.FromContext(ctx)
	if oldDir == targetDir {
		log.Debug("skipping in-place DB relocation")
		return nil
	}

	oldDB, err := leveldb.OpenFile(oldDir, &opt.Options{ErrorIfMissing: true})
	switch {
	case os.IsNotExist(err):
		log.Debug("skipping DB relocation - old DB doesn't exist", zap.String("oldDir", oldDir))
		return nil
	case err != nil:
		return fmt.Errorf("opening old DB: %w", err)
	}
	defer oldDB.Close()

	log.Info("relocating DB", zap.String("oldDir", oldDir), zap.String("targetDir", targetDir))
	targetDB, err := leveldb.OpenFile(targetDir, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return fmt.Errorf("opening target DB: %w", err)
	}
	defer targetDB.Close()

	tx, err := targetDB.OpenTransaction()
	if err != nil {
		return fmt.Errorf("opening target DB transaction: %w", err)
	}
	iter := oldDB.NewIterator(nil, nil)
	defer iter.Release()
	copied := 0
	for iter.Next() {
		if err := tx.Put(iter.Key(), iter.Value(), nil); err != nil {
			tx.Discard()
			return fmt.Errorf("copying key %X: %w", iter.Key(), err)
		}
		copied++
	}
	if err := iter.Error(); err != nil {
		tx.Discard()
		return fmt.Errorf("iterating old DB: %w", err)
	}
	iter.Release()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing DB transaction: %w", err)
	}

	if err := oldDB.Close(); err != nil {
		return fmt.Errorf("closing old DB: %w", err)
	}
	if err := os.RemoveAll(oldDir); err != nil {
		return fmt.Errorf("removing old DB: %w", err)
	}
	log.Info("DB relocated", zap.Int("keys", copied))
	return nil
}
