package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
	"go.uber.org/zap"

	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/signing"
)

const (
	stateFilename = "state.bin"

	// KeyEnvVar holds a hex encoded secp256k1 private key that overrides the
	// generated one on first start.
	KeyEnvVar = "TRAINMGR_PRIVATE_KEY"
)

type state struct {
	PrivKey []byte
}

func (s *state) signer() (*signing.KeySigner, error) {
	return signing.KeySignerFromBytes(s.PrivKey)
}

func saveState(datadir string, s *state) error {
	var w bytes.Buffer
	if _, err := xdr.Marshal(&w, s); err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(datadir, stateFilename), &w); err != nil {
		return fmt.Errorf("writing to disk: %w", err)
	}
	return nil
}

// loadState returns the persisted node key, or a new one when there is none.
// A key passed through the environment must match the persisted one.
func loadState(ctx context.Context, datadir, envKey string) (*state, error) {
	logger := logging.FromContext(ctx)

	var fromEnv *signing.KeySigner
	if envKey != "" {
		var err error
		if fromEnv, err = signing.KeySignerFromHex(envKey); err != nil {
			return nil, fmt.Errorf("decoding key from %s: %w", KeyEnvVar, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(datadir, stateFilename)) //#nosec G304
	switch {
	case errors.Is(err, os.ErrNotExist):
		if fromEnv != nil {
			logger.Info("using key from environment", zap.Stringer("identity", fromEnv.Identity()))
			return &state{PrivKey: fromEnv.Bytes()}, nil
		}
		key, err := signing.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		logger.Info("generated new key", zap.Stringer("identity", key.Identity()))
		return &state{PrivKey: key.Bytes()}, nil
	case err != nil:
		return nil, fmt.Errorf("loading file: %w", err)
	}

	s := &state{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), s); err != nil {
		return nil, fmt.Errorf("deserializing: %w", err)
	}
	signer, err := s.signer()
	if err != nil {
		return nil, fmt.Errorf("persisted key: %w", err)
	}
	if fromEnv != nil && fromEnv.Identity() != signer.Identity() {
		return nil, fmt.Errorf("key in %s (%s) does not match persisted key (%s)", KeyEnvVar, fromEnv.Identity(), signer.Identity())
	}
	logger.Info("loaded key", zap.Stringer("identity", signer.Identity()))
	return s, nil
}
