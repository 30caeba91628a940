package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/computeledger/trainmgr/ledger"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/rpc"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/types"
)

type Server struct {
	cfg    Config
	ledger *ledger.Ledger
	signer *signing.KeySigner

	restListener    net.Listener
	metricsListener net.Listener
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	logger := logging.FromContext(ctx)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}
	s, err := loadState(ctx, cfg.DataDir, os.Getenv(KeyEnvVar))
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if err := saveState(cfg.DataDir, s); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	signer, err := s.signer()
	if err != nil {
		return nil, err
	}

	admin := cfg.Admin
	if admin.IsZero() {
		admin = signer.Identity()
	}
	ledgerCfg := cfg.LedgerConfig(admin)
	logger.Info("ledger configuration", zap.Object("config", ledgerCfg))

	if err := os.MkdirAll(cfg.DbDir, 0o700); err != nil {
		return nil, err
	}
	l, err := ledger.Open(ctx, cfg.LedgerDir(), ledgerCfg)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	// Resolve the REST listener
	restListener, err := listen(cfg.RawRESTListener)
	if err != nil {
		return nil, multierror.Append(err, l.Close())
	}
	var metricsListener net.Listener
	if cfg.MetricsPort != nil {
		metricsListener, err = listen(net.JoinHostPort("", strconv.Itoa(int(*cfg.MetricsPort))))
		if err != nil {
			return nil, multierror.Append(err, restListener.Close(), l.Close())
		}
	}

	return &Server{
		cfg:             cfg,
		ledger:          l,
		signer:          signer,
		restListener:    restListener,
		metricsListener: metricsListener,
	}, nil
}

func listen(raw string) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", raw)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen(addr.Network(), addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %v", err)
	}
	return listener, nil
}

// Close releases the ledger. Listeners are closed by Start on shutdown.
func (s *Server) Close() error {
	return s.ledger.Close()
}

// RestAddr returns the address the HTTP API is listening on.
func (s *Server) RestAddr() net.Addr {
	return s.restListener.Addr()
}

// MetricsAddr returns the address metrics are served on, nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

// Identity is the identity of the node key.
func (s *Server) Identity() types.Identity {
	return s.signer.Identity()
}

func (s *Server) Ledger() *ledger.Ledger {
	return s.ledger
}

// Start serves the API until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	servers := []*http.Server{{
		Handler:           rpc.NewServer(ctx, s.ledger),
		ReadHeaderTimeout: time.Second * 5,
	}}
	listeners := []net.Listener{s.restListener}
	if s.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5})
		listeners = append(listeners, s.metricsListener)
	}

	for i := range servers {
		server, listener := servers[i], listeners[i]
		serverGroup.Go(func() error {
			logger.Sugar().Infof("HTTP server listening on %s", listener.Addr())
			err := server.Serve(listener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Wait for the server to shut down gracefully
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	var result *multierror.Error
	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown server: %s", err)
			result = multierror.Append(result, err)
		}
	}
	if err := serverGroup.Wait(); err != nil {
		logger.Sugar().Errorf("error when waiting to shutdown servers: %s", err)
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
