// Package rpc serves the ledger over a JSON HTTP API: transaction submission,
// receipts and read only queries of the contract state.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/computeledger/trainmgr/ledger"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/rpc/api"
	"github.com/computeledger/trainmgr/types"
)

const maxRequestSize = 1 << 20

var requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "trainmgr",
	Subsystem: "api",
	Name:      "request_duration_seconds",
	Help:      "Latency of API requests",
	Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
}, []string{"route", "code"})

// Server is an http.Handler in front of a ledger.
type Server struct {
	ledger *ledger.Ledger
	router *mux.Router
	logger *zap.Logger
}

// NewServer creates the API handler. It logs with the logger carried by ctx.
func NewServer(ctx context.Context, l *ledger.Ledger) *Server {
	s := &Server{
		ledger: l,
		router: mux.NewRouter(),
		logger: logging.FromContext(ctx).Named("api"),
	}
	s.router.Use(s.requestLogger)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/info", s.info).Methods(http.MethodGet)
	v1.HandleFunc("/tx", s.submitTx).Methods(http.MethodPost)
	v1.HandleFunc("/tx/{hash}", s.receipt).Methods(http.MethodGet)
	v1.HandleFunc("/nonce/{addr}", s.nonce).Methods(http.MethodGet)

	v1.HandleFunc("/runs/latest", s.latestRun).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.run).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/nodes", s.runNodes).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/settlement", s.runSettlement).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/attestations/{addr}", s.runAttestations).Methods(http.MethodGet)

	v1.HandleFunc("/nodes/{addr}/valid", s.nodeValid).Methods(http.MethodGet)
	v1.HandleFunc("/nodes/{addr}/attestations", s.nodeAttestations).Methods(http.MethodGet)

	v1.HandleFunc("/stake/minimum", s.minimumStake).Methods(http.MethodGet)
	v1.HandleFunc("/stake/{addr}", s.stake).Methods(http.MethodGet)
	v1.HandleFunc("/balance/{addr}", s.balance).Methods(http.MethodGet)
	v1.HandleFunc("/roles/{addr}", s.roles).Methods(http.MethodGet)
	v1.HandleFunc("/whitelist/{addr}", s.whitelist).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{addr}", s.account).Methods(http.MethodGet)

	s.router.NotFoundHandler = s.requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, types.ErrorFromKind(types.KindNotFound, "no such endpoint "+r.URL.Path))
	}))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger tags every request with an id, puts a request scoped logger
// into its context and records its latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		logger := s.logger.With(zap.Stringer("request_id", uuid.New()))
		logger.Debug("new request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.String("from", r.RemoteAddr))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(logging.NewContext(r.Context(), logger)))

		requestLatency.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

func statusCode(err error) int {
	if errors.Is(err, ledger.ErrQueueFull) || errors.Is(err, ledger.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	switch types.KindOf(err) {
	case types.KindNotFound, types.KindPending:
		return http.StatusNotFound
	case types.KindInvalidArgument, types.KindInvalidSignature, types.KindWrongChain, types.KindMalformedAttestation:
		return http.StatusBadRequest
	case types.KindInvalidNonce, types.KindTxAlreadyKnown:
		return http.StatusConflict
	case types.KindUnauthorized:
		return http.StatusForbidden
	case types.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusCode(err)
	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Error(err))
	}
	writeJSON(w, status, &api.Error{Kind: types.KindOf(err), Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func pathIdentity(r *http.Request) (types.Identity, error) {
	return types.ParseIdentity(mux.Vars(r)["addr"])
}

func pathRunID(r *http.Request) (types.RunID, error) {
	return types.ParseRunID(mux.Vars(r)["id"])
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	head, err := s.ledger.Head()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &api.Info{
		ChainID: s.ledger.ChainID(),
		Height:  head.Height,
		Block:   head.Block,
		Head:    head.Hash,
		Admin:   s.ledger.Admin(),
	})
}

func (s *Server) submitTx(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitTxRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		s.writeError(w, r, types.ErrorFromKind(types.KindInvalidArgument, "decoding request: "+err.Error()))
		return
	}
	tx, err := api.FromSubmitTxRequest(&req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hash, err := s.ledger.Submit(r.Context(), tx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Debug("transaction accepted",
		zap.Stringer("hash", hash),
		zap.Stringer("from", tx.Tx.From),
		zap.Stringer("method", tx.Tx.Call.Method),
	)
	writeJSON(w, http.StatusOK, &api.SubmitTxResponse{Hash: hash})
}

func (s *Server) receipt(w http.ResponseWriter, r *http.Request) {
	hash, err := types.ParseHash(mux.Vars(r)["hash"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.ledger.Receipt(hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.IntoReceipt(receipt))
}

func (s *Server) nonce(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nonce, err := s.ledger.Nonce(id)
	s.reply(w, r, &api.Nonce{Address: id, Nonce: nonce}, err)
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	var id types.RunID
	err := s.ledger.View(func(c *ledger.Contracts) error {
		var err error
		id, err = c.Training.LatestRunID()
		return err
	})
	s.reply(w, r, &api.LatestRun{ID: id}, err)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	id, err := pathRunID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	run, err := s.ledger.TrainingRun(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.IntoRun(run))
}

func (s *Server) runNodes(w http.ResponseWriter, r *http.Request) {
	id, err := pathRunID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	members, err := s.ledger.ComputeNodes(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.IntoMembers(id, members))
}

func (s *Server) runSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := pathRunID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.ledger.Settlement(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.IntoSettlement(record))
}

func (s *Server) runAttestations(w http.ResponseWriter, r *http.Request) {
	id, err := pathRunID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	node, err := pathIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var atts [][]byte
	err = s.ledger.View(func(c *ledger.Contracts) error {
		atts, err = c.Training.GetAttestations(id, node)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.IntoAttestations(id, node, atts))
}

func (s *Server) nodeValid(w http.ResponseWriter, r *http.Request) {
	node, err := pathIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var valid bool
	err = s.ledger.View(func(c *ledger.Contracts) error {
		valid, err = c.Training.IsComputeNodeValid(node)
		return err
	})
	s.reply(w, r, &api.NodeValid{Node: node, Valid: valid}, err)
}

func (s *Server) nodeAttestations(w http.ResponseWriter, r *http.Request) {
	node, err := pathIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var (
		atts [][]byte
		run  types.RunID
	)
	err = s.ledger.View(func(c *ledger.Contracts) error {
		reg, found, err := c.Training.Registration(node)
		if err != nil {
			return err
		}
		if found {
			run = reg.Run
		}
		atts, err = c.Training.GetAttestationsForComputeNode(node)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.IntoAttestations(run, node, atts))
}

func (s *Server) minimumStake(w http.ResponseWriter, r *http.Request) {
	var minimum uint64
	err := s.ledger.View(func(c *ledger.Contracts) error {
		minimum = c.Staking.MinDeposit()
		return nil
	})
	s.reply(w, r, &api.Amount{Amount: minimum}, err)
}

// accountQuery serves the endpoints that each expose one field of the
// account of the identity in the path.
func (s *Server) accountQuery(w http.ResponseWriter, r *http.Request, build func(types.Identity, *ledger.Balances) any) {
	id, err := pathIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balances, err := s.ledger.Account(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, build(id, balances))
}

func (s *Server) stake(w http.ResponseWriter, r *http.Request) {
	s.accountQuery(w, r, func(id types.Identity, b *ledger.Balances) any {
		return &api.Amount{Address: &id, Amount: b.Stake}
	})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	s.accountQuery(w, r, func(id types.Identity, b *ledger.Balances) any {
		return &api.Amount{Address: &id, Amount: b.Tokens}
	})
}

func (s *Server) roles(w http.ResponseWriter, r *http.Request) {
	s.accountQuery(w, r, func(id types.Identity, b *ledger.Balances) any {
		return api.IntoRoles(id, b.Roles)
	})
}

func (s *Server) whitelist(w http.ResponseWriter, r *http.Request) {
	s.accountQuery(w, r, func(id types.Identity, b *ledger.Balances) any {
		return &api.Whitelist{Address: id, Whitelisted: b.Whitelisted}
	})
}

func (s *Server) account(w http.ResponseWriter, r *http.Request) {
	s.accountQuery(w, r, func(id types.Identity, b *ledger.Balances) any {
		return api.IntoAccount(id, b)
	})
}
