package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/computeledger/trainmgr/ledger"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/rpc/api"
	"github.com/computeledger/trainmgr/settlement"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/training"
	"github.com/computeledger/trainmgr/types"
)

var ErrUnavailable = errors.New("unavailable")

const maxResponseSize = 16 << 20

type HTTPConfig struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		RetryMax:     4,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// HTTP is a Backend talking to the ledger API. Connection errors and 5xx
// responses are retried, every other error response is mapped back to the
// typed error it carries.
type HTTP struct {
	baseURL *url.URL
	client  *retryablehttp.Client
}

var _ Backend = (*HTTP)(nil)

// NewHTTP returns a backend for the API at baseURL. It logs retries with the
// logger carried by ctx.
func NewHTTP(ctx context.Context, baseURL string, cfg HTTPConfig) (*HTTP, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.Logger = &retryLogger{logging.FromContext(ctx).Named("http").Sugar()}
	return &HTTP{baseURL: u, client: client}, nil
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	*zap.SugaredLogger
}

func (l *retryLogger) Error(msg string, keysAndValues ...any) { l.Errorw(msg, keysAndValues...) }
func (l *retryLogger) Info(msg string, keysAndValues ...any)  { l.Infow(msg, keysAndValues...) }
func (l *retryLogger) Debug(msg string, keysAndValues ...any) { l.Debugw(msg, keysAndValues...) }
func (l *retryLogger) Warn(msg string, keysAndValues ...any)  { l.Warnw(msg, keysAndValues...) }

func (c *HTTP) Info(ctx context.Context) (*api.Info, error) {
	info := &api.Info{}
	if err := c.req(ctx, http.MethodGet, "/v1/info", nil, info); err != nil {
		return nil, fmt.Errorf("getting info: %w", err)
	}
	return info, nil
}

func (c *HTTP) ChainID(ctx context.Context) (uint64, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.ChainID, nil
}

func (c *HTTP) Nonce(ctx context.Context, id types.Identity) (uint64, error) {
	resp := &api.Nonce{}
	if err := c.req(ctx, http.MethodGet, "/v1/nonce/"+id.String(), nil, resp); err != nil {
		return 0, fmt.Errorf("getting nonce: %w", err)
	}
	return resp.Nonce, nil
}

func (c *HTTP) Submit(ctx context.Context, tx *signing.SignedTx) (types.Hash, error) {
	req, err := api.IntoSubmitTxRequest(tx)
	if err != nil {
		return types.Hash{}, err
	}
	resp := &api.SubmitTxResponse{}
	if err := c.req(ctx, http.MethodPost, "/v1/tx", req, resp); err != nil {
		return types.Hash{}, fmt.Errorf("submitting tx: %w", err)
	}
	return resp.Hash, nil
}

func (c *HTTP) Receipt(ctx context.Context, hash types.Hash) (*ledger.Receipt, error) {
	resp := &api.Receipt{}
	if err := c.req(ctx, http.MethodGet, "/v1/tx/"+hash.String(), nil, resp); err != nil {
		return nil, err
	}
	return api.FromReceipt(resp)
}

func (c *HTTP) LatestRunID(ctx context.Context) (types.RunID, error) {
	resp := &api.LatestRun{}
	if err := c.req(ctx, http.MethodGet, "/v1/runs/latest", nil, resp); err != nil {
		return 0, fmt.Errorf("getting latest run: %w", err)
	}
	return resp.ID, nil
}

func (c *HTTP) TrainingRun(ctx context.Context, id types.RunID) (*training.Run, error) {
	resp := &api.Run{}
	if err := c.req(ctx, http.MethodGet, "/v1/runs/"+id.String(), nil, resp); err != nil {
		return nil, err
	}
	return api.FromRun(resp)
}

func (c *HTTP) ComputeNodes(ctx context.Context, id types.RunID) ([]training.Member, error) {
	resp := &api.Members{}
	if err := c.req(ctx, http.MethodGet, "/v1/runs/"+id.String()+"/nodes", nil, resp); err != nil {
		return nil, err
	}
	return api.FromMembers(resp), nil
}

func (c *HTTP) Attestations(ctx context.Context, id types.RunID, node types.Identity) ([][]byte, error) {
	resp := &api.Attestations{}
	if err := c.req(ctx, http.MethodGet, "/v1/runs/"+id.String()+"/attestations/"+node.String(), nil, resp); err != nil {
		return nil, err
	}
	return api.FromAttestations(resp)
}

func (c *HTTP) NodeAttestations(ctx context.Context, node types.Identity) ([][]byte, error) {
	resp := &api.Attestations{}
	if err := c.req(ctx, http.MethodGet, "/v1/nodes/"+node.String()+"/attestations", nil, resp); err != nil {
		return nil, err
	}
	return api.FromAttestations(resp)
}

func (c *HTTP) IsComputeNodeValid(ctx context.Context, node types.Identity) (bool, error) {
	resp := &api.NodeValid{}
	if err := c.req(ctx, http.MethodGet, "/v1/nodes/"+node.String()+"/valid", nil, resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (c *HTTP) Settlement(ctx context.Context, id types.RunID) (*settlement.Record, error) {
	resp := &api.Settlement{}
	if err := c.req(ctx, http.MethodGet, "/v1/runs/"+id.String()+"/settlement", nil, resp); err != nil {
		return nil, err
	}
	return api.FromSettlement(resp), nil
}

func (c *HTTP) MinimumStake(ctx context.Context) (uint64, error) {
	resp := &api.Amount{}
	if err := c.req(ctx, http.MethodGet, "/v1/stake/minimum", nil, resp); err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (c *HTTP) Account(ctx context.Context, id types.Identity) (*ledger.Balances, error) {
	resp := &api.Account{}
	if err := c.req(ctx, http.MethodGet, "/v1/accounts/"+id.String(), nil, resp); err != nil {
		return nil, err
	}
	return api.FromAccount(resp)
}

func (c *HTTP) req(ctx context.Context, method, path string, reqBody, resBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: doing request: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body (%w)", err)
	}

	if res.StatusCode != http.StatusOK {
		var apiErr api.Error
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Kind == "" {
			return fmt.Errorf("unrecognized error: status code: %s, body: %s", res.Status, string(data))
		}
		if res.StatusCode == http.StatusServiceUnavailable {
			return fmt.Errorf("%w: %s", ErrUnavailable, apiErr.Error)
		}
		return apiErr.Err()
	}
	if resBody != nil {
		if err := json.Unmarshal(data, resBody); err != nil {
			return fmt.Errorf("decoding response body: %w", err)
		}
	}
	return nil
}
