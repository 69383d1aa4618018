package upstream

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/0xsequence/ethkit/ethrpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/common/metrics"
)

const (
	statusError   = "error"
	statusSuccess = "success"
)

// headerTransport adds custom headers to requests and respects context
// cancellation.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	if req.Context().Err() != nil {
		return nil, req.Context().Err()
	}

	return t.base.RoundTrip(req)
}

// Client is a typed JSON-RPC client for one execution endpoint. All calls
// record per-method metrics.
type Client struct {
	log  logrus.FieldLogger
	name string
	rpc  *ethrpc.Provider

	chainID atomic.Uint64
}

// NewClient builds a client for the given endpoint. No network I/O happens
// until the first call.
func NewClient(log logrus.FieldLogger, conf *EndpointConfig) (*Client, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	// No fixed client timeout, the per-call context controls request
	// lifecycle.
	httpClient := http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	httpClient.Transport = &headerTransport{
		headers: conf.Headers,
		base:    httpClient.Transport,
	}

	rpc, err := ethrpc.NewProvider(conf.Address, ethrpc.WithHTTPClient(&httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC provider for %s: %w", conf.Address, err)
	}

	return &Client{
		log:  log.WithFields(logrus.Fields{"type": "upstream", "source": conf.Name}),
		name: conf.Name,
		rpc:  rpc,
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

// CachedChainID returns the chain id seen by the most recent successful
// ChainID call, zero before the first one.
func (c *Client) CachedChainID() uint64 {
	return c.chainID.Load()
}

func (c *Client) record(method, status string, start time.Time) {
	chainID := fmt.Sprintf("%d", c.chainID.Load())

	metrics.RPCCallDuration.WithLabelValues(chainID, c.name, method, status).Observe(time.Since(start).Seconds())
	metrics.RPCCallsTotal.WithLabelValues(chainID, c.name, method, status).Inc()
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var raw string

	call := ethrpc.NewCallBuilder[string]("eth_chainId", nil)

	start := time.Now()
	_, err := c.rpc.Do(ctx, call.Into(&raw))

	status := statusSuccess
	if err != nil {
		status = statusError
	}

	c.record("eth_chainId", status, start)

	if err != nil {
		return 0, err
	}

	chainID, err := hexutil.DecodeUint64(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse chain id %q: %w", raw, err)
	}

	c.chainID.Store(chainID)

	return chainID, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNumber uint64

	start := time.Now()
	_, err := c.rpc.Do(ctx, ethrpc.BlockNumber().Into(&blockNumber))

	status := statusSuccess
	if err != nil {
		status = statusError
	}

	c.record("eth_blockNumber", status, start)

	if err != nil {
		return 0, err
	}

	return blockNumber, nil
}

func (c *Client) Balance(ctx context.Context, addr common.Address, block uint64) (*big.Int, error) {
	var raw string

	call := ethrpc.NewCallBuilder[string]("eth_getBalance", nil, addr.Hex(), hexutil.EncodeUint64(block))

	start := time.Now()
	_, err := c.rpc.Do(ctx, call.Into(&raw))

	status := statusSuccess
	if err != nil {
		status = statusError
	}

	c.record("eth_getBalance", status, start)

	if err != nil {
		return nil, err
	}

	balance, err := hexutil.DecodeBig(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance %q: %w", raw, err)
	}

	return balance, nil
}

func (c *Client) Nonce(ctx context.Context, addr common.Address, block uint64) (uint64, error) {
	var raw string

	call := ethrpc.NewCallBuilder[string]("eth_getTransactionCount", nil, addr.Hex(), hexutil.EncodeUint64(block))

	start := time.Now()
	_, err := c.rpc.Do(ctx, call.Into(&raw))

	status := statusSuccess
	if err != nil {
		status = statusError
	}

	c.record("eth_getTransactionCount", status, start)

	if err != nil {
		return 0, err
	}

	nonce, err := hexutil.DecodeUint64(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse nonce %q: %w", raw, err)
	}

	return nonce, nil
}

func (c *Client) Code(ctx context.Context, addr common.Address, block uint64) ([]byte, error) {
	var raw string

	call := ethrpc.NewCallBuilder[string]("eth_getCode", nil, addr.Hex(), hexutil.EncodeUint64(block))

	start := time.Now()
	_, err := c.rpc.Do(ctx, call.Into(&raw))

	status := statusSuccess
	if err != nil {
		status = statusError
	}

	c.record("eth_getCode", status, start)

	if err != nil {
		return nil, err
	}

	code, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse code %q: %w", raw, err)
	}

	return code, nil
}

func (c *Client) StorageAt(ctx context.Context, addr common.Address, key common.Hash, block uint64) (common.Hash, error) {
	var raw string

	call := ethrpc.NewCallBuilder[string]("eth_getStorageAt", nil, addr.Hex(), key.Hex(), hexutil.EncodeUint64(block))

	start := time.Now()
	_, err := c.rpc.Do(ctx, call.Into(&raw))

	status := statusSuccess
	if err != nil {
		status = statusError
	}

	c.record("eth_getStorageAt", status, start)

	if err != nil {
		return common.Hash{}, err
	}

	return common.HexToHash(raw), nil
}

// Header is the subset of a block header the fork environment needs.
type Header struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
	GasLimit   uint64
	BaseFee    *big.Int
	MixDigest  common.Hash
}

type rpcHeader struct {
	Number        string `json:"number"`
	Hash          string `json:"hash"`
	ParentHash    string `json:"parentHash"`
	Timestamp     string `json:"timestamp"`
	GasLimit      string `json:"gasLimit"`
	BaseFeePerGas string `json:"baseFeePerGas"`
	MixHash       string `json:"mixHash"`
}

// HeaderByNumber fetches the header at the given block, or the latest header
// when block is nil.
func (c *Client) HeaderByNumber(ctx context.Context, block *uint64) (*Header, error) {
	tag := "latest"
	if block != nil {
		tag = hexutil.EncodeUint64(*block)
	}

	var raw *rpcHeader

	call := ethrpc.NewCallBuilder[*rpcHeader]("eth_getBlockByNumber", nil, tag, false)

	start := time.Now()
	_, err := c.rpc.Do(ctx, call.Into(&raw))

	status := statusSuccess
	if err != nil {
		status = statusError
	}

	c.record("eth_getBlockByNumber", status, start)

	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, tag)
	}

	return raw.parse()
}

func (h *rpcHeader) parse() (*Header, error) {
	number, err := hexutil.DecodeUint64(h.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to parse block number %q: %w", h.Number, err)
	}

	timestamp, err := hexutil.DecodeUint64(h.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse block timestamp %q: %w", h.Timestamp, err)
	}

	gasLimit, err := hexutil.DecodeUint64(h.GasLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse block gas limit %q: %w", h.GasLimit, err)
	}

	header := &Header{
		Number:     number,
		Hash:       common.HexToHash(h.Hash),
		ParentHash: common.HexToHash(h.ParentHash),
		Timestamp:  timestamp,
		GasLimit:   gasLimit,
		MixDigest:  common.HexToHash(h.MixHash),
	}

	// Pre-London blocks have no base fee.
	if h.BaseFeePerGas != "" {
		baseFee, err := hexutil.DecodeBig(h.BaseFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("failed to parse base fee %q: %w", h.BaseFeePerGas, err)
		}

		header.BaseFee = baseFee
	}

	return header, nil
}
