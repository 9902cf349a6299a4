// Package chain connects to a Lestnet node over HTTP or WebSocket and exposes
// the calls used by the transaction submitter.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/network"
	"lestnet-sdk/internal/retry"
	"lestnet-sdk/pkg/logger"
)

// Transport selects the endpoint Dial connects to.
type Transport int

const (
	// HTTP uses the JSON-RPC over HTTP endpoint.
	HTTP Transport = iota
	// WS uses the WebSocket endpoint.
	WS
)

func (t Transport) String() string {
	switch t {
	case WS:
		return "ws"
	default:
		return "http"
	}
}

// ParseTransport maps "http"/"ws" (also "https"/"wss"/"websocket") to a Transport.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "http", "https":
		return HTTP, nil
	case "ws", "wss", "websocket":
		return WS, nil
	default:
		return HTTP, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown transport %q", s))
	}
}

// ErrChainMismatch is returned when the node serves a different chain id.
var ErrChainMismatch = xerrors.New(xerrors.CodeConflict, "remote chain id does not match network")

// Snapshot summarises the remote chain.
type Snapshot struct {
	Network     string
	ChainID     *big.Int
	BlockNumber uint64
	Transport   string
}

// Client wraps an RPC connection to one network.
type Client struct {
	network   network.Network
	transport Transport
	rpc       *gethrpc.Client
	eth       *ethclient.Client
	retryOpts []retry.Option
	log       *slog.Logger
	mu        sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the retry options applied to read calls made by Snapshot
// and Balance.
func WithRetry(opts ...retry.Option) Option {
	return func(c *Client) { c.retryOpts = append(c.retryOpts, opts...) }
}

// Dial connects to the endpoint of net selected by transport.
func Dial(ctx context.Context, net network.Network, transport Transport, opts ...Option) (*Client, error) {
	net = net.WithDefaults()
	endpoint := net.HTTPURL
	if transport == WS {
		endpoint = net.WSURL
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("no %s endpoint configured", transport))
	}
	rpcClient, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPC, err, "connect to node")
	}
	c := NewClient(rpcClient, net, opts...)
	c.transport = transport
	return c, nil
}

// NewClient wraps an existing RPC connection.
func NewClient(rpcClient *gethrpc.Client, net network.Network, opts ...Option) *Client {
	c := &Client{
		network: net.WithDefaults(),
		rpc:     rpcClient,
		eth:     ethclient.NewClient(rpcClient),
		log:     logger.Named("chain"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Network returns the network the client was built for.
func (c *Client) Network() network.Network { return c.network }

// Close releases the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
		c.eth = nil
	}
}

func (c *Client) conn() (*ethclient.Client, *gethrpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth == nil || c.rpc == nil {
		return nil, nil, xerrors.New(xerrors.CodeInitializationFailure, "chain client is closed")
	}
	return c.eth, c.rpc, nil
}

// Snapshot verifies the remote chain id and reads the head block number.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	eth, _, err := c.conn()
	if err != nil {
		return Snapshot{}, err
	}
	opts := append([]retry.Option{retry.WithName("chain_snapshot")}, c.retryOpts...)
	chainID, err := retry.Do(ctx, eth.ChainID, opts...)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read chain id: %w", err)
	}
	if expected := c.network.ChainIDBig(); chainID.Cmp(expected) != 0 {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeConflict,
			fmt.Errorf("remote %s, expected %s", chainID, expected), ErrChainMismatch.Message())
	}
	head, err := retry.Do(ctx, eth.BlockNumber, opts...)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read block number: %w", err)
	}
	c.log.Debug("chain snapshot", slog.String("chain_id", chainID.String()), slog.Uint64("block", head))
	return Snapshot{
		Network:     c.network.Name,
		ChainID:     chainID,
		BlockNumber: head,
		Transport:   c.transport.String(),
	}, nil
}

// Balance returns the latest balance of addr in wei.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	eth, _, err := c.conn()
	if err != nil {
		return nil, err
	}
	opts := append([]retry.Option{retry.WithName("chain_balance")}, c.retryOpts...)
	return retry.Do(ctx, func(ctx context.Context) (*big.Int, error) {
		return eth.BalanceAt(ctx, addr, nil)
	}, opts...)
}

// The methods below satisfy tx.Backend and return node errors unchanged.

// PendingNonceAt returns the pending transaction count of account.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	eth, _, err := c.conn()
	if err != nil {
		return 0, err
	}
	return eth.PendingNonceAt(ctx, account)
}

// SuggestGasTipCap returns the node's priority fee suggestion.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	eth, _, err := c.conn()
	if err != nil {
		return nil, err
	}
	return eth.SuggestGasTipCap(ctx)
}

// HeaderByNumber returns a block header, the latest when number is nil.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error) {
	eth, _, err := c.conn()
	if err != nil {
		return nil, err
	}
	return eth.HeaderByNumber(ctx, number)
}

// EstimateGas estimates the gas needed by msg.
func (c *Client) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	eth, _, err := c.conn()
	if err != nil {
		return 0, err
	}
	return eth.EstimateGas(ctx, msg)
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	eth, _, err := c.conn()
	if err != nil {
		return err
	}
	return eth.SendTransaction(ctx, tx)
}

// TransactionReceipt returns ethereum.NotFound while the tx is pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	eth, _, err := c.conn()
	if err != nil {
		return nil, err
	}
	return eth.TransactionReceipt(ctx, hash)
}

// CallContext performs a raw JSON-RPC call.
func (c *Client) CallContext(ctx context.Context, result any, method string, args ...any) error {
	_, rpcClient, err := c.conn()
	if err != nil {
		return err
	}
	return rpcClient.CallContext(ctx, result, method, args...)
}
