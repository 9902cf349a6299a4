package lestnet

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lestnet-sdk/internal/chain"
	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/retry"
	"lestnet-sdk/internal/tx"
)

// Client submits transactions to one network.
type Client struct {
	chain     *chain.Client
	submitter *tx.Submitter
}

type clientConfig struct {
	network   Network
	transport chain.Transport
	retry     []retry.Option
	txOpts    []tx.Option
}

// ClientOption configures Dial.
type ClientOption func(*clientConfig)

// WithNetwork overrides the network definition, e.g. a local RPC endpoint.
func WithNetwork(n Network) ClientOption {
	return func(c *clientConfig) { c.network = n }
}

// WithWebSocket dials the streaming endpoint instead of HTTP.
func WithWebSocket() ClientOption {
	return func(c *clientConfig) { c.transport = chain.WS }
}

// WithClientRetry applies opts to every retried RPC call.
func WithClientRetry(opts ...RetryOption) ClientOption {
	return func(c *clientConfig) { c.retry = append(c.retry, opts...) }
}

// WithNonces shares a nonce source between clients signing for the same account.
func WithNonces(source NonceSource) ClientOption {
	return func(c *clientConfig) { c.txOpts = append(c.txOpts, tx.WithNonceSource(source)) }
}

// WithJournal records every stage transition.
func WithJournal(j Journal) ClientOption {
	return func(c *clientConfig) { c.txOpts = append(c.txOpts, tx.WithJournal(j)) }
}

// WithPollInterval sets how often receipts are polled.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.txOpts = append(c.txOpts, tx.WithPollInterval(d)) }
}

// Dial connects to the network.
func Dial(ctx context.Context, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{network: DefaultNetwork(), transport: chain.HTTP}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cc, err := chain.Dial(ctx, cfg.network, cfg.transport, chain.WithRetry(cfg.retry...))
	if err != nil {
		return nil, err
	}
	txOpts := append([]tx.Option{tx.WithRetry(cfg.retry...)}, cfg.txOpts...)
	return &Client{
		chain:     cc,
		submitter: tx.NewSubmitter(cc, cc.Network(), txOpts...),
	}, nil
}

// Network returns the network the client is bound to.
func (c *Client) Network() Network { return c.chain.Network() }

// Snapshot is the verified chain id and head block of the node.
type Snapshot = chain.Snapshot

// Snapshot reads the remote chain id, rejects a foreign chain and reads the
// head block.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	return c.chain.Snapshot(ctx)
}

// Balance returns the wei balance of address. Malformed addresses fail with
// ErrInvalidAddress before any call is made.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, fmt.Errorf("%q", address), ErrInvalidAddress.Message())
	}
	return c.chain.Balance(ctx, common.HexToAddress(address))
}

// SendTx completes fees, signs with w, broadcasts and waits for the receipt.
func (c *Client) SendTx(ctx context.Context, req TransactionRequest, w *Wallet) (*Receipt, error) {
	return c.submitter.SendTx(ctx, req, w)
}

// BundleAndSend submits reqs concurrently with consecutive nonces. Receipts
// are returned in input order; a *BundleError lists failed members.
func (c *Client) BundleAndSend(ctx context.Context, reqs []TransactionRequest, w *Wallet) ([]*Receipt, error) {
	return c.submitter.BundleAndSend(ctx, reqs, w)
}

// Close releases the connection.
func (c *Client) Close() { c.chain.Close() }
