// Package faucet requests test funds from the Lestnet faucet service.
package faucet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/metrics"
	"lestnet-sdk/internal/network"
	"lestnet-sdk/internal/retry"
	"lestnet-sdk/pkg/logger"
)

// DefaultHTTPTimeout bounds a single faucet request.
const DefaultHTTPTimeout = 15 * time.Second

// maxBodyBytes caps how much of an error response is kept.
const maxBodyBytes = 4 << 10

var (
	// ErrFaucet matches every failure reported by the faucet service.
	ErrFaucet = xerrors.New(xerrors.CodeFaucet, "")
	// ErrInvalidAddress is returned before any request is made.
	ErrInvalidAddress = xerrors.New(xerrors.CodeInvalidArgument, "invalid recipient address")
)

// Error describes a non-2xx answer from the faucet.
type Error struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Body == "" {
		return fmt.Sprintf("faucet request failed: %s", e.Status)
	}
	return fmt.Sprintf("faucet request failed: %s: %s", e.Status, e.Body)
}

// Unwrap lets errors.Is(err, ErrFaucet) match.
func (e *Error) Unwrap() error { return ErrFaucet }

type topUpRequest struct {
	Address string `json:"address"`
}

type topUpResponse struct {
	TxHash string `json:"txHash"`
}

// Client talks to a faucet endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	retryOpts  []retry.Option
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetry appends retry options applied to every TopUp call.
func WithRetry(opts ...retry.Option) Option {
	return func(c *Client) { c.retryOpts = append(c.retryOpts, opts...) }
}

// NewClient creates a client for the given endpoint. An empty URL selects the
// Lestnet faucet.
func NewClient(url string, opts ...Option) *Client {
	if strings.TrimSpace(url) == "" {
		url = network.FaucetURL
	}
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		log:        logger.Named("faucet"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// URL returns the faucet endpoint.
func (c *Client) URL() string { return c.url }

// TopUp asks the faucet to fund address and returns the transaction hash
// exactly as the faucet reported it. Transport failures and non-2xx answers
// are retried with the default policy. A 2xx answer without a usable body is
// returned at once, since the faucet may already have sent the funds.
func (c *Client) TopUp(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, fmt.Errorf("%q", address), ErrInvalidAddress.Message())
	}
	recipient := common.HexToAddress(address)
	opts := append([]retry.Option{retry.WithName("faucet_top_up"), retry.WithRetryIf(retryable)}, c.retryOpts...)
	hash, err := retry.Do(ctx, func(ctx context.Context) (string, error) {
		return c.request(ctx, recipient)
	}, opts...)
	if err != nil {
		c.log.Warn("faucet top-up failed", slog.String("address", recipient.Hex()), slog.Any("error", err))
		return "", err
	}
	c.log.Info("faucet top-up accepted", slog.String("address", recipient.Hex()), slog.String("tx_hash", hash))
	return hash, nil
}

func retryable(err error) bool {
	e, ok := xerrors.From(err)
	return !ok || e.Retryable()
}

func (c *Client) request(ctx context.Context, recipient common.Address) (string, error) {
	body, err := json.Marshal(topUpRequest{Address: recipient.Hex()})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.FaucetRequests.WithLabelValues("transport_error").Inc()
		return "", fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	metrics.FaucetRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return "", &Error{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(data)),
		}
	}

	var out topUpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", xerrors.Wrap(xerrors.CodeFaucet, err, "decode faucet response", xerrors.WithRetryable(false))
	}
	if out.TxHash == "" {
		return "", xerrors.New(xerrors.CodeFaucet, "faucet response carries no txHash", xerrors.WithRetryable(false))
	}
	return out.TxHash, nil
}
