package tx

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/metrics"
	"lestnet-sdk/internal/wallet"
)

// BundleError reports the members of a bundle that failed. Errs is aligned
// with the submitted requests; successful members hold nil.
type BundleError struct {
	Errs []error
}

func (e *BundleError) Error() string {
	if e == nil {
		return ""
	}
	var parts []string
	for i, err := range e.Errs {
		if err != nil {
			parts = append(parts, fmt.Sprintf("[%d] %v", i, err))
		}
	}
	return fmt.Sprintf("bundle: %d of %d transactions failed: %s", len(parts), len(e.Errs), strings.Join(parts, "; "))
}

// Unwrap exposes the member failures to errors.Is and errors.As.
func (e *BundleError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, len(e.Errs))
	for _, err := range e.Errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// Failed returns the indexes of failed members.
func (e *BundleError) Failed() []int {
	if e == nil {
		return nil
	}
	var idx []int
	for i, err := range e.Errs {
		if err != nil {
			idx = append(idx, i)
		}
	}
	return idx
}

// BundleAndSend submits reqs from one wallet. Fees are completed
// concurrently and nonces are assigned as a contiguous block in input order.
// The signed transactions are broadcast in nonce order and then confirmed
// concurrently. The returned receipts are aligned with reqs.
//
// A failing member does not cancel its siblings. When a member of the block
// cannot be signed or broadcast, the members above its nonce could never be
// mined, so they are not broadcast and fail with ErrNonceGap; they are safe
// to submit again. Members below the gap and members with caller supplied
// nonces proceed. Failures are reported through *BundleError while receipts
// of the successful members are still returned.
func (s *Submitter) BundleAndSend(ctx context.Context, reqs []Request, w *wallet.Wallet) ([]*types.Receipt, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if w == nil {
		return nil, wallet.ErrMissingCredential
	}
	metrics.BundleSize.Observe(float64(len(reqs)))
	from := w.Address()
	n := len(reqs)
	prepared := make([]Request, n)
	errs := make([]error, n)

	var fees errgroup.Group
	for i := range reqs {
		p, err := s.prepare(ctx, reqs[i], from)
		prepared[i] = p
		if err != nil {
			errs[i] = err
			continue
		}
		fees.Go(func() error {
			errs[i] = s.completeFees(ctx, &prepared[i], from)
			return nil
		})
	}
	_ = fees.Wait()

	var pending []int
	reserved := make([]bool, n)
	for i := range prepared {
		if errs[i] == nil && prepared[i].Nonce == nil {
			pending = append(pending, i)
		}
	}
	if len(pending) > 0 {
		start, err := s.reserve(ctx, from, len(pending))
		if err != nil {
			for _, i := range pending {
				errs[i] = err
				s.fail(ctx, from, prepared[i], common.Hash{}, StagePrepared, err)
			}
		} else {
			for j, i := range pending {
				nonce := start + uint64(j)
				prepared[i].Nonce = &nonce
				reserved[i] = true
			}
		}
	}

	// gap is the lowest reserved nonce that did not reach the node.
	var gap *uint64
	markGap := func(i int) {
		if reserved[i] && (gap == nil || *prepared[i].Nonce < *gap) {
			nonce := *prepared[i].Nonce
			gap = &nonce
		}
	}

	signed := make([]*types.Transaction, n)
	for i := range prepared {
		if errs[i] != nil {
			continue
		}
		signed[i], errs[i] = s.sign(prepared[i], w)
		if errs[i] != nil {
			s.fail(ctx, from, prepared[i], common.Hash{}, StageBroadcast, errs[i])
			markGap(i)
		}
	}
	if gap != nil {
		s.resetNonces(ctx, from)
	}

	order := make([]int, 0, n)
	for i := range signed {
		if signed[i] != nil {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return *prepared[order[a]].Nonce < *prepared[order[b]].Nonce
	})

	sentAt := make([]time.Time, n)
	var broadcast []int
	for _, i := range order {
		if reserved[i] && gap != nil && *prepared[i].Nonce > *gap {
			errs[i] = xerrors.New(CodeNonceGap, fmt.Sprintf("nonce %d not broadcast: nonce %d of the bundle failed", *prepared[i].Nonce, *gap))
			s.fail(ctx, from, prepared[i], signed[i].Hash(), StageBroadcast, errs[i])
			continue
		}
		if err := s.broadcastSigned(ctx, prepared[i], signed[i], from); err != nil {
			errs[i] = err
			markGap(i)
			continue
		}
		sentAt[i] = time.Now()
		broadcast = append(broadcast, i)
	}

	receipts := make([]*types.Receipt, n)
	var confirms errgroup.Group
	for _, i := range broadcast {
		confirms.Go(func() error {
			receipts[i], errs[i] = s.confirm(ctx, prepared[i], signed[i], from, sentAt[i])
			return nil
		})
	}
	_ = confirms.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == 0 {
		return receipts, nil
	}
	s.log.Warn("bundle partially failed",
		slog.String("from", from.Hex()),
		slog.Int("size", n),
		slog.Int("failed", failed))
	return receipts, &BundleError{Errs: errs}
}
