package tx

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	xerrors "lestnet-sdk/internal/errors"
)

// ErrInvalidRequest reports a request that cannot be turned into a transaction.
var ErrInvalidRequest = xerrors.New(xerrors.CodeInvalidArgument, "invalid transaction request")

// Request describes a transaction before fees and nonce are settled. Nil
// fields are filled by the submitter.
type Request struct {
	To         *common.Address
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList

	Gas       uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
	Nonce     *uint64

	// BlobHashes marks a blob-carrying transaction. BlobFeeCap is required
	// before broadcast and is looked up when absent.
	BlobHashes []common.Hash
	BlobFeeCap *big.Int
	Sidecar    *types.BlobTxSidecar
}

// IsBlob reports whether the request carries blobs.
func (r Request) IsBlob() bool {
	return len(r.BlobHashes) > 0 || r.Sidecar != nil
}

// Validate rejects requests that can never be broadcast.
func (r Request) Validate() error {
	if r.Value != nil && r.Value.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "transaction value is negative")
	}
	caps := []struct {
		name  string
		value *big.Int
	}{{"gas tip cap", r.GasTipCap}, {"gas fee cap", r.GasFeeCap}, {"blob fee cap", r.BlobFeeCap}}
	for _, c := range caps {
		if c.value != nil && c.value.Sign() < 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, c.name+" is negative")
		}
	}
	if r.IsBlob() && r.To == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "blob transaction requires a recipient")
	}
	if r.Sidecar != nil && len(r.BlobHashes) > 0 && len(r.Sidecar.Blobs) != len(r.BlobHashes) {
		return xerrors.New(xerrors.CodeInvalidArgument, "blob hashes do not match sidecar")
	}
	return nil
}

// clone copies the request so fee completion never mutates caller state.
func (r Request) clone() Request {
	out := r
	out.Value = copyBig(r.Value)
	out.GasTipCap = copyBig(r.GasTipCap)
	out.GasFeeCap = copyBig(r.GasFeeCap)
	out.BlobFeeCap = copyBig(r.BlobFeeCap)
	if r.Nonce != nil {
		n := *r.Nonce
		out.Nonce = &n
	}
	if r.To != nil {
		to := *r.To
		out.To = &to
	}
	if len(r.BlobHashes) > 0 {
		out.BlobHashes = append([]common.Hash(nil), r.BlobHashes...)
	} else if r.Sidecar != nil {
		out.BlobHashes = r.Sidecar.BlobHashes()
	}
	return out
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
