package tx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

type fixedNonce uint64

func (f *fixedNonce) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(*f), nil
}

func exerciseNonceSource(t *testing.T, source NonceSource) {
	t.Helper()
	ctx := context.Background()
	account := common.HexToAddress(recipient)
	pending := fixedNonce(10)

	start, err := source.Reserve(ctx, &pending, account, 3)
	if err != nil || start != 10 {
		t.Fatalf("first reservation = %d, %v", start, err)
	}
	start, err = source.Reserve(ctx, &pending, account, 1)
	if err != nil || start != 13 {
		t.Fatalf("second reservation = %d, %v", start, err)
	}

	pending = 20
	start, err = source.Reserve(ctx, &pending, account, 2)
	if err != nil || start != 20 {
		t.Fatalf("reservation after external sends = %d, %v", start, err)
	}

	pending = 21
	if err := source.Reset(ctx, account); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	start, err = source.Reserve(ctx, &pending, account, 1)
	if err != nil || start != 21 {
		t.Fatalf("reservation after reset = %d, %v", start, err)
	}

	other := common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72")
	pending = 0
	start, err = source.Reserve(ctx, &pending, other, 1)
	if err != nil || start != 0 {
		t.Fatalf("independent account reservation = %d, %v", start, err)
	}
}

func TestMemoryNonces(t *testing.T) {
	exerciseNonceSource(t, NewMemoryNonces())
}

func TestRedisNonces(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseNonceSource(t, NewRedisNonces(client, WithKeyPrefix("test:nonce"), WithCursorTTL(time.Minute)))

	if !server.Exists("test:nonce:" + "0x70997970c51812dc3a010c7d01b50e0d17dc79c8") {
		t.Fatal("expected cursor key in redis")
	}
}

func TestRedisNoncesSharedBetweenSubmitters(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backend := newFakeBackend()
	first := newTestSubmitter(backend, WithNonceSource(NewRedisNonces(client)))
	second := newTestSubmitter(backend, WithNonceSource(NewRedisNonces(client)))
	w := testWallet(t)

	a, err := first.SendTx(context.Background(), Request{To: addr(recipient)}, w)
	if err != nil {
		t.Fatalf("first SendTx: %v", err)
	}
	b, err := second.SendTx(context.Background(), Request{To: addr(recipient)}, w)
	if err != nil {
		t.Fatalf("second SendTx: %v", err)
	}
	if backend.txByHash(a.TxHash).Nonce() != 5 || backend.txByHash(b.TxHash).Nonce() != 6 {
		t.Fatal("submitters sharing redis should not reuse nonces")
	}
}
