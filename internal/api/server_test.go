package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lestnet-sdk/internal/auth"
	"lestnet-sdk/internal/chain"
	"lestnet-sdk/internal/dispatch"
)

const recipient = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

type nopProducer struct{ published []string }

func (p *nopProducer) Publish(_ context.Context, id string) error {
	p.published = append(p.published, id)
	return nil
}

func (p *nopProducer) Close() error { return nil }

type stubChecker struct {
	snapshot chain.Snapshot
	err      error
}

func (p stubChecker) Snapshot(context.Context) (chain.Snapshot, error) { return p.snapshot, p.err }

func newTestServer(opts ...Option) (*Server, *dispatch.MemoryStore, *nopProducer) {
	store := dispatch.NewMemoryStore()
	producer := &nopProducer{}
	return NewServer(":0", dispatch.NewService(store, producer, 3), opts...), store, producer
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateTransfer(t *testing.T) {
	server, _, producer := newTestServer()

	rec := serve(server, http.MethodPost, "/api/v1/transfers", `{"to":"`+recipient+`","amount":"1.5"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d (%s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var job dispatch.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job.ID == "" || job.Value != "1500000000000000000" || job.Status != dispatch.StatusPending {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(producer.published) != 1 || producer.published[0] != job.ID {
		t.Fatalf("expected job to be queued, got %v", producer.published)
	}
}

func TestCreateTransferErrors(t *testing.T) {
	server, _, _ := newTestServer()

	t.Run("malformed body", func(t *testing.T) {
		rec := serve(server, http.MethodPost, "/api/v1/transfers", `{"to":`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := serve(server, http.MethodPost, "/api/v1/transfers", `{"to":"`+recipient+`","amount":"1","gas":1}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("invalid amount", func(t *testing.T) {
		rec := serve(server, http.MethodPost, "/api/v1/transfers", `{"to":"`+recipient+`","amount":"1.0000000000000000001"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
		var body errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body.Code != string(dispatch.CodeJobValidation) {
			t.Fatalf("unexpected error code: %s", body.Code)
		}
	})

	t.Run("invalid method", func(t *testing.T) {
		rec := serve(server, http.MethodDelete, "/api/v1/transfers", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func TestTransferDetailAndList(t *testing.T) {
	server, store, _ := newTestServer()
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := store.Create(ctx, &dispatch.Job{ID: id, To: recipient, Value: "1", Status: dispatch.StatusPending, MaxRetries: 3}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := store.MarkSucceeded(ctx, "b", dispatch.Result{TxHash: "0xabc", BlockNumber: 3}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	rec := serve(server, http.MethodGet, "/api/v1/transfers/b", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var job dispatch.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Result == nil || job.Result.TxHash != "0xabc" {
		t.Fatalf("unexpected job result: %+v", job.Result)
	}

	rec = serve(server, http.MethodGet, "/api/v1/transfers?id=a", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"a"`) {
		t.Fatalf("unexpected lookup by query id: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(server, http.MethodGet, "/api/v1/transfers/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	rec = serve(server, http.MethodGet, "/api/v1/transfers/", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	rec = serve(server, http.MethodGet, "/api/v1/transfers?status=succeeded&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var jobs []dispatch.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "b" {
		t.Fatalf("unexpected list: %+v", jobs)
	}

	rec = serve(server, http.MethodGet, "/api/v1/transfers?status=lost", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	rec = serve(server, http.MethodGet, "/api/v1/transfers/stats", "")
	var stats dispatch.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 || stats.Succeeded != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHealthz(t *testing.T) {
	server, _, _ := newTestServer(WithChainCheck(stubChecker{snapshot: chain.Snapshot{
		Network:     "Lestnet",
		ChainID:     big.NewInt(21363),
		BlockNumber: 77,
	}}))
	rec := serve(server, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ChainID != "21363" || body.BlockNumber != 77 {
		t.Fatalf("unexpected health body: %+v", body)
	}

	degraded, _, _ := newTestServer(WithChainCheck(stubChecker{err: errors.New("dial tcp: refused")}))
	rec = serve(degraded, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newTestServer()
	rec := serve(server, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus exposition output")
	}
}

func TestShutdownRejectsRequests(t *testing.T) {
	server, _, _ := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	withContext(ctx, server.Handler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestTransfersRequireTokenWhenAuthEnabled(t *testing.T) {
	svc, err := auth.NewService(auth.Config{
		Mode: auth.ModeToken,
		Tokens: []auth.StaticToken{
			{Name: "viewer", Token: "read-only", Permissions: []string{auth.PermTransfersRead}},
		},
	})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	server, _, producer := newTestServer(WithAuth(svc))
	handler := server.Handler()

	do := func(method, target, token, body string) int {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(http.MethodGet, "/api/v1/transfers", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous list: got %d", code)
	}
	if code := do(http.MethodGet, "/api/v1/transfers", "read-only", ""); code != http.StatusOK {
		t.Fatalf("authorised list: got %d", code)
	}
	if code := do(http.MethodGet, "/api/v1/transfers/stats", "read-only", ""); code != http.StatusOK {
		t.Fatalf("authorised stats: got %d", code)
	}
	if code := do(http.MethodPost, "/api/v1/transfers", "read-only", `{"to":"`+recipient+`","amount":"1"}`); code != http.StatusForbidden {
		t.Fatalf("read-only submit: got %d", code)
	}
	if len(producer.published) != 0 {
		t.Fatalf("forbidden submit reached the queue")
	}
	if code := do(http.MethodGet, "/healthz", "", ""); code != http.StatusOK {
		t.Fatalf("healthz should stay public: got %d", code)
	}
}
