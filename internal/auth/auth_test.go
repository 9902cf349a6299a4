package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "lestnet-sdk/internal/errors"
)

func tokenService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode: ModeToken,
		Tokens: []StaticToken{
			{Name: "ops", Token: "ops-secret", Permissions: []string{PermTransfersRead, PermTransfersWrite}},
			{Name: "viewer", Token: "viewer-secret", Permissions: []string{PermTransfersRead}},
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewServiceValidatesConfig(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil || svc.Mode() != ModeDisabled {
		t.Fatalf("expected disabled service, got %v %v", svc, err)
	}
	cases := []Config{
		{Mode: ModeToken},
		{Mode: ModeToken, Tokens: []StaticToken{{Name: "empty"}}},
		{Mode: ModeJWT},
		{Mode: "oauth"},
	}
	for _, cfg := range cases {
		if _, err := NewService(cfg); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("config %+v: expected invalid argument, got %v", cfg, err)
		}
	}
}

func TestStaticTokens(t *testing.T) {
	svc := tokenService(t)

	subject, err := svc.AuthenticateRequest("Bearer viewer-secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.Name != "viewer" || !subject.HasPermission(PermTransfersRead) || subject.HasPermission(PermTransfersWrite) {
		t.Fatalf("unexpected subject %+v", subject)
	}
	if err := subject.Authorize(PermTransfersWrite); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	if _, err := svc.AuthenticateRequest(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest("Basic b3BzOnNlY3JldA=="); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for basic auth, got %v", err)
	}
	if _, err := svc.AuthenticateRequest("Bearer wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestJWTIssueAndVerify(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "s3cret", Issuer: "lestnetd", Audience: []string{"transfers"}}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	token, err := svc.IssueToken("ci", []string{PermTransfersWrite}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	subject, err := svc.AuthenticateRequest("bearer " + token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject.Name != "ci" || !subject.HasPermission(PermTransfersWrite) {
		t.Fatalf("unexpected subject %+v", subject)
	}

	other, err := NewService(Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "different", Issuer: "lestnetd", Audience: []string{"transfers"}}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := other.AuthenticateRequest("Bearer " + token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	if _, err := tokenService(t).IssueToken("ci", nil, 0); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected token mode to refuse issuing, got %v", err)
	}
}

func TestJWTRejectsExpiredAndForeignTokens(t *testing.T) {
	manager, err := newJWTManager(JWTOptions{Secret: "s3cret", Issuer: "lestnetd", Audience: []string{"transfers"}})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	past := time.Now().Add(-2 * time.Hour)
	expired, err := manager.generate("ci", nil, time.Minute, past)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := manager.verify(expired, time.Now()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	foreign, err := newJWTManager(JWTOptions{Secret: "s3cret", Issuer: "someone-else"})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	token, err := foreign.generate("ci", nil, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := manager.verify(token, time.Now()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch to fail, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc := tokenService(t)
	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {PermTransfersRead},
			http.MethodPost: {PermTransfersWrite},
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	cases := []struct {
		method, token string
		status        int
		code          string
	}{
		{http.MethodGet, "", http.StatusUnauthorized, string(CodeMissingToken)},
		{http.MethodGet, "Bearer nope", http.StatusUnauthorized, string(CodeInvalidToken)},
		{http.MethodPost, "Bearer viewer-secret", http.StatusForbidden, string(CodePermissionDenied)},
		{http.MethodGet, "Bearer viewer-secret", http.StatusAccepted, ""},
		{http.MethodPost, "Bearer ops-secret", http.StatusAccepted, ""},
	}
	for _, tc := range cases {
		seen = nil
		req := httptest.NewRequest(tc.method, "/api/v1/transfers", nil)
		if tc.token != "" {
			req.Header.Set("Authorization", tc.token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s %q: status %d, want %d", tc.method, tc.token, rec.Code, tc.status)
		}
		if tc.code == "" {
			if seen == nil {
				t.Fatalf("%s %q: subject not propagated", tc.method, tc.token)
			}
			continue
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["code"] != tc.code {
			t.Fatalf("%s %q: code %q, want %q", tc.method, tc.token, body["code"], tc.code)
		}
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	called := false
	handler := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("handler not called")
	}
}
