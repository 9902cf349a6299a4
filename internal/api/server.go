package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lestnet-sdk/internal/auth"
	"lestnet-sdk/internal/chain"
	"lestnet-sdk/internal/dispatch"
	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/metrics"
	"lestnet-sdk/pkg/logger"
)

const transfersPath = "/api/v1/transfers"

// TransferService 是 API 所需的任务服务能力，由 dispatch.Service 实现。
type TransferService interface {
	Submit(ctx context.Context, req dispatch.TransferRequest) (*dispatch.Job, error)
	Get(ctx context.Context, id string) (*dispatch.Job, error)
	List(ctx context.Context, opts ...dispatch.ListOption) ([]*dispatch.Job, error)
	Stats(ctx context.Context, opts ...dispatch.ListOption) (dispatch.Stats, error)
}

// ChainChecker 用于健康检查，由 chain.Client 实现。
type ChainChecker interface {
	Snapshot(ctx context.Context) (chain.Snapshot, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	transfers       TransferService
	checker         ChainChecker
	auth            *auth.Service
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// Option 修改 Server 配置。
type Option func(*Server)

// WithChainCheck 让 /healthz 同时检查节点连通性。
func WithChainCheck(checker ChainChecker) Option {
	return func(s *Server) { s.checker = checker }
}

// WithAuth 为 /api/v1/transfers 启用令牌认证：GET 需要 transfers:read，
// POST 需要 transfers:write。/healthz 与 /metrics 不受影响。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithTimeouts 设置读写与优雅退出的超时时间，非正值保持默认。
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, transfers TransferService, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		transfers:       transfers,
		readTimeout:     15 * time.Second,
		writeTimeout:    15 * time.Second,
		shutdownTimeout: 5 * time.Second,
		log:             logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(transfersPath, s.protect(http.HandlerFunc(s.handleTransfers)))
	mux.Handle(transfersPath+"/", s.protect(http.HandlerFunc(s.handleTransferDetail)))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) protect(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {auth.PermTransfersRead},
			http.MethodPost: {auth.PermTransfersWrite},
			"*":             {auth.PermTransfersWrite},
		},
		AuditEvent: "transfers",
	})(next)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API 服务启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("API 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTransfer(w, r)
	case http.MethodGet:
		s.handleListTransfers(w, r)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET/POST")
	}
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	if s.transfers == nil {
		writeJSONError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "任务服务未初始化")
		return
	}
	var req dispatch.TransferRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	job, err := s.transfers.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	if s.transfers == nil {
		writeJSONError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "任务服务未初始化")
		return
	}
	query := r.URL.Query()
	if id := strings.TrimSpace(query.Get("id")); id != "" {
		job, err := s.transfers.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}
	opts := make([]dispatch.ListOption, 0, 4)
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "limit 必须是整数")
			return
		}
		opts = append(opts, dispatch.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "offset 必须是整数")
			return
		}
		opts = append(opts, dispatch.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]dispatch.Status, 0, 2)
		for _, part := range strings.Split(raw, ",") {
			status := dispatch.Status(strings.TrimSpace(part))
			if !dispatch.IsValidStatus(status) {
				writeJSONError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "未知的任务状态: "+part)
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, dispatch.WithStatuses(statuses...))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, dispatch.WithSortOrder(dispatch.SortByUpdatedAsc))
	}

	jobs, err := s.transfers.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleTransferDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	if s.transfers == nil {
		writeJSONError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "任务服务未初始化")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, transfersPath+"/"), "/")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "缺少任务 ID")
		return
	}
	if id == "stats" {
		stats, err := s.transfers.Stats(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}
	job, err := s.transfers.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type healthResponse struct {
	Status      string `json:"status"`
	Network     string `json:"network,omitempty"`
	ChainID     string `json:"chain_id,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	snapshot, err := s.checker.Snapshot(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Error: err.Error()})
		return
	}
	resp := healthResponse{
		Status:      "ok",
		Network:     snapshot.Network,
		BlockNumber: snapshot.BlockNumber,
	}
	if snapshot.ChainID != nil {
		resp.ChainID = snapshot.ChainID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", slog.Any("error", err), slog.String("code", string(code)))
	}
	writeJSONError(w, status, string(code), err.Error())
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeParse, dispatch.CodeJobValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, dispatch.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, dispatch.CodeJobConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSONError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
