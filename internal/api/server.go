package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "SignalAttest/internal/errors"
	"SignalAttest/internal/proofs"
	"SignalAttest/internal/registry"
	"SignalAttest/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部提交与查询证明。
type Server struct {
	addr     string
	registry *registry.Registry
	keys     map[string]common.Address
	log      *slog.Logger
}

// NewServer 构造 API 服务实例。keys 将 API key 映射到证明者地址。
func NewServer(addr string, reg *registry.Registry, keys map[string]common.Address) *Server {
	return &Server{
		addr:     addr,
		registry: reg,
		keys:     keys,
		log:      logger.Named("api"),
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回路由表，便于测试直接挂载。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/attestations/model", s.requireKey(s.handleAttestModel))
	mux.HandleFunc("POST /api/v1/attestations/signal", s.requireKey(s.handleAttestSignal))
	mux.HandleFunc("POST /api/v1/attesters", s.requireKey(s.handleSetAttester))
	mux.HandleFunc("GET /api/v1/models/{hash}", s.handleGetModel)
	mux.HandleFunc("GET /api/v1/signals/{hash}", s.handleGetSignal)
	mux.HandleFunc("GET /api/v1/links", s.handleLink)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	return mux
}

type artifactWire struct {
	CircuitName   string          `json:"circuit_name"`
	CircuitHash   common.Hash     `json:"circuit_hash"`
	Proof         hexutil.Bytes   `json:"proof"`
	PublicSignals []hexutil.Bytes `json:"public_signals"`
}

func (w artifactWire) toArtifact() *proofs.Artifact {
	artifact := &proofs.Artifact{
		CircuitName: w.CircuitName,
		CircuitHash: w.CircuitHash,
		Proof:       w.Proof,
	}
	for _, s := range w.PublicSignals {
		artifact.PublicSignals = append(artifact.PublicSignals, s)
	}
	return artifact
}

type attestModelRequest struct {
	ModelHash common.Hash  `json:"model_hash"`
	Version   uint64       `json:"version"`
	Timestamp uint64       `json:"timestamp"`
	Artifact  artifactWire `json:"artifact"`
}

type attestSignalRequest struct {
	SignalHash common.Hash  `json:"signal_hash"`
	ModelHash  common.Hash  `json:"model_hash"`
	SignalType uint8        `json:"signal_type"`
	Timestamp  uint64       `json:"timestamp"`
	Artifact   artifactWire `json:"artifact"`
}

type setAttesterRequest struct {
	Address    common.Address `json:"address"`
	Authorized bool           `json:"authorized"`
}

type modelResponse struct {
	ModelHash  common.Hash    `json:"model_hash"`
	Version    uint64         `json:"version"`
	Timestamp  uint64         `json:"timestamp"`
	Attester   common.Address `json:"attester"`
	Verified   bool           `json:"verified"`
	RecordedAt time.Time      `json:"recorded_at"`
}

type signalResponse struct {
	SignalHash common.Hash    `json:"signal_hash"`
	ModelHash  common.Hash    `json:"model_hash"`
	SignalType uint8          `json:"signal_type"`
	Timestamp  uint64         `json:"timestamp"`
	Attester   common.Address `json:"attester"`
	Verified   bool           `json:"verified"`
	RecordedAt time.Time      `json:"recorded_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleAttestModel(w http.ResponseWriter, r *http.Request, attester common.Address) {
	var req attestModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidInput, "malformed request body"))
		return
	}
	record, err := s.registry.AttestModel(r.Context(), registry.ModelAttestationRequest{
		ModelHash: req.ModelHash,
		Version:   req.Version,
		Timestamp: req.Timestamp,
		Attester:  attester,
		Artifact:  req.Artifact.toArtifact(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, modelToResponse(record))
}

func (s *Server) handleAttestSignal(w http.ResponseWriter, r *http.Request, attester common.Address) {
	var req attestSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidInput, "malformed request body"))
		return
	}
	record, err := s.registry.AttestSignal(r.Context(), registry.SignalAttestationRequest{
		SignalHash: req.SignalHash,
		ModelHash:  req.ModelHash,
		SignalType: req.SignalType,
		Timestamp:  req.Timestamp,
		Attester:   attester,
		Artifact:   req.Artifact.toArtifact(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, signalToResponse(record))
}

func (s *Server) handleSetAttester(w http.ResponseWriter, r *http.Request, caller common.Address) {
	var req setAttesterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidInput, "malformed request body"))
		return
	}
	if err := s.registry.SetAttesterAuthorization(r.Context(), caller, req.Address, req.Authorized); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"address":    req.Address,
		"authorized": req.Authorized,
	})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(r.PathValue("hash"))
	if !ok {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidInput, "malformed model hash"))
		return
	}
	record, err := s.registry.GetModel(r.Context(), hash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, modelToResponse(record))
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(r.PathValue("hash"))
	if !ok {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidInput, "malformed signal hash"))
		return
	}
	record, err := s.registry.GetSignal(r.Context(), hash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, signalToResponse(record))
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	signalHash, okSig := parseHash(r.URL.Query().Get("signal"))
	modelHash, okModel := parseHash(r.URL.Query().Get("model"))
	if !okSig || !okModel {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidInput, "signal and model query parameters are required"))
		return
	}
	linked, err := s.registry.IsSignalLinkedToModel(r.Context(), signalHash, modelHash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"signal": signalHash,
		"model":  modelHash,
		"linked": linked,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{
		"models":  stats.Models,
		"signals": stats.Signals,
	})
}

// requireKey 将 X-API-Key 解析为证明者地址。
func (s *Server) requireKey(next func(http.ResponseWriter, *http.Request, common.Address)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{
				Code:    string(xerrors.CodeUnauthorizedAttester),
				Message: "missing X-API-Key header",
			})
			return
		}
		attester, ok := s.keys[key]
		if !ok {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{
				Code:    string(xerrors.CodeUnauthorizedAttester),
				Message: "unknown API key",
			})
			return
		}
		next(w, r, attester)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	message := err.Error()
	if coded, ok := xerrors.From(err); ok {
		message = coded.Message()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", slog.String("code", string(code)), slog.String("error", err.Error()))
		// 内部错误细节不下发。
		message = "internal error"
	}
	s.writeJSON(w, status, errorResponse{Code: string(code), Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("encode response", slog.String("error", err.Error()))
	}
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidInput, xerrors.CodeInvalidTimestamp:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorizedAttester:
		return http.StatusForbidden
	case xerrors.CodeInvalidProof, xerrors.CodeCircuitMismatch:
		return http.StatusUnprocessableEntity
	case xerrors.CodeModelNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeAlreadyAttested:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func modelToResponse(record *registry.ModelAttestation) modelResponse {
	return modelResponse{
		ModelHash:  record.ModelHash,
		Version:    record.Version,
		Timestamp:  record.Timestamp,
		Attester:   record.Attester,
		Verified:   record.Verified,
		RecordedAt: record.RecordedAt,
	}
}

func signalToResponse(record *registry.SignalAttestation) signalResponse {
	return signalResponse{
		SignalHash: record.SignalHash,
		ModelHash:  record.ModelHash,
		SignalType: record.SignalType,
		Timestamp:  record.Timestamp,
		Attester:   record.Attester,
		Verified:   record.Verified,
		RecordedAt: record.RecordedAt,
	}
}

func parseHash(raw string) (common.Hash, bool) {
	if raw == "" {
		return common.Hash{}, false
	}
	raw = "0x" + trimHexPrefix(raw)
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func trimHexPrefix(raw string) string {
	if len(raw) >= 2 && (raw[:2] == "0x" || raw[:2] == "0X") {
		return raw[2:]
	}
	return raw
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
