package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "SignalAttest/internal/errors"
	"SignalAttest/internal/registry"
)

var (
	deployer = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	attester = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func newTestServer(t *testing.T) (*Server, *registry.MemoryStore) {
	t.Helper()
	store := registry.NewMemoryStore()
	reg, err := registry.New(context.Background(), registry.Params{
		Store:    store,
		Verifier: registry.NewVerifier(),
		Deployer: deployer,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	keys := map[string]common.Address{
		"deployer-key": deployer,
		"attester-key": attester,
	}
	return NewServer(":0", reg, keys), store
}

func TestSubmissionRequiresAPIKey(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attestations/model", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/attestations/model", strings.NewReader(`{}`))
	req.Header.Set("X-API-Key", "no-such-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d with unknown key, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAttestModelUnauthorizedAttester(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	// attester-key 对应的地址未被授权。
	body := `{"model_hash":"0x0000000000000000000000000000000000000000000000000000000000000001","version":1,"timestamp":1700000000,"artifact":{"circuit_name":"model_attestation_v1","proof":"0x","public_signals":[]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attestations/model", strings.NewReader(body))
	req.Header.Set("X-API-Key", "attester-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != string(xerrors.CodeUnauthorizedAttester) {
		t.Fatalf("code = %s, want %s", resp.Code, xerrors.CodeUnauthorizedAttester)
	}
}

func TestAttestModelMalformedBody(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attestations/model", strings.NewReader("{not json"))
	req.Header.Set("X-API-Key", "deployer-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetModel(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()

	record := &registry.ModelAttestation{
		ModelHash:  common.HexToHash("0x01"),
		Version:    3,
		Timestamp:  1_700_000_000,
		Attester:   attester,
		Verified:   true,
		RecordedAt: time.Unix(1_700_000_100, 0).UTC(),
	}
	if err := store.InsertModel(context.Background(), record); err != nil {
		t.Fatalf("insert model: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models/"+record.ModelHash.Hex(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got modelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ModelHash != record.ModelHash || got.Version != 3 || !got.Verified {
		t.Fatalf("unexpected response: %+v", got)
	}

	// 未登记的哈希返回 404。
	req = httptest.NewRequest(http.MethodGet, "/api/v1/models/"+common.HexToHash("0x02").Hex(), nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d for unknown model, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestLinkQuery(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()

	signalHash := common.HexToHash("0x11")
	modelHash := common.HexToHash("0x12")
	err := store.InsertSignal(context.Background(), &registry.SignalAttestation{
		SignalHash: signalHash,
		ModelHash:  modelHash,
		SignalType: 2,
		Timestamp:  1_700_000_000,
		Attester:   attester,
		Verified:   true,
	})
	if err != nil {
		t.Fatalf("insert signal: %v", err)
	}

	cases := []struct {
		name   string
		model  common.Hash
		linked bool
	}{
		{"linked", modelHash, true},
		{"other model", common.HexToHash("0x13"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := "/api/v1/links?signal=" + signalHash.Hex() + "&model=" + tc.model.Hex()
			req := httptest.NewRequest(http.MethodGet, url, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			var got struct {
				Linked bool `json:"linked"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if got.Linked != tc.linked {
				t.Fatalf("linked = %v, want %v", got.Linked, tc.linked)
			}
		})
	}
}

func TestStats(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()

	if err := store.InsertModel(context.Background(), &registry.ModelAttestation{
		ModelHash: common.HexToHash("0x21"),
		Version:   1,
		Timestamp: 1_700_000_000,
		Attester:  attester,
		Verified:  true,
	}); err != nil {
		t.Fatalf("insert model: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got map[string]uint64
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["models"] != 1 || got["signals"] != 0 {
		t.Fatalf("stats = %v, want 1 model, 0 signals", got)
	}
}
