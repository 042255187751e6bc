package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/p2ptransfers/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrAccountNotFound, http.StatusNotFound},
		{domain.ErrTransactionNotFound, http.StatusNotFound},
		{domain.ErrPartyNotFound, http.StatusNotFound},
		{domain.ErrInvalidTransfer, http.StatusBadRequest},
		{domain.ErrInvalidState, http.StatusBadRequest},
		{domain.ErrInsufficientFunds, http.StatusBadRequest},
		{domain.ErrAccountInactive, http.StatusBadRequest},
		{domain.ErrInvalidAccountName, http.StatusBadRequest},
		{domain.ErrStoreTimeout, http.StatusGatewayTimeout},
		{domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("driver exploded"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := StatusFor(domain.KindOf(tt.err)); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestWriteDomainError_HidesInfrastructureDetail(t *testing.T) {
	var logBuf bytes.Buffer
	rec := httptest.NewRecorder()

	WriteDomainError(rec, zerolog.New(&logBuf), fmt.Errorf("%w: dial tcp 10.0.0.1:5432", domain.ErrStoreUnavailable))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.1") {
		t.Errorf("response leaks driver detail: %s", rec.Body.String())
	}
	if !strings.Contains(logBuf.String(), "10.0.0.1") {
		t.Errorf("log should keep driver detail: %s", logBuf.String())
	}
}

func TestOwner(t *testing.T) {
	var seen string
	h := Owner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = OwnerFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set(OwnerHeader, " alice ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "alice" {
		t.Errorf("owner = %q, want alice", seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("non-api path: status = %d, want 200", rec.Code)
	}
}

func TestTimeout(t *testing.T) {
	var hasDeadline bool
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !hasDeadline {
		t.Error("expected request context deadline")
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "fixed" || rec.Header().Get("X-Request-ID") != "fixed" {
		t.Errorf("request id = %q / %q, want fixed", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Header().Get("X-Request-ID")) != 36 {
		t.Errorf("generated id %q is not a uuid", rec.Header().Get("X-Request-ID"))
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
