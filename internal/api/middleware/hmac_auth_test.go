package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maumercado/task-queue-go/internal/rpcfabric"
)

func signedRequest(t *testing.T, secret, method string, body []byte) *http.Request {
	t.Helper()
	dest := rpcfabric.NewDestination("disjob", secret)
	req := httptest.NewRequest(http.MethodPost, method, bytes.NewReader(body))
	appHeader, timeHeader, signHeader := rpcfabric.SignRequest(dest.AppID, dest.Secret, time.Now().UTC(), method, body)
	req.Header.Set(rpcfabric.HeaderAuthApp, appHeader)
	req.Header.Set(rpcfabric.HeaderAuthTime, timeHeader)
	req.Header.Set(rpcfabric.HeaderAuthSign, signHeader)
	return req
}

func TestRPCAuth_ValidSignature(t *testing.T) {
	handler := RPCAuth("shared-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := signedRequest(t, "shared-secret", "/worker/rpc/receive", []byte(`{"task_id":1}`))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRPCAuth_MissingHeaders(t *testing.T) {
	handler := RPCAuth("shared-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/worker/rpc/receive", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRPCAuth_WrongSecret(t *testing.T) {
	handler := RPCAuth("shared-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := signedRequest(t, "other-secret", "/worker/rpc/receive", []byte(`{"task_id":1}`))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
