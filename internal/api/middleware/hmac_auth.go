package middleware

import (
	"net/http"
	"time"

	"github.com/maumercado/task-queue-go/internal/rpcfabric"
)

// RPCAuth verifies the HMAC-SHA256 signature rpcfabric.Destination attaches
// to every supervisor<->worker RPC call, rejecting anything unsigned,
// stale, or tampered with before it reaches the RPC handler.
func RPCAuth(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := rpcfabric.VerifyHTTPRequest(r, secret, time.Now().UTC()); err != nil {
				http.Error(w, "invalid rpc signature", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
