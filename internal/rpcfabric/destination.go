// Package rpcfabric is the HTTP transport supervisors and workers use to
// call each other's RPC surface (internal/api's /worker/rpc and
// /supervisor/rpc groups): a signed, retried JSON-over-HTTP client plus a
// group-scoped proxy that resolves a live peer via internal/registry before
// calling it.
package rpcfabric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/registry"
)

// ErrNonRetryable marks a response the caller must not retry (any 4xx other
// than 408 and 429), mirroring the distinction the teacher's retry policy makes
// between attempts that are worth repeating and ones that are not.
type ErrNonRetryable struct {
	StatusCode int
	Body       string
}

func (e *ErrNonRetryable) Error() string {
	return fmt.Sprintf("rpcfabric: non-retryable status %d: %s", e.StatusCode, e.Body)
}

// Destination calls one fixed peer (host:port), signing every request and
// retrying network errors, 5xx, 408 and 429 responses with linear backoff the same
// shape as the teacher's RetryPolicy, but without jitter: RPC peers are few
// and fixed, so thundering-herd jitter isn't buying anything here.
type Destination struct {
	AppID      string
	Secret     string
	HTTPClient *http.Client
	MaxRetries int
	Backoff    time.Duration
}

func NewDestination(appID, secret string) *Destination {
	return &Destination{
		AppID:      appID,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// Invoke POSTs body (already JSON-encoded by the caller) to
// http://server/method, retrying on network errors, 5xx, 408 and 429 up to
// MaxRetries times with linear backoff (attempt * Backoff).
func (d *Destination) Invoke(ctx context.Context, server, method string, body []byte) ([]byte, error) {
	url := fmt.Sprintf("http://%s%s", server, method)
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= d.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordRPCRetry(method)
			select {
			case <-ctx.Done():
				metrics.RecordRPCDuration(method, time.Since(start).Seconds())
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * d.Backoff):
			}
		}

		resp, respBody, err := d.doOnce(ctx, url, method, body)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rpcfabric: %s returned %d", url, resp.StatusCode)
			continue
		}
		metrics.RecordRPCDuration(method, time.Since(start).Seconds())
		if resp.StatusCode >= 400 {
			return nil, &ErrNonRetryable{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		return respBody, nil
	}
	metrics.RecordRPCDuration(method, time.Since(start).Seconds())
	return nil, fmt.Errorf("rpcfabric: %s exhausted retries: %w", url, lastErr)
}

func (d *Destination) doOnce(ctx context.Context, url, method string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	appHeader, timeHeader, signHeader := SignRequest(d.AppID, d.Secret, time.Now().UTC(), method, body)
	req.Header.Set(headerAuthApp, appHeader)
	req.Header.Set(headerAuthTime, timeHeader)
	req.Header.Set(headerAuthSign, signHeader)

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, data, nil
}

// InvokeJSON is a convenience wrapper that marshals req and unmarshals the
// response into resp (skipped when resp is nil, e.g. fire-and-forget RPCs).
func (d *Destination) InvokeJSON(ctx context.Context, server, method string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data, err := d.Invoke(ctx, server, method, body)
	if err != nil {
		return err
	}
	if resp == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, resp)
}

// DiscoveryProxy calls any live member of group/role instead of one fixed
// destination, starting from a random index and walking round-robin over
// the discovered set until one member answers or the set is exhausted.
type DiscoveryProxy struct {
	Destination *Destination
	Registry    registry.Registry
	Group       string
	Role        model.Role
}

func NewDiscoveryProxy(dest *Destination, reg registry.Registry, group string, role model.Role) *DiscoveryProxy {
	return &DiscoveryProxy{Destination: dest, Registry: reg, Group: group, Role: role}
}

func (p *DiscoveryProxy) Invoke(ctx context.Context, method string, body []byte) ([]byte, error) {
	servers, err := p.Registry.DiscoveredServers(ctx, p.Group, p.Role)
	if err != nil {
		return nil, fmt.Errorf("discover %s/%s: %w", p.Group, p.Role, err)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("rpcfabric: no live %s/%s servers discovered", p.Group, p.Role)
	}

	start := rand.Intn(len(servers))
	var lastErr error
	for i := 0; i < len(servers); i++ {
		ep := servers[(start+i)%len(servers)]
		data, err := p.Destination.Invoke(ctx, ep.Address(), method, body)
		if err == nil {
			return data, nil
		}
		var nonRetryable *ErrNonRetryable
		if isNonRetryable(err, &nonRetryable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("rpcfabric: all %d %s/%s servers failed: %w", len(servers), p.Group, p.Role, lastErr)
}

func isNonRetryable(err error, target **ErrNonRetryable) bool {
	e, ok := err.(*ErrNonRetryable)
	if ok {
		*target = e
	}
	return ok
}
