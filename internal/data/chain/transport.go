// Package chain adapts the chain's REST RPC (two API generations) and a
// GraphQL indexer to the engine's ports.
package chain

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"supravault/internal/core/errors"
	"supravault/internal/shared/observability"
	"supravault/internal/shared/util"
	"time"
)

const maxBodyBytes = 16 << 20

// TransportOptions bound every upstream call.
type TransportOptions struct {
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Limiters   *util.HostLimiters
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

type transport struct {
	opts   TransportOptions
	http   *http.Client
	logger *slog.Logger
}

func newTransport(opts TransportOptions) *transport {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 250 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "supravault"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &transport{opts: opts, http: client, logger: logger}
}

// do sends one logical request. Transient failures (non-2xx other than 404,
// timeouts, transport errors) are retried with linear backoff; 404 maps to
// CodeNotFound and is returned at once.
func (t *transport) do(ctx context.Context, endpoint, method, url string, body []byte) ([]byte, error) {
	attempts := t.opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			observability.UpstreamRetriesTotal.WithLabelValues(endpoint).Inc()
			wait := t.opts.Backoff * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return nil, t.ctxError(ctx, endpoint, url)
			case <-time.After(wait):
			}
		}
		if t.opts.Limiters != nil {
			if err := t.opts.Limiters.For(url).Wait(ctx, 1); err != nil {
				return nil, t.ctxError(ctx, endpoint, url)
			}
		}

		data, err := t.once(ctx, endpoint, method, url, body)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil || !errors.IsTransient(err) {
			return nil, err
		}
		t.logger.Debug("upstream attempt failed", "endpoint", endpoint, "url", url, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

func (t *transport) once(ctx context.Context, endpoint, method, url string, body []byte) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, url, reader)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "build request"), errors.CtxEndpoint, url)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.opts.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := t.http.Do(req)
	observability.UpstreamRequestSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "transport_error"
		code := errors.CodeUpstream
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(actx.Err(), context.DeadlineExceeded) {
			outcome, code = "timeout", errors.CodeTimeout
		}
		observability.UpstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
		if stderrors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, errors.AddContext(errors.Wrap(err, code, method+" failed"), errors.CtxEndpoint, url)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		observability.UpstreamRequestsTotal.WithLabelValues(endpoint, "read_error").Inc()
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeUpstream, "read body"), errors.CtxEndpoint, url)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		observability.UpstreamRequestsTotal.WithLabelValues(endpoint, "not_found").Inc()
		return nil, errors.AddContext(errors.New(errors.CodeNotFound, "404 not found"), errors.CtxEndpoint, url)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		observability.UpstreamRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("http_%d", resp.StatusCode)).Inc()
		err := errors.Newf(errors.CodeUpstream, "unexpected status %d: %s", resp.StatusCode, snippet(data))
		err = errors.AddContext(err, errors.CtxEndpoint, url)
		return nil, errors.AddContext(err, errors.CtxStatus, resp.StatusCode)
	}
	observability.UpstreamRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return data, nil
}

func (t *transport) ctxError(ctx context.Context, endpoint, url string) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.AddContext(errors.Wrap(ctx.Err(), errors.CodeTimeout, endpoint+" deadline exceeded"), errors.CtxEndpoint, url)
	}
	return ctx.Err()
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
