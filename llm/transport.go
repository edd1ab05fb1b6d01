package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single provider round trip.
const DefaultTimeout = 30 * time.Second

// HeaderCollector records a fixed set of response headers. It is filled once
// per exchange and returned by value; nothing is captured through callbacks.
type HeaderCollector struct {
	names  []string
	values map[string]string
}

// NewHeaderCollector returns a collector for the given header names.
func NewHeaderCollector(names ...string) HeaderCollector {
	canonical := make([]string, 0, len(names))
	for _, n := range names {
		canonical = append(canonical, textproto.CanonicalMIMEHeaderKey(n))
	}
	return HeaderCollector{names: canonical}
}

// Collect copies the wanted headers out of h and returns the filled collector.
func (c HeaderCollector) Collect(h http.Header) HeaderCollector {
	out := HeaderCollector{names: c.names, values: make(map[string]string, len(c.names))}
	for _, n := range c.names {
		if v := strings.TrimSpace(h.Get(n)); v != "" {
			out.values[n] = v
		}
	}
	return out
}

// Get returns the collected value for name, or "".
func (c HeaderCollector) Get(name string) string {
	return c.values[textproto.CanonicalMIMEHeaderKey(name)]
}

// RetryAfter parses a Retry-After header given in seconds.
func (c HeaderCollector) RetryAfter() *time.Duration {
	v := c.Get("Retry-After")
	if v == "" {
		return nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}

// Exchange is the raw outcome of one HTTP round trip.
type Exchange struct {
	Status  int
	Body    []byte
	Headers HeaderCollector
	Latency time.Duration
}

// OK reports whether the status is 2xx.
func (e *Exchange) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// PostJSON sends body to url and reads the full response. A non-nil *Error is
// returned only for transport failures; HTTP error statuses are left to the caller.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte, collector HeaderCollector) (*Exchange, *Error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Exchange{Latency: time.Since(start)}, NewTransportError(fmt.Errorf("create request: %w", err), false)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Exchange{Latency: time.Since(start)}, NewTransportError(err, isTimeout(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	ex := &Exchange{
		Status:  resp.StatusCode,
		Body:    respBody,
		Headers: collector.Collect(resp.Header),
		Latency: time.Since(start),
	}
	if err != nil {
		return ex, NewTransportError(fmt.Errorf("read response: %w", err), isTimeout(err))
	}
	return ex, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
