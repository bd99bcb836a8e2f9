// Package pool implements the three-state proxy pool (not-ready / ready /
// in-use), its entries, and the background preparer workers that promote
// entries between states.
package pool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/andreasbank/proxify/internal/config"
)

// probeURL is the fixed target used to check an upstream proxy is
// reachable before promoting it to ready. A var, not a const, so tests can
// point Prepare at a local server instead of the real internet.
var probeURL = "https://google.com"

// prepareTimeout bounds how long Prepare will wait to connect through the
// proxy before treating it as unreachable.
const prepareTimeout = 5 * time.Second

// Entry is one pooled upstream proxy: its identity, its descriptor, an
// HTTP client bound to it, and whether it has been successfully prepared.
// All mutating operations on an Entry hold its own mutex; the Pool never
// hands out a reference to an Entry that's simultaneously on two queues.
type Entry struct {
	id         uint16
	descriptor config.ProxyDescriptor

	mu       sync.Mutex
	client   *http.Client
	prepared bool
}

// NewEntry builds a not-yet-prepared pool entry for the given descriptor,
// pre-binding an HTTP client to the proxy per its protocol.
func NewEntry(id uint16, d config.ProxyDescriptor) (*Entry, error) {
	client, err := newProxyClient(d)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", id, err)
	}
	return &Entry{id: id, descriptor: d, client: client}, nil
}

// ID returns the entry's dense, load-order-assigned identifier.
func (e *Entry) ID() uint16 { return e.id }

// Descriptor returns the immutable proxy descriptor this entry was built
// from.
func (e *Entry) Descriptor() config.ProxyDescriptor { return e.descriptor }

// IsPrepared reports whether the last Prepare call succeeded.
func (e *Entry) IsPrepared() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prepared
}

// Prepare probes the proxy with a GET against probeURL, bounded by
// prepareTimeout. A timeout-class failure is treated as "unreachable" and
// reported via the bool return (false, nil); any other transport error is
// returned as an error. On success, prepared is set to true.
func (e *Entry) Prepare(ctx context.Context) (ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, prepareTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false, fmt.Errorf("entry %d: build probe request: %w", e.id, err)
	}

	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			e.setPrepared(false)
			return false, nil
		}
		e.setPrepared(false)
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	e.setPrepared(true)
	return true, nil
}

func (e *Entry) setPrepared(v bool) {
	e.mu.Lock()
	e.prepared = v
	e.mu.Unlock()
}

// Do executes an outbound request for a client session: method and url as
// supplied by the client frame, headers applied verbatim, an optional
// request body, and a per-request timeout. The response body is read to
// completion and returned as a byte slice.
func (e *Entry) Do(ctx context.Context, method, target string, headers http.Header, body io.Reader, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("entry %d: build request: %w", e.id, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	for e := err; e != nil; {
		if tErr, ok := e.(timeouter); ok {
			t = tErr
			break
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = unwrapper.Unwrap()
	}
	return t != nil && t.Timeout()
}

// newProxyClient builds an *http.Client whose Transport routes all
// requests through the given proxy descriptor: http.ProxyURL for HTTP
// proxies, golang.org/x/net/proxy's SOCKS5 dialer for SOCKS5 and the
// hand-rolled dialSOCKS4 for SOCKS4 (both wired into
// Transport.DialContext).
func newProxyClient(d config.ProxyDescriptor) (*http.Client, error) {
	switch d.Protocol {
	case config.ProtocolHTTP:
		proxyURL := &url.URL{
			Scheme: "http",
			Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		}
		if d.HasAuth() {
			proxyURL.User = url.UserPassword(d.Username, d.Password)
		}
		return &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}, nil

	case config.ProtocolSOCKS4:
		addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
		return &http.Client{
			Transport: &http.Transport{DialContext: dialSOCKS4(addr, d.Username)},
		}, nil

	case config.ProtocolSOCKS5:
		var auth *proxy.Auth
		if d.HasAuth() {
			auth = &proxy.Auth{User: d.Username, Password: d.Password}
		}
		addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
		dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("build socks dialer for %s: %w", addr, err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks dialer for %s does not support contexts", addr)
		}
		return &http.Client{
			Transport: &http.Transport{DialContext: contextDialer.DialContext},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", d.Protocol)
	}
}
