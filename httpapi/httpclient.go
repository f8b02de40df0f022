package httpapi

import (
	"net"
	"net/http"
	"time"
)

// Shared transport timeouts, grounded on httpkit.NewTransport's
// good-citizen defaults (dial/TLS/idle timeouts, bounded connection
// pool) rather than Go's bare http.DefaultTransport.
const (
	dialTimeout         = 10 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 90 * time.Second
	maxIdleConnsPerHost = 5
)

// newTransport builds the *http.Transport shared by every Client,
// mirroring httpkit.NewTransport's defaults.
func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		IdleConnTimeout:     idleConnTimeout,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
	}
}

// newHTTPClient builds the *http.Client used for vendor REST calls,
// with an overall request timeout of d.
func newHTTPClient(d time.Duration) *http.Client {
	return &http.Client{Timeout: d, Transport: newTransport()}
}
