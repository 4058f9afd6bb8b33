// Package httpclient configures the HTTP clients used for catalog fetches and
// tile range reads.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

type options struct {
	timeout     time.Duration
	maxPerHost  int
	compression bool
}

type Option func(*options)

// WithTimeout sets the whole-request timeout; 0 leaves deadlines to the
// request context.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

func WithMaxConnsPerHost(n int) Option { return func(o *options) { o.maxPerHost = n } }

// WithCompression lets the transport request gzip. Range reads need it off
// so offsets refer to the stored bytes.
func WithCompression(on bool) Option { return func(o *options) { o.compression = on } }

// NewOutbound creates a new outbound http client
func NewOutbound(opts ...Option) *http.Client {
	o := options{timeout: 30 * time.Second, maxPerHost: 128}
	for _, f := range opts {
		f(&o)
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   o.maxPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    !o.compression,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   o.timeout,
	}
}
