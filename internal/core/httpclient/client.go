// Package httpclient configures the HTTP client used to reach the map server sidecar.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewSidecar returns a client for loopback calls to the sidecar. There is no
// overall timeout because proxied tile responses are streamed.
func NewSidecar() *http.Client {
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           (&net.Dialer{Timeout: 2 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}
