// Package executor forwards /sidecar requests to the map server sidecar.
package executor

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
)

const Prefix = "/sidecar"

// Upstream reports whether the sidecar is up and where it listens.
type Upstream interface {
	Running() bool
	Addr() string
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	upstream Upstream
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, upstream Upstream) *Executor {
	return &Executor{
		logger:   logger,
		client:   client,
		upstream: upstream,
		startNow: time.Now,
	}
}

func (e *Executor) target() (*url.URL, error) {
	addr := e.upstream.Addr()
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse sidecar addr: %w", err)
	}
	return u, nil
}

// ServeHTTP strips the /sidecar prefix and streams the sidecar response.
func (e *Executor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !e.upstream.Running() {
		http.Error(w, "map server is not running", http.StatusServiceUnavailable)
		return
	}
	target, err := e.target()
	if err != nil {
		e.logger.Error("sidecar target", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	start := e.startNow()

	rt := http.RoundTripper(http.DefaultTransport)
	if e.client != nil && e.client.Transport != nil {
		rt = e.client.Transport
	}

	proxy := &httputil.ReverseProxy{
		Transport: rt,

		Rewrite: func(p *httputil.ProxyRequest) {
			p.SetURL(target)
			path := strings.TrimPrefix(p.In.URL.Path, Prefix)
			if path == "" {
				path = "/"
			}
			p.Out.URL.Path = singleSlash(target.Path, path)
			p.Out.URL.RawPath = ""
			p.Out.URL.RawQuery = p.In.URL.RawQuery
			p.SetXForwarded()
		},

		ModifyResponse: func(resp *http.Response) error {
			dur := time.Since(start)
			e.logger.Debug("sidecar proxy done",
				"status", resp.StatusCode,
				"duration", dur.String())
			observability.ObserveSidecarProxy(resp.StatusCode, dur.Seconds())
			return nil
		},

		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			e.logger.Error("reverse proxy error", "err", err)
			observability.ObserveSidecarProxy(http.StatusBadGateway, time.Since(start).Seconds())
			http.Error(w, "upstream proxy error: "+err.Error(), http.StatusBadGateway)
		},
	}

	proxy.ServeHTTP(w, r)
}

func singleSlash(a, b string) string {
	return strings.TrimSuffix(a, "/") + "/" + strings.TrimPrefix(b, "/")
}
