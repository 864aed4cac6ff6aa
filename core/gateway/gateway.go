// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package gateway relays rewritten requests to the backing query engine.

The gateway strips the tenant routing prefix from the path, replaces the
caller's credentials with a service token, asks the engine for exact counts
and streams the engine's response back unchanged, apart from exposing the
Content-Range header to browsers. Error responses of the engine are relayed
as they are.
*/
package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/relabs-tech/dbproxy/core/logger"
)

// DefaultBasePath is the path under which organizations are routed
const DefaultBasePath = "/api/tooljet_db"

const (
	// PreferHeader asks the engine for exact counts
	PreferHeader = "Prefer"
	// PreferExactCount is the value of the Prefer header
	PreferExactCount = "count=exact"
	// ContentRangeHeader carries the total count of a result
	ContentRangeHeader = "Content-Range"
	// ExposeHeadersHeader is the CORS header listing readable response headers
	ExposeHeadersHeader = "Access-Control-Expose-Headers"
)

// ErrMissingTarget is returned when no backing engine host is configured
var ErrMissingTarget = errors.New("backing engine host is not configured")

// UpstreamObserver is told about every response of the backing engine
type UpstreamObserver interface {
	RecordUpstream(status int, duration time.Duration)
}

type forwardKeyType struct{}

var forwardKey = &forwardKeyType{}

type forward struct {
	path    string
	query   string
	token   string
	started time.Time
}

// Gateway is a reverse proxy to the backing query engine
type Gateway struct {
	target    *url.URL
	basePath  string
	prefix    *regexp.Regexp
	transport http.RoundTripper
	observer  UpstreamObserver
	proxy     *httputil.ReverseProxy
}

// Option configures a Gateway
type Option func(*Gateway)

// WithBasePath sets the base path of the routing prefix
func WithBasePath(basePath string) Option {
	return func(g *Gateway) {
		g.basePath = basePath
	}
}

// WithTransport sets the round tripper used to reach the engine
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) {
		g.transport = rt
	}
}

// WithUpstreamObserver reports engine responses, for example to metrics
func WithUpstreamObserver(o UpstreamObserver) Option {
	return func(g *Gateway) {
		g.observer = o
	}
}

// New creates a gateway to the engine at target
func New(target *url.URL, opts ...Option) (*Gateway, error) {
	if target == nil || len(target.Host) == 0 {
		return nil, ErrMissingTarget
	}
	g := &Gateway{
		target:   target,
		basePath: DefaultBasePath,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.prefix = PrefixRegexp(g.basePath)
	g.proxy = &httputil.ReverseProxy{
		Rewrite:        g.rewrite,
		Transport:      g.transport,
		FlushInterval:  -1,
		ModifyResponse: g.modifyResponse,
		ErrorHandler:   g.handleError,
	}
	return g, nil
}

// PrefixRegexp matches the routing prefix: the base path, the 36 character
// organization id and "/proxy"
func PrefixRegexp(basePath string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(basePath) + `/organizations/.{36}/proxy`)
}

// StripPrefix removes the routing prefix from path
func (g *Gateway) StripPrefix(path string) string {
	path = g.prefix.ReplaceAllLiteralString(path, "")
	if len(path) == 0 {
		return "/"
	}
	return path
}

// Forward relays r to the engine. rewrittenURL replaces the request URI of
// r, token is sent as bearer token. The response is streamed to w. When
// the caller goes away the outbound request is abandoned.
func (g *Gateway) Forward(w http.ResponseWriter, r *http.Request, rewrittenURL, token string) {
	path, query, _ := strings.Cut(rewrittenURL, "?")
	f := &forward{
		path:    requestLineSafe(joinPath(g.target.Path, g.StripPrefix(path))),
		query:   requestLineSafe(query),
		token:   token,
		started: time.Now(),
	}
	ctx := context.WithValue(r.Context(), forwardKey, f)
	g.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func (g *Gateway) rewrite(pr *httputil.ProxyRequest) {
	f := pr.In.Context().Value(forwardKey).(*forward)
	out := pr.Out

	// the path is sent as it is, it may already be decoded
	out.URL.Scheme = g.target.Scheme
	out.URL.Host = g.target.Host
	out.URL.Opaque = f.path
	out.URL.RawQuery = f.query
	out.Host = ""

	out.Header.Del("Cookie")
	out.Header.Set("Authorization", "Bearer "+f.token)
	out.Header.Set(PreferHeader, PreferExactCount)
	pr.SetXForwarded()
}

func (g *Gateway) modifyResponse(resp *http.Response) error {
	resp.Header.Set(ExposeHeadersHeader, ContentRangeHeader)
	if g.observer != nil {
		if f, ok := resp.Request.Context().Value(forwardKey).(*forward); ok {
			g.observer.RecordUpstream(resp.StatusCode, time.Since(f.started))
		}
	}
	return nil
}

func (g *Gateway) handleError(w http.ResponseWriter, r *http.Request, err error) {
	rlog := logger.FromContext(r.Context())
	if r.Context().Err() != nil {
		// the caller is gone, nobody reads an answer
		rlog.WithError(err).Infoln("abandoned forwarded request")
		return
	}
	rlog.WithError(err).Errorln("backing engine unreachable")
	if g.observer != nil {
		g.observer.RecordUpstream(http.StatusBadGateway, 0)
	}
	WriteError(w, http.StatusBadGateway, "Bad Gateway")
}

func joinPath(base, path string) string {
	path = "/" + strings.TrimLeft(path, "/")
	return strings.TrimSuffix(base, "/") + path
}

// requestLineSafe escapes the bytes that cannot be sent in an HTTP request
// line. Everything else is passed through, encoded or not.
func requestLineSafe(query string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	escaped := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c <= ' ' || c == '#' || c >= 0x7f {
			if !escaped {
				escaped = true
				b.Grow(len(query) + 8)
				b.WriteString(query[:i])
			}
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&15])
		} else if escaped {
			b.WriteByte(c)
		}
	}
	if !escaped {
		return query
	}
	return b.String()
}
