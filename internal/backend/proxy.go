package backend

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

// Route binds a gateway path prefix to a downstream service and the path
// prefix the service expects instead.
type Route struct {
	Prefix  string
	Service Service
	Rewrite string
}

// RewritePath replaces prefix with rewrite at the start of path. Paths that
// do not start with prefix are returned unchanged.
func RewritePath(path, prefix, rewrite string) string {
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	if rest != "" && !strings.HasPrefix(rest, "/") {
		return path
	}
	return rewrite + rest
}

// NewProxy returns a reverse proxy forwarding to target with route's prefix
// rewrite applied. Transport errors are reported to onError and nothing is
// written to the client, so the caller decides how to answer.
func NewProxy(target *url.URL, route Route, transport http.RoundTripper, onError func(error)) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = RewritePath(pr.In.URL.Path, route.Prefix, route.Rewrite)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(_ http.ResponseWriter, _ *http.Request, err error) {
			onError(err)
		},
	}
}
