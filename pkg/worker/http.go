package worker

import (
	"io"
	"net/http"
	"net/url"
)

// hopHeaders are connection-scoped headers never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// outboundRequest rewrites r to target the origin root, keeping path and
// query.
func outboundRequest(origin *url.URL, r *http.Request) *http.Request {
	out := r.Clone(r.Context())

	u := *origin
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery
	if u.Path == "" {
		u.Path = "/"
	}

	out.URL = &u
	out.Host = u.Host
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	// The transport negotiates compression itself and hands back decoded
	// bodies, which is what the stores and json.Valid need.
	out.Header.Del("Accept-Encoding")
	return out
}

// writeResponse copies resp to rw and closes its body.
func writeResponse(rw http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	header := rw.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	rw.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(rw, resp.Body)
}
