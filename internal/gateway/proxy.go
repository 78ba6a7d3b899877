package gateway

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"
)

// newOriginProxy builds the generic reverse proxy that forwards unmatched
// paths to the origin backend unchanged.
func newOriginProxy(originURL string) http.Handler {
	target, err := url.Parse(originURL)
	if err != nil {
		log.Printf("gateway: invalid origin URL %q: %v", originURL, err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusBadGateway, "Origin backend misconfigured")
		})
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	proxy.Transport = &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("gateway: proxy error for %s %s: %v", r.Method, r.URL.Path, err)

		switch {
		case err == context.DeadlineExceeded:
			writeJSONError(w, http.StatusGatewayTimeout, "Origin backend timeout")
		case strings.Contains(err.Error(), "no such host"):
			writeJSONError(w, http.StatusBadGateway, "Origin backend unreachable")
		case strings.Contains(err.Error(), "connection refused"):
			writeJSONError(w, http.StatusBadGateway, "Origin backend unavailable")
		default:
			writeJSONError(w, http.StatusBadGateway, "Bad gateway")
		}
	}

	return proxy
}

// responseRecorder captures status and body so proxied responses can be
// written into the cache after being streamed to the client.
type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	headerWritten bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if !r.headerWritten {
		r.statusCode = statusCode
		r.ResponseWriter.WriteHeader(statusCode)
		r.headerWritten = true
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	size, err := r.ResponseWriter.Write(b)
	r.body.Write(b)
	return size, err
}
