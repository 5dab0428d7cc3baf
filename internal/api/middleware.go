// SPDX-License-Identifier: MIT

package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/quiz/model"
)

// requestLogger logs one line per request with status and latency. The
// websocket endpoint is skipped; its lifecycle is logged by the dispatcher.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		evt := s.logger.Info()
		if ww.Status() >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		evt.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str(xglog.FieldRemoteAddr, clientIP(r)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("http request")
	})
}

// joinRateLimit is the HTTP-layer cap on join attempts, sliding window per
// client IP. The engine enforces its own store-backed fixed window behind it
// so multi-instance deployments stay consistent.
func joinRateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Code:    model.CodeRateLimited,
				Message: "too many join attempts, slow down",
			})
		}),
	)
}

// clientIP strips the port from the remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
