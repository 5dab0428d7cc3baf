// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/coder/websocket"
)

// handleWS upgrades the connection and hands it to the engine dispatcher.
// ServeConn blocks for the socket's whole life, so this handler does too.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.opts.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.opts.AllowedOrigins
	} else {
		// origin enforcement is delegated to the reverse proxy
		opts.InsecureSkipVerify = true
	}

	sock, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", clientIP(r)).Msg("websocket accept failed")
		return
	}

	conn := s.hub.Adopt(sock)
	s.engine.ServeConn(r.Context(), conn, clientIP(r))
}
