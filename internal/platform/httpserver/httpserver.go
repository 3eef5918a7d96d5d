package httpserver

import (
	"net/http"
	"time"

	"warden/internal/platform/config"
)

// writeSlack keeps the server write deadline behind the per-request
// timeout so the timeout middleware, not the connection, ends slow chats.
const writeSlack = 5 * time.Second

// New builds the HTTP server for cfg.
func New(cfg config.Server, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.RequestTimeout > 0 {
		srv.WriteTimeout = cfg.RequestTimeout + writeSlack
	}
	return srv
}
