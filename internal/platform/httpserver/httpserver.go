package httpserver

import (
	"net/http"
	"time"

	"civicwatch/internal/platform/config"
)

// New builds an HTTP server from the server config. Zero timeouts fall back to
// conservative defaults so a misconfigured deployment never runs unbounded.
func New(cfg config.Server, handler http.Handler) *http.Server {
	read := cfg.ReadTimeout
	if read <= 0 {
		read = 10 * time.Second
	}
	write := cfg.WriteTimeout
	if write <= 0 {
		write = 15 * time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       read,
		WriteTimeout:      write,
		IdleTimeout:       60 * time.Second,
	}
}
